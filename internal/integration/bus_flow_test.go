package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Jamesmallon1/event-driven-shop/internal/catalog"
	"github.com/Jamesmallon1/event-driven-shop/internal/events"
)

type countingSequence struct {
	mu   sync.Mutex
	next map[string]int64
}

func (c *countingSequence) NextSequence(ctx context.Context, partitionKey string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next == nil {
		c.next = make(map[string]int64)
	}
	c.next[partitionKey]++
	return c.next[partitionKey], nil
}

type recordingApplier struct {
	mu   sync.Mutex
	apps []catalog.OrderApplication
}

func (r *recordingApplier) ApplyOrderPlaced(ctx context.Context, app catalog.OrderApplication) (catalog.ApplyOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps = append(r.apps, app)
	return catalog.ApplyOutcome{Remaining: 1, PrevSequence: app.Sequence - 1}, nil
}

func (r *recordingApplier) applied() []catalog.OrderApplication {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]catalog.OrderApplication, len(r.apps))
	copy(out, r.apps)
	return out
}

// Publisher, bus, consumer, and handler wired together the way the two
// services run in production, with only the storage faked out.
func TestOrderEventRoundTripOverMemoryBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewMemoryBus()
	defer bus.Close()

	applier := &recordingApplier{}
	consumer := events.NewConsumer(bus, "catalog-service", zap.NewNop())
	consumer.Register(events.OrdersTopic, events.OrderPlacedHandler(applier, nil, zap.NewNop(), true))
	require.NoError(t, consumer.Start(ctx))

	pub := events.NewPublisher(bus, &countingSequence{}, events.PublisherOptions{PublishEnveloped: true})

	now := time.Now().UTC()
	require.NoError(t, pub.PublishOrderPlaced(ctx, events.EventMeta{CorrelationID: "corr-1"},
		events.OrderPlacedPayload{OrderID: "order-a", ItemID: 3, Quantity: 2, Timestamp: now}))
	require.NoError(t, pub.PublishOrderPlaced(ctx, events.EventMeta{CorrelationID: "corr-2"},
		events.OrderPlacedPayload{OrderID: "order-b", ItemID: 3, Quantity: 1, Timestamp: now}))

	require.Eventually(t, func() bool {
		return len(applier.applied()) == 2
	}, 5*time.Second, 50*time.Millisecond)

	apps := applier.applied()
	assert.Equal(t, "order-a", apps[0].OrderID)
	assert.Equal(t, int64(1), apps[0].Sequence)
	assert.Equal(t, "3", apps[0].PartitionKey)
	assert.Equal(t, "order-b", apps[1].OrderID)
	assert.Equal(t, int64(2), apps[1].Sequence, "same partition must see increasing sequences")
}
