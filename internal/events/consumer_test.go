package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingBus struct {
	err error
}

func (f *failingBus) Publish(ctx context.Context, topic, key string, body []byte) error { return f.err }
func (f *failingBus) Subscribe(ctx context.Context, topic, group string, h HandlerFunc) error {
	return f.err
}
func (f *failingBus) Close() error { return nil }

func TestConsumerStartRoutesRegisteredTopics(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	consumer := NewConsumer(bus, "catalog-service", zap.NewNop())
	got := make(chan string, 1)
	consumer.Register("orders", func(ctx context.Context, msg Message) error {
		got <- string(msg.Body)
		return nil
	})

	require.NoError(t, consumer.Start(context.Background()))
	require.NoError(t, bus.Publish(context.Background(), "orders", "k", []byte("hello")))

	assert.Equal(t, []string{"hello"}, collect(t, got, 1))
}

func TestConsumerStartPropagatesSubscribeError(t *testing.T) {
	consumer := NewConsumer(&failingBus{err: errors.New("broker down")}, "catalog-service", zap.NewNop())
	consumer.Register("orders", func(ctx context.Context, msg Message) error { return nil })

	err := consumer.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscribe orders")
}
