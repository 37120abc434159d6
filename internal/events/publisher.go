package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// SequenceSource hands out monotonically increasing sequence numbers per
// partition key.
type SequenceSource interface {
	NextSequence(ctx context.Context, partitionKey string) (int64, error)
}

// EventMeta carries correlation/causation context for emitted events.
type EventMeta struct {
	CorrelationID string
	CausationID   string
}

type Publisher struct {
	bus              Bus
	seq              SequenceSource
	topic            string
	producer         string
	publishEnveloped bool
}

type PublisherOptions struct {
	Topic            string
	Producer         string
	PublishEnveloped bool
}

func NewPublisher(bus Bus, seq SequenceSource, opts PublisherOptions) *Publisher {
	topic := opts.Topic
	if topic == "" {
		topic = OrdersTopic
	}
	producer := opts.Producer
	if producer == "" {
		producer = orderServiceName
	}
	return &Publisher{
		bus:              bus,
		seq:              seq,
		topic:            topic,
		producer:         producer,
		publishEnveloped: opts.PublishEnveloped,
	}
}

func (p *Publisher) Topic() string {
	return p.topic
}

// BuildOrderPlaced returns the partition key and wire body for the event.
// The body is what the outbox persists and what gets published verbatim, so
// the sequence number is reserved here, before the order transaction.
func (p *Publisher) BuildOrderPlaced(ctx context.Context, meta EventMeta, payload OrderPlacedPayload) (string, []byte, error) {
	key := strconv.FormatInt(payload.ItemID, 10)

	if !p.publishEnveloped {
		legacy := LegacyOrderPlaced{
			EventType: EventTypeOrderPlaced,
			OrderID:   payload.OrderID,
			ItemID:    payload.ItemID,
			Quantity:  payload.Quantity,
			Timestamp: payload.Timestamp,
		}
		body, err := json.Marshal(legacy)
		if err != nil {
			return "", nil, fmt.Errorf("marshal OrderPlaced: %w", err)
		}
		return key, body, nil
	}

	seq, err := p.seq.NextSequence(ctx, key)
	if err != nil {
		return "", nil, fmt.Errorf("reserve sequence: %w", err)
	}

	ev := newOrderPlacedEvent(meta, seq, p.producer, key, payload)
	body, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("marshal OrderPlaced envelope: %w", err)
	}
	return key, body, nil
}

// Publish sends a previously built body to the bus.
func (p *Publisher) Publish(ctx context.Context, key string, body []byte) error {
	return p.bus.Publish(ctx, p.topic, key, body)
}

// PublishOrderPlaced builds and publishes in one step. The outbox path uses
// BuildOrderPlaced and Publish separately.
func (p *Publisher) PublishOrderPlaced(ctx context.Context, meta EventMeta, payload OrderPlacedPayload) error {
	key, body, err := p.BuildOrderPlaced(ctx, meta, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, key, body)
}

func newOrderPlacedEvent(meta EventMeta, seq int64, producer, partitionKey string, payload OrderPlacedPayload) OrderPlacedEvent {
	occurredAt := payload.Timestamp
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return OrderPlacedEvent{
		EventEnvelope: EventEnvelope{
			EventName:     EventTypeOrderPlaced,
			EventVersion:  OrderPlacedVersion,
			EventID:       uuid.NewString(),
			CorrelationID: meta.CorrelationID,
			CausationID:   meta.CausationID,
			Producer:      producer,
			PartitionKey:  partitionKey,
			Sequence:      seq,
			OccurredAt:    occurredAt,
			Schema:        orderPlacedSchema,
		},
		Payload: payload,
	}
}
