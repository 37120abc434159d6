package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaOptions tunes batch consumption for the Kafka transport.
type KafkaOptions struct {
	BatchSize int
	// FillWait bounds how long a partial batch waits for more messages.
	FillWait time.Duration
}

func (o KafkaOptions) withDefaults() KafkaOptions {
	if o.BatchSize < 1 {
		o.BatchSize = 32
	}
	if o.FillWait <= 0 {
		o.FillWait = 250 * time.Millisecond
	}
	return o
}

// KafkaBus is the Kafka-backed Bus. The writer requires acknowledgment from
// all in-sync replicas and hashes the partition key, so events for one item
// stay ordered within their partition. Consumers fetch batches and commit
// offsets only after every message in the batch has been applied.
type KafkaBus struct {
	brokers []string
	opts    KafkaOptions
	log     *zap.Logger
	writer  *kafka.Writer

	done      chan struct{}
	closeOnce sync.Once
}

func NewKafkaBus(brokers []string, opts KafkaOptions, logger *zap.Logger) *KafkaBus {
	return &KafkaBus{
		brokers: brokers,
		opts:    opts.withDefaults(),
		log:     logger,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		done: make(chan struct{}),
	}
}

func (b *KafkaBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return b.writer.Close()
}

func (b *KafkaBus) Publish(ctx context.Context, topic, key string, body []byte) error {
	err := b.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: body,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (b *KafkaBus) Subscribe(ctx context.Context, topic, group string, h HandlerFunc) error {
	if group == "" {
		return fmt.Errorf("kafka consumer requires group id")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.brokers,
		GroupID:  group,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})

	cctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-cctx.Done():
		}
	}()
	go b.consumeLoop(cctx, reader, topic, h)
	return nil
}

func (b *KafkaBus) consumeLoop(ctx context.Context, reader *kafka.Reader, topic string, h HandlerFunc) {
	defer func() {
		if err := reader.Close(); err != nil {
			b.log.Warn("close kafka reader", zap.String("topic", topic), zap.Error(err))
		}
	}()

	for ctx.Err() == nil {
		batch, err := b.fetchBatch(ctx, reader)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			b.log.Warn("fetch batch failed", zap.String("topic", topic), zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if len(batch) == 0 {
			continue
		}

		for _, m := range batch {
			if !b.applyWithRetry(ctx, topic, h, m) {
				// Context cancelled mid-batch; nothing committed, the
				// whole batch is redelivered on restart.
				return
			}
		}

		if err := reader.CommitMessages(ctx, batch...); err != nil {
			b.log.Error("commit offsets failed", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// applyWithRetry runs the handler until it succeeds or the context ends.
// Malformed events are logged and counted as applied so the partition keeps
// moving; transient failures block the batch because the offset behind them
// must not be committed.
func (b *KafkaBus) applyWithRetry(ctx context.Context, topic string, h HandlerFunc, m kafka.Message) bool {
	backoff := time.Second
	for {
		err := h(ctx, Message{Topic: m.Topic, Key: string(m.Key), Body: m.Value})
		if err == nil {
			return true
		}
		if errors.Is(err, ErrMalformedEvent) {
			b.log.Warn("skipping malformed event",
				zap.String("topic", topic), zap.Int64("offset", m.Offset), zap.Error(err))
			return true
		}

		b.log.Error("handler failed, retrying message",
			zap.String("topic", topic), zap.Int64("offset", m.Offset), zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// fetchBatch blocks for the first message, then fills the batch for as long
// as more messages arrive within FillWait.
func (b *KafkaBus) fetchBatch(ctx context.Context, reader *kafka.Reader) ([]kafka.Message, error) {
	first, err := reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]kafka.Message, 0, b.opts.BatchSize)
	out = append(out, first)

	for len(out) < b.opts.BatchSize {
		fillCtx, cancel := context.WithTimeout(ctx, b.opts.FillWait)
		m, err := reader.FetchMessage(fillCtx)
		cancel()
		if err != nil {
			break
		}
		out = append(out, m)
	}
	return out, nil
}
