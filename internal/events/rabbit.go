package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const partitionKeyHeader = "x-partition-key"

// RabbitOptions tunes batch consumption. Zero values pick sane defaults.
type RabbitOptions struct {
	// BatchSize is the prefetch window and the number of deliveries
	// acknowledged with a single multi-ack.
	BatchSize int
	// FlushInterval bounds how long a partial batch stays unacknowledged.
	FlushInterval time.Duration
}

func (o RabbitOptions) withDefaults() RabbitOptions {
	if o.BatchSize < 1 {
		o.BatchSize = 32
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	return o
}

// RabbitBus is the default Bus on RabbitMQ. Publishes go through a channel
// in confirm mode so Publish returns only after the broker acknowledges the
// persistent write. Consumers get a durable queue per group bound to the
// shared topic exchange, with batched multi-acks standing in for offset
// commits.
type RabbitBus struct {
	url  string
	opts RabbitOptions
	log  *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	done      chan struct{}
	closeOnce sync.Once
}

// NewRabbitBus dials the broker, retrying a few times so the service
// survives starting before RabbitMQ is up.
func NewRabbitBus(url string, opts RabbitOptions, logger *zap.Logger) (*RabbitBus, error) {
	b := &RabbitBus{
		url:  url,
		opts: opts.withDefaults(),
		log:  logger,
		done: make(chan struct{}),
	}

	var err error
	for i := 0; i < 5; i++ {
		if err = b.connect(); err == nil {
			return b, nil
		}
		wait := time.Duration(i*i)*time.Second + time.Second
		b.log.Warn("rabbitmq dial failed", zap.Error(err), zap.Duration("retry_in", wait))
		select {
		case <-time.After(wait):
		case <-b.done:
			return nil, err
		}
	}
	return nil, fmt.Errorf("connect to rabbitmq after retries: %w", err)
}

func (b *RabbitBus) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("enable confirms: %w", err)
	}
	if err := declareEventsExchange(ch); err != nil {
		_ = conn.Close()
		return fmt.Errorf("declare events exchange: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.ch = ch
	b.mu.Unlock()
	return nil
}

func (b *RabbitBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

// publishChannel returns the confirm-mode channel, redialing once if the
// connection has died since the last call.
func (b *RabbitBus) publishChannel() (*amqp.Channel, error) {
	b.mu.Lock()
	conn, ch := b.conn, b.ch
	b.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		return ch, nil
	}
	if err := b.connect(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	b.mu.Lock()
	ch = b.ch
	b.mu.Unlock()
	return ch, nil
}

func (b *RabbitBus) Publish(ctx context.Context, topic, key string, body []byte) error {
	ch, err := b.publishChannel()
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		EventsExchange,
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers:      amqp.Table{partitionKeyHeader: key},
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await publish confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("publish %s nacked by broker: %w", topic, ErrBusUnavailable)
	}
	return nil
}

func (b *RabbitBus) Subscribe(ctx context.Context, topic, group string, h HandlerFunc) error {
	ch, deliveries, err := b.setupConsume(topic, group)
	if err != nil {
		return err
	}
	go b.consumeLoop(ctx, topic, group, h, ch, deliveries)
	return nil
}

func (b *RabbitBus) setupConsume(topic, group string) (*amqp.Channel, <-chan amqp.Delivery, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		if err := b.connect(); err != nil {
			return nil, nil, err
		}
		b.mu.Lock()
		conn = b.conn
		b.mu.Unlock()
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareEventsExchange(ch); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("declare events exchange: %w", err)
	}

	queue := serviceQueue(group, topic)
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, topic, EventsExchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("bind queue %s: %w", queue, err)
	}
	if err := ch.Qos(b.opts.BatchSize, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, group, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return ch, deliveries, nil
}

func (b *RabbitBus) consumeLoop(ctx context.Context, topic, group string, h HandlerFunc, ch *amqp.Channel, deliveries <-chan amqp.Delivery) {
	var lastOK amqp.Delivery
	pending := 0

	// flush acknowledges every delivery handled since the previous flush.
	flush := func() {
		if pending == 0 {
			return
		}
		if err := lastOK.Ack(true); err != nil {
			b.log.Warn("ack batch failed", zap.String("topic", topic), zap.Error(err))
		}
		pending = 0
	}

	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flush()
			_ = ch.Close()
			return
		case <-b.done:
			flush()
			_ = ch.Close()
			return
		case <-ticker.C:
			flush()
		case d, ok := <-deliveries:
			if !ok {
				_ = ch.Close()
				nch, nd, err := b.resubscribe(ctx, topic, group)
				if err != nil {
					return
				}
				ch, deliveries = nch, nd
				pending = 0
				continue
			}

			err := h(ctx, Message{Topic: topic, Key: deliveryKey(d), Body: d.Body})
			switch {
			case err == nil:
				lastOK, pending = d, pending+1
				if pending >= b.opts.BatchSize {
					flush()
				}
			case errors.Is(err, ErrMalformedEvent):
				b.log.Warn("skipping malformed event",
					zap.String("topic", topic), zap.Error(err))
				lastOK, pending = d, pending+1
				if pending >= b.opts.BatchSize {
					flush()
				}
			default:
				b.log.Error("handler failed, requeueing delivery",
					zap.String("topic", topic), zap.Error(err))
				flush()
				_ = d.Nack(false, true)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					_ = ch.Close()
					return
				case <-b.done:
					_ = ch.Close()
					return
				}
			}
		}
	}
}

// resubscribe re-establishes the consumer after a connection loss, backing
// off exponentially until the context is cancelled or the bus is closed.
func (b *RabbitBus) resubscribe(ctx context.Context, topic, group string) (*amqp.Channel, <-chan amqp.Delivery, error) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-b.done:
			return nil, nil, ErrBusUnavailable
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}

		ch, deliveries, err := b.setupConsume(topic, group)
		if err != nil {
			b.log.Warn("resubscribe failed",
				zap.String("topic", topic), zap.String("group", group), zap.Error(err))
			continue
		}
		b.log.Info("consumer resubscribed",
			zap.String("topic", topic), zap.String("group", group))
		return ch, deliveries, nil
	}
}

func deliveryKey(d amqp.Delivery) string {
	if v, ok := d.Headers[partitionKeyHeader]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
