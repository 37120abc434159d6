package outbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Publisher sends one event body to the broker. Satisfied by events.Bus.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, body []byte) error
}

// OrderFailer flips an order to its failed status once delivery is given up.
// Satisfied by order.Repository.
type OrderFailer interface {
	MarkFailed(ctx context.Context, orderID string) error
}

// Relay drains the outbox on a timer and republishes rows the inline publish
// could not deliver. Orders whose retry budget runs out are dead-lettered and
// marked failed.
type Relay struct {
	repo        Repository
	bus         Publisher
	orders      OrderFailer
	log         *zap.Logger
	interval    time.Duration
	maxAttempts int
	batchSize   int
}

// RelayOptions tunes the relay loop. Zero values pick the defaults.
type RelayOptions struct {
	Interval    time.Duration
	MaxAttempts int
	BatchSize   int
}

// NewRelay constructs the outbox relay loop.
func NewRelay(repo Repository, bus Publisher, orders OrderFailer, logger *zap.Logger, opts RelayOptions) *Relay {
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Relay{
		repo:        repo,
		bus:         bus,
		orders:      orders,
		log:         logger,
		interval:    interval,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
	}
}

// Run executes the periodic drain loop until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started",
		zap.Duration("interval", r.interval),
		zap.Int("max_attempts", r.maxAttempts),
	)
	for {
		if err := r.processOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error("outbox relay iteration failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Relay) processOnce(ctx context.Context) error {
	records, err := r.repo.Due(ctx, r.batchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	published := 0
	rescheduled := 0
	deadLettered := 0
	for _, rec := range records {
		if rec.Attempts >= r.maxAttempts {
			// Row exhausted its budget in an earlier cycle but was never
			// settled, likely a crash between publish and bookkeeping.
			r.deadLetter(ctx, rec, "retry budget exhausted")
			deadLettered++
			continue
		}

		if err := r.bus.Publish(ctx, rec.Topic, rec.PartitionKey, rec.Payload); err != nil {
			if rec.Attempts+1 >= r.maxAttempts {
				r.deadLetter(ctx, rec, err.Error())
				deadLettered++
				continue
			}
			next := time.Now().UTC().Add(retryBackoff(rec.Attempts + 1))
			if mErr := r.repo.Reschedule(ctx, rec.OrderID, err.Error(), next); mErr != nil {
				r.log.Warn("failed to reschedule outbox row", zap.String("order_id", rec.OrderID), zap.Error(mErr))
			}
			r.log.Warn("outbox publish failed, retry scheduled",
				zap.String("order_id", rec.OrderID),
				zap.String("topic", rec.Topic),
				zap.Int("attempts", rec.Attempts+1),
				zap.Time("next_attempt_at", next),
				zap.Error(err),
			)
			rescheduled++
			continue
		}

		if err := r.repo.MarkPublished(ctx, rec.OrderID); err != nil {
			// The consumer dedups on order id, so a republish next cycle is safe.
			r.log.Warn("failed to mark outbox row published", zap.String("order_id", rec.OrderID), zap.Error(err))
		}
		published++
	}

	r.log.Info("outbox batch processed",
		zap.Int("batch_size", len(records)),
		zap.Int("published", published),
		zap.Int("rescheduled", rescheduled),
		zap.Int("dead_lettered", deadLettered),
	)
	return nil
}

func (r *Relay) deadLetter(ctx context.Context, rec Record, reason string) {
	if err := r.repo.MarkDeadLettered(ctx, rec.OrderID, reason); err != nil {
		r.log.Warn("failed to dead-letter outbox row", zap.String("order_id", rec.OrderID), zap.Error(err))
	}
	if err := r.orders.MarkFailed(ctx, rec.OrderID); err != nil {
		r.log.Warn("failed to mark order failed", zap.String("order_id", rec.OrderID), zap.Error(err))
	}
	r.log.Error("order event dead-lettered, manual intervention required",
		zap.String("order_id", rec.OrderID),
		zap.String("topic", rec.Topic),
		zap.Int("attempts", rec.Attempts),
		zap.String("reason", reason),
	)
}

func retryBackoff(attempts int) time.Duration {
	if attempts >= 9 {
		return 5 * time.Minute
	}
	d := time.Second << uint(attempts)
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
