package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Jamesmallon1/event-driven-shop/internal/catalog"
	"github.com/Jamesmallon1/event-driven-shop/internal/events"
)

var (
	// ErrValidation rejects requests with missing or nonsensical fields.
	ErrValidation = errors.New("invalid order request")
	// ErrUnknownItem rejects requests for items the catalog does not carry.
	ErrUnknownItem = errors.New("unknown item")
	// ErrInsufficientStock rejects requests exceeding the available stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrUnavailable covers infrastructure failures before the order is
	// stored (catalog unreachable, database down).
	ErrUnavailable = errors.New("order intake unavailable")
)

// StockChecker answers how much of an item the catalog currently has.
type StockChecker interface {
	Stock(ctx context.Context, itemID int64) (catalog.StockLevel, error)
}

// EventPublisher builds and sends OrderPlaced events.
type EventPublisher interface {
	BuildOrderPlaced(ctx context.Context, meta events.EventMeta, payload events.OrderPlacedPayload) (string, []byte, error)
	Publish(ctx context.Context, key string, body []byte) error
	Topic() string
}

// OutboxMarker settles the outbox row once the inline publish succeeds.
type OutboxMarker interface {
	MarkPublished(ctx context.Context, orderID string) error
}

// Intake validates, persists and announces new orders.
type Intake struct {
	repo    Repository
	outbox  OutboxMarker
	stock   StockChecker
	pub     EventPublisher
	log     *zap.Logger
	timeout time.Duration
	retries int
}

type IntakeOptions struct {
	// PublishTimeout bounds each inline publish attempt.
	PublishTimeout time.Duration
	// PublishMaxRetries bounds the inline attempts before the order is
	// left to the outbox relay.
	PublishMaxRetries int
}

func NewIntake(repo Repository, outbox OutboxMarker, stock StockChecker, pub EventPublisher, logger *zap.Logger, opts IntakeOptions) *Intake {
	timeout := opts.PublishTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	retries := opts.PublishMaxRetries
	if retries < 1 {
		retries = 3
	}
	return &Intake{
		repo:    repo,
		outbox:  outbox,
		stock:   stock,
		pub:     pub,
		log:     logger,
		timeout: timeout,
		retries: retries,
	}
}

// Place runs the full intake flow. On a publish failure the order is
// already stored with a pending outbox row, so the returned order is
// non-nil even when the error is.
func (s *Intake) Place(ctx context.Context, req Request) (*Order, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	level, err := s.stock.Stock(ctx, req.ItemID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("%w: item %d", ErrUnknownItem, req.ItemID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: check stock: %v", ErrUnavailable, err)
	}
	if level.Quantity < req.Quantity {
		return nil, fmt.Errorf("%w: item %d has %d, requested %d",
			ErrInsufficientStock, req.ItemID, level.Quantity, req.Quantity)
	}

	now := time.Now().UTC()
	o := &Order{
		ID:        uuid.NewString(),
		ItemID:    req.ItemID,
		Name:      req.Name,
		Address:   req.Address,
		Quantity:  req.Quantity,
		Status:    StatusCreated,
		CreatedAt: now,
	}

	meta := events.EventMeta{CorrelationID: uuid.NewString()}
	key, body, err := s.pub.BuildOrderPlaced(ctx, meta, events.OrderPlacedPayload{
		OrderID:   o.ID,
		ItemID:    o.ItemID,
		Quantity:  o.Quantity,
		Timestamp: now,
	})
	if err != nil {
		return nil, fmt.Errorf("build order event: %w", err)
	}

	evt := OutboxEvent{Topic: s.pub.Topic(), PartitionKey: key, Payload: body}
	if err := s.repo.Create(ctx, o, evt); err != nil {
		return nil, fmt.Errorf("%w: persist order: %v", ErrUnavailable, err)
	}

	if err := s.publishWithRetry(ctx, key, body); err != nil {
		s.log.Error("inline publish exhausted, order left to outbox relay",
			zap.String("order_id", o.ID), zap.Error(err))
		return o, fmt.Errorf("publish order event after %d attempts: %w",
			s.retries, events.ErrBusUnavailable)
	}

	if err := s.outbox.MarkPublished(ctx, o.ID); err != nil {
		// Row stays pending and the relay may publish it again; the
		// consumer dedups by order id, so this is log-only.
		s.log.Warn("mark outbox published", zap.String("order_id", o.ID), zap.Error(err))
	}

	s.log.Info("order placed",
		zap.String("order_id", o.ID),
		zap.Int64("item_id", o.ItemID),
		zap.Int("quantity", o.Quantity))
	return o, nil
}

func (s *Intake) publishWithRetry(ctx context.Context, key string, body []byte) error {
	backoff := 200 * time.Millisecond
	var err error
	for attempt := 1; attempt <= s.retries; attempt++ {
		pubCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err = s.pub.Publish(pubCtx, key, body)
		cancel()
		if err == nil {
			return nil
		}
		s.log.Warn("publish attempt failed",
			zap.Int("attempt", attempt), zap.Error(err))
		if attempt < s.retries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}
	return err
}

func validate(req Request) error {
	var problems []string
	if req.ItemID <= 0 {
		problems = append(problems, "item_id must be positive")
	}
	if strings.TrimSpace(req.Name) == "" {
		problems = append(problems, "name must not be empty")
	}
	if strings.TrimSpace(req.Address) == "" {
		problems = append(problems, "address must not be empty")
	}
	if req.Quantity < 1 {
		problems = append(problems, "quantity must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}
