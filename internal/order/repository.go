package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, o *Order, evt OutboxEvent) error
	GetByID(ctx context.Context, orderID string) (*Order, error)
	MarkFailed(ctx context.Context, orderID string) error
}

type repo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repo{db: db}
}

// Create stores the order and its outbox row in one transaction, so a
// stored order always has a durable publish intent.
func (r *repo) Create(ctx context.Context, o *Order, evt OutboxEvent) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if o.Status == "" {
		o.Status = StatusCreated
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, item_id, name, address, quantity, status, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.ItemID, o.Name, o.Address, o.Quantity, string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO order_outbox (order_id, topic, partition_key, payload, attempts, next_attempt_at, created_at)
         VALUES ($1, $2, $3, $4, 0, $5, $5)`,
		o.ID, evt.Topic, evt.PartitionKey, evt.Payload, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *repo) GetByID(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	err := r.db.QueryRowContext(ctx,
		`SELECT id, item_id, name, address, quantity, status, created_at
         FROM orders WHERE id = $1`,
		orderID,
	).Scan(&o.ID, &o.ItemID, &o.Name, &o.Address, &o.Quantity, &o.Status, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select order: %w", err)
	}
	return &o, nil
}

func (r *repo) MarkFailed(ctx context.Context, orderID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1`,
		orderID, string(StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("mark order failed: %w", err)
	}
	return nil
}
