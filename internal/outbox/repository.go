package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Record is one pending order event awaiting broker delivery.
type Record struct {
	ID            int64
	OrderID       string
	Topic         string
	PartitionKey  string
	Payload       []byte
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// Repository reads and settles outbox rows. Rows are inserted by the order
// repository inside the order transaction; this side only drains them.
type Repository interface {
	Due(ctx context.Context, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, orderID string) error
	Reschedule(ctx context.Context, orderID string, lastError string, nextAttempt time.Time) error
	MarkDeadLettered(ctx context.Context, orderID string, lastError string) error
}

type repo struct {
	db *sql.DB
}

// NewRepository creates a new outbox repository backed by PostgreSQL.
func NewRepository(db *sql.DB) Repository {
	return &repo{db: db}
}

// Due returns unpublished rows whose next attempt is not in the future,
// oldest first.
func (r *repo) Due(ctx context.Context, limit int) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_id, topic, partition_key, payload, attempts, next_attempt_at, created_at
         FROM order_outbox
         WHERE published_at IS NULL AND dead_lettered_at IS NULL AND next_attempt_at <= now()
         ORDER BY id ASC
         LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due outbox rows: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.Topic, &rec.PartitionKey, &rec.Payload, &rec.Attempts, &rec.NextAttemptAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return records, nil
}

func (r *repo) MarkPublished(ctx context.Context, orderID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE order_outbox SET published_at = now() WHERE order_id = $1 AND published_at IS NULL`,
		orderID,
	)
	if err != nil {
		return fmt.Errorf("mark outbox row published: %w", err)
	}
	return nil
}

func (r *repo) Reschedule(ctx context.Context, orderID string, lastError string, nextAttempt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE order_outbox SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3 WHERE order_id = $1`,
		orderID, lastError, nextAttempt,
	)
	if err != nil {
		return fmt.Errorf("reschedule outbox row: %w", err)
	}
	return nil
}

func (r *repo) MarkDeadLettered(ctx context.Context, orderID string, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE order_outbox SET attempts = attempts + 1, last_error = $2, dead_lettered_at = now() WHERE order_id = $1`,
		orderID, lastError,
	)
	if err != nil {
		return fmt.Errorf("dead-letter outbox row: %w", err)
	}
	return nil
}
