package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("not found")

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type Repository struct {
	pool     DBPool
	consumer string
}

func NewRepository(pool DBPool, consumer string) *Repository {
	if consumer == "" {
		consumer = "catalog-service"
	}
	return &Repository{pool: pool, consumer: consumer}
}

// List returns the full catalog ordered by item id.
func (r *Repository) List(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, quantity FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	out := make([]Product, 0)
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Quantity); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id int64) (Product, error) {
	var p Product
	row := r.pool.QueryRow(ctx, `SELECT id, name, quantity FROM products WHERE id=$1`, id)
	if err := row.Scan(&p.ID, &p.Name, &p.Quantity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// ApplyOrderPlaced decrements stock for one order event in a single
// transaction. The applied_orders insert is the idempotency guard: a
// conflict means the order was already applied and nothing changes. Stock
// never goes below zero; the shortfall is reported for the caller to log.
func (r *Repository) ApplyOrderPlaced(ctx context.Context, app OrderApplication) (ApplyOutcome, error) {
	out := ApplyOutcome{PrevSequence: -1}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return out, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO applied_orders (order_id) VALUES ($1) ON CONFLICT (order_id) DO NOTHING`,
		app.OrderID)
	if err != nil {
		return out, fmt.Errorf("record applied order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		out.Duplicate = true
		return out, nil
	}

	var have int
	err = tx.QueryRow(ctx, `SELECT quantity FROM products WHERE id=$1 FOR UPDATE`, app.ItemID).Scan(&have)
	if errors.Is(err, pgx.ErrNoRows) {
		// Commit so the dedup row survives and redeliveries stay silent.
		out.UnknownItem = true
		if err := tx.Commit(ctx); err != nil {
			return out, fmt.Errorf("commit: %w", err)
		}
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("lock product %d: %w", app.ItemID, err)
	}

	dec := app.Quantity
	if dec > have {
		out.Shortfall = dec - have
		dec = have
	}
	out.Remaining = have - dec

	if _, err := tx.Exec(ctx,
		`UPDATE products SET quantity=$2, updated_at=now() WHERE id=$1`,
		app.ItemID, out.Remaining); err != nil {
		return out, fmt.Errorf("update stock: %w", err)
	}

	if app.Sequence > 0 {
		prev, ok, err := r.lastSequence(ctx, tx, app.PartitionKey)
		if err != nil {
			return out, err
		}
		if ok {
			out.PrevSequence = prev
		}
		if err := r.upsertLastSequence(ctx, tx, app.PartitionKey, app.Sequence); err != nil {
			return out, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return out, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// PruneApplied trims dedup rows older than the retention window and reports
// how many were removed.
func (r *Repository) PruneApplied(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := r.pool.Exec(ctx, `DELETE FROM applied_orders WHERE applied_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune applied orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) lastSequence(ctx context.Context, tx pgx.Tx, partitionKey string) (int64, bool, error) {
	var last int64
	err := tx.QueryRow(ctx,
		`SELECT last_sequence FROM event_dedup_checkpoint WHERE consumer_name=$1 AND partition_key=$2`,
		r.consumer, partitionKey).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}
	return last, true, nil
}

func (r *Repository) upsertLastSequence(ctx context.Context, tx pgx.Tx, partitionKey string, seq int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO event_dedup_checkpoint (consumer_name, partition_key, last_sequence, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (consumer_name, partition_key) DO UPDATE
		SET last_sequence = GREATEST(event_dedup_checkpoint.last_sequence, EXCLUDED.last_sequence),
		    updated_at = now()
	`, r.consumer, partitionKey, seq)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}
