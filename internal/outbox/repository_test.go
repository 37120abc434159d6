package outbox

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryDue_ReturnsPendingRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "order_id", "topic", "partition_key", "payload", "attempts", "next_attempt_at", "created_at"}).
		AddRow(int64(1), "order-a", "orders", "1", []byte(`{"a":1}`), 0, now, now).
		AddRow(int64(2), "order-b", "orders", "3", []byte(`{"b":2}`), 2, now, now)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, order_id, topic, partition_key, payload, attempts, next_attempt_at, created_at
         FROM order_outbox
         WHERE published_at IS NULL AND dead_lettered_at IS NULL AND next_attempt_at <= now()
         ORDER BY id ASC
         LIMIT $1`)).
		WithArgs(10).
		WillReturnRows(rows)

	records, err := repo.Due(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "order-a", records[0].OrderID)
	assert.Equal(t, "1", records[0].PartitionKey)
	assert.Equal(t, []byte(`{"a":1}`), records[0].Payload)
	assert.Equal(t, 2, records[1].Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryDue_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectQuery("SELECT id, order_id, topic, partition_key").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "topic", "partition_key", "payload", "attempts", "next_attempt_at", "created_at"}))

	records, err := repo.Due(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, records)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryMarkPublished(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE order_outbox SET published_at = now() WHERE order_id = $1 AND published_at IS NULL`)).
		WithArgs("order-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkPublished(context.Background(), "order-a"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryReschedule(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	next := time.Now().UTC().Add(4 * time.Second)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE order_outbox SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3 WHERE order_id = $1`)).
		WithArgs("order-a", "broker gone", next).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Reschedule(context.Background(), "order-a", "broker gone", next))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryMarkDeadLettered(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE order_outbox SET attempts = attempts + 1, last_error = $2, dead_lettered_at = now() WHERE order_id = $1`)).
		WithArgs("order-a", "retry budget exhausted").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkDeadLettered(context.Background(), "order-a", "retry budget exhausted"))
	require.NoError(t, mock.ExpectationsWereMet())
}
