package events

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

const sequenceUpsert = `
INSERT INTO event_sequences (partition_key, last_sequence, updated_at)
VALUES ($1, 1, NOW())
ON CONFLICT (partition_key) DO UPDATE
SET last_sequence = event_sequences.last_sequence + 1,
    updated_at = NOW()
RETURNING last_sequence
`

func TestNextSequenceIncrementsPerPartition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSequenceRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sequenceUpsert)).
		WithArgs("item-1").
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence"}).AddRow(int64(1)))
	mock.ExpectCommit()

	seq, err := repo.NextSequence(context.Background(), "item-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), seq)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sequenceUpsert)).
		WithArgs("item-1").
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence"}).AddRow(int64(2)))
	mock.ExpectCommit()

	seq, err = repo.NextSequence(context.Background(), "item-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), seq)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextSequenceEmptyPartitionKey(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSequenceRepository(db)

	_, err = repo.NextSequence(context.Background(), "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "partition key")
}

func TestNextSequenceQueryErrorRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSequenceRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sequenceUpsert)).
		WithArgs("item-1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = repo.NextSequence(context.Background(), "item-1")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
