package events

import (
	"context"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessedStore_Lookup(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newProcessedStoreWithExec(mock)
	ctx := context.Background()

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("email", "evt-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	seen, err := store.AlreadyProcessed(ctx, "email", "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("email", "evt-2").WillReturnError(pgx.ErrNoRows)
	seen, err = store.AlreadyProcessed(ctx, "email", "evt-2")
	require.NoError(t, err)
	assert.False(t, seen)

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("email", "evt-3").WillReturnError(errors.New("timeout"))
	_, err = store.AlreadyProcessed(ctx, "email", "evt-3")
	assert.ErrorContains(t, err, "check processed")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessedStore_MarkProcessedConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newProcessedStoreWithExec(mock)

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("email", "evt-1").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO processed_events").WithArgs("email", "evt-1").WillReturnResult(pgxmock.NewResult("INSERT", 0))

	first, err := store.MarkProcessed(context.Background(), "email", "evt-1")
	require.NoError(t, err)
	again, err := store.MarkProcessed(context.Background(), "email", "evt-1")
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, again)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessedStore_RequiresKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newProcessedStoreWithExec(mock)

	_, err = store.AlreadyProcessed(context.Background(), "", "evt")
	assert.Error(t, err)
	_, err = store.MarkProcessed(context.Background(), "email", "  ")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJanitor_SweepPurgesBothTables(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-48 * time.Hour)
	mock.ExpectExec("DELETE FROM outbox").WithArgs(cutoff).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("DELETE FROM processed_events").WithArgs(cutoff).WillReturnError(errors.New("lock timeout"))

	j := NewJanitor(newOutboxStoreWithExec(mock), newProcessedStoreWithExec(mock), 48*time.Hour, nil)
	j.now = func() time.Time { return now }
	j.sweep(context.Background())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJanitor_DefaultRetention(t *testing.T) {
	j := NewJanitor(nil, nil, 0, nil)
	assert.Equal(t, 30*24*time.Hour, j.retention)
	j.sweep(context.Background())
}
