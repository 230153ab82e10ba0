package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var outboxColumns = []string{"id", "aggregate_id", "type", "payload", "attempts", "created_at"}

func TestOutboxStore_InsertFetchDeliver(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newOutboxStoreWithExec(mock)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "sub-jane", TypeAppointmentCommitted, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	id, err := store.Insert(ctx, "sub-jane", TypeAppointmentCommitted, AppointmentCommittedV1{RequesterID: "sub-jane"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	created := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM outbox").WithArgs(int32(10), 3).
		WillReturnRows(pgxmock.NewRows(outboxColumns).
			AddRow(id, "sub-jane", TypeAppointmentCommitted, []byte(`{"requester_id":"sub-jane"}`), 1, created))
	entries, err := store.FetchPending(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, 1, entries[0].Attempts)
	assert.JSONEq(t, `{"requester_id":"sub-jane"}`, string(entries[0].Payload))

	mock.ExpectExec("SET delivered_at").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err := store.MarkDelivered(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "a row already delivered elsewhere is not ours")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxStore_InsertRejectsUnknownType(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = newOutboxStoreWithExec(mock).Insert(context.Background(), "sub-jane", "session.started.v1", map[string]string{})
	assert.ErrorIs(t, err, ErrUnknownEventType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxStore_PurgeDelivered(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cutoff := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM outbox").WithArgs(cutoff).WillReturnResult(pgxmock.NewResult("DELETE", 4))
	n, err := newOutboxStoreWithExec(mock).PurgeDelivered(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliverer_DrainRecordsFailures(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newOutboxStoreWithExec(mock)
	good := uuid.New()
	bad := uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery("FROM outbox").WithArgs(int32(25), 4).
		WillReturnRows(pgxmock.NewRows(outboxColumns).
			AddRow(bad, "sub-jane", TypePrescriptionIssued, []byte(`{}`), 3, now).
			AddRow(good, "sub-ann", TypeAppointmentCommitted, []byte(`{}`), 0, now))
	mock.ExpectExec("SET attempts").WithArgs(bad, "smtp down").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET delivered_at").WithArgs(good).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	var handled []uuid.UUID
	handler := DeliveryHandlerFunc(func(_ context.Context, entry OutboxEntry) error {
		handled = append(handled, entry.ID)
		if entry.ID == bad {
			return errors.New("smtp down")
		}
		return nil
	})

	delivered := NewDeliverer(store, handler, nil).WithMaxAttempts(4).drain(context.Background())
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []uuid.UUID{bad, good}, handled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliverer_FetchErrorDeliversNothing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM outbox").WithArgs(int32(5), DefaultMaxAttempts).WillReturnError(errors.New("conn reset"))
	called := false
	handler := DeliveryHandlerFunc(func(context.Context, OutboxEntry) error {
		called = true
		return nil
	})

	d := NewDeliverer(newOutboxStoreWithExec(mock), handler, nil).WithBatchSize(5).WithMaxAttempts(0)
	assert.Equal(t, 0, d.drain(context.Background()))
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliverer_StartDrainsBeforeFirstTick(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM outbox").WithArgs(int32(25), DefaultMaxAttempts).
		WillReturnRows(pgxmock.NewRows(outboxColumns).AddRow(id, "sub-jane", TypeAppointmentCommitted, []byte(`{}`), 0, time.Now()))
	mock.ExpectExec("SET delivered_at").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx, cancel := context.WithCancel(context.Background())
	handled := make(chan uuid.UUID, 1)
	handler := DeliveryHandlerFunc(func(_ context.Context, entry OutboxEntry) error {
		handled <- entry.ID
		cancel()
		return nil
	})

	done := make(chan struct{})
	go func() {
		NewDeliverer(newOutboxStoreWithExec(mock), handler, nil).WithInterval(time.Hour).Start(ctx)
		close(done)
	}()

	select {
	case got := <-handled:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("expected an immediate drain")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return after cancel")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliverer_StartReturnsWithoutHandler(t *testing.T) {
	done := make(chan struct{})
	go func() {
		NewDeliverer(nil, nil, nil).WithInterval(time.Millisecond).Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return immediately when unconfigured")
	}
}
