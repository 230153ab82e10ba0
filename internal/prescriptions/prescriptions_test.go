package prescriptions

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/healme-core/internal/compliance"
	"github.com/wolfman30/healme-core/internal/docstore"
	"github.com/wolfman30/healme-core/internal/events"
	"github.com/wolfman30/healme-core/internal/profiles"
)

type capturedOutbox struct {
	types    []string
	payloads []any
	err      error
}

func (o *capturedOutbox) Insert(_ context.Context, _ string, eventType string, payload any) (uuid.UUID, error) {
	if o.err != nil {
		return uuid.Nil, o.err
	}
	o.types = append(o.types, eventType)
	o.payloads = append(o.payloads, payload)
	return uuid.New(), nil
}

type capturedAudit struct {
	types []compliance.AuditEventType
}

func (a *capturedAudit) Log(_ context.Context, eventType compliance.AuditEventType, _, _, _ string, _ any) error {
	a.types = append(a.types, eventType)
	return nil
}

// notificationFailStore rejects writes to the notifications collection.
type notificationFailStore struct {
	*docstore.MemoryStore
}

func (s notificationFailStore) Create(ctx context.Context, collection, id string, doc any) error {
	if collection == NotificationsCollection {
		return errors.New("throttled")
	}
	return s.MemoryStore.Create(ctx, collection, id, doc)
}

type fixture struct {
	store  *docstore.MemoryStore
	svc    *Service
	outbox *capturedOutbox
	audit  *capturedAudit
}

func newFixture(t *testing.T, store docstore.Store, mem *docstore.MemoryStore) fixture {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.Create(ctx, profiles.ProvidersCollection, "sub-drx", profiles.Provider{
		Name: "Dr. X", Email: "drx@healme.doc.co", Specialty: "Cardiology",
	}))
	require.NoError(t, mem.Create(ctx, profiles.RequestersCollection, "sub-jane", profiles.Requester{
		Name: "Jane", Email: "jane@example.com",
	}))
	require.NoError(t, mem.Create(ctx, profiles.RequestersCollection, "sub-jane-2", profiles.Requester{
		Name: "Jane", Email: "other-jane@example.com",
	}))

	outbox := &capturedOutbox{}
	audit := &capturedAudit{}
	svc := NewService(store, profiles.NewRepository(mem, nil), nil, WithOutbox(outbox), WithAuditor(audit))
	clock := time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return fixture{store: mem, svc: svc, outbox: outbox, audit: audit}
}

func janeRequest() IssueRequest {
	return IssueRequest{
		RequesterName: "Jane",
		Date:          "2025-06-02",
		Slot:          "10:00",
		Diagnosis:     "Hypertension",
		Prescription:  "Lisinopril 10mg daily",
	}
}

func TestIssue_WritesRecordNotificationAndEvents(t *testing.T) {
	mem := docstore.NewMemoryStore()
	f := newFixture(t, mem, mem)
	ctx := context.Background()

	rx, err := f.svc.Issue(ctx, "sub-drx", janeRequest())
	require.NoError(t, err)
	assert.Equal(t, "id-1", rx.ID)
	assert.Equal(t, "sub-jane", rx.RequesterID, "first requester with the name wins")
	assert.Equal(t, "Dr. X", rx.ProviderName)

	var stored Prescription
	require.NoError(t, mem.Get(ctx, Collection, rx.ID, &stored))
	assert.Equal(t, "Lisinopril 10mg daily", stored.Prescription)
	assert.Equal(t, "Hypertension", stored.Diagnosis)

	notes, err := f.svc.Notifications(ctx, "sub-jane")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.False(t, notes[0].Read)
	assert.Contains(t, notes[0].Message, "Dr. X")

	require.Equal(t, []string{events.TypePrescriptionIssued}, f.outbox.types)
	evt := f.outbox.payloads[0].(events.PrescriptionIssuedV1)
	assert.Equal(t, "jane@example.com", evt.RequesterEmail)
	assert.Equal(t, rx.ID, evt.PrescriptionID)
	assert.Equal(t, []compliance.AuditEventType{compliance.EventPrescriptionIssued}, f.audit.types)
}

func TestIssue_NotificationFailureDoesNotFailIssue(t *testing.T) {
	mem := docstore.NewMemoryStore()
	f := newFixture(t, notificationFailStore{mem}, mem)
	ctx := context.Background()

	rx, err := f.svc.Issue(ctx, "sub-drx", janeRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{rx.ID}, mem.IDs(Collection))
	assert.Empty(t, mem.IDs(NotificationsCollection))
	assert.Len(t, f.outbox.types, 1)
}

func TestIssue_OutboxFailureIsLogged(t *testing.T) {
	mem := docstore.NewMemoryStore()
	f := newFixture(t, mem, mem)
	f.outbox.err = errors.New("db down")

	_, err := f.svc.Issue(context.Background(), "sub-drx", janeRequest())
	require.NoError(t, err)
	assert.Len(t, mem.IDs(Collection), 1)
}

func TestIssue_Errors(t *testing.T) {
	mem := docstore.NewMemoryStore()
	f := newFixture(t, mem, mem)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, "sub-drx", IssueRequest{RequesterName: "Jane"})
	assert.ErrorIs(t, err, ErrInvalidPrescription)

	req := janeRequest()
	req.RequesterName = "Nobody"
	_, err = f.svc.Issue(ctx, "sub-drx", req)
	assert.ErrorIs(t, err, ErrRequesterNotFound)

	_, err = f.svc.Issue(ctx, "sub-missing", janeRequest())
	assert.ErrorIs(t, err, ErrProviderNotFound)

	assert.Empty(t, mem.IDs(Collection))
	assert.Empty(t, f.outbox.types)
}

func TestForRequester_NewestFirst(t *testing.T) {
	mem := docstore.NewMemoryStore()
	f := newFixture(t, mem, mem)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, "sub-drx", janeRequest())
	require.NoError(t, err)
	req := janeRequest()
	req.Prescription = "Aspirin 81mg"
	second, err := f.svc.Issue(ctx, "sub-drx", req)
	require.NoError(t, err)

	list, err := f.svc.ForRequester(ctx, "sub-jane")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	list, err = f.svc.ForRequester(ctx, "sub-jane-2")
	require.NoError(t, err)
	assert.Empty(t, list)
}
