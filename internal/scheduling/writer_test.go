package scheduling

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/healme-core/internal/compliance"
	"github.com/wolfman30/healme-core/internal/docstore"
	"github.com/wolfman30/healme-core/internal/observability/metrics"
	"github.com/wolfman30/healme-core/internal/profiles"
)

var cardiology0601 = Commitment{
	ProviderID:   "drx",
	ProviderName: "Dr. X",
	Specialty:    "Cardiology",
	Date:         "2025-06-01",
	Slot:         "10:00",
}

func newTestWriter(store docstore.Store, audit Auditor) *Writer {
	return NewWriter(store, nil,
		WithAuditor(audit),
		WithWriterMetrics(metrics.NewSchedulingMetrics(prometheus.NewRegistry())),
	)
}

func loadProfiles(t *testing.T, store docstore.Store, requesterID, providerID string) (*profiles.Requester, *profiles.Provider) {
	t.Helper()
	repo := profiles.NewRepository(store, nil)
	req, err := repo.GetRequester(context.Background(), requesterID)
	require.NoError(t, err)
	prov, err := repo.GetProvider(context.Background(), providerID)
	require.NoError(t, err)
	return req, prov
}

func TestCommit_WritesBothSides(t *testing.T) {
	store := newFaultyStore()
	seedRequester(t, store, "jane", "Jane", intPtr(34))
	seedProvider(t, store, "drx", "Dr. X", "Cardiology")
	audit := &fakeAuditor{}

	result, err := newTestWriter(store, audit).Commit(context.Background(), "jane", "Jane", cardiology0601)
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, "jane@example.com", result.RequesterEmail)
	assert.Equal(t, "drx@healme.doc.co", result.ProviderEmail)

	req, prov := loadProfiles(t, store, "jane", "drx")
	assert.Equal(t, []profiles.RequesterCommitment{cardiology0601.RequesterSide()}, req.RequesterCommitments(nil))
	assert.Equal(t, []profiles.ProviderCommitment{{Date: "2025-06-01", Slot: "10:00", RequesterName: "Jane"}}, prov.ProviderCommitments(nil))
	assert.Equal(t, []compliance.AuditEventType{compliance.EventAppointmentCommitted}, audit.types())
}

func TestCommit_ReplayIsIdempotent(t *testing.T) {
	store := newFaultyStore()
	seedRequester(t, store, "jane", "Jane", intPtr(34))
	seedProvider(t, store, "drx", "Dr. X", "Cardiology")
	w := newTestWriter(store, nil)

	_, err := w.Commit(context.Background(), "jane", "Jane", cardiology0601)
	require.NoError(t, err)
	result, err := w.Commit(context.Background(), "jane", "Jane", cardiology0601)
	require.NoError(t, err)
	assert.True(t, result.Replayed)

	req, prov := loadProfiles(t, store, "jane", "drx")
	assert.Len(t, req.RequesterCommitments(nil), 1)
	assert.Len(t, prov.ProviderCommitments(nil), 1)
}

func TestCommit_SecondRequesterGetsSlotTakenWithoutOrphan(t *testing.T) {
	store := newFaultyStore()
	seedRequester(t, store, "jane", "Jane", intPtr(34))
	seedRequester(t, store, "sam", "Sam", intPtr(51))
	seedProvider(t, store, "drx", "Dr. X", "Cardiology")
	w := newTestWriter(store, nil)

	_, err := w.Commit(context.Background(), "jane", "Jane", cardiology0601)
	require.NoError(t, err)

	_, err = w.Commit(context.Background(), "sam", "Sam", cardiology0601)
	assert.ErrorIs(t, err, ErrSlotTaken)

	sam, prov := loadProfiles(t, store, "sam", "drx")
	assert.Empty(t, sam.RequesterCommitments(nil))
	assert.Empty(t, store.SortedKeys(profiles.RequestersCollection, "sam", profiles.CommitmentsField))
	require.Len(t, prov.ProviderCommitments(nil), 1)
	assert.Equal(t, "Jane", prov.ProviderCommitments(nil)[0].RequesterName)
}

func TestCommit_NamesakeRequesterIsNotTreatedAsReplay(t *testing.T) {
	store := newFaultyStore()
	seedRequester(t, store, "jane-1", "Jane", intPtr(34))
	seedRequester(t, store, "jane-2", "Jane", intPtr(29))
	seedProvider(t, store, "drx", "Dr. X", "Cardiology")
	w := newTestWriter(store, nil)

	_, err := w.Commit(context.Background(), "jane-1", "Jane", cardiology0601)
	require.NoError(t, err)

	result, err := w.Commit(context.Background(), "jane-2", "Jane", cardiology0601)
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.False(t, result.Replayed)

	second, prov := loadProfiles(t, store, "jane-2", "drx")
	assert.Empty(t, second.RequesterCommitments(nil))
	assert.Len(t, prov.ProviderCommitments(nil), 1)

	first, _ := loadProfiles(t, store, "jane-1", "drx")
	assert.Len(t, first.RequesterCommitments(nil), 1)
}

func TestCommit_ProviderWriteFailureCompensates(t *testing.T) {
	store := newFaultyStore()
	seedRequester(t, store, "jane", "Jane", intPtr(34))
	seedProvider(t, store, "drx", "Dr. X", "Cardiology")
	store.unionErr[profiles.ProvidersCollection] = errStoreDown
	audit := &fakeAuditor{}

	_, err := newTestWriter(store, audit).Commit(context.Background(), "jane", "Jane", cardiology0601)
	assert.ErrorIs(t, err, errStoreDown)
	assert.NotErrorIs(t, err, ErrOrphanedCommitment)

	req, prov := loadProfiles(t, store, "jane", "drx")
	assert.Empty(t, req.RequesterCommitments(nil))
	assert.Empty(t, prov.ProviderCommitments(nil))
	assert.Empty(t, audit.types())
}

func TestCommit_FailedCompensationIsAuditedAsOrphan(t *testing.T) {
	store := newFaultyStore()
	seedRequester(t, store, "jane", "Jane", intPtr(34))
	seedProvider(t, store, "drx", "Dr. X", "Cardiology")
	store.unionErr[profiles.ProvidersCollection] = errStoreDown
	store.removeErr = context.DeadlineExceeded
	audit := &fakeAuditor{}

	_, err := newTestWriter(store, audit).Commit(context.Background(), "jane", "Jane", cardiology0601)
	require.ErrorIs(t, err, ErrOrphanedCommitment)
	assert.ErrorIs(t, err, errStoreDown)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	req, _ := loadProfiles(t, store, "jane", "drx")
	assert.Len(t, req.RequesterCommitments(nil), 1)
	require.Equal(t, []compliance.AuditEventType{compliance.EventCommitmentOrphaned}, audit.types())
	assert.Equal(t, "jane", audit.events[0].subjectID)
	assert.Equal(t, "drx", audit.events[0].resourceID)
}

func TestCommit_ExistenceChecks(t *testing.T) {
	store := newFaultyStore()
	seedRequester(t, store, "jane", "Jane", intPtr(34))
	w := newTestWriter(store, nil)

	_, err := w.Commit(context.Background(), "ghost", "Ghost", cardiology0601)
	assert.ErrorIs(t, err, ErrRequesterNotFound)

	_, err = w.Commit(context.Background(), "jane", "Jane", cardiology0601)
	assert.ErrorIs(t, err, ErrProviderNotFound)

	req, _ := profiles.NewRepository(store, nil).GetRequester(context.Background(), "jane")
	assert.Empty(t, req.RequesterCommitments(nil))
}

func TestCommit_InitializesProviderListOnce(t *testing.T) {
	store := newFaultyStore()
	seedRequester(t, store, "jane", "Jane", intPtr(34))
	seedProvider(t, store, "drx", "Dr. X", "Cardiology")

	raw, _ := store.Raw(profiles.ProvidersCollection, "drx")
	assert.NotContains(t, raw, profiles.CommitmentsField)

	require.NoError(t, store.InitArray(context.Background(), profiles.ProvidersCollection, "drx", profiles.CommitmentsField))
	first, _ := store.Raw(profiles.ProvidersCollection, "drx")
	require.NoError(t, store.InitArray(context.Background(), profiles.ProvidersCollection, "drx", profiles.CommitmentsField))
	second, _ := store.Raw(profiles.ProvidersCollection, "drx")
	assert.Equal(t, first[profiles.CommitmentsField], second[profiles.CommitmentsField])

	_, err := newTestWriter(store, nil).Commit(context.Background(), "jane", "", cardiology0601)
	require.NoError(t, err)
	_, prov := loadProfiles(t, store, "jane", "drx")
	assert.Equal(t, "Jane", prov.ProviderCommitments(nil)[0].RequesterName)
}

func TestCommit_RejectsInvalidCommitments(t *testing.T) {
	w := newTestWriter(newFaultyStore(), nil)

	_, err := w.Commit(context.Background(), "", "Jane", cardiology0601)
	assert.ErrorIs(t, err, ErrInvalidCommitment)

	bad := cardiology0601
	bad.ProviderID = ""
	_, err = w.Commit(context.Background(), "jane", "Jane", bad)
	assert.ErrorIs(t, err, ErrInvalidCommitment)
}
