package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfman30/healme-core/internal/compliance"
	"github.com/wolfman30/healme-core/internal/docstore"
	"github.com/wolfman30/healme-core/internal/profiles"
)

var errStoreDown = errors.New("store unavailable")

// faultyStore injects failures into selected MemoryStore operations.
type faultyStore struct {
	*docstore.MemoryStore
	unionErr  map[string]error
	removeErr error
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: docstore.NewMemoryStore(), unionErr: map[string]error{}}
}

func (f *faultyStore) Union(ctx context.Context, collection, id, field, key string, value any) (bool, error) {
	if err := f.unionErr[collection]; err != nil {
		return false, err
	}
	return f.MemoryStore.Union(ctx, collection, id, field, key, value)
}

func (f *faultyStore) Remove(ctx context.Context, collection, id, field, key string) (bool, error) {
	if f.removeErr != nil {
		return false, f.removeErr
	}
	return f.MemoryStore.Remove(ctx, collection, id, field, key)
}

type recordedAudit struct {
	eventType  compliance.AuditEventType
	subjectID  string
	resourceID string
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []recordedAudit
}

func (a *fakeAuditor) Log(_ context.Context, eventType compliance.AuditEventType, subjectID, _ string, resourceID string, _ any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, recordedAudit{eventType: eventType, subjectID: subjectID, resourceID: resourceID})
	return nil
}

func (a *fakeAuditor) types() []compliance.AuditEventType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]compliance.AuditEventType, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.eventType)
	}
	return out
}

func intPtr(v int) *int { return &v }

func seedProvider(t *testing.T, store docstore.Store, id, name, specialty string, booked ...profiles.ProviderCommitment) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, profiles.ProvidersCollection, id, profiles.Provider{
		Name:      name,
		Email:     id + "@healme.doc.co",
		Specialty: specialty,
	}))
	for _, c := range booked {
		_, err := store.Union(ctx, profiles.ProvidersCollection, id, profiles.CommitmentsField, c.SlotKey(), c)
		require.NoError(t, err)
	}
}

func seedRequester(t *testing.T, store docstore.Store, id, name string, age *int) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), profiles.RequestersCollection, id, profiles.Requester{
		Name:  name,
		Email: id + "@example.com",
		Age:   age,
	}))
}
