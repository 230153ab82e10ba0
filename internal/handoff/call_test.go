package handoff

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/healme-core/internal/docstore"
)

type fakeEngine struct {
	mu         sync.Mutex
	joined     string
	joinErr    error
	leaveCount int
	muted      bool
	onPresence func(PresenceEvent)
}

func (e *fakeEngine) Join(_ context.Context, channelID string, onPresence func(PresenceEvent)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.joinErr != nil {
		return e.joinErr
	}
	e.joined = channelID
	e.onPresence = onPresence
	return nil
}

func (e *fakeEngine) Leave(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leaveCount++
	return nil
}

func (e *fakeEngine) SetMuted(muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
	return nil
}

func (e *fakeEngine) presence(ev PresenceEvent) {
	e.mu.Lock()
	fn := e.onPresence
	e.mu.Unlock()
	fn(ev)
}

var janeKey = Key{ProviderID: "drx", Date: "2025-06-01", Slot: "10:00", RequesterName: "Jane"}

func TestCall_PublisherAndJoinerMeetOnOneChannel(t *testing.T) {
	store := docstore.NewMemoryStore()
	reg := newTestRegistry(store, WithPolling(50, 2*time.Millisecond))
	requesterEngine := &fakeEngine{}
	providerEngine := &fakeEngine{}
	requester := NewCall(reg, requesterEngine, janeKey, nil)
	provider := NewCall(reg, providerEngine, janeKey, nil)
	assert.Equal(t, StateUnpublished, requester.State())

	joinerDone := make(chan string, 1)
	go func() {
		ch, err := provider.StartAsJoiner(context.Background())
		if err == nil {
			joinerDone <- ch
		}
	}()

	channelID, err := requester.StartAsPublisher(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatePublished, requester.State())
	assert.Equal(t, channelID, requesterEngine.joined)

	assert.Equal(t, channelID, <-joinerDone)
	assert.Equal(t, channelID, providerEngine.joined)

	requesterEngine.presence(PresenceEvent{Kind: RemoteJoined, RemoteID: "provider"})
	assert.Equal(t, StateJoined, requester.State())

	require.NoError(t, requester.SetMuted(true))
	assert.True(t, requesterEngine.muted)

	requester.End(context.Background())
	assert.Equal(t, StateRetired, requester.State())
	assert.Equal(t, 1, requesterEngine.leaveCount)
	assert.Empty(t, store.IDs(Collection))

	requester.End(context.Background())
	assert.Equal(t, 1, requesterEngine.leaveCount)
	assert.Error(t, requester.SetMuted(false))

	_, err = requester.StartAsPublisher(context.Background())
	assert.ErrorIs(t, err, ErrCallStarted)
}

func TestCall_RemoteLeavingEndsTheCall(t *testing.T) {
	store := docstore.NewMemoryStore()
	engine := &fakeEngine{}
	call := NewCall(newTestRegistry(store), engine, janeKey, nil)

	_, err := call.StartAsPublisher(context.Background())
	require.NoError(t, err)
	engine.presence(PresenceEvent{Kind: RemoteJoined})
	engine.presence(PresenceEvent{Kind: RemoteLeft})

	select {
	case <-call.Done():
	case <-time.After(time.Second):
		t.Fatal("call did not end after the remote party left")
	}
	assert.Equal(t, StateRetired, call.State())
	assert.Empty(t, store.IDs(Collection))
}

func TestCall_JoinFailureRetiresRecord(t *testing.T) {
	store := docstore.NewMemoryStore()
	engine := &fakeEngine{joinErr: errors.New("no microphone permission")}
	call := NewCall(newTestRegistry(store), engine, janeKey, nil)

	_, err := call.StartAsPublisher(context.Background())
	assert.ErrorContains(t, err, "no microphone permission")
	assert.Equal(t, StateRetired, call.State())
	assert.Empty(t, store.IDs(Collection))
}

func TestCall_JoinerUnreachableStaysRestartable(t *testing.T) {
	reg := newTestRegistry(docstore.NewMemoryStore(), WithPolling(2, time.Millisecond))
	call := NewCall(reg, &fakeEngine{}, janeKey, nil)

	_, err := call.StartAsJoiner(context.Background())
	assert.ErrorIs(t, err, ErrPartyUnreachable)
	assert.Equal(t, StateUnpublished, call.State())

	_, err = reg.Publish(context.Background(), janeKey.ProviderID, janeKey.Date, janeKey.Slot, janeKey.RequesterName)
	require.NoError(t, err)
	_, err = call.StartAsJoiner(context.Background())
	assert.NoError(t, err)
}

func TestCall_RetireFailureDoesNotBlockEnd(t *testing.T) {
	store := &flakyStore{MemoryStore: docstore.NewMemoryStore(), deleteErr: errStoreDown}
	engine := &fakeEngine{}
	call := NewCall(newTestRegistry(store), engine, janeKey, nil)
	_, err := call.StartAsPublisher(context.Background())
	require.NoError(t, err)

	call.End(context.Background())
	assert.Equal(t, StateRetired, call.State())
	assert.Equal(t, 1, engine.leaveCount)
}
