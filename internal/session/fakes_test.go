package session

import (
	"context"
	"errors"
	"sync"

	"github.com/wolfman30/healme-core/internal/profiles"
)

type fakeProfiles struct {
	mu         sync.Mutex
	providers  map[string]*profiles.Provider
	requesters map[string]*profiles.Requester
	gates      map[string]chan struct{}
	reqErr     error
	provErr    error
	reads      int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{
		providers:  map[string]*profiles.Provider{},
		requesters: map[string]*profiles.Requester{},
		gates:      map[string]chan struct{}{},
	}
}

func (f *fakeProfiles) addRequester(id, name string, age *int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requesters[id] = &profiles.Requester{ID: id, Name: name, Age: age}
}

// gate makes reads for id block until the returned func is called.
func (f *fakeProfiles) gate(id string) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[id] = ch
	f.mu.Unlock()
	return func() { close(ch) }
}

func (f *fakeProfiles) wait(id string) {
	f.mu.Lock()
	ch := f.gates[id]
	f.reads++
	f.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

func (f *fakeProfiles) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeProfiles) GetProvider(_ context.Context, id string) (*profiles.Provider, error) {
	f.wait(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.provErr != nil {
		return nil, f.provErr
	}
	if p, ok := f.providers[id]; ok {
		return p, nil
	}
	return nil, profiles.ErrProviderNotFound
}

func (f *fakeProfiles) FindProviderByEmail(_ context.Context, email string) (*profiles.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.provErr != nil {
		return nil, f.provErr
	}
	for _, p := range f.providers {
		if p.Email == email {
			return p, nil
		}
	}
	return nil, profiles.ErrProviderNotFound
}

func (f *fakeProfiles) GetRequester(_ context.Context, id string) (*profiles.Requester, error) {
	f.wait(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reqErr != nil {
		return nil, f.reqErr
	}
	if r, ok := f.requesters[id]; ok {
		return r, nil
	}
	return nil, profiles.ErrRequesterNotFound
}

var errStoreDown = errors.New("store unavailable")

func intPtr(v int) *int { return &v }
