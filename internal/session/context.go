package session

import "sync"

// Context is the observable session state of one device. Only its Resolver
// writes it; everything else reads Current or subscribes.
type Context struct {
	mu     sync.RWMutex
	snap   Snapshot
	seq    uint64
	subs   map[int]func(Snapshot)
	nextID int

	deliverMu sync.Mutex
	delivered uint64
}

// NewContext creates a signed-out context.
func NewContext() *Context {
	return &Context{snap: SignedOut(), subs: map[int]func(Snapshot){}}
}

// Current returns the latest snapshot.
func (c *Context) Current() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Subscribe registers fn for every subsequent snapshot and returns a func
// that removes it. Subscribers run outside the state lock but must not block
// on a resolution of the same context.
func (c *Context) Subscribe(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// set stores the snapshot and returns its sequence number for deliver.
func (c *Context) set(snap Snapshot) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.snap = snap
	return c.seq
}

// deliver notifies subscribers unless a newer snapshot was already delivered.
func (c *Context) deliver(seq uint64, snap Snapshot) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if seq <= c.delivered {
		return
	}
	c.delivered = seq

	c.mu.RLock()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.RUnlock()

	for _, fn := range subs {
		fn(snap)
	}
}
