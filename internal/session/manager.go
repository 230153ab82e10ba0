package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/healme-core/internal/identity"
	"github.com/wolfman30/healme-core/pkg/logging"
)

// SnapshotHook receives every snapshot published for a device.
type SnapshotHook func(deviceID string, snap Snapshot)

// Manager keeps one Resolver per device so each device's notifications are
// ordered independently.
type Manager struct {
	eval   *Evaluator
	logger *logging.Logger
	hook   SnapshotHook

	mu        sync.Mutex
	resolvers map[string]*Resolver
	devices   map[string]*deviceOrder
}

// deviceOrder serializes Apply per device and remembers the newest change
// applied, so a late delivery of an older change is ignored.
type deviceOrder struct {
	mu   sync.Mutex
	last time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithSnapshotHook forwards published snapshots, e.g. to the event bus.
func WithSnapshotHook(hook SnapshotHook) ManagerOption {
	return func(m *Manager) {
		m.hook = hook
	}
}

// NewManager creates an empty manager.
func NewManager(eval *Evaluator, logger *logging.Logger, opts ...ManagerOption) *Manager {
	if eval == nil {
		panic("session: evaluator cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{
		eval:      eval,
		logger:    logger,
		resolvers: map[string]*Resolver{},
		devices:   map[string]*deviceOrder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Resolver returns the device's resolver, creating it on first use.
func (m *Manager) Resolver(deviceID string) *Resolver {
	deviceID = strings.TrimSpace(deviceID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resolvers[deviceID]; ok {
		return r
	}
	state := NewContext()
	if m.hook != nil {
		hook := m.hook
		state.Subscribe(func(snap Snapshot) { hook(deviceID, snap) })
	}
	r := NewResolver(m.eval, state, m.logger.With("device_id", deviceID))
	m.resolvers[deviceID] = r
	return r
}

// Snapshot returns the device's current state, or the signed-out snapshot
// for an unknown device.
func (m *Manager) Snapshot(deviceID string) Snapshot {
	m.mu.Lock()
	r, ok := m.resolvers[strings.TrimSpace(deviceID)]
	m.mu.Unlock()
	if !ok {
		return SignedOut()
	}
	return r.Context().Current()
}

// Apply routes a session change to its device. Changes older than the
// newest one already applied for the device are dropped. A sign-out always
// drops the named subject's cached completeness, even for a device this
// process has not seen before.
func (m *Manager) Apply(ctx context.Context, change identity.SessionChange) error {
	if err := change.Validate(); err != nil {
		return err
	}
	order := m.device(change.DeviceID)
	order.mu.Lock()
	defer order.mu.Unlock()
	if !change.OccurredAt.IsZero() {
		if change.OccurredAt.Before(order.last) {
			m.logger.Info("dropping stale session change",
				"device_id", change.DeviceID,
				"kind", change.Kind,
				"occurred_at", change.OccurredAt,
				"newest_applied", order.last,
			)
			return nil
		}
		order.last = change.OccurredAt
	}

	r := m.Resolver(change.DeviceID)
	if change.Kind == identity.ChangeSignOut && change.SubjectID != "" {
		if err := m.eval.SignOut(ctx, change.SubjectID); err != nil {
			m.logger.Warn("failed to invalidate completeness", "subject_id", change.SubjectID, "error", err)
		}
	}
	r.Notify(change.Claim())
	return nil
}

func (m *Manager) device(deviceID string) *deviceOrder {
	deviceID = strings.TrimSpace(deviceID)
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.devices[deviceID]
	if !ok {
		order = &deviceOrder{}
		m.devices[deviceID] = order
	}
	return order
}

// Wait blocks until every device's in-flight resolution has finished.
func (m *Manager) Wait() {
	m.mu.Lock()
	resolvers := make([]*Resolver, 0, len(m.resolvers))
	for _, r := range m.resolvers {
		resolvers = append(resolvers, r)
	}
	m.mu.Unlock()
	for _, r := range resolvers {
		r.Wait()
	}
}
