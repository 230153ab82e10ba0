package handoff

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wolfman30/healme-core/pkg/logging"
)

// State is the lifecycle position of one call attempt.
type State string

const (
	StateUnpublished State = "unpublished"
	StatePublished   State = "published"
	StateJoined      State = "joined"
	StateRetired     State = "retired"
)

// PresenceKind classifies remote-party presence callbacks.
type PresenceKind string

const (
	RemoteJoined PresenceKind = "remote_joined"
	RemoteLeft   PresenceKind = "remote_left"
)

// PresenceEvent is reported by the media engine for the remote party.
type PresenceEvent struct {
	Kind     PresenceKind
	RemoteID string
}

// MediaEngine is the real-time audio/video engine. It joins and leaves a named
// channel and reports remote presence through the callback given to Join.
type MediaEngine interface {
	Join(ctx context.Context, channelID string, onPresence func(PresenceEvent)) error
	Leave(ctx context.Context) error
	SetMuted(muted bool) error
}

// ErrCallStarted indicates Start was called on a call that already left the
// unpublished state.
var ErrCallStarted = errors.New("handoff: call already started")

// Call drives one attempt: Unpublished, Published, Joined, Retired. Either
// side may end it; a remote party leaving ends it too.
type Call struct {
	registry *Registry
	engine   MediaEngine
	key      Key
	logger   *logging.Logger

	mu        sync.Mutex
	state     State
	starting  bool
	channelID string
	done      chan struct{}
}

// NewCall prepares a call attempt for key.
func NewCall(registry *Registry, engine MediaEngine, key Key, logger *logging.Logger) *Call {
	if registry == nil || engine == nil {
		panic("handoff: registry and engine are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Call{
		registry: registry,
		engine:   engine,
		key:      key,
		logger:   logger,
		state:    StateUnpublished,
		done:     make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ChannelID returns the channel once known.
func (c *Call) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// Done is closed once the call is retired.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// StartAsPublisher publishes the rendezvous record and joins its channel.
func (c *Call) StartAsPublisher(ctx context.Context) (string, error) {
	if err := c.claimStart(); err != nil {
		return "", err
	}
	channelID, err := c.registry.Publish(ctx, c.key.ProviderID, c.key.Date, c.key.Slot, c.key.RequesterName)
	if err != nil {
		c.reset()
		return "", err
	}
	return channelID, c.join(ctx, channelID)
}

// StartAsJoiner waits for the other side's record and joins its channel.
func (c *Call) StartAsJoiner(ctx context.Context) (string, error) {
	if err := c.claimStart(); err != nil {
		return "", err
	}
	channelID, err := c.registry.Await(ctx, c.key.ProviderID, c.key.Date, c.key.Slot, c.key.RequesterName)
	if err != nil {
		c.reset()
		return "", err
	}
	return channelID, c.join(ctx, channelID)
}

// claimStart marks the call as starting so a second Start fails fast.
func (c *Call) claimStart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUnpublished || c.starting {
		return ErrCallStarted
	}
	c.starting = true
	return nil
}

func (c *Call) reset() {
	c.mu.Lock()
	c.starting = false
	c.mu.Unlock()
}

func (c *Call) join(ctx context.Context, channelID string) error {
	c.mu.Lock()
	c.channelID = channelID
	c.state = StatePublished
	c.mu.Unlock()

	if err := c.engine.Join(ctx, channelID, c.onPresence); err != nil {
		c.logger.Error("media join failed", "error", err, "channel_id", channelID)
		c.End(context.WithoutCancel(ctx))
		return fmt.Errorf("handoff: join %s: %w", channelID, err)
	}
	return nil
}

func (c *Call) onPresence(ev PresenceEvent) {
	c.mu.Lock()
	state := c.state
	if ev.Kind == RemoteJoined && state == StatePublished {
		c.state = StateJoined
	}
	c.mu.Unlock()

	if ev.Kind == RemoteLeft && state == StateJoined {
		c.logger.Info("remote party left", "channel_id", c.ChannelID(), "remote_id", ev.RemoteID)
		go c.End(context.Background())
	}
}

// SetMuted toggles the local microphone while the call is live.
func (c *Call) SetMuted(muted bool) error {
	switch c.State() {
	case StatePublished, StateJoined:
		return c.engine.SetMuted(muted)
	default:
		return fmt.Errorf("handoff: mute: call is %s", c.State())
	}
}

// End leaves the channel and retires the record. Failures are logged and
// never block the caller; ending twice is a no-op.
func (c *Call) End(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateRetired || c.state == StateUnpublished {
		c.mu.Unlock()
		return
	}
	channelID := c.channelID
	c.state = StateRetired
	c.mu.Unlock()
	defer close(c.done)

	if err := c.engine.Leave(ctx); err != nil {
		c.logger.Warn("media leave failed", "error", err, "channel_id", channelID)
	}
	if _, err := c.registry.Retire(ctx, channelID); err != nil {
		c.logger.Warn("handoff retire failed", "error", err, "channel_id", channelID)
	}
}
