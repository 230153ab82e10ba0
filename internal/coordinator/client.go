// Package coordinator is the facade a presentation layer drives for one
// device: it exposes the resolved session and turns every scheduling and
// handoff failure into an Outcome instead of an error.
package coordinator

import (
	"context"
	"errors"
	"sync"

	"github.com/wolfman30/healme-core/internal/handoff"
	"github.com/wolfman30/healme-core/internal/identity"
	"github.com/wolfman30/healme-core/internal/scheduling"
	"github.com/wolfman30/healme-core/internal/session"
	"github.com/wolfman30/healme-core/pkg/logging"
)

// Outcome is the typed result handed to the presentation layer.
type Outcome struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

var success = Outcome{OK: true}

var (
	errSignedOut  = errors.New("coordinator: not signed in")
	errNotAllowed = errors.New("coordinator: operation not allowed for role")
	errResolving  = errors.New("coordinator: session still resolving")
)

// Client is safe for concurrent use.
type Client struct {
	resolver *session.Resolver
	matcher  *scheduling.Matcher
	writer   *scheduling.Writer
	registry *handoff.Registry
	logger   *logging.Logger

	mu        sync.Mutex
	lastError string
}

// NewClient wires a facade over one device's resolver.
func NewClient(resolver *session.Resolver, matcher *scheduling.Matcher, writer *scheduling.Writer, registry *handoff.Registry, logger *logging.Logger) *Client {
	if resolver == nil || matcher == nil || writer == nil || registry == nil {
		panic("coordinator: resolver, matcher, writer and registry are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		resolver: resolver,
		matcher:  matcher,
		writer:   writer,
		registry: registry,
		logger:   logger,
	}
}

// Session is the current snapshot.
func (c *Client) Session() session.Snapshot {
	return c.resolver.Context().Current()
}

// Role is the resolved role.
func (c *Client) Role() session.Role {
	return c.Session().Role
}

// Registration is the resolved registration state.
func (c *Client) Registration() session.RegistrationState {
	return c.Session().Registration
}

// Resolving reports whether a resolution is still pending.
func (c *Client) Resolving() bool {
	return c.Session().Resolving
}

// Subscribe registers fn for every published snapshot.
func (c *Client) Subscribe(fn func(session.Snapshot)) func() {
	return c.resolver.Context().Subscribe(fn)
}

// LastError is the message of the most recent failed operation.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// SignIn resolves claim and waits for the result. A non-fatal resolution
// error, such as a missing provider profile, is reported in the outcome.
func (c *Client) SignIn(ctx context.Context, claim identity.Claim) Outcome {
	snap, err := c.resolver.Resolve(ctx, claim)
	if err != nil {
		return c.fail("sign in", err)
	}
	if snap.LastError != "" {
		c.setLastError(snap.LastError)
		return Outcome{OK: false, Message: snap.LastError}
	}
	return success
}

// SignOut clears the session and its cached completeness.
func (c *Client) SignOut(ctx context.Context) Outcome {
	if _, err := c.resolver.Resolve(ctx, identity.Claim{}); err != nil {
		return c.fail("sign out", err)
	}
	return success
}

// FindAvailable returns the first free provider for the slot.
func (c *Client) FindAvailable(ctx context.Context, specialty, date, slot string) (scheduling.Match, Outcome) {
	if _, err := c.requireRole(session.RoleRequester); err != nil {
		return scheduling.Match{}, c.fail("find available", err)
	}
	match, err := c.matcher.FindAvailable(ctx, specialty, date, slot)
	if err != nil {
		return scheduling.Match{}, c.fail("find available", err)
	}
	return match, success
}

// Commit books commitment for the signed-in requester.
func (c *Client) Commit(ctx context.Context, commitment scheduling.Commitment) (scheduling.Result, Outcome) {
	snap, err := c.requireRole(session.RoleRequester)
	if err != nil {
		return scheduling.Result{}, c.fail("commit", err)
	}
	if snap.Registration != session.RegistrationComplete {
		return scheduling.Result{}, c.fail("commit", scheduling.ErrRegistrationIncomplete)
	}
	result, err := c.writer.Commit(ctx, snap.SubjectID, snap.DisplayName, commitment)
	if err != nil {
		return scheduling.Result{}, c.fail("commit", err)
	}
	return result, success
}

// Publish creates the rendezvous record for a call this device starts.
func (c *Client) Publish(ctx context.Context, providerID, date, slot, requesterName string) (string, Outcome) {
	if _, err := c.requireSignedIn(); err != nil {
		return "", c.fail("publish", err)
	}
	channelID, err := c.registry.Publish(ctx, providerID, date, slot, requesterName)
	if err != nil {
		return "", c.fail("publish", err)
	}
	return channelID, success
}

// Lookup waits, within the registry's polling bounds, for the other side's
// rendezvous record.
func (c *Client) Lookup(ctx context.Context, providerID, date, slot, requesterName string) (string, Outcome) {
	if _, err := c.requireSignedIn(); err != nil {
		return "", c.fail("lookup", err)
	}
	channelID, err := c.registry.Await(ctx, providerID, date, slot, requesterName)
	if err != nil {
		return "", c.fail("lookup", err)
	}
	return channelID, success
}

// Retire deletes the rendezvous record. A failure is reported but the caller
// should still leave the call screen.
func (c *Client) Retire(ctx context.Context, channelID string) Outcome {
	if _, err := c.registry.Retire(ctx, channelID); err != nil {
		if errors.Is(err, handoff.ErrInvalidKey) {
			return c.fail("retire", err)
		}
		c.logger.Warn("coordinator operation failed", "op", "retire", "error", err, "channel_id", channelID)
		msg := "The call ended but its session record could not be removed."
		c.setLastError(msg)
		return Outcome{OK: false, Message: msg}
	}
	return success
}

func (c *Client) requireSignedIn() (session.Snapshot, error) {
	snap := c.Session()
	if snap.Role == session.RoleNone {
		return snap, errSignedOut
	}
	return snap, nil
}

func (c *Client) requireRole(role session.Role) (session.Snapshot, error) {
	snap, err := c.requireSignedIn()
	if err != nil {
		return snap, err
	}
	if snap.Role != role {
		return snap, errNotAllowed
	}
	if snap.Resolving && role == session.RoleRequester {
		return snap, errResolving
	}
	return snap, nil
}

func (c *Client) fail(op string, err error) Outcome {
	msg := Message(err)
	c.setLastError(msg)
	c.logger.Warn("coordinator operation failed", "op", op, "error", err)
	return Outcome{OK: false, Message: msg}
}

func (c *Client) setLastError(msg string) {
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
}

// Message maps any core error to a user-facing message.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errSignedOut):
		return "Please sign in to continue."
	case errors.Is(err, errNotAllowed):
		return "This action is not available for your account."
	case errors.Is(err, errResolving):
		return "Still loading your profile. Please try again in a moment."
	case errors.Is(err, handoff.ErrPartyUnreachable), errors.Is(err, handoff.ErrNotFound):
		return "Could not reach the other party. Please try again."
	case errors.Is(err, handoff.ErrInvalidKey):
		return "This session is missing appointment details."
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "The request timed out. Please try again."
	default:
		return scheduling.UserMessage(err)
	}
}
