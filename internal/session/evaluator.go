package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/healme-core/internal/identity"
	"github.com/wolfman30/healme-core/internal/observability/metrics"
	"github.com/wolfman30/healme-core/internal/profiles"
	"github.com/wolfman30/healme-core/pkg/logging"
)

// ProfileSource is the profile lookup surface the evaluator needs.
type ProfileSource interface {
	GetProvider(ctx context.Context, id string) (*profiles.Provider, error)
	FindProviderByEmail(ctx context.Context, email string) (*profiles.Provider, error)
	GetRequester(ctx context.Context, id string) (*profiles.Requester, error)
}

// Evaluator computes role and registration for a claim without holding any
// per-device state. It backs both the Resolver and per-request evaluation in
// the HTTP API.
type Evaluator struct {
	profiles ProfileSource
	cache    CompletenessCache
	suffix   string
	logger   *logging.Logger
	metrics  *metrics.SchedulingMetrics
}

// EvaluatorOption customizes an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithProviderSuffix overrides the provider email suffix.
func WithProviderSuffix(suffix string) EvaluatorOption {
	return func(e *Evaluator) {
		if suffix != "" {
			e.suffix = suffix
		}
	}
}

// WithMetrics records resolution outcomes.
func WithMetrics(m *metrics.SchedulingMetrics) EvaluatorOption {
	return func(e *Evaluator) {
		e.metrics = m
	}
}

// NewEvaluator wires an evaluator. A nil cache falls back to an in-memory one.
func NewEvaluator(source ProfileSource, cache CompletenessCache, logger *logging.Logger, opts ...EvaluatorOption) *Evaluator {
	if source == nil {
		panic("session: profile source cannot be nil")
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Evaluator{
		profiles: source,
		cache:    cache,
		suffix:   DefaultProviderSuffix,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Role derives the role for a claim.
func (e *Evaluator) Role(claim identity.Claim) Role {
	return RoleFromEmail(claim, e.suffix)
}

// ProviderProfile fetches the provider by subject id, then by email.
func (e *Evaluator) ProviderProfile(ctx context.Context, claim identity.Claim) (*profiles.Provider, error) {
	p, err := e.profiles.GetProvider(ctx, claim.SubjectID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, profiles.ErrProviderNotFound) {
		return nil, err
	}
	return e.profiles.FindProviderByEmail(ctx, claim.NormalizedEmail())
}

// RequesterRegistration reports registration state and display name for a
// requester. A cached complete entry is trusted; anything else reads the
// profile and caches a complete result. Store errors fail closed to
// incomplete.
func (e *Evaluator) RequesterRegistration(ctx context.Context, claim identity.Claim) (RegistrationState, string, error) {
	state, name, fromStore, err := e.lookupRegistration(ctx, claim)
	if fromStore {
		e.markComplete(ctx, claim.SubjectID, name)
	}
	return state, name, err
}

// lookupRegistration is RequesterRegistration without the cache write.
// fromStore is true when the store, not the cache, proved the intake
// complete.
func (e *Evaluator) lookupRegistration(ctx context.Context, claim identity.Claim) (state RegistrationState, name string, fromStore bool, err error) {
	entry, cerr := e.cache.Get(ctx, claim.SubjectID)
	if cerr != nil {
		e.logger.Warn("completeness cache read failed", "subject_id", claim.SubjectID, "error", cerr)
	}
	if entry != nil {
		return RegistrationComplete, entry.DisplayName, false, nil
	}

	req, err := e.profiles.GetRequester(ctx, claim.SubjectID)
	if errors.Is(err, profiles.ErrRequesterNotFound) {
		return RegistrationIncomplete, "", false, nil
	}
	if err != nil {
		return RegistrationIncomplete, "", false, fmt.Errorf("session: load requester: %w", err)
	}
	if !req.IntakeComplete() {
		return RegistrationIncomplete, req.Name, false, nil
	}
	return RegistrationComplete, req.Name, true, nil
}

func (e *Evaluator) markComplete(ctx context.Context, subjectID, name string) {
	if err := e.cache.MarkComplete(ctx, subjectID, name); err != nil {
		e.logger.Warn("completeness cache write failed", "subject_id", subjectID, "error", err)
	}
}

// Evaluate resolves a claim synchronously into a settled snapshot.
func (e *Evaluator) Evaluate(ctx context.Context, claim identity.Claim) Snapshot {
	role := e.Role(claim)
	if role == RoleNone {
		e.metrics.ObserveResolution(string(RoleNone), string(RegistrationUnknown))
		return SignedOut()
	}
	snap := Snapshot{SubjectID: claim.SubjectID, Email: claim.Email, Role: role}

	switch role {
	case RoleProvider:
		snap.Registration = RegistrationComplete
		p, err := e.ProviderProfile(ctx, claim)
		if err != nil {
			e.logger.Warn("provider profile unavailable", "subject_id", claim.SubjectID, "error", err)
			snap.LastError = "could not load provider profile"
		} else {
			snap.DisplayName = p.Name
			snap.Specialty = p.Specialty
		}
	case RoleRequester:
		state, name, err := e.RequesterRegistration(ctx, claim)
		snap.Registration = state
		snap.DisplayName = name
		if err != nil {
			e.logger.Warn("requester registration check failed", "subject_id", claim.SubjectID, "error", err)
			snap.LastError = "could not verify registration"
		}
	}
	e.metrics.ObserveResolution(string(snap.Role), string(snap.Registration))
	return snap
}

// MarkComplete records a completed intake so later resolutions skip the store.
func (e *Evaluator) MarkComplete(ctx context.Context, subjectID, displayName string) error {
	return e.cache.MarkComplete(ctx, subjectID, displayName)
}

// SignOut drops cached state for the subject.
func (e *Evaluator) SignOut(ctx context.Context, subjectID string) error {
	if subjectID == "" {
		return nil
	}
	return e.cache.Invalidate(ctx, subjectID)
}
