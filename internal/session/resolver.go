package session

import (
	"context"
	"sync"

	"github.com/wolfman30/healme-core/internal/identity"
	"github.com/wolfman30/healme-core/pkg/logging"
)

// Resolver turns identity notifications into published snapshots on its
// Context. The newest notification wins: every resolution carries a
// generation, and results from a superseded generation are dropped.
type Resolver struct {
	eval   *Evaluator
	state  *Context
	logger *logging.Logger

	mu      sync.Mutex
	gen     uint64
	subject string
	email   string
	done    chan struct{}

	wg sync.WaitGroup
}

// NewResolver creates a resolver publishing to state. A nil state gets a
// fresh Context.
func NewResolver(eval *Evaluator, state *Context, logger *logging.Logger) *Resolver {
	if eval == nil {
		panic("session: evaluator cannot be nil")
	}
	if state == nil {
		state = NewContext()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{eval: eval, state: state, logger: logger}
}

// Context returns the observable state owned by this resolver.
func (r *Resolver) Context() *Context {
	return r.state
}

// Notify starts resolving claim in the background. A repeat notification for
// the subject already resolved or resolving is a no-op.
func (r *Resolver) Notify(claim identity.Claim) {
	r.start(claim, false)
}

// Refresh re-resolves claim even when it matches the current subject.
func (r *Resolver) Refresh(claim identity.Claim) {
	r.start(claim, true)
}

// Resolve notifies and waits for the resolution to settle, returning the
// current snapshot. If a newer notification supersedes this one, the
// snapshot reflects the newer subject.
func (r *Resolver) Resolve(ctx context.Context, claim identity.Claim) (Snapshot, error) {
	done := r.start(claim, false)
	select {
	case <-done:
		return r.state.Current(), nil
	case <-ctx.Done():
		return r.state.Current(), ctx.Err()
	}
}

// Wait blocks until every background resolution has finished.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

func (r *Resolver) start(claim identity.Claim, force bool) <-chan struct{} {
	r.mu.Lock()
	if !force && r.gen > 0 && claim.SubjectID == r.subject && claim.NormalizedEmail() == r.email {
		done := r.done
		r.mu.Unlock()
		return done
	}
	r.gen++
	gen := r.gen
	previous := r.subject
	r.subject = claim.SubjectID
	r.email = claim.NormalizedEmail()
	done := make(chan struct{})
	r.done = done
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)
		r.run(gen, claim, previous)
	}()
	return done
}

func (r *Resolver) run(gen uint64, claim identity.Claim, previous string) {
	ctx := context.Background()
	role := r.eval.Role(claim)

	if role == RoleNone {
		if previous != "" {
			if err := r.eval.SignOut(ctx, previous); err != nil {
				r.logger.Warn("failed to invalidate completeness on sign-out", "subject_id", previous, "error", err)
			}
		}
		r.eval.metrics.ObserveResolution(string(RoleNone), string(RegistrationUnknown))
		r.publish(gen, SignedOut())
		return
	}

	base := Snapshot{SubjectID: claim.SubjectID, Email: claim.Email, Role: role, Resolving: true}

	switch role {
	case RoleProvider:
		pending := base
		pending.Registration = RegistrationComplete
		if !r.publish(gen, pending) {
			return
		}
		final := pending
		final.Resolving = false
		p, err := r.eval.ProviderProfile(ctx, claim)
		if err != nil {
			r.logger.Warn("provider profile unavailable", "subject_id", claim.SubjectID, "error", err)
			final.LastError = "could not load provider profile"
		} else {
			final.DisplayName = p.Name
			final.Specialty = p.Specialty
		}
		r.eval.metrics.ObserveResolution(string(final.Role), string(final.Registration))
		r.publish(gen, final)

	case RoleRequester:
		pending := base
		pending.Registration = RegistrationUnknown
		if !r.publish(gen, pending) {
			return
		}
		final := pending
		final.Resolving = false
		state, name, fromStore, err := r.eval.lookupRegistration(ctx, claim)
		if fromStore {
			r.cacheComplete(ctx, gen, claim.SubjectID, name)
		}
		final.Registration = state
		final.DisplayName = name
		if err != nil {
			r.logger.Warn("requester registration check failed", "subject_id", claim.SubjectID, "error", err)
			final.LastError = "could not verify registration"
		}
		r.eval.metrics.ObserveResolution(string(final.Role), string(final.Registration))
		r.publish(gen, final)
	}
}

func (r *Resolver) current(gen uint64) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen == r.gen, r.subject
}

// cacheComplete records a complete intake only while gen is current. If a
// newer notification for another subject lands during the write, the entry
// is dropped again so a sign-out cannot be undone by a superseded lookup.
func (r *Resolver) cacheComplete(ctx context.Context, gen uint64, subjectID, name string) {
	if ok, _ := r.current(gen); !ok {
		return
	}
	r.eval.markComplete(ctx, subjectID, name)
	if ok, subject := r.current(gen); !ok && subject != subjectID {
		if err := r.eval.SignOut(ctx, subjectID); err != nil {
			r.logger.Warn("failed to drop superseded completeness", "subject_id", subjectID, "error", err)
		}
	}
}

// publish stores snap if gen is still current and reports whether it did.
func (r *Resolver) publish(gen uint64, snap Snapshot) bool {
	snap.Generation = gen
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		r.logger.Debug("dropping superseded resolution", "generation", gen, "subject_id", snap.SubjectID)
		return false
	}
	seq := r.state.set(snap)
	r.mu.Unlock()

	r.state.deliver(seq, snap)
	return true
}
