package handlers

import (
	"context"
	"net/http"

	"github.com/wolfman30/healme-core/internal/identity"
	"github.com/wolfman30/healme-core/internal/session"
	"github.com/wolfman30/healme-core/pkg/logging"
)

// SessionEvaluator resolves and clears per-subject session state.
type SessionEvaluator interface {
	Evaluate(ctx context.Context, claim identity.Claim) session.Snapshot
	SignOut(ctx context.Context, subjectID string) error
}

// SessionHandler serves the caller's resolved session.
type SessionHandler struct {
	eval   SessionEvaluator
	logger *logging.Logger
}

func NewSessionHandler(eval SessionEvaluator, logger *logging.Logger) *SessionHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SessionHandler{eval: eval, logger: logger}
}

// Get evaluates role, registration and display fields for the caller.
// GET /v1/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	claim, ok := claimFrom(r)
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, h.eval.Evaluate(r.Context(), claim))
}

// SignOut drops the cached registration state.
// POST /v1/session/signout
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	claim, ok := claimFrom(r)
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.eval.SignOut(r.Context(), claim.SubjectID); err != nil {
		h.logger.Warn("sign-out cache invalidation failed", "subject_id", claim.SubjectID, "error", err)
	}
	writeJSON(w, http.StatusOK, session.SignedOut())
}
