package handlers

import (
	"context"
	"net/http"

	"github.com/wolfman30/healme-core/internal/profiles"
	"github.com/wolfman30/healme-core/pkg/logging"
)

// ProviderProfiles loads provider documents.
type ProviderProfiles interface {
	GetProvider(ctx context.Context, id string) (*profiles.Provider, error)
	ProviderCommitments(ctx context.Context, id string) ([]profiles.ProviderCommitment, error)
}

// ProviderHandler serves the calling provider's profile and schedule.
type ProviderHandler struct {
	profiles ProviderProfiles
	logger   *logging.Logger
}

func NewProviderHandler(p ProviderProfiles, logger *logging.Logger) *ProviderHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ProviderHandler{profiles: p, logger: logger}
}

// Me returns the provider profile.
// GET /v1/providers/me
func (h *ProviderHandler) Me(w http.ResponseWriter, r *http.Request) {
	claim, ok := claimFrom(r)
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	p, err := h.profiles.GetProvider(r.Context(), claim.SubjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Appointments lists the provider-side commitments.
// GET /v1/providers/me/appointments
func (h *ProviderHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	claim, ok := claimFrom(r)
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.profiles.ProviderCommitments(r.Context(), claim.SubjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": list})
}
