package handlers

import (
	"net/http"

	"github.com/wolfman30/healme-core/internal/prescriptions"
	"github.com/wolfman30/healme-core/pkg/logging"
)

// PrescriptionHandler lets providers issue prescriptions.
type PrescriptionHandler struct {
	service *prescriptions.Service
	logger  *logging.Logger
}

func NewPrescriptionHandler(service *prescriptions.Service, logger *logging.Logger) *PrescriptionHandler {
	if service == nil {
		panic("handlers: prescription service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PrescriptionHandler{service: service, logger: logger}
}

// Issue writes a prescription for the named requester.
// POST /v1/prescriptions
func (h *PrescriptionHandler) Issue(w http.ResponseWriter, r *http.Request) {
	claim, ok := claimFrom(r)
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req prescriptions.IssueRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	rx, err := h.service.Issue(r.Context(), claim.SubjectID, req)
	if err != nil {
		h.logger.Warn("prescription issue failed", "provider_id", claim.SubjectID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rx)
}
