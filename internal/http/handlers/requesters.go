package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/wolfman30/healme-core/internal/compliance"
	"github.com/wolfman30/healme-core/internal/prescriptions"
	"github.com/wolfman30/healme-core/internal/profiles"
	"github.com/wolfman30/healme-core/pkg/logging"
)

// CompletionMarker records completed intake in the completeness cache.
type CompletionMarker interface {
	MarkComplete(ctx context.Context, subjectID, displayName string) error
}

// Auditor records compliance events.
type Auditor interface {
	Log(ctx context.Context, eventType compliance.AuditEventType, subjectID, actorID, resourceID string, details any) error
}

// RequesterHandler serves requester registration, intake and listings.
type RequesterHandler struct {
	profiles      *profiles.Repository
	completion    CompletionMarker
	prescriptions *prescriptions.Service
	audit         Auditor
	logger        *logging.Logger
}

// RequesterConfig configures the requester handler.
type RequesterConfig struct {
	Profiles      *profiles.Repository
	Completion    CompletionMarker
	Prescriptions *prescriptions.Service
	Audit         Auditor
	Logger        *logging.Logger
}

func NewRequesterHandler(cfg RequesterConfig) *RequesterHandler {
	if cfg.Profiles == nil {
		panic("handlers: profiles repository required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &RequesterHandler{
		profiles:      cfg.Profiles,
		completion:    cfg.Completion,
		prescriptions: cfg.Prescriptions,
		audit:         cfg.Audit,
		logger:        cfg.Logger,
	}
}

type registerRequest struct {
	Name string `json:"name"`
}

// Register creates the caller's requester profile. The email comes from the
// token, never the body.
// POST /v1/requesters
func (h *RequesterHandler) Register(w http.ResponseWriter, r *http.Request) {
	claim, ok := claimFrom(r)
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		jsonError(w, "name is required", http.StatusBadRequest)
		return
	}

	requester, created, err := h.profiles.CreateRequester(r.Context(), claim.SubjectID, claim.NormalizedEmail(), req.Name)
	if err != nil {
		h.logger.Error("requester registration failed", "subject_id", claim.SubjectID, "error", err)
		jsonError(w, "Registration failed. Please try again.", http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logAudit(r.Context(), compliance.EventRequesterRegistered, claim.SubjectID, nil)
	}
	writeJSON(w, status, requester)
}

// SubmitIntake stores the medical intake and marks registration complete.
// PUT /v1/requesters/me/intake
func (h *RequesterHandler) SubmitIntake(w http.ResponseWriter, r *http.Request) {
	claim, ok := claimFrom(r)
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var in profiles.Intake
	if err := decodeJSON(r, &in); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	if err := h.profiles.SubmitIntake(ctx, claim.SubjectID, in); err != nil {
		h.logger.Warn("intake submission failed", "subject_id", claim.SubjectID, "error", err)
		writeError(w, err)
		return
	}
	requester, err := h.profiles.GetRequester(ctx, claim.SubjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.completion != nil {
		if err := h.completion.MarkComplete(ctx, claim.SubjectID, requester.Name); err != nil {
			h.logger.Warn("failed to cache completed registration", "subject_id", claim.SubjectID, "error", err)
		}
	}
	h.logAudit(ctx, compliance.EventIntakeSubmitted, claim.SubjectID, map[string]string{"bloodType": requester.BloodType})
	writeJSON(w, http.StatusOK, requester)
}

// Appointments lists the requester-side commitments.
// GET /v1/requesters/me/appointments
func (h *RequesterHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	claim, ok := claimFrom(r)
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.profiles.RequesterCommitments(r.Context(), claim.SubjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": list})
}

// Prescriptions lists prescriptions issued to the caller.
// GET /v1/requesters/me/prescriptions
func (h *RequesterHandler) Prescriptions(w http.ResponseWriter, r *http.Request) {
	claim, ok := claimFrom(r)
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.prescriptions == nil {
		writeJSON(w, http.StatusOK, map[string]any{"prescriptions": []prescriptions.Prescription{}})
		return
	}
	list, err := h.prescriptions.ForRequester(r.Context(), claim.SubjectID)
	if err != nil {
		h.logger.Error("failed to list prescriptions", "subject_id", claim.SubjectID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prescriptions": list})
}

// Notifications lists the caller's in-app notifications.
// GET /v1/requesters/me/notifications
func (h *RequesterHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	claim, ok := claimFrom(r)
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.prescriptions == nil {
		writeJSON(w, http.StatusOK, map[string]any{"notifications": []prescriptions.Notification{}})
		return
	}
	list, err := h.prescriptions.Notifications(r.Context(), claim.SubjectID)
	if err != nil {
		h.logger.Error("failed to list notifications", "subject_id", claim.SubjectID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (h *RequesterHandler) logAudit(ctx context.Context, eventType compliance.AuditEventType, subjectID string, details any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(ctx, eventType, subjectID, subjectID, subjectID, details); err != nil {
		h.logger.Warn("audit log failed", "event_type", eventType, "subject_id", subjectID, "error", err)
	}
}
