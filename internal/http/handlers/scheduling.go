package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/healme-core/internal/scheduling"
	"github.com/wolfman30/healme-core/pkg/logging"
)

// SchedulingHandler serves availability, booking and QR confirmation.
type SchedulingHandler struct {
	service *scheduling.Service
	logger  *logging.Logger
}

func NewSchedulingHandler(service *scheduling.Service, logger *logging.Logger) *SchedulingHandler {
	if service == nil {
		panic("handlers: scheduling service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SchedulingHandler{service: service, logger: logger}
}

// Availability returns the first provider of a specialty free at (date, slot).
// GET /v1/availability?specialty=&date=&slot=
func (h *SchedulingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	match, err := h.service.FindAvailable(r.Context(), q.Get("specialty"), q.Get("date"), q.Get("slot"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, match)
}

// Book matches a provider and commits the appointment.
// POST /v1/appointments
func (h *SchedulingHandler) Book(w http.ResponseWriter, r *http.Request) {
	claim, ok := claimFrom(r)
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req scheduling.BookingRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	result, err := h.service.Book(r.Context(), claim.SubjectID, req)
	if err != nil {
		h.logger.Warn("booking failed", "subject_id", claim.SubjectID, "specialty", req.Specialty, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, committedStatus(result), result)
}

type confirmRequest struct {
	Token string `json:"token"`
}

// Confirm commits the booking a provider's QR code names.
// POST /v1/appointments/confirm
func (h *SchedulingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	claim, ok := claimFrom(r)
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Token) == "" {
		jsonError(w, "token is required", http.StatusBadRequest)
		return
	}
	result, err := h.service.Confirm(r.Context(), claim.SubjectID, strings.TrimSpace(req.Token))
	if err != nil {
		h.logger.Warn("token confirmation failed", "subject_id", claim.SubjectID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, committedStatus(result), result)
}

type tokenRequest struct {
	Date string `json:"date"`
	Slot string `json:"slot"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IssueToken signs a QR booking token for the calling provider.
// POST /v1/providers/me/booking-tokens
func (h *SchedulingHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	claim, ok := claimFrom(r)
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	token, expires, err := h.service.IssueToken(r.Context(), claim.SubjectID, req.Date, req.Slot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, ExpiresAt: expires})
}

func committedStatus(result scheduling.Result) int {
	if result.Replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}
