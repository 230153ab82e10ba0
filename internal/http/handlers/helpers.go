// Package handlers exposes the scheduling core over HTTP. Every handler
// expects the identity claim placed on the context by middleware.Authenticate.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/wolfman30/healme-core/internal/coordinator"
	"github.com/wolfman30/healme-core/internal/handoff"
	"github.com/wolfman30/healme-core/internal/identity"
	"github.com/wolfman30/healme-core/internal/prescriptions"
	"github.com/wolfman30/healme-core/internal/profiles"
	"github.com/wolfman30/healme-core/internal/scheduling"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func claimFrom(r *http.Request) (identity.Claim, bool) {
	claim, ok := identity.ClaimFromContext(r.Context())
	if !ok || claim.Empty() {
		return identity.Claim{}, false
	}
	return claim, true
}

// statusFor maps core errors to HTTP status codes. The body always carries
// the user-facing message from coordinator.Message.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scheduling.ErrInvalidCommitment),
		errors.Is(err, scheduling.ErrInvalidToken),
		errors.Is(err, handoff.ErrInvalidKey),
		errors.Is(err, profiles.ErrInvalidIntake),
		errors.Is(err, prescriptions.ErrInvalidPrescription):
		return http.StatusBadRequest
	case errors.Is(err, scheduling.ErrRegistrationIncomplete):
		return http.StatusForbidden
	case errors.Is(err, scheduling.ErrRequesterNotFound),
		errors.Is(err, scheduling.ErrProviderNotFound),
		errors.Is(err, profiles.ErrRequesterNotFound),
		errors.Is(err, profiles.ErrProviderNotFound),
		errors.Is(err, prescriptions.ErrRequesterNotFound),
		errors.Is(err, prescriptions.ErrProviderNotFound),
		errors.Is(err, handoff.ErrNotFound),
		errors.Is(err, handoff.ErrPartyUnreachable):
		return http.StatusNotFound
	case errors.Is(err, scheduling.ErrNoProviderAvailable),
		errors.Is(err, scheduling.ErrSlotTaken):
		return http.StatusConflict
	case errors.Is(err, scheduling.ErrTokensDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the status and user message for err. Messages for
// validation failures carry the validation detail.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := coordinator.Message(err)
	switch {
	case errors.Is(err, profiles.ErrInvalidIntake),
		errors.Is(err, prescriptions.ErrInvalidPrescription),
		errors.Is(err, prescriptions.ErrRequesterNotFound):
		msg = err.Error()
	}
	jsonError(w, msg, status)
}
