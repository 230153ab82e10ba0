package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/healme-core/internal/handoff"
	"github.com/wolfman30/healme-core/internal/identity"
	"github.com/wolfman30/healme-core/internal/profiles"
	"github.com/wolfman30/healme-core/pkg/logging"
)

// RequesterNames resolves the caller's display name when a requester omits
// it from a rendezvous key.
type RequesterNames interface {
	GetRequester(ctx context.Context, id string) (*profiles.Requester, error)
}

// HandoffHandler serves the live-session rendezvous.
type HandoffHandler struct {
	registry *handoff.Registry
	names    RequesterNames
	logger   *logging.Logger
}

func NewHandoffHandler(registry *handoff.Registry, names RequesterNames, logger *logging.Logger) *HandoffHandler {
	if registry == nil {
		panic("handlers: handoff registry required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &HandoffHandler{registry: registry, names: names, logger: logger}
}

type channelResponse struct {
	ChannelID string `json:"channelId"`
}

// Publish creates a rendezvous record and returns its channel id.
// POST /v1/handoffs
func (h *HandoffHandler) Publish(w http.ResponseWriter, r *http.Request) {
	claim, ok := claimFrom(r)
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var key handoff.Key
	if err := decodeJSON(r, &key); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	key.RequesterName = h.requesterName(r.Context(), claim, key.RequesterName)
	channelID, err := h.registry.Publish(r.Context(), key.ProviderID, key.Date, key.Slot, key.RequesterName)
	if err != nil {
		h.logger.Warn("handoff publish failed", "subject_id", claim.SubjectID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, channelResponse{ChannelID: channelID})
}

// Lookup finds the channel the other party published. With wait=true it
// polls within the registry's bounds before giving up.
// GET /v1/handoffs/lookup?providerId=&date=&slot=&requesterName=&wait=
func (h *HandoffHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	claim, ok := claimFrom(r)
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()
	key := handoff.Key{
		ProviderID: q.Get("providerId"),
		Date:       q.Get("date"),
		Slot:       q.Get("slot"),
	}
	key.RequesterName = h.requesterName(r.Context(), claim, q.Get("requesterName"))
	wait, _ := strconv.ParseBool(q.Get("wait"))

	var (
		channelID string
		err       error
	)
	if wait {
		channelID, err = h.registry.Await(r.Context(), key.ProviderID, key.Date, key.Slot, key.RequesterName)
	} else {
		channelID, err = h.registry.Lookup(r.Context(), key.ProviderID, key.Date, key.Slot, key.RequesterName)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channelResponse{ChannelID: channelID})
}

// Retire deletes every record for the channel.
// DELETE /v1/handoffs/{channelId}
func (h *HandoffHandler) Retire(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	removed, err := h.registry.Retire(r.Context(), channelID)
	if err != nil {
		if errors.Is(err, handoff.ErrInvalidKey) {
			writeError(w, err)
			return
		}
		h.logger.Warn("handoff retire failed", "channel_id", channelID, "error", err)
		jsonError(w, "The call ended but its session record could not be removed.", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *HandoffHandler) requesterName(ctx context.Context, claim identity.Claim, given string) string {
	if name := strings.TrimSpace(given); name != "" || h.names == nil {
		return name
	}
	requester, err := h.names.GetRequester(ctx, claim.SubjectID)
	if err != nil {
		if !errors.Is(err, profiles.ErrRequesterNotFound) {
			h.logger.Warn("requester name lookup failed", "subject_id", claim.SubjectID, "error", err)
		}
		return ""
	}
	return requester.Name
}
