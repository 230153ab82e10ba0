// Package handoff lets two independently connecting parties agree on a
// live-session channel through a short-lived rendezvous record.
package handoff

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/healme-core/internal/docstore"
)

const (
	// Collection holds rendezvous records.
	Collection = "session_handoffs"
	// ChannelPrefix tags every generated channel id.
	ChannelPrefix = "healme_"
)

var (
	// ErrNotFound indicates no record matches.
	ErrNotFound = errors.New("handoff: rendezvous record not found")
	// ErrPartyUnreachable indicates the other party never published.
	ErrPartyUnreachable = errors.New("handoff: could not reach the other party")
	// ErrInvalidKey indicates a missing rendezvous field.
	ErrInvalidKey = errors.New("handoff: invalid rendezvous key")
)

// Record is the rendezvous entry for one call attempt.
type Record struct {
	ID            string    `dynamodbav:"id" json:"id"`
	ProviderID    string    `dynamodbav:"providerId" json:"providerId"`
	Date          string    `dynamodbav:"date" json:"date"`
	Slot          string    `dynamodbav:"slot" json:"slot"`
	RequesterName string    `dynamodbav:"requesterName" json:"requesterName"`
	ChannelID     string    `dynamodbav:"channelId" json:"channelId"`
	CreatedAt     time.Time `dynamodbav:"createdAt" json:"createdAt"`
}

// Key is the composite both sides know before the call.
type Key struct {
	ProviderID    string `json:"providerId"`
	Date          string `json:"date"`
	Slot          string `json:"slot"`
	RequesterName string `json:"requesterName"`
}

// Validate requires every field.
func (k Key) Validate() error {
	for name, v := range map[string]string{
		"providerId":    k.ProviderID,
		"date":          k.Date,
		"slot":          k.Slot,
		"requesterName": k.RequesterName,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s required", ErrInvalidKey, name)
		}
	}
	return nil
}

func (k Key) filters() []docstore.Filter {
	return []docstore.Filter{
		docstore.Eq("providerId", k.ProviderID),
		docstore.Eq("date", k.Date),
		docstore.Eq("slot", k.Slot),
		docstore.Eq("requesterName", k.RequesterName),
	}
}
