package identity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ChangeKind enumerates session-change notifications.
type ChangeKind string

const (
	ChangeSignIn       ChangeKind = "sign_in"
	ChangeSignOut      ChangeKind = "sign_out"
	ChangeTokenRefresh ChangeKind = "token_refresh"
)

// SessionChange is one notification from the identity provider for a device.
// A sign-out carries the subject that signed out so its cached state can be
// dropped.
type SessionChange struct {
	DeviceID   string     `json:"deviceId"`
	Kind       ChangeKind `json:"kind"`
	SubjectID  string     `json:"subjectId,omitempty"`
	Email      string     `json:"email,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}

// Claim returns the claim carried by the change, or the empty claim for a
// sign-out.
func (c SessionChange) Claim() Claim {
	if c.Kind == ChangeSignOut {
		return Claim{}
	}
	return Claim{SubjectID: c.SubjectID, Email: c.Email}
}

// Validate checks required fields.
func (c SessionChange) Validate() error {
	if strings.TrimSpace(c.DeviceID) == "" {
		return fmt.Errorf("identity: session change missing deviceId")
	}
	switch c.Kind {
	case ChangeSignIn, ChangeTokenRefresh:
		if strings.TrimSpace(c.SubjectID) == "" {
			return fmt.Errorf("identity: %s change missing subjectId", c.Kind)
		}
	case ChangeSignOut:
	default:
		return fmt.Errorf("identity: unknown session change kind %q", c.Kind)
	}
	return nil
}

// EncodeChange serializes a change for the queue.
func EncodeChange(change SessionChange) (string, error) {
	if change.OccurredAt.IsZero() {
		change.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(change)
	if err != nil {
		return "", fmt.Errorf("identity: encode session change: %w", err)
	}
	return string(body), nil
}

// DecodeChange parses and validates a queued change.
func DecodeChange(body string) (SessionChange, error) {
	var change SessionChange
	if err := json.Unmarshal([]byte(body), &change); err != nil {
		return SessionChange{}, fmt.Errorf("identity: decode session change: %w", err)
	}
	if err := change.Validate(); err != nil {
		return SessionChange{}, err
	}
	return change, nil
}
