// Package session resolves what a signed-in identity may see: its role,
// whether its registration is complete, and the display fields shown while
// it is signed in.
package session

import (
	"strings"

	"github.com/wolfman30/healme-core/internal/identity"
)

// Role is derived from the email claim.
type Role string

const (
	RoleNone      Role = "none"
	RoleProvider  Role = "provider"
	RoleRequester Role = "requester"
)

// RegistrationState tracks whether mandatory profile data is present.
type RegistrationState string

const (
	RegistrationUnknown    RegistrationState = "unknown"
	RegistrationIncomplete RegistrationState = "incomplete"
	RegistrationComplete   RegistrationState = "complete"
)

// DefaultProviderSuffix is the email domain that marks provider accounts.
const DefaultProviderSuffix = "@healme.doc.co"

// Snapshot is the published session state for one device.
type Snapshot struct {
	SubjectID    string            `json:"subjectId,omitempty"`
	Email        string            `json:"email,omitempty"`
	Role         Role              `json:"role"`
	Registration RegistrationState `json:"registration"`
	Resolving    bool              `json:"resolving"`
	DisplayName  string            `json:"displayName,omitempty"`
	Specialty    string            `json:"specialty,omitempty"`
	LastError    string            `json:"lastError,omitempty"`
	Generation   uint64            `json:"generation"`
}

// SignedOut is the snapshot with no identity.
func SignedOut() Snapshot {
	return Snapshot{Role: RoleNone, Registration: RegistrationUnknown}
}

// RoleFromEmail derives the role from the email suffix, case-insensitively.
// An empty claim has no role.
func RoleFromEmail(claim identity.Claim, providerSuffix string) Role {
	if claim.Empty() {
		return RoleNone
	}
	suffix := strings.ToLower(strings.TrimSpace(providerSuffix))
	if suffix == "" {
		suffix = DefaultProviderSuffix
	}
	if strings.HasSuffix(claim.NormalizedEmail(), suffix) {
		return RoleProvider
	}
	return RoleRequester
}
