// Package identity carries the authenticated subject through the system: JWT
// verification against the Cognito user pool, request-scoped claims, and the
// session-change feed emitted on sign-in, sign-out and token refresh.
package identity

import "strings"

// Claim is the identity asserted for one authenticated session.
type Claim struct {
	SubjectID string `json:"subjectId"`
	Email     string `json:"email"`
}

// Empty reports whether the claim carries no subject.
func (c Claim) Empty() bool {
	return strings.TrimSpace(c.SubjectID) == ""
}

// NormalizedEmail is the trimmed, lowercased email used for role derivation
// and lookups.
func (c Claim) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(c.Email))
}
