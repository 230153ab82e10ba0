package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/wolfman30/healme-core/internal/identity"
	"github.com/wolfman30/healme-core/internal/session"
)

// TokenVerifier validates a bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (identity.Claim, error)
}

// RoleDeriver maps a claim to its role.
type RoleDeriver interface {
	Role(claim identity.Claim) session.Role
}

// Authenticate validates the bearer token and places the claim on the request
// context.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				http.Error(w, `{"error":"auth not configured"}`, http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}
			claim, err := verifier.Verify(r.Context(), strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				if errors.Is(err, identity.ErrNotConfigured) {
					http.Error(w, `{"error":"auth not configured"}`, http.StatusUnauthorized)
					return
				}
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithClaim(r.Context(), claim)))
		})
	}
}

// RequireRole rejects authenticated callers whose role is not listed.
func RequireRole(roles RoleDeriver, allowed ...session.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claim, ok := identity.ClaimFromContext(r.Context())
			if !ok || claim.Empty() {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			role := roles.Role(claim)
			for _, want := range allowed {
				if role == want {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		})
	}
}
