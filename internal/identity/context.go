package identity

import "context"

type ctxKey string

const claimKey ctxKey = "healme.identity_claim"

// WithClaim stores the authenticated claim in context.
func WithClaim(ctx context.Context, claim Claim) context.Context {
	return context.WithValue(ctx, claimKey, claim)
}

// ClaimFromContext extracts the claim if present.
func ClaimFromContext(ctx context.Context) (Claim, bool) {
	val := ctx.Value(claimKey)
	if val == nil {
		return Claim{}, false
	}
	claim, ok := val.(Claim)
	return claim, ok && !claim.Empty()
}
