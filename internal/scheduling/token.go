package scheduling

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer     = "healme-core"
	defaultTokenTTL = 24 * time.Hour
)

// TokenIssuer signs and verifies the booking tokens a provider shows as a QR
// code. A token pins the exact provider, date and slot.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type bookingClaims struct {
	jwt.RegisteredClaims
	ProviderID   string `json:"providerId"`
	ProviderName string `json:"providerName"`
	Specialty    string `json:"specialty"`
	Date         string `json:"date"`
	Slot         string `json:"slot"`
}

// NewTokenIssuer creates an HS256 issuer. A non-positive ttl means 24h.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if strings.TrimSpace(secret) == "" {
		panic("scheduling: booking token secret cannot be empty")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for c and returns it with its expiry.
func (t *TokenIssuer) Issue(c Commitment) (string, time.Time, error) {
	if err := c.Validate(); err != nil {
		return "", time.Time{}, err
	}
	now := t.now()
	expires := now.Add(t.ttl)
	claims := bookingClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   c.ProviderID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		ProviderID:   c.ProviderID,
		ProviderName: c.ProviderName,
		Specialty:    c.Specialty,
		Date:         c.Date,
		Slot:         c.Slot,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("scheduling: sign booking token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks the signature and expiry and returns the pinned commitment.
func (t *TokenIssuer) Verify(raw string) (Commitment, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Commitment{}, ErrInvalidToken
	}
	claims := &bookingClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Commitment{}, fmt.Errorf("%w: expired", ErrInvalidToken)
		}
		return Commitment{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c := Commitment{
		ProviderID:   claims.ProviderID,
		ProviderName: claims.ProviderName,
		Specialty:    claims.Specialty,
		Date:         claims.Date,
		Slot:         claims.Slot,
	}
	if err := c.Validate(); err != nil {
		return Commitment{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return c, nil
}
