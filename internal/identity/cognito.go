package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNotConfigured indicates no user pool was configured.
	ErrNotConfigured = errors.New("identity: cognito verifier not configured")
	// ErrInvalidToken indicates the token failed signature or claim validation.
	ErrInvalidToken = errors.New("identity: invalid token")
)

const defaultJWKSTTL = time.Hour

// CognitoConfig holds AWS Cognito configuration for JWT validation.
type CognitoConfig struct {
	Region     string
	UserPoolID string
	ClientID   string // App client ID for audience validation
}

type cognitoClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	TokenUse string `json:"token_use"`
	Username string `json:"username"`
}

// Verifier validates ID tokens issued by a Cognito user pool and
// turns them into a Claim. Signing keys are cached for an hour and refetched
// when an unknown key id shows up.
type Verifier struct {
	issuer     string
	jwksURL    string
	clientID   string
	httpClient *http.Client
	ttl        time.Duration

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	expires time.Time
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithJWKSURL overrides the JWKS endpoint derived from the user pool.
func WithJWKSURL(url string) VerifierOption {
	return func(v *Verifier) {
		if url != "" {
			v.jwksURL = url
		}
	}
}

// WithIssuer overrides the expected issuer.
func WithIssuer(issuer string) VerifierOption {
	return func(v *Verifier) {
		if issuer != "" {
			v.issuer = issuer
		}
	}
}

// WithHTTPClient sets the client used to fetch signing keys.
func WithHTTPClient(client *http.Client) VerifierOption {
	return func(v *Verifier) {
		if client != nil {
			v.httpClient = client
		}
	}
}

// NewVerifier builds a verifier for the configured user pool. A verifier
// built without region and pool id rejects every token with ErrNotConfigured.
func NewVerifier(cfg CognitoConfig, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		clientID:   strings.TrimSpace(cfg.ClientID),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		ttl:        defaultJWKSTTL,
	}
	if cfg.Region != "" && cfg.UserPoolID != "" {
		v.issuer = fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", cfg.Region, cfg.UserPoolID)
		v.jwksURL = v.issuer + "/.well-known/jwks.json"
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Configured reports whether the verifier can validate tokens.
func (v *Verifier) Configured() bool {
	return v != nil && v.issuer != "" && v.jwksURL != ""
}

// Verify validates the raw bearer token and returns its claim.
func (v *Verifier) Verify(ctx context.Context, raw string) (Claim, error) {
	if !v.Configured() {
		return Claim{}, ErrNotConfigured
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claim{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(raw, &cognitoClaims{})
	if err != nil {
		return Claim{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	kid, ok := unverified.Header["kid"].(string)
	if !ok || kid == "" {
		return Claim{}, fmt.Errorf("%w: missing key id", ErrInvalidToken)
	}
	key, err := v.publicKey(ctx, kid)
	if err != nil {
		return Claim{}, err
	}

	claims := &cognitoClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Claim{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	// Roles derive from the email claim, which Cognito puts only in ID tokens.
	if claims.TokenUse != "id" {
		return Claim{}, fmt.Errorf("%w: token_use %q, an ID token is required", ErrInvalidToken, claims.TokenUse)
	}
	if v.clientID != "" {
		aud, _ := claims.GetAudience()
		if !containsString(aud, v.clientID) {
			return Claim{}, fmt.Errorf("%w: invalid audience", ErrInvalidToken)
		}
	}

	if claims.Subject == "" {
		return Claim{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if strings.TrimSpace(claims.Email) == "" {
		return Claim{}, fmt.Errorf("%w: missing email", ErrInvalidToken)
	}
	return Claim{SubjectID: claims.Subject, Email: claims.Email}, nil
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func (v *Verifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	if time.Now().Before(v.expires) {
		if key, ok := v.keys[kid]; ok {
			v.mu.RUnlock()
			return key, nil
		}
	}
	v.mu.RUnlock()

	keys, err := v.fetchJWKS(ctx)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.keys = keys
	v.expires = time.Now().Add(v.ttl)
	v.mu.Unlock()

	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: key %s not found in JWKS", ErrInvalidToken, kid)
	}
	return key, nil
}

type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *Verifier) fetchJWKS(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("identity: build jwks request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity: jwks request failed with status %d", resp.StatusCode)
	}

	var jwks jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("identity: decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" {
			continue
		}
		pubKey, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			continue
		}
		keys[key.Kid] = pubKey
	}
	if len(keys) == 0 {
		return nil, errors.New("identity: no valid RSA keys found in JWKS")
	}
	return keys, nil
}

func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}
