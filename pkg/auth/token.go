// Package auth issues and verifies the short-lived service tokens the
// pipeline presents to the entity store and the submission endpoint, and
// that the HTTP API accepts from callers.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	// Issuer is the iss claim of every token minted here.
	Issuer = "mismo-pipeline"
	// DefaultTTL is the lifetime of a service token.
	DefaultTTL = 5 * time.Minute
)

// ErrNoSecret is returned when a signer is built without a secret.
var ErrNoSecret = errors.New("auth: service token secret is empty")

// ServiceClaims are the claims carried by a service token.
type ServiceClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// TokenSigner mints and verifies HS256 tokens for one audience. The HMAC key
// is derived from the shared secret with HKDF-SHA256, salted per audience,
// so one configured secret never signs for two services with the same key.
type TokenSigner struct {
	key      []byte
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenSigner derives the signing key for audience from secret.
func NewTokenSigner(secret, audience string) (*TokenSigner, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	r := hkdf.New(sha256.New, []byte(secret), []byte("mismo-service-token"), []byte(audience))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return &TokenSigner{key: key, audience: audience, ttl: DefaultTTL, now: time.Now}, nil
}

// WithTTL overrides the token lifetime.
func (s *TokenSigner) WithTTL(ttl time.Duration) *TokenSigner {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithClock overrides the time source.
func (s *TokenSigner) WithClock(now func() time.Time) *TokenSigner {
	s.now = now
	return s
}

// Audience returns the aud claim this signer issues and accepts.
func (s *TokenSigner) Audience() string { return s.audience }

// Sign creates a token with the given scope.
func (s *TokenSigner) Sign(scope string) (string, error) {
	now := s.now().UTC()
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    Issuer,
			Subject:   Issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Scope: scope,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign: %w", err)
	}
	return token, nil
}

// Verify parses and validates a token issued for this signer's audience.
func (s *TokenSigner) Verify(tokenStr string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(s.audience),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
