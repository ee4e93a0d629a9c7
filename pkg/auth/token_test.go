package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSigner_RoundTrip(t *testing.T) {
	s, err := NewTokenSigner("shared-secret", "entity-store")
	require.NoError(t, err)

	tok, err := s.Sign("deals:read")
	require.NoError(t, err)

	claims, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "deals:read", claims.Scope)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenSigner_AudienceSeparation(t *testing.T) {
	a, err := NewTokenSigner("shared-secret", "entity-store")
	require.NoError(t, err)
	b, err := NewTokenSigner("shared-secret", "submission")
	require.NoError(t, err)

	assert.NotEqual(t, a.key, b.key)

	tok, err := a.Sign("")
	require.NoError(t, err)
	_, err = b.Verify(tok)
	assert.Error(t, err)
}

func TestTokenSigner_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := NewTokenSigner("k", "api")
	require.NoError(t, err)
	s.WithTTL(time.Minute).WithClock(func() time.Time { return now })

	tok, err := s.Sign("")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Verify(tok)
	assert.Error(t, err)
}

func TestNewTokenSigner_EmptySecret(t *testing.T) {
	_, err := NewTokenSigner("", "api")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestMiddleware(t *testing.T) {
	s, err := NewTokenSigner("k", "api")
	require.NoError(t, err)

	var seen *ServiceClaims
	h := NewMiddleware(s, func(w http.ResponseWriter, _ *http.Request, msg string) {
		http.Error(w, msg, http.StatusUnauthorized)
	}, "/healthz")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/packs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/packs", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := s.Sign("api")
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/packs", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "api", seen.Scope)
}
