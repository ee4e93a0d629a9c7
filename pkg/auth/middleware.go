package auth

import (
	"context"
	"net/http"
	"strings"
)

type claimsKey struct{}

// ClaimsFromContext returns the verified claims of the current request.
func ClaimsFromContext(ctx context.Context) (*ServiceClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*ServiceClaims)
	return c, ok
}

// NewMiddleware requires a valid bearer token on every request except the
// public paths. unauthorized writes the rejection.
func NewMiddleware(signer *TokenSigner, unauthorized func(http.ResponseWriter, *http.Request, string), public ...string) func(http.Handler) http.Handler {
	isPublic := make(map[string]bool, len(public))
	for _, p := range public {
		isPublic[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				unauthorized(w, r, "missing bearer token")
				return
			}
			claims, err := signer.Verify(tokenStr)
			if err != nil {
				unauthorized(w, r, "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}
