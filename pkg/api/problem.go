// Package api is the HTTP surface of the pipeline. Request errors are RFC 7807
// problem details; run outcomes, including blocked and failed runs, are
// ordinary JSON bodies carrying the conformance report.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ProblemTypeBase prefixes every problem type URI.
const ProblemTypeBase = "urn:mismo-pipeline:problem:"

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// TraceID is the request id assigned by the router.
	TraceID string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes a problem response enriched with the request path and id.
func WriteError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	problem := &ProblemDetail{
		Type:    fmt.Sprintf("%s%d", ProblemTypeBase, status),
		Title:   http.StatusText(status),
		Status:  status,
		Detail:  detail,
		TraceID: w.Header().Get(requestIDHeader),
	}
	if r != nil {
		problem.Instance = r.URL.Path
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusBadRequest, detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="mismo"`)
	WriteError(w, r, http.StatusUnauthorized, detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusNotFound, detail)
}

// WriteConflict writes a 409 error response.
func WriteConflict(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusConflict, detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, r, http.StatusTooManyRequests, "Rate limit exceeded. Retry after the specified interval.")
}

// WriteUnavailable writes a 503 error response for a feature this
// deployment has not configured.
func WriteUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusServiceUnavailable, detail)
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but never exposed to the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Default().With("component", "api").Error("internal server error",
		"path", r.URL.Path,
		"request_id", w.Header().Get(requestIDHeader),
		"error", err,
	)
	WriteError(w, r, http.StatusInternalServerError, "An unexpected error occurred. Please try again later.")
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
