package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Mindburn-Labs/mismo/pkg/artifacts"
	"github.com/Mindburn-Labs/mismo/pkg/auth"
	"github.com/Mindburn-Labs/mismo/pkg/pipeline"
	"github.com/Mindburn-Labs/mismo/pkg/runstore"
	"github.com/Mindburn-Labs/mismo/pkg/schemapack"
	"github.com/Mindburn-Labs/mismo/pkg/structural"
	"github.com/Mindburn-Labs/mismo/pkg/submission"
)

const (
	requestIDHeader = "X-Request-ID"

	// TokenAudience is the audience of tokens accepted by the API.
	TokenAudience = "mismo-api"

	defaultRunTimeout   = 60 * time.Second
	defaultMaxBodyBytes = 10 << 20
)

// Options wires the server. Registry, Runs and Artifacts are required.
// A nil Exporter, Importer or Submitter turns the matching endpoints into
// 503 responses.
type Options struct {
	Registry   *schemapack.Registry
	Runs       runstore.Store
	Artifacts  artifacts.Store
	Structural *structural.Validator
	Exporter   *pipeline.Exporter
	Importer   *pipeline.Importer
	Submitter  *submission.Submitter
	// Tokens enables bearer authentication on every route but /healthz.
	Tokens *auth.TokenSigner
	// RPS and Burst configure the per-client limiter. Zero RPS disables it.
	RPS          float64
	Burst        int
	RunTimeout   time.Duration
	MaxBodyBytes int64
	// TrustProxy honours X-Forwarded-For and X-Real-IP.
	TrustProxy bool
}

// Server serves the pipeline over HTTP.
type Server struct {
	opts    Options
	limiter *ClientRateLimiter
	router  chi.Router
}

// NewServer builds the router.
func NewServer(opts Options) (*Server, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("api: schema pack registry is required")
	case opts.Runs == nil:
		return nil, errors.New("api: run store is required")
	case opts.Artifacts == nil:
		return nil, errors.New("api: artifact store is required")
	}
	if opts.Structural == nil {
		opts.Structural = structural.NewValidator()
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &Server{opts: opts}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = NewClientRateLimiter(opts.RPS, burst)
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Close releases background resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, exposeRequestID)
	if s.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(recoverer)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, r, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, "The HTTP method is not supported for this endpoint")
	})

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		if s.opts.Tokens != nil {
			r.Use(auth.NewMiddleware(s.opts.Tokens, WriteUnauthorized))
		}
		r.Post("/exports", s.handleExport)
		r.Post("/imports", s.handleImport)
		r.Post("/validate", s.handleValidate)
		r.Get("/packs", s.handlePacks)
		r.Get("/runs", s.handleListRuns)
		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Get("/report", s.handleGetReport)
			r.Get("/document", s.handleGetDocument)
			r.Post("/submit", s.handleSubmit)
		})
	})
	return r
}

// exposeRequestID echoes the router's request id so clients and problem
// bodies can quote it.
func exposeRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(requestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverer turns a handler panic into a problem response.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				WriteInternal(w, r, panicError{rec})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type panicError struct{ v any }

func (p panicError) Error() string { return fmt.Sprintf("panic: %v", p.v) }
