package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/mismo/pkg/api"
	"github.com/Mindburn-Labs/mismo/pkg/artifacts"
	"github.com/Mindburn-Labs/mismo/pkg/auth"
	"github.com/Mindburn-Labs/mismo/pkg/config"
	"github.com/Mindburn-Labs/mismo/pkg/dedup"
	"github.com/Mindburn-Labs/mismo/pkg/entitystore"
	"github.com/Mindburn-Labs/mismo/pkg/observability"
	"github.com/Mindburn-Labs/mismo/pkg/pipeline"
	"github.com/Mindburn-Labs/mismo/pkg/preflight"
	"github.com/Mindburn-Labs/mismo/pkg/runstore"
	"github.com/Mindburn-Labs/mismo/pkg/submission"
)

const shutdownTimeout = 30 * time.Second

// runServeCmd implements `mismo serve`.
func runServeCmd(args []string, _ io.Writer, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var port string
	cmd.StringVar(&port, "port", "", "Listen port (overrides PORT)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if port != "" {
		cfg.Port = port
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level})))
	logger := slog.Default().With("component", "serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, cfg)
	if err != nil {
		logger.ErrorContext(ctx, "startup failed", "error", err)
		return 2
	}
	defer svc.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           svc.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.InfoContext(ctx, "listening", "addr", srv.Addr, "version", version)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "server error", "error", err)
			return 2
		}
	case <-ctx.Done():
		logger.InfoContext(ctx, "shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "shutdown", "error", err)
		return 2
	}
	return 0
}

// service is the wired API plus everything that must be closed with it.
type service struct {
	server  *api.Server
	closers []func()
}

func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newService builds the API from cfg. Optional collaborators (entity store,
// Redis, submission, tokens) are wired only when configured.
func newService(ctx context.Context, cfg *config.Config) (_ *service, err error) {
	logger := slog.Default().With("component", "serve")
	svc := &service{}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	reg, err := loadRegistry(cfg.Packs.Dir, cfg.Packs.Default)
	if err != nil {
		return nil, err
	}

	var runs runstore.Store = runstore.NewMemoryStore()
	if cfg.Database.URL != "" {
		store, db, err := runstore.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, func() { _ = db.Close() })
		runs = store
	} else {
		logger.WarnContext(ctx, "DATABASE_URL not set, runs are kept in memory")
	}

	store, err := artifacts.NewStore(ctx, cfg.Artifacts)
	if err != nil {
		return nil, err
	}

	var index dedup.Index = dedup.NewMemoryIndex()
	if cfg.Redis.Addr != "" {
		ri := dedup.NewRedisIndex(dedup.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		svc.closers = append(svc.closers, func() { _ = ri.Close() })
		if err := ri.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "redis unreachable, duplicate detection degraded", "error", err)
		}
		index = ri
	}

	tel, err := observability.New(ctx, &observability.Config{
		ServiceName:    "mismo-pipeline",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.Telemetry.Enabled,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(sctx)
	})

	pre, err := preflight.NewValidator()
	if err != nil {
		return nil, err
	}
	deps := pipeline.Deps{
		Registry:  reg,
		Runs:      runs,
		Artifacts: store,
		Preflight: pre,
		Dedup:     index,
		Telemetry: tel,
	}

	opts := api.Options{
		Registry:     reg,
		Runs:         runs,
		Artifacts:    store,
		RPS:          cfg.API.RPS,
		Burst:        cfg.API.Burst,
		RunTimeout:   cfg.API.RunTimeout,
		MaxBodyBytes: cfg.API.MaxBodyBytes,
	}

	var sink pipeline.DealSink
	if cfg.EntityStore.URL != "" {
		client, err := entitystore.New(entitystore.Config{
			BaseURL: cfg.EntityStore.URL,
			Secret:  cfg.EntityStore.Secret,
			Timeout: cfg.EntityStore.Timeout,
			RPS:     cfg.EntityStore.RPS,
			Burst:   cfg.EntityStore.Burst,
		})
		if err != nil {
			return nil, err
		}
		if opts.Exporter, err = pipeline.NewExporter(deps, client); err != nil {
			return nil, err
		}
		sink = client
	} else {
		logger.WarnContext(ctx, "ENTITY_STORE_URL not set, only raw-only imports are available")
	}
	if opts.Importer, err = pipeline.NewImporter(deps, sink); err != nil {
		return nil, err
	}

	if cfg.Submission.URL != "" {
		if opts.Submitter, err = submission.New(submission.Config{URL: cfg.Submission.URL, Secret: cfg.Submission.Secret}); err != nil {
			return nil, err
		}
	}
	if cfg.API.TokenSecret != "" {
		if opts.Tokens, err = auth.NewTokenSigner(cfg.API.TokenSecret, api.TokenAudience); err != nil {
			return nil, err
		}
	}

	if svc.server, err = api.NewServer(opts); err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, svc.server.Close)
	return svc, nil
}
