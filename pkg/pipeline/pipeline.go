// Package pipeline runs export and import conversions end to end. Every run
// is recorded in the run store before its first stage and finalized exactly
// once, whatever happens in between.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/mismo/pkg/artifacts"
	"github.com/Mindburn-Labs/mismo/pkg/canonical"
	"github.com/Mindburn-Labs/mismo/pkg/conform"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/dedup"
	"github.com/Mindburn-Labs/mismo/pkg/observability"
	"github.com/Mindburn-Labs/mismo/pkg/preflight"
	"github.com/Mindburn-Labs/mismo/pkg/runstore"
	"github.com/Mindburn-Labs/mismo/pkg/schemapack"
	"github.com/Mindburn-Labs/mismo/pkg/structural"
)

// finalizeTimeout bounds the terminal writes, which run detached from the
// caller's context so a cancelled run is still recorded.
const finalizeTimeout = 15 * time.Second

// DealSource reads canonical deals from the entity store.
type DealSource interface {
	FetchDeal(ctx context.Context, reference string) (*canonical.Deal, error)
}

// DealSink creates canonical deals in the entity store. The idempotency key
// makes retried creates of the same document safe.
type DealSink interface {
	CreateDeal(ctx context.Context, deal *canonical.Deal, unmapped []contracts.UnmappedNode, idempotencyKey string) (string, error)
}

// Deps are the collaborators shared by both orchestrators. Registry, Runs
// and Artifacts are required; the rest default.
type Deps struct {
	Registry   *schemapack.Registry
	Runs       runstore.Store
	Artifacts  artifacts.Store
	Preflight  *preflight.Validator
	Structural *structural.Validator
	Reporter   *conform.Reporter
	// Dedup is optional. Without it DuplicateOf is never set.
	Dedup     dedup.Index
	Telemetry *observability.Provider
	Clock     func() time.Time
	NewRunID  func() string
}

func (d *Deps) init() error {
	switch {
	case d.Registry == nil:
		return errors.New("pipeline: schema pack registry is required")
	case d.Runs == nil:
		return errors.New("pipeline: run store is required")
	case d.Artifacts == nil:
		return errors.New("pipeline: artifact store is required")
	}
	if d.Preflight == nil {
		v, err := preflight.NewValidator()
		if err != nil {
			return fmt.Errorf("pipeline: preflight: %w", err)
		}
		d.Preflight = v
	}
	if d.Structural == nil {
		d.Structural = structural.NewValidator()
	}
	if d.Reporter == nil {
		d.Reporter = conform.NewReporter()
	}
	if d.Telemetry == nil {
		p, err := observability.New(context.Background(), nil)
		if err != nil {
			return fmt.Errorf("pipeline: telemetry: %w", err)
		}
		d.Telemetry = p
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.NewRunID == nil {
		d.NewRunID = uuid.NewString
	}
	return nil
}

// resolve looks up a pinned pack before any run is recorded. An empty id
// returns nil so the orchestrator can choose later.
func (d *Deps) resolve(packID string) (*schemapack.SchemaPack, error) {
	if packID == "" {
		return nil, nil
	}
	p, err := d.Registry.Resolve(packID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return p, nil
}

// Result is the caller-facing outcome of a run.
type Result struct {
	Run    runstore.Run
	Report *conform.ConformanceReport
}

// stageError is a system failure inside a stage, carrying its reason code.
type stageError struct {
	code string
	err  error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func systemFailure(code string, err error) error {
	return &stageError{code: code, err: err}
}

// runner carries the state of one run through its stages.
type runner struct {
	deps   *Deps
	ctx    context.Context
	dir    conform.Direction
	runID  string
	stage  string
	pack   *schemapack.SchemaPack
	system []contracts.Finding
	endRun func(string)
	logger *slog.Logger
}

func (d *Deps) start(ctx context.Context, dir conform.Direction, dealRef, packID string) (*runner, error) {
	r := &runner{
		deps:   d,
		dir:    dir,
		runID:  d.NewRunID(),
		stage:  conform.StageStart,
		logger: slog.Default().With("component", "pipeline", "direction", string(dir)),
	}
	run := runstore.Run{
		RunID:         r.runID,
		Direction:     dir,
		DealReference: dealRef,
		PackID:        packID,
		Status:        runstore.StatusRunning,
		Stage:         conform.StageStart,
		CreatedAt:     d.Clock(),
	}
	if err := d.Runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("pipeline: record run: %w", err)
	}
	r.ctx, r.endRun = d.Telemetry.StartRun(ctx, string(dir), r.runID, packID)
	r.logger = r.logger.With("run_id", r.runID)
	return r, nil
}

// step runs one stage. It reports false when the run cannot continue: the
// context ended, the stage returned an error or it panicked. The matching
// system finding is recorded before returning.
func (r *runner) step(stage string, fn func(ctx context.Context) error) bool {
	r.stage = stage
	if err := r.ctx.Err(); err != nil {
		r.interrupted(err)
		return false
	}

	ctx, done := r.deps.Telemetry.TrackStage(r.ctx, string(r.dir), stage)
	var stepErr error
	panicked := conform.Guard(stage, func() []contracts.Finding {
		stepErr = fn(ctx)
		return nil
	})
	if len(panicked) > 0 {
		stepErr = errors.New(panicked[0].Message)
		r.system = append(r.system, panicked...)
	}
	done(stepErr)
	if stepErr == nil {
		return true
	}
	if len(panicked) > 0 {
		return false
	}

	if ctxErr := r.ctx.Err(); ctxErr != nil && errors.Is(stepErr, ctxErr) {
		r.interrupted(ctxErr)
		return false
	}
	code := conform.ReasonStageFailed
	var se *stageError
	if errors.As(stepErr, &se) {
		code = se.code
	}
	f := contracts.Errorf(contracts.CategorySystem, code, "", "%s: %v", stage, stepErr)
	f.Stage = stage
	r.system = append(r.system, f)
	return false
}

func (r *runner) interrupted(err error) {
	code, verb := conform.ReasonRunCancelled, "cancelled"
	if errors.Is(err, context.DeadlineExceeded) {
		code, verb = conform.ReasonRunTimedOut, "timed out"
	}
	f := contracts.Errorf(contracts.CategorySystem, code, "", "run %s during %s", verb, r.stage)
	f.Stage = r.stage
	r.system = append(r.system, f)
}

// terminal carries what a run learned before it stopped.
type terminal struct {
	status               runstore.Status
	input                conform.BuildInput
	byteSize             int64
	createdDealReference string
	claim                bool // register ContentHash in the duplicate index on success
}

// finish stores the report and applies the single terminal write. It runs
// on a context detached from the caller so cancelled runs are still closed.
func (r *runner) finish(t terminal) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), finalizeTimeout)
	defer cancel()

	if len(r.system) > 0 {
		t.status = runstore.StatusFailed
	}
	in := t.input
	in.RunID = r.runID
	in.Direction = r.dir
	in.Pack = r.pack
	in.System = r.system
	claimed := t.claim && t.status.Succeeded() && in.ContentHash != ""
	if claimed {
		in.DuplicateOf = r.claim(ctx, in.ContentHash)
	}
	report := r.deps.Reporter.Build(in)
	ref, err := r.storeReport(ctx, report)
	if err != nil {
		if claimed {
			r.release(ctx, in.ContentHash)
			claimed = false
		}
		f := contracts.Errorf(contracts.CategorySystem, conform.ReasonArtifactStoreFailed, "",
			"store conformance report: %v", err)
		f.Stage = conform.StageReporting
		r.system = append(r.system, f)
		t.status = runstore.StatusFailed
		in.System = r.system
		report = r.deps.Reporter.Build(in)
	}

	out := runstore.Outcome{
		Status:               t.status,
		Stage:                r.stage,
		ContentHash:          in.ContentHash,
		ByteSize:             t.byteSize,
		ConformanceReportRef: ref,
		CreatedDealReference: t.createdDealReference,
		DuplicateOf:          in.DuplicateOf,
		FinishedAt:           r.deps.Clock(),
	}
	if r.pack != nil {
		out.PackID = r.pack.ID
	}
	if f, ok := firstSystemError(report.Validation); ok {
		out.Error = f.Code + ": " + f.Message
	}

	run, err := r.deps.Runs.Finalize(ctx, r.runID, out)
	r.endRun(string(t.status))
	if err != nil {
		if claimed {
			r.release(ctx, in.ContentHash)
		}
		r.logger.Error("run could not be finalized", "status", t.status, "error", err)
		return nil, fmt.Errorf("pipeline: finalize run %s: %w", r.runID, err)
	}

	attrs := []any{
		"status", run.Status,
		"stage", run.Stage,
		"pack_id", run.PackID,
		"verdict", report.Status,
		"findings", len(report.Validation.Findings),
	}
	if run.ContentHash != "" {
		attrs = append(attrs, "content_hash", run.ContentHash)
	}
	switch {
	case run.Error != "":
		r.logger.Error("run finished", append(attrs, "error", run.Error)...)
	case !run.Status.Succeeded():
		r.logger.Warn("run finished", attrs...)
	default:
		r.logger.Info("run finished", attrs...)
	}
	return &Result{Run: run, Report: report}, nil
}

func (r *runner) storeReport(ctx context.Context, report *conform.ConformanceReport) (string, error) {
	data, err := conform.Marshal(report)
	if err != nil {
		return "", err
	}
	return r.deps.Artifacts.Store(ctx, data)
}

// storeDocument keeps a document in the artifact store and checks the store
// addressed it by the same hash the run reports.
func (r *runner) storeDocument(ctx context.Context, data []byte, hash string) error {
	key, err := r.deps.Artifacts.Store(ctx, data)
	if err != nil {
		return systemFailure(conform.ReasonArtifactStoreFailed, err)
	}
	if hash != "" && key != hash {
		return systemFailure(conform.ReasonArtifactStoreFailed,
			fmt.Errorf("artifact store returned %s for content %s", key, hash))
	}
	return nil
}

// claim records the run as a producer of hash and returns the earlier run
// that produced it, if any. The index is advisory, so a failure is logged
// and the run carries on.
func (r *runner) claim(ctx context.Context, hash string) string {
	if r.deps.Dedup == nil {
		return ""
	}
	first, dup, err := r.deps.Dedup.Claim(ctx, hash, r.runID)
	if err != nil {
		r.logger.Warn("duplicate index unavailable", "content_hash", hash, "error", err)
		return ""
	}
	if dup {
		return first
	}
	return ""
}

// release gives up a claim made by a run that did not succeed after all.
func (r *runner) release(ctx context.Context, hash string) {
	if r.deps.Dedup == nil {
		return
	}
	if err := r.deps.Dedup.Release(ctx, hash, r.runID); err != nil {
		r.logger.Warn("duplicate index release failed", "content_hash", hash, "error", err)
	}
}

// hasSystemError reports whether a validator could not finish its own work,
// which fails a run instead of blocking it.
func hasSystemError(rep contracts.ValidationReport) bool {
	_, ok := firstSystemError(rep)
	return ok
}

func firstSystemError(rep contracts.ValidationReport) (contracts.Finding, bool) {
	for _, f := range rep.Findings {
		if f.Category == contracts.CategorySystem && f.IsError() {
			return f, true
		}
	}
	return contracts.Finding{}, false
}
