// Package runstore persists pipeline run records. Runs are append-only: each
// is created once in the running state, finalized exactly once to a terminal
// status and never deleted.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/mismo/pkg/conform"
)

var (
	// ErrNotFound is returned when a run id is unknown.
	ErrNotFound = errors.New("run not found")
	// ErrAlreadyFinalized is returned by a second Finalize on the same run.
	ErrAlreadyFinalized = errors.New("run already finalized")
	// ErrAlreadyExists is returned when a run id is reused.
	ErrAlreadyExists = errors.New("run already exists")
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning               Status = "running"
	StatusCompleted             Status = "completed"
	StatusCompletedWithWarnings Status = "completed_with_warnings"
	StatusBlocked               Status = "blocked"
	StatusFailed                Status = "failed"
	StatusImported              Status = "imported"
	StatusImportedRawOnly       Status = "imported_raw_only"
)

var terminalFor = map[conform.Direction]map[Status]bool{
	conform.DirectionExport: {
		StatusCompleted: true, StatusCompletedWithWarnings: true, StatusBlocked: true, StatusFailed: true,
	},
	conform.DirectionImport: {
		StatusImported: true, StatusImportedRawOnly: true, StatusBlocked: true, StatusFailed: true,
	},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusRunning || terminalFor[conform.DirectionExport][s] || terminalFor[conform.DirectionImport][s]
}

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusRunning
}

// TerminalFor reports whether s is a terminal status of runs in direction d.
func (s Status) TerminalFor(d conform.Direction) bool {
	return terminalFor[d][s]
}

// Succeeded reports whether the run produced a usable result.
func (s Status) Succeeded() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithWarnings, StatusImported, StatusImportedRawOnly:
		return true
	}
	return false
}

// UnmarshalJSON rejects statuses outside the closed set.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v := Status(raw)
	if !v.Valid() {
		return fmt.Errorf("invalid run status %q", raw)
	}
	*s = v
	return nil
}

// Run is one export or import attempt.
type Run struct {
	RunID                string            `json:"run_id"`
	Direction            conform.Direction `json:"direction"`
	DealReference        string            `json:"deal_reference,omitempty"`
	PackID               string            `json:"pack_id"`
	Status               Status            `json:"status"`
	Stage                string            `json:"stage"`
	ContentHash          string            `json:"content_hash,omitempty"`
	ByteSize             int64             `json:"byte_size"`
	CreatedAt            time.Time         `json:"created_at"`
	FinishedAt           *time.Time        `json:"finished_at,omitempty"`
	ConformanceReportRef string            `json:"conformance_report_ref,omitempty"`
	CreatedDealReference string            `json:"created_deal_reference,omitempty"`
	DuplicateOf          string            `json:"duplicate_of,omitempty"`
	Error                string            `json:"error,omitempty"`
}

// Outcome is the single terminal write applied by Finalize.
type Outcome struct {
	Status Status
	// PackID replaces the run's pack when non-empty, for runs whose pack is
	// chosen after creation (product default, auto-detection).
	PackID               string
	Stage                string
	ContentHash          string
	ByteSize             int64
	ConformanceReportRef string
	CreatedDealReference string
	DuplicateOf          string
	Error                string
	FinishedAt           time.Time
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Direction     conform.Direction
	Status        Status
	DealReference string
	Limit         int
}

// Store is the durable interface for run records.
type Store interface {
	// Create persists a new run in the running state.
	Create(ctx context.Context, run Run) error

	// Finalize applies the terminal outcome. It succeeds at most once per run.
	Finalize(ctx context.Context, runID string, out Outcome) (Run, error)

	// Get retrieves a run by id.
	Get(ctx context.Context, runID string) (Run, error)

	// List returns runs oldest first.
	List(ctx context.Context, f Filter) ([]Run, error)

	// FindByContentHash returns every run that produced the given content, oldest first.
	FindByContentHash(ctx context.Context, hash string) ([]Run, error)
}

func validateNew(run Run) error {
	switch {
	case run.RunID == "":
		return fmt.Errorf("runstore: run id is required")
	case run.Direction != conform.DirectionExport && run.Direction != conform.DirectionImport:
		return fmt.Errorf("runstore: run %s: invalid direction %q", run.RunID, run.Direction)
	case run.Status != StatusRunning:
		return fmt.Errorf("runstore: run %s: new runs must be %s, got %q", run.RunID, StatusRunning, run.Status)
	}
	return nil
}

func validateOutcome(dir conform.Direction, runID string, out Outcome) error {
	if !out.Status.TerminalFor(dir) {
		return fmt.Errorf("runstore: run %s: %q is not a terminal %s status", runID, out.Status, dir)
	}
	return nil
}

// dbTime normalises timestamps to the precision every backend keeps.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
