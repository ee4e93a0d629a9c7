package runstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-binary use.
type MemoryStore struct {
	mu    sync.RWMutex
	runs  map[string]Run
	order []string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]Run)}
}

func (s *MemoryStore) Create(_ context.Context, run Run) error {
	if err := validateNew(run); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.RunID]; exists {
		return fmt.Errorf("runstore: %s: %w", run.RunID, ErrAlreadyExists)
	}
	run.CreatedAt = dbTime(run.CreatedAt)
	run.FinishedAt = nil
	s.runs[run.RunID] = run
	s.order = append(s.order, run.RunID)
	return nil
}

func (s *MemoryStore) Finalize(_ context.Context, runID string, out Outcome) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return Run{}, fmt.Errorf("runstore: %s: %w", runID, ErrNotFound)
	}
	if run.Status != StatusRunning {
		return Run{}, fmt.Errorf("runstore: %s: %w", runID, ErrAlreadyFinalized)
	}
	if err := validateOutcome(run.Direction, runID, out); err != nil {
		return Run{}, err
	}
	finished := dbTime(out.FinishedAt)
	run.Status = out.Status
	if out.PackID != "" {
		run.PackID = out.PackID
	}
	run.Stage = out.Stage
	run.ContentHash = out.ContentHash
	run.ByteSize = out.ByteSize
	run.ConformanceReportRef = out.ConformanceReportRef
	run.CreatedDealReference = out.CreatedDealReference
	run.DuplicateOf = out.DuplicateOf
	run.Error = out.Error
	run.FinishedAt = &finished
	s.runs[runID] = run
	return copyRun(run), nil
}

func (s *MemoryStore) Get(_ context.Context, runID string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return Run{}, fmt.Errorf("runstore: %s: %w", runID, ErrNotFound)
	}
	return copyRun(run), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0)
	for _, id := range s.order {
		run := s.runs[id]
		if f.Direction != "" && run.Direction != f.Direction {
			continue
		}
		if f.Status != "" && run.Status != f.Status {
			continue
		}
		if f.DealReference != "" && run.DealReference != f.DealReference {
			continue
		}
		out = append(out, copyRun(run))
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) FindByContentHash(_ context.Context, hash string) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0)
	for _, id := range s.order {
		if run := s.runs[id]; hash != "" && run.ContentHash == hash {
			out = append(out, copyRun(run))
		}
	}
	return out, nil
}

func copyRun(r Run) Run {
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		r.FinishedAt = &t
	}
	return r
}
