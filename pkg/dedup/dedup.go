// Package dedup records which run first produced a given content hash so
// that repeated exports and imports of identical documents can be reported
// as duplicates. The index is advisory: it never prevents a run.
package dedup

import (
	"context"
	"fmt"
	"sync"
)

// Index claims content hashes for runs.
type Index interface {
	// Claim records runID as the producer of hash unless another run got
	// there first. It returns the first run id and whether this claim is a
	// duplicate. Claiming again with the first run id is not a duplicate.
	Claim(ctx context.Context, hash, runID string) (first string, duplicate bool, err error)
	// Release drops the claim on hash if runID holds it.
	Release(ctx context.Context, hash, runID string) error
}

// MemoryIndex is an in-process Index.
type MemoryIndex struct {
	mu    sync.Mutex
	first map[string]string
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{first: make(map[string]string)}
}

func (m *MemoryIndex) Claim(_ context.Context, hash, runID string) (string, bool, error) {
	if err := validate(hash, runID); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if first, ok := m.first[hash]; ok {
		return first, first != runID, nil
	}
	m.first[hash] = runID
	return runID, false, nil
}

func (m *MemoryIndex) Release(_ context.Context, hash, runID string) error {
	if err := validate(hash, runID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.first[hash] == runID {
		delete(m.first, hash)
	}
	return nil
}

func validate(hash, runID string) error {
	if hash == "" || runID == "" {
		return fmt.Errorf("dedup: hash and run id are required")
	}
	return nil
}
