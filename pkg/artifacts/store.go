// Package artifacts is the content-addressed blob store for generated XML,
// quarantined inbound documents and conformance reports. Every blob is keyed
// by the sha256: content hash of its bytes.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/mismo/pkg/canonicalize"
)

var (
	// ErrNotFound is returned when no blob has the requested hash.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidHash is returned for keys that are not sha256:<hex>.
	ErrInvalidHash = errors.New("invalid artifact hash")
)

// Store defines the contract for content-addressed storage of artifacts.
type Store interface {
	// Store persists data and returns its content hash. Storing the same
	// bytes twice is a no-op returning the same hash.
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by its content hash.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists checks if an artifact exists by its content hash.
	Exists(ctx context.Context, hash string) (bool, error)
	// Delete removes an artifact by its content hash. Deleting a missing blob is not an error.
	Delete(ctx context.Context, hash string) error
}

// objectName maps a content hash to "<hex>.blob".
func objectName(hash string) (string, error) {
	if !canonicalize.ValidHash(hash) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return strings.TrimPrefix(hash, canonicalize.HashPrefix) + ".blob", nil
}

// FileStore is a filesystem-backed implementation of Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a new store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: shared artifact directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(hash string) (string, error) {
	name, err := objectName(hash)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, name), nil
}

func (s *FileStore) Store(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	hash := canonicalize.ContentHash(data)
	path, err := s.path(hash)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	// Write to temp, then rename so readers never see a partial blob.
	tmp, err := os.CreateTemp(s.baseDir, "blob-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return hash, nil
}

func (s *FileStore) Get(ctx context.Context, hash string) ([]byte, error) {
	path, err := s.path(hash)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path) //nolint:gosec // name derived from a validated hash
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", hash, err)
	}
	return data, nil
}

func (s *FileStore) Exists(ctx context.Context, hash string) (bool, error) {
	path, err := s.path(hash)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob %s: %w", hash, err)
}

func (s *FileStore) Delete(ctx context.Context, hash string) error {
	path, err := s.path(hash)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}
