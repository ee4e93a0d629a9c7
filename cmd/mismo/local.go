package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Mindburn-Labs/mismo/pkg/artifacts"
	"github.com/Mindburn-Labs/mismo/pkg/canonical"
	"github.com/Mindburn-Labs/mismo/pkg/canonicalize"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/entitystore"
	"github.com/Mindburn-Labs/mismo/pkg/pipeline"
	"github.com/Mindburn-Labs/mismo/pkg/runstore"
	"github.com/Mindburn-Labs/mismo/pkg/schemapack"
)

// loadRegistry registers the built-in packs plus every YAML pack in dir.
func loadRegistry(dir, defaultID string) (*schemapack.Registry, error) {
	extra, err := schemapack.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return schemapack.NewBuiltinRegistry(defaultID, extra...)
}

// localEnv is the offline workspace: runs in SQLite and artifacts on disk,
// both under one data directory.
type localEnv struct {
	dir  string
	deps pipeline.Deps
	db   *sql.DB
}

func openLocal(ctx context.Context, dataDir, packsDir, defaultPack string) (*localEnv, error) {
	//nolint:gosec // G301: operator-owned data directory
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	reg, err := loadRegistry(packsDir, defaultPack)
	if err != nil {
		return nil, err
	}
	runs, db, err := runstore.Open(ctx, "sqlite", filepath.Join(dataDir, "runs.db"))
	if err != nil {
		return nil, err
	}
	store, err := artifacts.NewStore(ctx, artifacts.Config{Type: artifacts.StoreTypeFS, DataDir: dataDir})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &localEnv{
		dir:  dataDir,
		db:   db,
		deps: pipeline.Deps{Registry: reg, Runs: runs, Artifacts: store},
	}, nil
}

func (e *localEnv) Close() error { return e.db.Close() }

// fileSource reads canonical deals from JSON files; the deal reference is
// the file path.
type fileSource struct{}

func (fileSource) FetchDeal(_ context.Context, path string) (*canonical.Deal, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-provided path
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, entitystore.ErrDealNotFound)
	}
	if err != nil {
		return nil, err
	}
	return canonical.DecodeDeal(raw)
}

// fileSink writes imported deals under <data>/deals, one file per content
// hash, so re-importing a document returns the same reference.
type fileSink struct {
	dir string
}

type storedDeal struct {
	Deal     *canonical.Deal          `json:"deal"`
	Unmapped []contracts.UnmappedNode `json:"unmapped,omitempty"`
}

func (s fileSink) CreateDeal(_ context.Context, deal *canonical.Deal, unmapped []contracts.UnmappedNode, key string) (string, error) {
	if !canonicalize.ValidHash(key) {
		return "", fmt.Errorf("deal sink: invalid idempotency key %q", key)
	}
	name := strings.TrimPrefix(key, canonicalize.HashPrefix) + ".json"
	ref := "file:" + name
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	data, err := json.MarshalIndent(storedDeal{Deal: deal, Unmapped: unmapped}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("deal sink: encode: %w", err)
	}
	//nolint:gosec // G301: operator-owned data directory
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("deal sink: %w", err)
	}
	tmp := path + ".tmp"
	//nolint:gosec // G306: deal files are not secrets
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("deal sink: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("deal sink: commit: %w", err)
	}
	return ref, nil
}
