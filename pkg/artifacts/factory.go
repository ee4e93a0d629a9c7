package artifacts

import (
	"context"
	"fmt"
	"path/filepath"
)

// StoreType represents the type of artifact storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// Config selects and configures a backend.
type Config struct {
	Type    StoreType      `yaml:"type"`
	DataDir string         `yaml:"data_dir"`
	S3      S3StoreConfig  `yaml:"s3"`
	GCS     GCSStoreConfig `yaml:"gcs"`
}

// NewStore builds the configured backend. The filesystem store lives under
// <DataDir>/artifacts.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "", StoreTypeFS:
		dataDir := cfg.DataDir
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "artifacts"))
	case StoreTypeS3:
		s3cfg := cfg.S3
		if s3cfg.Region == "" {
			s3cfg.Region = "us-east-1"
		}
		return NewS3Store(ctx, s3cfg)
	case StoreTypeGCS:
		return newGCSStore(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", cfg.Type)
	}
}
