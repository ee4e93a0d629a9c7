//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/Mindburn-Labs/mismo/pkg/canonicalize"
)

// GCSStore implements Store using Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a new GCS-backed artifact store using application
// default credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("ARTIFACT_GCS_BUCKET is required for GCS storage")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(hash string) (*storage.ObjectHandle, error) {
	name, err := objectName(hash)
	if err != nil {
		return nil, err
	}
	return s.client.Bucket(s.bucket).Object(s.prefix + name), nil
}

func (s *GCSStore) Store(ctx context.Context, data []byte) (string, error) {
	hash := canonicalize.ContentHash(data)
	obj, err := s.object(hash)
	if err != nil {
		return "", err
	}
	if _, err := obj.Attrs(ctx); err == nil {
		return hash, nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return "", fmt.Errorf("gcs attrs failed for %s: %w", hash, err)
	}

	// DoesNotExist makes concurrent writers of the same blob race safely.
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close failed: %w", err)
	}
	return hash, nil
}

func (s *GCSStore) Get(ctx context.Context, hash string) ([]byte, error) {
	obj, err := s.object(hash)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("gcs get failed for %s: %w", hash, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (s *GCSStore) Exists(ctx context.Context, hash string) (bool, error) {
	obj, err := s.object(hash)
	if err != nil {
		return false, err
	}
	if _, err := obj.Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs attrs error: %w", err)
	}
	return true, nil
}

func (s *GCSStore) Delete(ctx context.Context, hash string) error {
	obj, err := s.object(hash)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete failed for %s: %w", hash, err)
	}
	return nil
}

// Close closes the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
