//go:build !gcp

package artifacts

import (
	"context"
	"fmt"
)

func newGCSStore(_ context.Context, cfg GCSStoreConfig) (Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("ARTIFACT_GCS_BUCKET is required for GCS storage")
	}
	return nil, fmt.Errorf("GCS storage is not enabled in this build (use -tags gcp)")
}
