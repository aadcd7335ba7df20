//go:build gcp

package evidence

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context, retention RetentionPolicy) (Store, error) {
	bucket := os.Getenv("EVIDENCE_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("evidence: EVIDENCE_GCS_BUCKET is required for gcs backend")
	}
	return NewGCSStore(ctx, GCSStoreConfig{Bucket: bucket, Prefix: os.Getenv("EVIDENCE_GCS_PREFIX"), Retention: retention})
}
