package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// BackendType selects which Store implementation NewStoreFromEnv builds.
type BackendType string

const (
	BackendFilesystem BackendType = "fs"
	BackendS3         BackendType = "s3"
	BackendGCS        BackendType = "gcs"
)

// NewStoreFromEnv builds a Store from environment configuration:
//
//	EVIDENCE_STORE_BACKEND: "fs" (default), "s3", or "gcs"
//	EVIDENCE_DATA_DIR: base dir for the filesystem backend (default "data")
//	EVIDENCE_S3_BUCKET / EVIDENCE_S3_REGION / EVIDENCE_S3_ENDPOINT / EVIDENCE_S3_PREFIX
//	EVIDENCE_GCS_BUCKET / EVIDENCE_GCS_PREFIX (requires a `gcp`-tagged build)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	backend := BackendType(os.Getenv("EVIDENCE_STORE_BACKEND"))
	if backend == "" {
		backend = BackendFilesystem
	}
	retention := retentionPolicyFromEnv()

	switch backend {
	case BackendFilesystem:
		dir := os.Getenv("EVIDENCE_DATA_DIR")
		if dir == "" {
			dir = "data"
		}
		return NewFileStore(filepath.Join(dir, "evidence"), retention)
	case BackendS3:
		bucket := os.Getenv("EVIDENCE_S3_BUCKET")
		if bucket == "" {
			return nil, fmt.Errorf("evidence: EVIDENCE_S3_BUCKET is required for s3 backend")
		}
		region := os.Getenv("EVIDENCE_S3_REGION")
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:    bucket,
			Region:    region,
			Endpoint:  os.Getenv("EVIDENCE_S3_ENDPOINT"),
			Prefix:    os.Getenv("EVIDENCE_S3_PREFIX"),
			Retention: retention,
		})
	case BackendGCS:
		return newGCSStoreFromEnv(ctx, retention)
	default:
		return nil, fmt.Errorf("evidence: unsupported backend %q", backend)
	}
}

// retentionPolicyFromEnv builds a RetentionPolicy from
// EVIDENCE_RETENTION_<CLASS>_HOURS env vars, falling back to
// DefaultRetentionPolicy for any class left unset (spec.md §9 Open
// Questions: retention durations are config, not hard-coded).
func retentionPolicyFromEnv() RetentionPolicy {
	policy := DefaultRetentionPolicy()
	for class, envVar := range map[RetentionClass]string{
		RetentionStandard: "EVIDENCE_RETENTION_STANDARD_HOURS",
		RetentionShort:    "EVIDENCE_RETENTION_SHORT_HOURS",
		RetentionHighRisk: "EVIDENCE_RETENTION_HIGH_RISK_HOURS",
	} {
		v := os.Getenv(envVar)
		if v == "" {
			continue
		}
		hours, err := strconv.ParseFloat(v, 64)
		if err != nil || hours <= 0 {
			continue
		}
		policy[class] = time.Duration(hours * float64(time.Hour))
	}
	return policy
}
