//go:build !gcp

package evidence

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(ctx context.Context, retention RetentionPolicy) (Store, error) {
	return nil, fmt.Errorf("evidence: gcs backend not enabled in this build (use -tags gcp)")
}
