//go:build gcp

package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore is an evidence Store backed by Google Cloud Storage. Built
// only with the `gcp` tag, mirroring the teacher's split between a
// default build and cloud-vendor-specific backends.
type GCSStore struct {
	client    *storage.Client
	bucket    string
	prefix    string
	idx       *metadataIndex
	retention RetentionPolicy
}

// GCSStoreConfig configures a GCSStore. Retention is optional; a nil
// map selects DefaultRetentionPolicy (spec.md §9 Open Questions).
type GCSStoreConfig struct {
	Bucket    string
	Prefix    string
	Retention RetentionPolicy
}

// NewGCSStore builds a GCS-backed Store using application default
// credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("evidence: create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, idx: newMetadataIndex(), retention: cfg.Retention}, nil
}

func (s *GCSStore) object(hash string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + hash + ".blob")
}

func (s *GCSStore) putBlob(ctx context.Context, hash string, content []byte) error {
	obj := s.object(hash)
	if _, err := obj.Attrs(ctx); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs stat: %w", err)
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close: %w", err)
	}
	return nil
}

func (s *GCSStore) getBlob(ctx context.Context, hash string) ([]byte, error) {
	r, err := s.object(hash).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs read: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GCSStore) deleteBlob(ctx context.Context, hash string) error {
	err := s.object(hash).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete: %w", err)
	}
	return nil
}

func (s *GCSStore) Put(ctx context.Context, content []byte, category Category, retention RetentionClass, links []string) (Artifact, error) {
	return s.idx.put(s, ctx, content, category, retention, links)
}

func (s *GCSStore) Get(ctx context.Context, idOrHash string) (Artifact, []byte, error) {
	a, err := s.idx.get(idOrHash)
	if err != nil {
		return Artifact{}, nil, err
	}
	if a.Anonymized {
		return a, nil, nil
	}
	content, err := s.getBlob(ctx, a.ContentHash)
	if err != nil {
		return Artifact{}, nil, err
	}
	return a, content, nil
}

func (s *GCSStore) Link(ctx context.Context, idOrHash, decisionID string) error {
	return s.idx.link(idOrHash, decisionID)
}

func (s *GCSStore) ListByDecision(ctx context.Context, decisionID string) ([]Artifact, error) {
	return s.idx.listByDecision(decisionID), nil
}

func (s *GCSStore) ListAll(ctx context.Context) ([]Artifact, error) {
	return s.idx.listAll(), nil
}

// Retention returns the RetentionPolicy this store was constructed
// with, for a Sweeper to consult.
func (s *GCSStore) Retention() RetentionPolicy { return s.retention }

func (s *GCSStore) Anonymize(ctx context.Context, idOrHash string) (Artifact, error) {
	a, err := s.idx.get(idOrHash)
	if err != nil {
		return Artifact{}, err
	}
	if err := s.deleteBlob(ctx, a.ContentHash); err != nil {
		return Artifact{}, fmt.Errorf("evidence: anonymize: %w", err)
	}
	return s.idx.markAnonymized(idOrHash)
}
