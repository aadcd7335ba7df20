package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store is an evidence Store backed by AWS S3, for deployments that
// need durability/replication beyond a single filesystem.
type S3Store struct {
	client    *s3.Client
	bucket    string
	prefix    string
	idx       *metadataIndex
	retention RetentionPolicy
}

// S3StoreConfig configures an S3Store. Retention is optional; a nil map
// selects DefaultRetentionPolicy (spec.md §9 Open Questions).
type S3StoreConfig struct {
	Bucket    string
	Region    string
	Endpoint  string // custom endpoint for MinIO/LocalStack
	Prefix    string
	Retention RetentionPolicy
}

// NewS3Store builds an S3-backed Store.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("evidence: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, idx: newMetadataIndex(), retention: cfg.Retention}, nil
}

func (s *S3Store) key(hash string) string { return s.prefix + hash + ".blob" }

func (s *S3Store) putBlob(ctx context.Context, hash string, content []byte) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(hash))})
	if err == nil {
		return nil
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(hash)),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 put: %w", err)
	}
	return nil
}

func (s *S3Store) getBlob(ctx context.Context, hash string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(hash))})
	if err != nil {
		return nil, fmt.Errorf("s3 get: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Store) deleteBlob(ctx context.Context, hash string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(hash))})
	if err != nil {
		return fmt.Errorf("s3 delete: %w", err)
	}
	return nil
}

func (s *S3Store) Put(ctx context.Context, content []byte, category Category, retention RetentionClass, links []string) (Artifact, error) {
	return s.idx.put(s, ctx, content, category, retention, links)
}

func (s *S3Store) Get(ctx context.Context, idOrHash string) (Artifact, []byte, error) {
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

func (s *S3Store) Link(ctx context.Context, idOrHash, decisionID string) error {
	return s.idx.link(idOrHash, decisionID)
}

func (s *S3Store) ListByDecision(ctx context.Context, decisionID string) ([]Artifact, error) {
	return s.idx.listByDecision(decisionID), nil
}

func (s *S3Store) ListAll(ctx context.Context) ([]Artifact, error) {
	return s.idx.listAll(), nil
}

// Retention returns the RetentionPolicy this store was constructed
// with, for a Sweeper to consult.
func (s *S3Store) Retention() RetentionPolicy { return s.retention }

func (s *S3Store) Anonymize(ctx context.Context, idOrHash string) (Artifact, error) {
	a, err := s.idx.get(idOrHash)
	if err != nil {
		return Artifact{}, err
	}
	if err := s.deleteBlob(ctx, a.ContentHash); err != nil && !errors.Is(err, ErrNotFound) {
		return Artifact{}, fmt.Errorf("evidence: anonymize: %w", err)
	}
	return s.idx.markAnonymized(idOrHash)
}
