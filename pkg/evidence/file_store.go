package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileStore is the default, filesystem-backed Store. Content lives as
// one file per hash under baseDir; Category/links/created-at tracking is
// kept in an in-process metadataIndex (grounded on the teacher's
// FileStore content-addressing scheme, extended with the richer
// Put/Link/ListByDecision/Anonymize contract this store's spec needs)
// that FileStore additionally persists to index.json, so a CLI process
// that exits between commands does not lose artifact metadata the way a
// purely in-memory index would.
type FileStore struct {
	baseDir   string
	idx       *metadataIndex
	retention RetentionPolicy
}

// NewFileStore creates a CAS store rooted at baseDir, creating it if
// necessary, and loads any index.json left by a previous process. An
// optional RetentionPolicy configures how long each RetentionClass's
// content survives before Sweep anonymizes it (spec.md §9 Open
// Questions); omitting it selects DefaultRetentionPolicy.
func NewFileStore(baseDir string, policy ...RetentionPolicy) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("evidence: create store dir: %w", err)
	}
	s := &FileStore{baseDir: baseDir, idx: newMetadataIndex(), retention: firstPolicy(policy)}

	data, err := os.ReadFile(s.indexPath())
	switch {
	case err == nil:
		var snap indexSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("evidence: decode index.json: %w", err)
		}
		s.idx.restore(snap)
	case os.IsNotExist(err):
		// fresh store
	default:
		return nil, fmt.Errorf("evidence: read index.json: %w", err)
	}
	return s, nil
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.baseDir, "index.json")
}

func (s *FileStore) saveIndex() error {
	data, err := json.MarshalIndent(s.idx.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("evidence: encode index.json: %w", err)
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("evidence: write index.json: %w", err)
	}
	return os.Rename(tmp, s.indexPath())
}

func (s *FileStore) blobPath(hash string) string {
	return filepath.Join(s.baseDir, hash+".blob")
}

func (s *FileStore) putBlob(ctx context.Context, hash string, content []byte) error {
	path := s.blobPath(hash)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) getBlob(ctx context.Context, hash string) ([]byte, error) {
	f, err := os.Open(s.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *FileStore) deleteBlob(ctx context.Context, hash string) error {
	err := os.Remove(s.blobPath(hash))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) Put(ctx context.Context, content []byte, category Category, retention RetentionClass, links []string) (Artifact, error) {
	a, err := s.idx.put(s, ctx, content, category, retention, links)
	if err != nil {
		return Artifact{}, err
	}
	if err := s.saveIndex(); err != nil {
		return Artifact{}, err
	}
	return a, nil
}

func (s *FileStore) Get(ctx context.Context, idOrHash string) (Artifact, []byte, error) {
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

func (s *FileStore) Link(ctx context.Context, idOrHash, decisionID string) error {
	if err := s.idx.link(idOrHash, decisionID); err != nil {
		return err
	}
	return s.saveIndex()
}

func (s *FileStore) ListByDecision(ctx context.Context, decisionID string) ([]Artifact, error) {
	return s.idx.listByDecision(decisionID), nil
}

func (s *FileStore) ListAll(ctx context.Context) ([]Artifact, error) {
	return s.idx.listAll(), nil
}

// Retention returns the RetentionPolicy this store was constructed
// with, for a Sweeper to consult.
func (s *FileStore) Retention() RetentionPolicy { return s.retention }

// Anonymize replaces stored content with a placeholder, preserving
// linkages. The removal of content is itself expected to be followed by
// a ledger ANONYMIZATION event at the caller's discretion (spec.md §3,
// §4.7).
func (s *FileStore) Anonymize(ctx context.Context, idOrHash string) (Artifact, error) {
	a, err := s.idx.get(idOrHash)
	if err != nil {
		return Artifact{}, err
	}
	if err := s.deleteBlob(ctx, a.ContentHash); err != nil {
		return Artifact{}, fmt.Errorf("evidence: anonymize: %w", err)
	}
	updated, err := s.idx.markAnonymized(idOrHash)
	if err != nil {
		return Artifact{}, err
	}
	if err := s.saveIndex(); err != nil {
		return Artifact{}, err
	}
	return updated, nil
}
