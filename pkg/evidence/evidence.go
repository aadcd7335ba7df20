// Package evidence implements the content-addressed, immutable blob
// store for decision logs, policy snapshots, attestations, and other
// artifacts a Decision references. The primary key is always the
// lowercase hex SHA-256 of the content; identical content submitted
// twice collapses to one artifact with multiple decision linkages.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Category enumerates the kinds of artifact the store accepts.
type Category string

const (
	CategoryDecisionLog    Category = "decision_log"
	CategoryPolicySnapshot Category = "policy_snapshot"
	CategoryAttestation    Category = "attestation"
	CategoryScreenshot     Category = "screenshot"
	CategoryAuditTrail     Category = "audit_trail"
	CategoryExternalReport Category = "external_report"
)

// RetentionClass drives how long an artifact's content survives before
// the anonymization sweep replaces it with a placeholder.
type RetentionClass string

const (
	RetentionStandard RetentionClass = "standard"
	RetentionShort    RetentionClass = "short"
	RetentionHighRisk RetentionClass = "high_risk" // default 10 years, per spec.md §3
)

// RetentionPolicy maps each RetentionClass to how long its content
// survives before the sweep anonymizes it (spec.md §9 Open Questions:
// retention durations are config, not hard-coded). Supplied at Store
// construction; a nil policy is treated as DefaultRetentionPolicy.
type RetentionPolicy map[RetentionClass]time.Duration

// DefaultRetentionPolicy returns the fallback durations spec.md §3's
// lifecycle note cites directly: 10 years for high-risk categories,
// shorter otherwise.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionHighRisk: 10 * 365 * 24 * time.Hour,
		RetentionStandard: 2 * 365 * 24 * time.Hour,
		RetentionShort:    90 * 24 * time.Hour,
	}
}

// firstPolicy returns the one RetentionPolicy a constructor's variadic
// trailing argument carried, or nil (selecting the default) if omitted.
func firstPolicy(policies []RetentionPolicy) RetentionPolicy {
	if len(policies) == 0 {
		return nil
	}
	return policies[0]
}

func (p RetentionPolicy) durationFor(class RetentionClass) time.Duration {
	if p == nil {
		return DefaultRetentionPolicy()[class]
	}
	if d, ok := p[class]; ok {
		return d
	}
	return DefaultRetentionPolicy()[class]
}

// MaxContentSize bounds a single artifact's content (spec.md §4.7).
const MaxContentSize = 100 * 1024 * 1024 // 100 MiB

// ErrTooLarge is returned by Put when content exceeds MaxContentSize.
var ErrTooLarge = fmt.Errorf("evidence: content exceeds %d bytes", MaxContentSize)

// ErrNotFound is returned by Get when no artifact matches.
var ErrNotFound = fmt.Errorf("evidence: artifact not found")

// Artifact is the metadata record the store tracks per unique content
// hash. Content itself is held by the backend (filesystem, S3, GCS).
type Artifact struct {
	ID              string         `json:"id"` // equals ContentHash; kept distinct for readability
	Category        Category       `json:"category"`
	ContentHash     string         `json:"content_hash"`
	Size            int64          `json:"size"`
	RetentionClass  RetentionClass `json:"retention_class"`
	ProducerSig     string         `json:"producer_signature,omitempty"`
	Links           []string       `json:"links"` // decision ids
	CreatedAt       time.Time      `json:"created_at"`
	Anonymized      bool           `json:"anonymized"`
}

// ContentHash computes the store's primary key for a blob of content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Store is the evidence store contract. Put is idempotent: resubmitting
// identical content returns the existing artifact id and adds the new
// linkage if not already present.
type Store interface {
	Put(ctx context.Context, content []byte, category Category, retention RetentionClass, links []string) (Artifact, error)
	Get(ctx context.Context, idOrHash string) (Artifact, []byte, error)
	Link(ctx context.Context, idOrHash, decisionID string) error
	ListByDecision(ctx context.Context, decisionID string) ([]Artifact, error)
	Anonymize(ctx context.Context, idOrHash string) (Artifact, error)
	// ListAll enumerates every artifact's metadata, in no particular
	// order. It exists for the retention Sweeper (see retention.go);
	// content is never returned, only the metadata the sweep decides on.
	ListAll(ctx context.Context) ([]Artifact, error)
}

// blobBackend is the narrow persistence contract a Store implementation
// delegates raw bytes to; FileStore/S3Store/GCSStore each implement it,
// and metadataIndex (below) supplies the shared Put/Link/ListByDecision
// bookkeeping on top.
type blobBackend interface {
	putBlob(ctx context.Context, hash string, content []byte) error
	getBlob(ctx context.Context, hash string) ([]byte, error)
	deleteBlob(ctx context.Context, hash string) error
}

// metadataIndex implements the Category/links/created-at bookkeeping
// that all three backends share; each backend embeds it and supplies
// putBlob/getBlob/deleteBlob for where the content bytes actually live.
type metadataIndex struct {
	mu        sync.RWMutex
	artifacts map[string]Artifact // contentHash -> Artifact
	byDecision map[string][]string // decisionID -> contentHashes
}

func newMetadataIndex() *metadataIndex {
	return &metadataIndex{
		artifacts:  make(map[string]Artifact),
		byDecision: make(map[string][]string),
	}
}

func (idx *metadataIndex) put(backend blobBackend, ctx context.Context, content []byte, category Category, retention RetentionClass, links []string) (Artifact, error) {
	if len(content) > MaxContentSize {
		return Artifact{}, ErrTooLarge
	}
	hash := ContentHash(content)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existing, ok := idx.artifacts[hash]; ok {
		for _, d := range links {
			idx.linkLocked(&existing, d)
		}
		idx.artifacts[hash] = existing
		return existing, nil
	}

	if err := backend.putBlob(ctx, hash, content); err != nil {
		return Artifact{}, fmt.Errorf("evidence: put blob: %w", err)
	}

	a := Artifact{
		ID:             hash,
		Category:       category,
		ContentHash:    hash,
		Size:           int64(len(content)),
		RetentionClass: retention,
		Links:          append([]string(nil), links...),
		CreatedAt:       time.Now().UTC(),
	}
	idx.artifacts[hash] = a
	for _, d := range a.Links {
		idx.byDecision[d] = append(idx.byDecision[d], hash)
	}
	return a, nil
}

// linkLocked appends decisionID to the artifact's links, maintaining the
// byDecision index, unless it is already present. Caller holds idx.mu.
func (idx *metadataIndex) linkLocked(a *Artifact, decisionID string) {
	for _, existing := range a.Links {
		if existing == decisionID {
			return
		}
	}
	a.Links = append(a.Links, decisionID)
	idx.byDecision[decisionID] = append(idx.byDecision[decisionID], a.ContentHash)
}

func (idx *metadataIndex) link(idOrHash, decisionID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	a, ok := idx.artifacts[idOrHash]
	if !ok {
		return ErrNotFound
	}
	idx.linkLocked(&a, decisionID)
	idx.artifacts[idOrHash] = a
	return nil
}

func (idx *metadataIndex) get(idOrHash string) (Artifact, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	a, ok := idx.artifacts[idOrHash]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	return a, nil
}

func (idx *metadataIndex) listByDecision(decisionID string) []Artifact {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	hashes := idx.byDecision[decisionID]
	out := make([]Artifact, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, idx.artifacts[h])
	}
	return out
}

func (idx *metadataIndex) listAll() []Artifact {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Artifact, 0, len(idx.artifacts))
	for _, a := range idx.artifacts {
		out = append(out, a)
	}
	return out
}

func (idx *metadataIndex) markAnonymized(idOrHash string) (Artifact, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	a, ok := idx.artifacts[idOrHash]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	a.Anonymized = true
	a.Size = 0
	idx.artifacts[idOrHash] = a
	return a, nil
}

// indexSnapshot is the on-disk shape FileStore persists so its metadata
// survives process restarts; byDecision is rebuilt from artifacts rather
// than stored twice.
type indexSnapshot struct {
	Artifacts map[string]Artifact `json:"artifacts"`
}

func (idx *metadataIndex) snapshot() indexSnapshot {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string]Artifact, len(idx.artifacts))
	for k, v := range idx.artifacts {
		out[k] = v
	}
	return indexSnapshot{Artifacts: out}
}

func (idx *metadataIndex) restore(snap indexSnapshot) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.artifacts = make(map[string]Artifact, len(snap.Artifacts))
	idx.byDecision = make(map[string][]string)
	for hash, a := range snap.Artifacts {
		idx.artifacts[hash] = a
		for _, d := range a.Links {
			idx.byDecision[d] = append(idx.byDecision[d], hash)
		}
	}
}
