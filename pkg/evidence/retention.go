package evidence

import (
	"context"
	"fmt"
	"time"

	"github.com/lexecon-dev/lexecon/pkg/ledger"
)

// retainer is implemented by every Store backend: ListAll for
// enumeration and Retention for the policy it was constructed with.
type retainer interface {
	Store
	Retention() RetentionPolicy
}

// anonymizationRecord is the ANONYMIZATION ledger payload: spec.md §4.7
// requires the sweep to be independently auditable, so the event
// carries enough to confirm which artifact was anonymized and why,
// without needing the (now-discarded) content itself.
type anonymizationRecord struct {
	ArtifactID     string         `json:"artifact_id"`
	ContentHash    string         `json:"content_hash"`
	Category       Category       `json:"category"`
	RetentionClass RetentionClass `json:"retention_class"`
	CreatedAt      time.Time      `json:"created_at"`
	AnonymizedAt   time.Time      `json:"anonymized_at"`
}

// Sweeper walks a Store's artifacts and anonymizes whatever has aged
// past its RetentionClass's configured duration, appending a distinct
// ANONYMIZATION ledger entry for each one (spec.md §4.7: "Anonymization
// itself is a distinct ledger event for auditability"). Grounded on the
// same ledger.Ledger the Decision Service appends DECISION/POLICY_LOAD
// entries through, so a sweep's audit trail lives in the same chain.
type Sweeper struct {
	store  retainer
	ledger ledger.Ledger
	clock  func() time.Time
}

// NewSweeper builds a Sweeper over store (which must also implement
// Retention, as every backend in this package does) and led. clock
// defaults to time.Now if nil.
func NewSweeper(store Store, led ledger.Ledger, clock func() time.Time) (*Sweeper, error) {
	r, ok := store.(retainer)
	if !ok {
		return nil, fmt.Errorf("evidence: store %T does not expose a RetentionPolicy", store)
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Sweeper{store: r, ledger: led, clock: clock}, nil
}

// expired reports whether a, created at a.CreatedAt with class
// a.RetentionClass, has aged past policy's duration for that class as
// of now. A zero duration means the class never expires.
func expired(a Artifact, policy RetentionPolicy, now time.Time) bool {
	if a.Anonymized {
		return false
	}
	d := policy.durationFor(a.RetentionClass)
	if d <= 0 {
		return false
	}
	return now.Sub(a.CreatedAt) >= d
}

// Sweep anonymizes every expired, not-yet-anonymized artifact and
// records one ANONYMIZATION ledger entry per artifact. It returns the
// ids anonymized; a partial failure returns what succeeded so far
// alongside the error, since each artifact's anonymize-then-append is
// independent of the others.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("evidence: sweep: list artifacts: %w", err)
	}

	now := s.clock()
	policy := s.store.Retention()

	var anonymized []string
	for _, a := range all {
		if !expired(a, policy, now) {
			continue
		}

		updated, err := s.store.Anonymize(ctx, a.ID)
		if err != nil {
			return anonymized, fmt.Errorf("evidence: sweep: anonymize %s: %w", a.ID, err)
		}

		rec := anonymizationRecord{
			ArtifactID:     updated.ID,
			ContentHash:    a.ContentHash,
			Category:       a.Category,
			RetentionClass: a.RetentionClass,
			CreatedAt:      a.CreatedAt,
			AnonymizedAt:   now,
		}
		if _, err := s.ledger.Append(ctx, ledger.EventAnonymization, rec); err != nil {
			return anonymized, fmt.Errorf("evidence: sweep: ledger append for %s: %w", a.ID, err)
		}
		anonymized = append(anonymized, a.ID)
	}
	return anonymized, nil
}
