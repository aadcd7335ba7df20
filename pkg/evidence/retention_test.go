package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexecon-dev/lexecon/pkg/identity"
	"github.com/lexecon-dev/lexecon/pkg/ledger"
)

func TestDefaultRetentionPolicy_HighRiskOutlastsStandard(t *testing.T) {
	policy := DefaultRetentionPolicy()
	require.Greater(t, policy[RetentionHighRisk], policy[RetentionStandard])
	require.Greater(t, policy[RetentionStandard], policy[RetentionShort])
}

func TestFileStore_ListAllReturnsEveryArtifact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, []byte("a"), CategoryDecisionLog, RetentionStandard, []string{"dec-1"})
	require.NoError(t, err)
	_, err = s.Put(ctx, []byte("b"), CategoryAuditTrail, RetentionShort, []string{"dec-2"})
	require.NoError(t, err)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestSweeper_AnonymizesExpiredAndRecordsLedgerEvent(t *testing.T) {
	policy := RetentionPolicy{RetentionShort: time.Hour}
	s, err := NewFileStore(t.TempDir(), policy)
	require.NoError(t, err)

	signer, err := identity.GenerateEd25519()
	require.NoError(t, err)
	led := ledger.NewMemoryLedger(signer, nil)

	ctx := context.Background()
	a, err := s.Put(ctx, []byte("stale"), CategoryExternalReport, RetentionShort, []string{"dec-1"})
	require.NoError(t, err)

	// Backdate the artifact past its one-hour retention by going straight
	// at the index rather than manipulating the system clock.
	s.idx.mu.Lock()
	stale := s.idx.artifacts[a.ID]
	stale.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	s.idx.artifacts[a.ID] = stale
	s.idx.mu.Unlock()

	sweeper, err := NewSweeper(s, led, nil)
	require.NoError(t, err)

	anonymized, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{a.ID}, anonymized)

	got, _, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, got.Anonymized)

	head, err := led.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, ledger.EventAnonymization, head.EventType)
}

func TestSweeper_SkipsArtifactsWithinRetention(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), DefaultRetentionPolicy())
	require.NoError(t, err)

	signer, err := identity.GenerateEd25519()
	require.NoError(t, err)
	led := ledger.NewMemoryLedger(signer, nil)

	ctx := context.Background()
	_, err = s.Put(ctx, []byte("fresh"), CategoryDecisionLog, RetentionStandard, []string{"dec-1"})
	require.NoError(t, err)

	sweeper, err := NewSweeper(s, led, nil)
	require.NoError(t, err)

	anonymized, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Empty(t, anonymized)
}
