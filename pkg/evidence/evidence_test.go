package evidence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFileStore_PutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Put(ctx, []byte("hello world"), CategoryDecisionLog, RetentionStandard, []string{"dec-1"})
	require.NoError(t, err)
	require.Equal(t, ContentHash([]byte("hello world")), a.ID)

	got, content, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), content)
	require.Equal(t, CategoryDecisionLog, got.Category)
}

func TestFileStore_PutIsIdempotentByContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a1, err := s.Put(ctx, []byte("same content"), CategoryAttestation, RetentionStandard, []string{"dec-1"})
	require.NoError(t, err)
	a2, err := s.Put(ctx, []byte("same content"), CategoryAttestation, RetentionStandard, []string{"dec-2"})
	require.NoError(t, err)

	require.Equal(t, a1.ID, a2.ID)

	linked, err := s.ListByDecision(ctx, "dec-2")
	require.NoError(t, err)
	require.Len(t, linked, 1)
	require.Equal(t, a1.ID, linked[0].ID)

	// Both linkages are now present on the single collapsed artifact.
	final, _, err := s.Get(ctx, a1.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"dec-1", "dec-2"}, final.Links)
}

func TestFileStore_RejectsOversizedContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	oversized := make([]byte, MaxContentSize+1)
	_, err := s.Put(ctx, oversized, CategoryScreenshot, RetentionStandard, nil)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestFileStore_LinkAddsNewDecisionWithoutDuplication(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Put(ctx, []byte("x"), CategoryAuditTrail, RetentionStandard, []string{"dec-1"})
	require.NoError(t, err)

	require.NoError(t, s.Link(ctx, a.ID, "dec-1")) // duplicate link is a no-op
	require.NoError(t, s.Link(ctx, a.ID, "dec-2"))

	final, _, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"dec-1", "dec-2"}, final.Links)
}

func TestFileStore_AnonymizePreservesLinksButDropsContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Put(ctx, []byte("sensitive"), CategoryExternalReport, RetentionShort, []string{"dec-9"})
	require.NoError(t, err)

	anon, err := s.Anonymize(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, anon.Anonymized)
	require.Equal(t, []string{"dec-9"}, anon.Links)

	got, content, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Nil(t, content)
	require.True(t, got.Anonymized)
}

func TestFileStore_GetUnknownReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Get(context.Background(), "deadbeef")
	require.ErrorIs(t, err, ErrNotFound)
}
