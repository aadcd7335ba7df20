package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/lexecon-dev/lexecon/pkg/canonical"
	"github.com/lexecon-dev/lexecon/pkg/identity"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f fakeClock) Now() time.Time { return f.t }

func TestMemoryLedger_GenesisEntry(t *testing.T) {
	l := NewMemoryLedger(nil, nil)
	ctx := context.Background()

	head, err := l.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), head.Seq)
	require.Equal(t, EventGenesis, head.EventType)
	require.Equal(t, canonical.ZeroHash, head.PrevHash)
}

func TestMemoryLedger_AppendChainsHashes(t *testing.T) {
	l := NewMemoryLedger(nil, fakeClock{t: time.Unix(0, 0).UTC()})
	ctx := context.Background()

	e1, err := l.Append(ctx, EventDecision, map[string]string{"k": "v1"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), e1.Seq)

	genesis, err := l.Get(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, genesis.Hash, e1.PrevHash)

	e2, err := l.Append(ctx, EventDecision, map[string]string{"k": "v2"})
	require.NoError(t, err)
	require.Equal(t, e1.Hash, e2.PrevHash)
}

func TestMemoryLedger_GetByHash(t *testing.T) {
	l := NewMemoryLedger(nil, nil)
	ctx := context.Background()
	e, err := l.Append(ctx, EventDecision, map[string]string{"x": "1"})
	require.NoError(t, err)

	found, err := l.GetByHash(ctx, e.Hash)
	require.NoError(t, err)
	require.Equal(t, e.Seq, found.Seq)

	_, err = l.GetByHash(ctx, "deadbeef")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLedger_VerifyDetectsTamper(t *testing.T) {
	kp, err := identity.GenerateEd25519()
	require.NoError(t, err)
	l := NewMemoryLedger(kp, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, EventDecision, map[string]int{"i": i})
		require.NoError(t, err)
	}

	report, err := l.Verify(ctx, 0, 6)
	require.NoError(t, err)
	require.True(t, report.OK)
	require.Equal(t, uint64(6), report.Checked)

	backend := l.chainLedger.b.(*memoryBackend)
	backend.mu.Lock()
	backend.bySeq[3].Payload = []byte(`{"tampered":true}`)
	backend.mu.Unlock()

	report, err = l.Verify(ctx, 0, 6)
	require.NoError(t, err)
	require.False(t, report.OK)
	require.NotNil(t, report.Failure)
	require.Equal(t, uint64(3), report.Failure.Seq)
}

func TestMemoryLedger_RangeIsBounded(t *testing.T) {
	l := NewMemoryLedger(nil, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, EventDecision, i)
		require.NoError(t, err)
	}

	it, err := l.Range(ctx, 1, 100)
	require.NoError(t, err)
	var seqs []uint64
	for it.Next() {
		seqs = append(seqs, it.Entry().Seq)
	}
	require.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestMemoryLedger_ConcurrentAppendsSerialize(t *testing.T) {
	l := NewMemoryLedger(nil, nil)
	ctx := context.Background()

	const n = 50
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := l.Append(ctx, EventDecision, map[string]int{"i": i})
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	head, err := l.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(n), head.Seq)

	report, err := l.Verify(ctx, 0, head.Seq+1)
	require.NoError(t, err)
	require.True(t, report.OK)
}
