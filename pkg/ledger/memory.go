package ledger

import (
	"context"
	"sync"

	"github.com/lexecon-dev/lexecon/pkg/identity"
)

// memoryBackend stores entries in process memory, indexed by seq and by
// hash. Suitable for tests and single-process deployments that don't
// need the entries to survive a restart.
type memoryBackend struct {
	mu      sync.RWMutex
	bySeq   []Entry
	byHash  map[string]uint64
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{byHash: make(map[string]uint64)}
}

func (m *memoryBackend) last(ctx context.Context) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.bySeq) == 0 {
		return Entry{}, false, nil
	}
	return m.bySeq[len(m.bySeq)-1], true, nil
}

func (m *memoryBackend) persist(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySeq = append(m.bySeq, e)
	m.byHash[e.Hash] = e.Seq
	return nil
}

func (m *memoryBackend) get(ctx context.Context, seq uint64) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if seq >= uint64(len(m.bySeq)) {
		return Entry{}, ErrNotFound
	}
	return m.bySeq[seq], nil
}

func (m *memoryBackend) getByHash(ctx context.Context, hash string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, ok := m.byHash[hash]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return m.bySeq[seq], nil
}

func (m *memoryBackend) rangeEntries(ctx context.Context, from, to uint64) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := uint64(len(m.bySeq))
	if from >= n {
		return nil, nil
	}
	if to > n {
		to = n
	}
	if from >= to {
		return nil, nil
	}
	out := make([]Entry, to-from)
	copy(out, m.bySeq[from:to])
	return out, nil
}

// MemoryLedger is an in-process Ledger backed by memoryBackend.
type MemoryLedger struct {
	*chainLedger
}

// NewMemoryLedger constructs an empty MemoryLedger. signer may be nil,
// in which case entries are unsigned and Verify skips signature checks.
func NewMemoryLedger(signer identity.KeyPair, clock Clock) *MemoryLedger {
	return &MemoryLedger{chainLedger: newChainLedger(newMemoryBackend(), signer, clock)}
}
