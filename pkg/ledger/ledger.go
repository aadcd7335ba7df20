// Package ledger implements the hash-chained, append-only log every
// Decision (and anonymization sweep) is recorded to. Writes are
// serialized through a single in-process writer goroutine per Ledger
// instance, regardless of backend, so concurrent Append callers queue
// rather than race on seq assignment — mirroring the single-writer
// model the teacher's kernel event log and store/ledger packages both
// assume.
package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lexecon-dev/lexecon/pkg/canonical"
	"github.com/lexecon-dev/lexecon/pkg/identity"
)

// EventType enumerates the kinds of entry the ledger records. It is a
// string type so domain-specific event types can be added without
// touching this package.
type EventType string

const (
	EventGenesis       EventType = "GENESIS"
	EventDecision      EventType = "DECISION"
	EventAnonymization EventType = "ANONYMIZATION"
	EventPolicyLoad    EventType = "POLICY_LOAD"
)

// Entry is one immutable link in the chain.
type Entry struct {
	Seq       uint64             `json:"seq"`
	EventType EventType          `json:"event_type"`
	Timestamp time.Time          `json:"timestamp"`
	Payload   json.RawMessage    `json:"payload"`
	PrevHash  string             `json:"prev_hash"`
	Hash      string             `json:"hash"`
	Algorithm identity.Algorithm `json:"algorithm,omitempty"`
	Signature string             `json:"signature,omitempty"`
}

// hashPreimage is the canonical shape hash_n is computed over: every
// field of Entry except Hash, Algorithm, and Signature — but including
// PrevHash, per the chain-linkage invariant.
type hashPreimage struct {
	Seq       uint64          `json:"seq"`
	EventType EventType       `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
}

func computeHash(e Entry) (string, error) {
	pre := hashPreimage{Seq: e.Seq, EventType: e.EventType, Timestamp: e.Timestamp, Payload: e.Payload, PrevHash: e.PrevHash}
	return canonical.Hash(pre)
}

// Iterator is a lazy, restartable cursor over a Range call.
type Iterator interface {
	Next() bool
	Entry() Entry
	Err() error
	Close() error
}

// CheckFailure describes the first point at which Verify found the chain
// broken.
type CheckFailure struct {
	Seq    uint64
	Reason string
}

// VerifyReport is the result of walking a slice of the chain.
type VerifyReport struct {
	OK       bool
	Checked  uint64
	Failure  *CheckFailure
}

// Ledger is the append-only log contract. Implementations: MemoryLedger
// (tests, single-process deployments) and SQLLedger (Postgres/SQLite via
// database/sql).
type Ledger interface {
	Append(ctx context.Context, eventType EventType, payload interface{}) (Entry, error)
	Get(ctx context.Context, seq uint64) (Entry, error)
	GetByHash(ctx context.Context, hash string) (Entry, error)
	Range(ctx context.Context, from, to uint64) (Iterator, error)
	Verify(ctx context.Context, from, to uint64) (VerifyReport, error)
	Head(ctx context.Context) (Entry, error)
}

// ErrNotFound is returned by Get/GetByHash when no matching entry exists.
var ErrNotFound = fmt.Errorf("ledger: entry not found")

// Clock is the injected time source for entry timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the production Clock.
var SystemClock Clock = systemClock{}

// backend is the storage-specific half of a Ledger: sequencing,
// persistence, and lookup. chainLedger supplies hashing, signing, and
// the single-writer queue on top of any backend.
type backend interface {
	last(ctx context.Context) (Entry, bool, error)
	persist(ctx context.Context, e Entry) error
	get(ctx context.Context, seq uint64) (Entry, error)
	getByHash(ctx context.Context, hash string) (Entry, error)
	rangeEntries(ctx context.Context, from, to uint64) ([]Entry, error)
}

type appendRequest struct {
	eventType EventType
	payload   interface{}
	resp      chan appendResponse
}

type appendResponse struct {
	entry Entry
	err   error
}

// chainLedger implements Ledger over any backend, serializing Append
// calls through a single goroutine so seq assignment and prev_hash
// linkage never race.
type chainLedger struct {
	b       backend
	signer  identity.KeyPair
	clock   Clock
	reqs    chan appendRequest
	closeCh chan struct{}
}

func newChainLedger(b backend, signer identity.KeyPair, clock Clock) *chainLedger {
	if clock == nil {
		clock = SystemClock
	}
	l := &chainLedger{b: b, signer: signer, clock: clock, reqs: make(chan appendRequest), closeCh: make(chan struct{})}
	go l.run()
	return l
}

func (l *chainLedger) run() {
	for {
		select {
		case req := <-l.reqs:
			entry, err := l.doAppend(context.Background(), req.eventType, req.payload)
			req.resp <- appendResponse{entry: entry, err: err}
		case <-l.closeCh:
			return
		}
	}
}

func (l *chainLedger) ensureGenesis(ctx context.Context) error {
	_, ok, err := l.b.last(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	genesis := Entry{
		Seq:       0,
		EventType: EventGenesis,
		Timestamp: l.clock.Now(),
		Payload:   json.RawMessage(`{}`),
		PrevHash:  canonical.ZeroHash,
	}
	hash, err := computeHash(genesis)
	if err != nil {
		return fmt.Errorf("ledger: hash genesis: %w", err)
	}
	genesis.Hash = hash
	if err := l.signEntry(&genesis); err != nil {
		return err
	}
	return l.b.persist(ctx, genesis)
}

func (l *chainLedger) signEntry(e *Entry) error {
	if l.signer == nil {
		return nil
	}
	sig, err := l.signer.Sign([]byte(e.Hash))
	if err != nil {
		return fmt.Errorf("ledger: sign entry %d: %w", e.Seq, err)
	}
	e.Algorithm = l.signer.Algorithm()
	e.Signature = hex.EncodeToString(sig)
	return nil
}

func (l *chainLedger) doAppend(ctx context.Context, eventType EventType, payload interface{}) (Entry, error) {
	if err := l.ensureGenesis(ctx); err != nil {
		return Entry{}, err
	}
	last, ok, err := l.b.last(ctx)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, fmt.Errorf("ledger: no entries after genesis ensure, internal inconsistency")
	}

	raw, err := canonical.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: canonicalize payload: %w", err)
	}

	e := Entry{
		Seq:       last.Seq + 1,
		EventType: eventType,
		Timestamp: l.clock.Now(),
		Payload:   json.RawMessage(raw),
		PrevHash:  last.Hash,
	}
	hash, err := computeHash(e)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: hash entry: %w", err)
	}
	e.Hash = hash
	if err := l.signEntry(&e); err != nil {
		return Entry{}, err
	}
	if err := l.b.persist(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("ledger: persist: %w", err)
	}
	return e, nil
}

// Append queues a write and blocks until the single writer goroutine has
// durably persisted it.
func (l *chainLedger) Append(ctx context.Context, eventType EventType, payload interface{}) (Entry, error) {
	resp := make(chan appendResponse, 1)
	select {
	case l.reqs <- appendRequest{eventType: eventType, payload: payload, resp: resp}:
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.entry, r.err
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}

func (l *chainLedger) Get(ctx context.Context, seq uint64) (Entry, error) {
	if err := l.ensureGenesis(ctx); err != nil {
		return Entry{}, err
	}
	return l.b.get(ctx, seq)
}

func (l *chainLedger) GetByHash(ctx context.Context, hash string) (Entry, error) {
	if err := l.ensureGenesis(ctx); err != nil {
		return Entry{}, err
	}
	return l.b.getByHash(ctx, hash)
}

func (l *chainLedger) Head(ctx context.Context) (Entry, error) {
	if err := l.ensureGenesis(ctx); err != nil {
		return Entry{}, err
	}
	e, ok, err := l.b.last(ctx)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

type sliceIterator struct {
	entries []Entry
	pos     int
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.entries) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Entry() Entry {
	return it.entries[it.pos-1]
}

func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }

func (l *chainLedger) Range(ctx context.Context, from, to uint64) (Iterator, error) {
	if err := l.ensureGenesis(ctx); err != nil {
		return nil, err
	}
	entries, err := l.b.rangeEntries(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return &sliceIterator{entries: entries}, nil
}

// Verify walks [from, to) (inclusive of from, exclusive of to as with
// Range) recomputing each hash, checking chain linkage, and verifying
// signatures when a signer is configured. It never errors on corruption;
// corruption is reported in VerifyReport.
func (l *chainLedger) Verify(ctx context.Context, from, to uint64) (VerifyReport, error) {
	it, err := l.Range(ctx, from, to)
	if err != nil {
		return VerifyReport{}, err
	}
	defer it.Close()

	var checked uint64
	var prevHash string
	havePrev := from > 0
	if havePrev {
		prior, err := l.Get(ctx, from-1)
		if err != nil {
			return VerifyReport{}, err
		}
		prevHash = prior.Hash
	}

	for it.Next() {
		e := it.Entry()
		checked++

		if havePrev && e.PrevHash != prevHash {
			return VerifyReport{OK: false, Checked: checked, Failure: &CheckFailure{Seq: e.Seq, Reason: "prev_hash mismatch"}}, nil
		}
		if !havePrev && e.Seq == 0 && e.PrevHash != canonical.ZeroHash {
			return VerifyReport{OK: false, Checked: checked, Failure: &CheckFailure{Seq: e.Seq, Reason: "genesis prev_hash is not zero hash"}}, nil
		}

		wantHash, err := computeHash(e)
		if err != nil {
			return VerifyReport{}, err
		}
		if wantHash != e.Hash {
			return VerifyReport{OK: false, Checked: checked, Failure: &CheckFailure{Seq: e.Seq, Reason: "content hash mismatch"}}, nil
		}

		if e.Signature != "" && l.signer != nil {
			ok := l.signer.Verify([]byte(e.Hash), mustHexDecode(e.Signature))
			if !ok {
				return VerifyReport{OK: false, Checked: checked, Failure: &CheckFailure{Seq: e.Seq, Reason: "signature invalid"}}, nil
			}
		}

		prevHash = e.Hash
		havePrev = true
	}
	if err := it.Err(); err != nil {
		return VerifyReport{}, err
	}

	return VerifyReport{OK: true, Checked: checked}, nil
}

// mustHexDecode decodes a hex signature for comparison; malformed hex
// decodes to nil, which simply fails Verify's signature check rather
// than panicking.
func mustHexDecode(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// Close stops the writer goroutine. Safe to call once; further Append
// calls block until their context is done, matching the teacher's pattern of not
// supporting reopen after shutdown.
func (l *chainLedger) Close() {
	close(l.closeCh)
}
