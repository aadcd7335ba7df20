package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lexecon-dev/lexecon/pkg/identity"
)

// Dialect selects the placeholder and DDL style for SQLLedger's backing
// database. lib/pq (Postgres) requires $N placeholders; modernc.org/sqlite
// accepts either but we use ? for clarity and to match its conventions.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	seq INTEGER PRIMARY KEY,
	event_type TEXT NOT NULL,
	ts TIMESTAMP NOT NULL,
	payload TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL UNIQUE,
	algorithm TEXT,
	signature TEXT
);
`

type sqlBackend struct {
	db      *sql.DB
	dialect Dialect
}

func newSQLBackend(db *sql.DB, dialect Dialect) *sqlBackend {
	return &sqlBackend{db: db, dialect: dialect}
}

// Init creates the ledger_entries table if it doesn't already exist.
// Callers run this once at startup, through SQLLedger.Init, before the
// first Append.
func (s *sqlBackend) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqlSchema)
	return err
}

func (s *sqlBackend) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *sqlBackend) scanRow(row interface{ Scan(...interface{}) error }) (Entry, error) {
	var e Entry
	var payload string
	var algorithm, signature sql.NullString
	if err := row.Scan(&e.Seq, &e.EventType, &e.Timestamp, &payload, &e.PrevHash, &e.Hash, &algorithm, &signature); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	e.Payload = json.RawMessage(payload)
	e.Algorithm = identity.Algorithm(algorithm.String)
	e.Signature = signature.String
	return e, nil
}

func (s *sqlBackend) last(ctx context.Context) (Entry, bool, error) {
	query := `SELECT seq, event_type, ts, payload, prev_hash, hash, algorithm, signature FROM ledger_entries ORDER BY seq DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, query)
	e, err := s.scanRow(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return e, true, nil
}

func (s *sqlBackend) persist(ctx context.Context, e Entry) error {
	query := fmt.Sprintf(
		`INSERT INTO ledger_entries (seq, event_type, ts, payload, prev_hash, hash, algorithm, signature) VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4),
		s.placeholder(5), s.placeholder(6), s.placeholder(7), s.placeholder(8),
	)
	_, err := s.db.ExecContext(ctx, query, e.Seq, e.EventType, e.Timestamp, string(e.Payload), e.PrevHash, e.Hash, string(e.Algorithm), e.Signature)
	return err
}

func (s *sqlBackend) get(ctx context.Context, seq uint64) (Entry, error) {
	query := fmt.Sprintf(`SELECT seq, event_type, ts, payload, prev_hash, hash, algorithm, signature FROM ledger_entries WHERE seq = %s`, s.placeholder(1))
	row := s.db.QueryRowContext(ctx, query, seq)
	return s.scanRow(row)
}

func (s *sqlBackend) getByHash(ctx context.Context, hash string) (Entry, error) {
	query := fmt.Sprintf(`SELECT seq, event_type, ts, payload, prev_hash, hash, algorithm, signature FROM ledger_entries WHERE hash = %s`, s.placeholder(1))
	row := s.db.QueryRowContext(ctx, query, hash)
	return s.scanRow(row)
}

func (s *sqlBackend) rangeEntries(ctx context.Context, from, to uint64) ([]Entry, error) {
	query := fmt.Sprintf(`SELECT seq, event_type, ts, payload, prev_hash, hash, algorithm, signature FROM ledger_entries WHERE seq >= %s AND seq < %s ORDER BY seq ASC`, s.placeholder(1), s.placeholder(2))
	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SQLLedger is a Ledger backed by database/sql — lib/pq in production,
// modernc.org/sqlite for embedded or test deployments.
type SQLLedger struct {
	*chainLedger
	backend *sqlBackend
}

// NewSQLLedger wraps an already-open *sql.DB. Callers must call Init
// once (e.g. at process startup) before using the ledger.
func NewSQLLedger(db *sql.DB, dialect Dialect, signer identity.KeyPair, clock Clock) *SQLLedger {
	b := newSQLBackend(db, dialect)
	return &SQLLedger{chainLedger: newChainLedger(b, signer, clock), backend: b}
}

// Init creates the backing table if it does not already exist.
func (s *SQLLedger) Init(ctx context.Context) error {
	return s.backend.Init(ctx)
}
