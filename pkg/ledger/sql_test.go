package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var sqlCols = []string{"seq", "event_type", "ts", "payload", "prev_hash", "hash", "algorithm", "signature"}

func TestSQLLedger_InitCreatesSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewSQLLedger(db, DialectPostgres, nil, fakeClock{t: time.Unix(0, 0).UTC()})

	mock.ExpectExec("(?i)CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, l.Init(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_AppendCreatesGenesisThenEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	clock := fakeClock{t: time.Unix(1000, 0).UTC()}
	l := NewSQLLedger(db, DialectPostgres, nil, clock)
	ctx := context.Background()

	// ensureGenesis: last() finds nothing, persists genesis.
	mock.ExpectQuery("SELECT .* FROM ledger_entries ORDER BY seq DESC").
		WillReturnRows(sqlmock.NewRows(sqlCols))
	mock.ExpectExec("INSERT INTO ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))

	// doAppend: last() now returns genesis, then persists the new entry.
	mock.ExpectQuery("SELECT .* FROM ledger_entries ORDER BY seq DESC").
		WillReturnRows(sqlmock.NewRows(sqlCols).AddRow(
			uint64(0), EventGenesis, clock.t, "{}", "0000000000000000000000000000000000000000000000000000000000000000", "genesishash", "", "",
		))
	mock.ExpectExec("INSERT INTO ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))

	e, err := l.Append(ctx, EventDecision, map[string]string{"a": "b"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), e.Seq)
	require.Equal(t, "genesishash", e.PrevHash)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_GetByHashNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewSQLLedger(db, DialectPostgres, nil, fakeClock{t: time.Unix(0, 0).UTC()})
	ctx := context.Background()

	// ensureGenesis check before GetByHash.
	mock.ExpectQuery("SELECT .* FROM ledger_entries ORDER BY seq DESC").
		WillReturnRows(sqlmock.NewRows(sqlCols).AddRow(
			uint64(0), EventGenesis, time.Unix(0, 0).UTC(), "{}", "zero", "genesishash", "", "",
		))
	mock.ExpectQuery("SELECT .* FROM ledger_entries WHERE hash").
		WillReturnRows(sqlmock.NewRows(sqlCols))

	_, err = l.GetByHash(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
