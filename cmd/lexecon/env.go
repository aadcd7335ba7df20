package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/lexecon-dev/lexecon/pkg/canonical"
	"github.com/lexecon-dev/lexecon/pkg/evidence"
	"github.com/lexecon-dev/lexecon/pkg/identity"
	"github.com/lexecon-dev/lexecon/pkg/ledger"
	"github.com/lexecon-dev/lexecon/pkg/policy"
	"github.com/lexecon-dev/lexecon/pkg/risk"
)

// node bundles the storage handles every subcommand but init opens
// against an existing --dir. One lexecon process is opened per command
// invocation; state that must survive between invocations (the ledger,
// evidence blobs, risk records, the node's own key) lives under dir.
type node struct {
	dir      string
	signer   identity.KeyPair
	keyRing  *identity.KeyRing
	issuerID string
	led      ledger.Ledger
	ev       evidence.Store
	riskSt   risk.Store
	db       *sql.DB
}

const (
	keyFileName  = "identity.pem"
	ledgerDBName = "ledger.db"
	evidenceDir  = "evidence"
	riskFileName = "risk.json"
)

func keyPath(dir string) string    { return filepath.Join(dir, keyFileName) }
func ledgerPath(dir string) string { return filepath.Join(dir, ledgerDBName) }

// openNode opens every store rooted at dir. dir must already have been
// set up by "lexecon init".
func openNode(ctx context.Context, dir string) (*node, error) {
	keyPEM, err := os.ReadFile(keyPath(dir))
	if err != nil {
		return nil, fmt.Errorf("lexecon: read identity key (did you run \"lexecon init --dir %s\"?): %w", dir, err)
	}
	signer, err := identity.Load(keyPEM, "")
	if err != nil {
		return nil, fmt.Errorf("lexecon: load identity key: %w", err)
	}
	// The issuer id embedded in every signed Decision/Token/Manifest must
	// equal the signer's own fingerprint: KeyRing.Verify looks keys up by
	// fingerprint, so any other convention would make a node unable to
	// verify its own signatures.
	issuerID := signer.Fingerprint()

	db, err := sql.Open("sqlite", ledgerPath(dir))
	if err != nil {
		return nil, fmt.Errorf("lexecon: open ledger db: %w", err)
	}
	sqlLedger := ledger.NewSQLLedger(db, ledger.DialectSQLite, signer, ledger.SystemClock)
	if err := sqlLedger.Init(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("lexecon: init ledger schema: %w", err)
	}

	ev, err := evidence.NewFileStore(filepath.Join(dir, evidenceDir), evidence.DefaultRetentionPolicy())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("lexecon: open evidence store: %w", err)
	}

	riskSt, err := risk.NewFileStore(filepath.Join(dir, riskFileName))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("lexecon: open risk store: %w", err)
	}

	ring := identity.NewKeyRing()
	ring.Add(signer)

	return &node{
		dir:      dir,
		signer:   signer,
		keyRing:  ring,
		issuerID: issuerID,
		led:      sqlLedger,
		ev:       ev,
		riskSt:   riskSt,
		db:       db,
	}, nil
}

func (n *node) issuerNodeID() string {
	return n.issuerID
}

func (n *node) Close() {
	if n.db != nil {
		_ = n.db.Close()
	}
}

// policyLoadPayload mirrors decision.policyLoadRecord's JSON shape. It is
// redefined here rather than imported because the field is unexported
// from the decision package's perspective (policyLoadRecord itself is
// private); the wire shape is the public contract the ledger payload
// promises, so decoding by field name is the correct boundary to depend
// on, not the private Go type.
type policyLoadPayload struct {
	Hash     string        `json:"hash"`
	Policy   policy.Policy `json:"policy"`
	LoadedAt string        `json:"loaded_at"`
}

// latestPolicy scans the ledger for the most recent POLICY_LOAD entry and
// rebuilds the indexed, hashed Policy from its payload. A CLI process has
// no in-memory state surviving between invocations, so every command
// that needs the active policy re-derives it from ledger history rather
// than depending on an in-process atomic pointer (that mechanism is
// exercised directly by decision.Service's own tests instead).
func latestPolicy(ctx context.Context, led ledger.Ledger) (*policy.Policy, error) {
	head, err := led.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger head: %w", err)
	}
	it, err := led.Range(ctx, 0, head.Seq+1)
	if err != nil {
		return nil, fmt.Errorf("range ledger: %w", err)
	}
	defer it.Close()

	var latest *policyLoadPayload
	for it.Next() {
		e := it.Entry()
		if e.EventType != ledger.EventPolicyLoad {
			continue
		}
		var p policyLoadPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode policy_load payload at seq %d: %w", e.Seq, err)
		}
		latest = &p
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, fmt.Errorf("no policy has been loaded yet (run \"lexecon policy-load\")")
	}

	loaded, err := policy.NewPolicy(latest.Policy)
	if err != nil {
		return nil, fmt.Errorf("rebuild indexed policy: %w", err)
	}
	if loaded.Hash != latest.Hash {
		return nil, fmt.Errorf("policy hash mismatch: ledger recorded %s, recomputed %s", latest.Hash, loaded.Hash)
	}
	return loaded, nil
}

// writeJSON canonicalizes v and writes it with trailing newline, matching
// the shape callers see over the wire (spec.md §6 "Canonical JSON").
func writeJSON(w io.Writer, v interface{}) error {
	b, err := canonical.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
