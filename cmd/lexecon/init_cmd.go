package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/lexecon-dev/lexecon/pkg/identity"
)

// runInitCmd generates a fresh Ed25519 node identity and lays out the
// directory structure every other command expects: identity.pem plus
// lazily-created ledger.db, evidence/, risk.json on first use.
func runInitCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("init", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dir := cmd.String("dir", ".", "Node data directory")
	force := cmd.Bool("force", false, "Overwrite an existing identity key")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: create %s: %v\n", *dir, err)
		return 2
	}

	path := keyPath(*dir)
	if _, err := os.Stat(path); err == nil && !*force {
		_, _ = fmt.Fprintf(stderr, "lexecon: %s already exists; pass --force to regenerate\n", path)
		return 2
	}

	kp, err := identity.GenerateEd25519()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: generate identity: %v\n", err)
		return 2
	}
	pem, err := identity.Export(kp, "")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: export identity: %v\n", err)
		return 2
	}
	if err := os.WriteFile(path, pem, 0o600); err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: write %s: %v\n", path, err)
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "initialized node at %s\nissuer_id (public key fingerprint): %s\n", *dir, kp.Fingerprint())
	return 0
}
