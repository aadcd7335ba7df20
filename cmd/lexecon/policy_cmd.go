package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lexecon-dev/lexecon/pkg/ledger"
	"github.com/lexecon-dev/lexecon/pkg/policy"
)

// runPolicyLoadCmd validates a policy bundle, then records its activation
// to the ledger directly (bypassing decision.Service.LoadPolicy's
// in-memory SetPolicy, which would not survive past this process exit;
// latestPolicy in env.go reconstructs the active policy from this same
// ledger entry on every subsequent command).
func runPolicyLoadCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("policy-load", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dir := cmd.String("dir", ".", "Node data directory")
	bundlePath := cmd.String("bundle", "", "Path to a policy bundle JSON file (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *bundlePath == "" {
		_, _ = fmt.Fprintln(stderr, "lexecon: --bundle is required")
		return 2
	}

	data, err := os.ReadFile(*bundlePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: read bundle: %v\n", err)
		return 2
	}

	p, err := policy.LoadBundle(data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: policy malformed: %v\n", err)
		return 2
	}

	ctx := context.Background()
	n, err := openNode(ctx, *dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: %v\n", err)
		return 2
	}
	defer n.Close()

	rec := struct {
		Hash     string        `json:"hash"`
		Policy   policy.Policy `json:"policy"`
		LoadedAt time.Time     `json:"loaded_at"`
	}{Hash: p.Hash, Policy: *p, LoadedAt: time.Now().UTC()}

	entry, err := n.led.Append(ctx, ledger.EventPolicyLoad, rec)
	if err != nil {
		slog.Error("lexecon: policy load ledger append failed", "policy_hash", p.Hash, "error", err)
		_, _ = fmt.Fprintf(stderr, "lexecon: record policy load: %v\n", err)
		return 2
	}
	slog.Info("lexecon: policy activated", "policy_hash", p.Hash, "ledger_seq", entry.Seq)

	_, _ = fmt.Fprintf(stdout, "policy loaded: mode=%s terms=%d relations=%d hash=%s ledger_seq=%d\n",
		p.Mode, len(p.Terms), len(p.Relations), p.Hash, entry.Seq)
	return 0
}
