package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/lexecon-dev/lexecon/pkg/export"
)

// runVerifyCmd re-checks a previously exported bundle's section checksums,
// root checksum, issuer signature, evidence content hashes, and (unless
// --no-chain-check) the live ledger subchain it was exported from. Exit
// codes follow spec.md §6 exactly: 0 intact, 2 mismatch, 3 unreadable, 4
// unknown issuer key.
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dir := cmd.String("dir", ".", "Node data directory (supplies the trusted key and, unless --no-chain-check, the live ledger)")
	bundlePath := cmd.String("bundle", "", "Path to a bundle directory (REQUIRED)")
	noChainCheck := cmd.Bool("no-chain-check", false, "Skip re-walking the live ledger subchain; check the bundle in isolation")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *bundlePath == "" {
		_, _ = fmt.Fprintln(stderr, "lexecon: --bundle is required")
		return 2
	}

	ctx := context.Background()
	n, err := openNode(ctx, *dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: %v\n", err)
		return 3
	}
	defer n.Close()

	led := n.led
	if *noChainCheck {
		led = nil
	}

	report, err := export.VerifyBundle(ctx, *bundlePath, n.keyRing, led)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: %v\n", err)
		return 3
	}

	if jsonErr := writeJSON(stdout, report); jsonErr != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: encode report: %v\n", jsonErr)
		return 3
	}

	if report.OK {
		return 0
	}
	if report.Kind == export.FailureUnknownIssuer {
		return 4
	}
	return 2
}
