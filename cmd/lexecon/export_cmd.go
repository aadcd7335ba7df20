package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/lexecon-dev/lexecon/pkg/export"
)

// runExportCmd assembles a signed, checksummed bundle of [--from, --to)
// and writes it to --out in the directory layout spec.md §6 describes.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dir := cmd.String("dir", ".", "Node data directory")
	out := cmd.String("out", "", "Output bundle directory (REQUIRED)")
	from := cmd.Uint64("from", 0, "First ledger seq to include, inclusive")
	to := cmd.Uint64("to", 0, "Last ledger seq to include, exclusive (0 means up to the current head)")
	bundleID := cmd.String("bundle-id", "", "Bundle identifier")
	requestor := cmd.String("requestor", "", "Who requested this export")
	purpose := cmd.String("purpose", "", "Why this export was requested")
	scope := cmd.String("scope", "", "Free-form description of the export's scope")
	includeRisk := cmd.Bool("include-risk", false, "Include risk records in the bundle")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *out == "" {
		_, _ = fmt.Fprintln(stderr, "lexecon: --out is required")
		return 2
	}

	ctx := context.Background()
	n, err := openNode(ctx, *dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: %v\n", err)
		return 2
	}
	defer n.Close()

	toSeq := *to
	if toSeq == 0 {
		head, err := n.led.Head(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "lexecon: ledger head: %v\n", err)
			return 2
		}
		toSeq = head.Seq + 1
	}

	req := export.ExportRequest{
		BundleID:           *bundleID,
		Requestor:          *requestor,
		Purpose:            *purpose,
		Scope:              *scope,
		FromSeq:            *from,
		ToSeq:              toSeq,
		IncludeRiskRecords: *includeRisk,
	}

	bundle, err := export.BuildBundle(ctx, n.led, n.ev, n.riskSt, n.signer, n.issuerNodeID(), time.Now().UTC(), req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: build bundle: %v\n", err)
		return 1
	}

	if err := export.WriteDir(bundle, *out); err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: write bundle: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "exported seq [%d, %d) to %s\nmanifest root_checksum=%s\n",
		*from, toSeq, *out, bundle.Manifest.RootChecksum)
	return 0
}
