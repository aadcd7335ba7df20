package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/lexecon-dev/lexecon/pkg/evidence"
)

// runRetentionSweepCmd anonymizes every evidence artifact whose
// retention class has expired, recording one ANONYMIZATION ledger
// entry per artifact (spec.md §4.7). Exit codes: 0 the sweep ran
// (whether or not anything was expired), 1 the sweep itself failed, 2
// a usage/IO error.
func runRetentionSweepCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("retention-sweep", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dir := cmd.String("dir", ".", "Node data directory")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	n, err := openNode(ctx, *dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: %v\n", err)
		return 2
	}
	defer n.Close()

	sweeper, err := evidence.NewSweeper(n.ev, n.led, nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: build sweeper: %v\n", err)
		return 2
	}

	anonymized, err := sweeper.Sweep(ctx)
	if err != nil {
		slog.Error("lexecon: retention sweep failed", "anonymized_so_far", len(anonymized), "error", err)
		_, _ = fmt.Fprintf(stderr, "lexecon: sweep: %v\n", err)
		return 1
	}
	slog.Info("lexecon: retention sweep complete", "anonymized_count", len(anonymized))

	if err := writeJSON(stdout, struct {
		AnonymizedCount int      `json:"anonymized_count"`
		ArtifactIDs     []string `json:"artifact_ids,omitempty"`
	}{AnonymizedCount: len(anonymized), ArtifactIDs: anonymized}); err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: encode output: %v\n", err)
		return 1
	}
	return 0
}
