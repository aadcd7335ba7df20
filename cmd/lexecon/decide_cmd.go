package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lexecon-dev/lexecon/pkg/decision"
	"github.com/lexecon-dev/lexecon/pkg/policy"
	"github.com/lexecon-dev/lexecon/pkg/risk"
)

// runDecideCmd reads a DecisionRequest from --request (or stdin), wires a
// decision.Service against the node's stores, and prints the signed
// Decision. Exit codes: 0 the request was adjudicated (PERMIT, DENY, or
// ESCALATE are all successful outcomes per spec.md §7); 1 the service
// itself failed (LedgerUnavailable, SigningError, ...); 2 a usage error,
// an unreadable request, or a node that could not be opened or set up.
func runDecideCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("decide", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dir := cmd.String("dir", ".", "Node data directory")
	requestPath := cmd.String("request", "", "Path to a DecisionRequest JSON file; '-' or omitted reads stdin")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var raw []byte
	var err error
	if *requestPath == "" || *requestPath == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(*requestPath)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: read request: %v\n", err)
		return 2
	}

	var req decision.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: decode request: %v\n", err)
		return 2
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	ctx := context.Background()
	n, err := openNode(ctx, *dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: %v\n", err)
		return 2
	}
	defer n.Close()

	activePolicy, err := latestPolicy(ctx, n.led)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: %v\n", err)
		return 2
	}

	engine, err := policy.NewEngine()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: build policy engine: %v\n", err)
		return 2
	}

	svc := decision.NewService(
		decision.Config{IssuerNodeID: n.issuerNodeID()},
		engine,
		risk.NewEngine(),
		n.riskSt,
		n.led,
		n.ev,
		n.signer,
		decision.SystemClock,
		nil,
	)
	svc.SetPolicy(activePolicy)

	d, tok, err := svc.Decide(ctx, req)
	if err != nil {
		slog.Error("lexecon: decide failed", "request_id", req.RequestID, "error", err)
		_, _ = fmt.Fprintf(stderr, "lexecon: decide: %v\n", err)
		return 1
	}

	out := struct {
		Decision *decision.Decision `json:"decision"`
		Token    string             `json:"token,omitempty"`
	}{Decision: d}
	if tok != nil {
		wire, err := tok.Encode()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "lexecon: encode token: %v\n", err)
			return 1
		}
		out.Token = wire
	}

	if err := writeJSON(stdout, out); err != nil {
		_, _ = fmt.Fprintf(stderr, "lexecon: encode output: %v\n", err)
		return 1
	}
	return 0
}
