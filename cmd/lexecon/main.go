// Command lexecon is a thin CLI shell over the governance core: enough
// to load a policy, run a decision, verify the ledger, and export/verify
// an audit bundle from a shell or a CI job. It intentionally does not
// grow into the HTTP surface, auth, or rate limiting spec.md §1 scopes
// out of this repository — those are someone else's plumbing around
// this core.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the CLI entrypoint in testable form, mirroring the teacher's
// cmd/helm dispatch-by-args-slice pattern so subcommands can be driven
// from tests without forking a process.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "init":
		return runInitCmd(args[2:], stdout, stderr)
	case "policy-load":
		return runPolicyLoadCmd(args[2:], stdout, stderr)
	case "decide":
		return runDecideCmd(args[2:], stdout, stderr)
	case "ledger-verify":
		return runLedgerVerifyCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "retention-sweep":
		return runRetentionSweepCmd(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "lexecon: unknown command %q\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprint(w, `Usage: lexecon <command> [flags]

Commands:
  init           Generate a node identity key (stores are created on first use)
  policy-load    Load and activate a policy bundle, recording it to the ledger
  decide         Evaluate a DecisionRequest and print the signed Decision
  ledger-verify  Walk the hash chain and report the first corruption, if any
  export         Assemble a signed, checksummed bundle of a ledger slice
  verify         Verify a previously exported bundle
  retention-sweep Anonymize evidence artifacts whose retention has expired

Run "lexecon <command> -h" for flags specific to a command.
`)
}
