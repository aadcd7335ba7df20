// Package decision implements the Decision Service: the orchestrator that
// takes one DecisionRequest, evaluates it against the active Policy and
// the Risk Engine, conditionally mints a CapabilityToken, stores evidence,
// and appends a signed entry to the ledger — all under the fixed ordering
// spec.md §4.4 treats as a contract, not an implementation detail.
//
// Grounded on teacher pkg/governance/engine.go's DecisionEngine.Evaluate
// (parse -> resolve -> enforce policy -> build decision record -> sign
// decision -> mint execution intent -> sign intent), generalized from a
// fixed EffectClass allowlist to the full term/relation policy graph and
// from an unconditional mint to the PERMIT-only conditional mint this
// system requires.
package decision

import (
	"time"

	"github.com/lexecon-dev/lexecon/pkg/identity"
	"github.com/lexecon-dev/lexecon/pkg/policy"
)

// Clock is the injected time source, per spec.md §9 ("time is an input").
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the production Clock.
var SystemClock Clock = systemClock{}

// Request is the structural input to Decide: spec.md §3's DecisionRequest.
type Request struct {
	RequestID   string                 `json:"request_id"`
	Actor       string                 `json:"actor"`
	Action      string                 `json:"action"`
	Tool        string                 `json:"tool,omitempty"`
	Resource    string                 `json:"resource,omitempty"`
	DataClasses []string               `json:"data_classes,omitempty"`
	RiskHint    int                    `json:"risk_hint"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Decision is the signed, ledger-anchored adjudication of a Request
// (spec.md §3/§6). The signature covers every field except
// LedgerEntryHash and Signature itself — LedgerEntryHash cannot be known
// until the ledger has accepted the entry that carries this Decision.
type Decision struct {
	DecisionID          string                `json:"decision_id"`
	RequestID           string                `json:"request_id,omitempty"`
	Outcome             policy.Outcome        `json:"outcome"`
	Reason              string                `json:"reason"`
	ReasonTrace         []policy.TraceEntry   `json:"reason_trace"`
	PolicyVersionHash   string                `json:"policy_version_hash"`
	CapabilityToken     string                `json:"capability_token,omitempty"`
	RiskScoreID         string                `json:"risk_score_id,omitempty"`
	EvidenceArtifactIDs []string              `json:"evidence_artifact_ids,omitempty"`
	LedgerEntryHash     string                `json:"ledger_entry_hash,omitempty"`
	IssuerNodeID        string                `json:"issuer_id"`
	IssuedAt            time.Time             `json:"issued_at"`
	Algorithm           identity.Algorithm    `json:"algorithm,omitempty"`
	Signature           string                `json:"signature,omitempty"`
}

// signedView returns the copy of d that Sign/Verify operate on: every
// field except LedgerEntryHash and Signature (spec.md §3 Decision
// invariant; §8 property 1).
func (d Decision) signedView() Decision {
	d.LedgerEntryHash = ""
	d.Signature = ""
	return d
}

// decisionLog is the evidence artifact recorded for every Decision (step
// 7): a compact summary of the request and outcome, independent of the
// final signed Decision (which does not exist yet when evidence is
// created — its own evidence_artifact_ids would be self-referential).
type decisionLog struct {
	DecisionID        string              `json:"decision_id"`
	RequestID         string              `json:"request_id,omitempty"`
	Actor             string              `json:"actor"`
	Action            string              `json:"action"`
	Tool              string              `json:"tool,omitempty"`
	Resource          string              `json:"resource,omitempty"`
	DataClasses       []string            `json:"data_classes,omitempty"`
	RiskHint          int                 `json:"risk_hint"`
	Outcome           policy.Outcome      `json:"outcome"`
	Reason            string              `json:"reason"`
	PolicyVersionHash string              `json:"policy_version_hash"`
	ReceivedAt        time.Time           `json:"received_at"`
}
