package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lexecon-dev/lexecon/pkg/canonical"
	"github.com/lexecon-dev/lexecon/pkg/decision"
	"github.com/lexecon-dev/lexecon/pkg/evidence"
	"github.com/lexecon-dev/lexecon/pkg/identity"
	"github.com/lexecon-dev/lexecon/pkg/ledger"
	"github.com/lexecon-dev/lexecon/pkg/risk"
)

// Bundle is the in-memory form of an exported slice: a signed Manifest
// plus the section bytes and evidence blobs it indexes. WriteDir/ReadDir
// translate this to/from the on-disk layout in spec.md §6.
type Bundle struct {
	Manifest Manifest

	// Section bytes, each the canonical encoding of the section's content
	// (spec.md §6: "Each section file is canonical").
	Decisions        []byte
	LedgerEntries    []byte
	PolicySnapshots  []byte // canonical map[policyVersionHash]evidence.Artifact
	EvidenceIndex    []byte // canonical map[artifactID]evidence.Artifact metadata
	RiskRecords      []byte // canonical []risk.Record, omitted if not requested

	// EvidenceBlobs holds the raw content bytes backing EvidenceIndex,
	// keyed by artifact id (== content hash) — stored as
	// sections/evidence/<sha256>.bin on disk, not inlined into JSON.
	EvidenceBlobs map[string][]byte

	// PolicyBlobs holds the raw policy snapshot content, keyed by
	// PolicyVersionHash — stored as sections/policies/<hash>.json.
	PolicyBlobs map[string][]byte
}

// ExportRequest parameterizes BuildBundle (spec.md §6 ExportRequest).
type ExportRequest struct {
	BundleID           string
	Requestor          string
	Purpose            string
	Scope              string
	FromSeq            uint64
	ToSeq              uint64 // exclusive, matching ledger.Range
	IncludeRiskRecords bool
}

// BuildBundle assembles the five sections from a ledger slice and the
// evidence/risk it references, then folds their checksums into a signed
// Manifest (spec.md §4.9). now is the caller-supplied timestamp stamped
// into the manifest, per spec.md §9's "time is an input" design note.
//
// Policy snapshot artifacts are identified by convention: step 7 of
// decision.Service.Decide always stores the policy snapshot as the first
// element of EvidenceArtifactIDs, followed by the decision log and the
// reason-trace artifact; BuildBundle relies on that ordering to separate
// the policy_snapshots section from evidence_artifacts.
func BuildBundle(
	ctx context.Context,
	led ledger.Ledger,
	ev evidence.Store,
	riskStore risk.Store,
	signer identity.KeyPair,
	issuerNodeID string,
	now time.Time,
	req ExportRequest,
) (*Bundle, error) {
	decisions, entries, err := decisionsAndEntries(ctx, led, req)
	if err != nil {
		return nil, err
	}

	policyMeta, policyBlobs, evidenceMeta, evidenceBlobs, err := collectEvidence(ctx, ev, decisions)
	if err != nil {
		return nil, err
	}

	var riskRecords []risk.Record
	if req.IncludeRiskRecords && riskStore != nil {
		riskRecords, err = collectRiskRecords(ctx, riskStore, decisions)
		if err != nil {
			return nil, err
		}
	}

	decisionsBytes, err := canonical.Marshal(decisions)
	if err != nil {
		return nil, fmt.Errorf("export: canonicalize decisions section: %w", err)
	}
	entriesBytes, err := canonical.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("export: canonicalize ledger section: %w", err)
	}
	policyMetaBytes, err := canonical.Marshal(policyMeta)
	if err != nil {
		return nil, fmt.Errorf("export: canonicalize policy snapshots section: %w", err)
	}
	evidenceMetaBytes, err := canonical.Marshal(evidenceMeta)
	if err != nil {
		return nil, fmt.Errorf("export: canonicalize evidence artifacts section: %w", err)
	}

	checksums := map[string]string{
		SectionDecisions:         sectionChecksum(decisionsBytes),
		SectionLedgerEntries:     sectionChecksum(entriesBytes),
		SectionPolicySnapshots:   sectionChecksum(policyMetaBytes),
		SectionEvidenceArtifacts: sectionChecksum(evidenceMetaBytes),
	}

	var riskBytes []byte
	if req.IncludeRiskRecords {
		riskBytes, err = canonical.Marshal(riskRecords)
		if err != nil {
			return nil, fmt.Errorf("export: canonicalize risk records section: %w", err)
		}
		checksums[SectionRiskRecords] = sectionChecksum(riskBytes)
	}

	manifest := Manifest{
		BundleID:         req.BundleID,
		Requestor:        req.Requestor,
		Purpose:          req.Purpose,
		Scope:            req.Scope,
		FromSeq:          req.FromSeq,
		ToSeq:            req.ToSeq,
		SectionChecksums: checksums,
		IssuerNodeID:     issuerNodeID,
		CreatedAt:        now,
	}
	signed, err := signManifest(manifest, signer)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		Manifest:        signed,
		Decisions:       decisionsBytes,
		LedgerEntries:   entriesBytes,
		PolicySnapshots: policyMetaBytes,
		EvidenceIndex:   evidenceMetaBytes,
		RiskRecords:     riskBytes,
		EvidenceBlobs:   evidenceBlobs,
		PolicyBlobs:     policyBlobs,
	}, nil
}

// decisionsAndEntries walks [req.FromSeq, req.ToSeq) and reconstructs the
// fully assembled Decision (including LedgerEntryHash, known only after
// the ledger committed it) for every DECISION entry in range.
func decisionsAndEntries(ctx context.Context, led ledger.Ledger, req ExportRequest) ([]decision.Decision, []ledger.Entry, error) {
	it, err := led.Range(ctx, req.FromSeq, req.ToSeq)
	if err != nil {
		return nil, nil, fmt.Errorf("export: range ledger: %w", err)
	}
	defer it.Close()

	var entries []ledger.Entry
	var decisions []decision.Decision
	for it.Next() {
		e := it.Entry()
		entries = append(entries, e)
		if e.EventType != ledger.EventDecision {
			continue
		}
		var d decision.Decision
		if err := json.Unmarshal(e.Payload, &d); err != nil {
			return nil, nil, fmt.Errorf("export: decode decision payload at seq %d: %w", e.Seq, err)
		}
		d.LedgerEntryHash = e.Hash
		decisions = append(decisions, d)
	}
	if err := it.Err(); err != nil {
		return nil, nil, fmt.Errorf("export: iterate ledger: %w", err)
	}
	return decisions, entries, nil
}

// collectEvidence fetches the policy-snapshot artifact (index 0 of each
// decision's EvidenceArtifactIDs, keyed by PolicyVersionHash) and every
// remaining referenced artifact (keyed by its own id) from ev.
func collectEvidence(ctx context.Context, ev evidence.Store, decisions []decision.Decision) (map[string]evidence.Artifact, map[string][]byte, map[string]evidence.Artifact, map[string][]byte, error) {
	policyMeta := make(map[string]evidence.Artifact)   // policyVersionHash -> Artifact
	policyBlobs := make(map[string][]byte)             // policyVersionHash -> content
	evidenceMeta := make(map[string]evidence.Artifact) // artifactID -> Artifact
	evidenceBlobs := make(map[string][]byte)           // artifactID -> content

	for _, d := range decisions {
		if len(d.EvidenceArtifactIDs) == 0 {
			continue
		}
		if d.PolicyVersionHash != "" {
			if _, ok := policyMeta[d.PolicyVersionHash]; !ok {
				a, content, err := ev.Get(ctx, d.EvidenceArtifactIDs[0])
				if err != nil {
					return nil, nil, nil, nil, fmt.Errorf("export: fetch policy snapshot %s: %w", d.EvidenceArtifactIDs[0], err)
				}
				policyMeta[d.PolicyVersionHash] = a
				policyBlobs[d.PolicyVersionHash] = content
			}
		}
		for _, id := range d.EvidenceArtifactIDs[1:] {
			if _, ok := evidenceMeta[id]; ok {
				continue
			}
			a, content, err := ev.Get(ctx, id)
			if err != nil {
				return nil, nil, nil, nil, fmt.Errorf("export: fetch evidence artifact %s: %w", id, err)
			}
			evidenceMeta[id] = a
			evidenceBlobs[id] = content
		}
	}
	return policyMeta, policyBlobs, evidenceMeta, evidenceBlobs, nil
}

func collectRiskRecords(ctx context.Context, riskStore risk.Store, decisions []decision.Decision) ([]risk.Record, error) {
	seen := make(map[string]bool)
	var out []risk.Record
	for _, d := range decisions {
		if d.RiskScoreID == "" || seen[d.RiskScoreID] {
			continue
		}
		seen[d.RiskScoreID] = true
		r, err := riskStore.Get(ctx, d.RiskScoreID)
		if err != nil {
			return nil, fmt.Errorf("export: fetch risk record %s: %w", d.RiskScoreID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func sectionChecksum(b []byte) string {
	return canonical.HashBytes(b)
}
