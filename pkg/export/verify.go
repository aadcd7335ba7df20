package export

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/lexecon-dev/lexecon/pkg/canonical"
	"github.com/lexecon-dev/lexecon/pkg/identity"
	"github.com/lexecon-dev/lexecon/pkg/ledger"
)

// FailureKind enumerates the ways VerifyBundle can fail, mirroring
// teacher pkg/pack/verifier.go's CheckResult status codes.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureSectionChecksum  FailureKind = "section_checksum_mismatch"
	FailureRootChecksum     FailureKind = "root_checksum_mismatch"
	FailureSignature        FailureKind = "signature_invalid"
	FailureUnknownIssuer    FailureKind = "unknown_issuer"
	FailureEvidenceMismatch FailureKind = "evidence_content_mismatch"
	FailureLedgerChain      FailureKind = "ledger_chain_broken"
	FailureUnreadable       FailureKind = "bundle_unreadable"
)

// VerifyReport is the structured result of VerifyBundle: pass/fail plus,
// on failure, the single object that first failed to check out.
type VerifyReport struct {
	OK             bool
	Kind           FailureKind
	Detail         string
	Section        string // section name, when Kind pins the fault to one section
	ArtifactID     string // evidence/policy artifact id, when Kind is evidence_content_mismatch
	LedgerSeq      uint64 // ledger seq, when Kind is ledger_chain_broken
	IssuerVerified bool
}

func fail(kind FailureKind, detail string) (*VerifyReport, error) {
	return &VerifyReport{OK: false, Kind: kind, Detail: detail}, nil
}

// VerifyBundle recomputes every section checksum, the root checksum, and
// the issuer signature over a bundle previously written by WriteDir, and
// optionally re-walks the referenced ledger subchain. It never returns a
// non-nil error for a bundle that merely fails verification — a non-OK
// VerifyReport is the expected outcome for tampered input; the error
// return is reserved for I/O and decoding failures that mean the bundle
// could not be checked at all (spec.md §4.9 exit code 3 vs 2).
func VerifyBundle(ctx context.Context, bundlePath string, trustedKeys *identity.KeyRing, led ledger.Ledger) (*VerifyReport, error) {
	b, err := ReadDir(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return VerifyLoadedBundle(ctx, b, trustedKeys, led)
}

// VerifyLoadedBundle runs the same checks as VerifyBundle against an
// already-loaded Bundle, for callers that build one in-process (e.g.
// immediately after BuildBundle, or in tests) rather than round-tripping
// through disk.
func VerifyLoadedBundle(ctx context.Context, b *Bundle, trustedKeys *identity.KeyRing, led ledger.Ledger) (*VerifyReport, error) {
	sections := map[string][]byte{
		SectionDecisions:         b.Decisions,
		SectionLedgerEntries:     b.LedgerEntries,
		SectionPolicySnapshots:   b.PolicySnapshots,
		SectionEvidenceArtifacts: b.EvidenceIndex,
	}
	if b.RiskRecords != nil {
		sections[SectionRiskRecords] = b.RiskRecords
	}

	for name, claimed := range b.Manifest.SectionChecksums {
		actual, ok := sections[name]
		if !ok {
			return fail(FailureSectionChecksum, fmt.Sprintf("manifest references unknown section %q", name))
		}
		if sectionChecksum(actual) != claimed {
			rpt, _ := fail(FailureSectionChecksum, fmt.Sprintf("section %q checksum mismatch", name))
			rpt.Section = name
			return rpt, nil
		}
	}

	root, err := computeRootChecksum(b.Manifest)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	if root != b.Manifest.RootChecksum {
		return fail(FailureRootChecksum, "recomputed root checksum does not match manifest")
	}

	sigOK, issuerKnown, err := verifyManifestSignature(b.Manifest, trustedKeys)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	if !issuerKnown {
		return fail(FailureUnknownIssuer, fmt.Sprintf("no trusted key for issuer %q", b.Manifest.IssuerNodeID))
	}
	if !sigOK {
		return fail(FailureSignature, "manifest signature does not verify")
	}

	if rpt, err := verifyEvidenceContent(b); rpt != nil || err != nil {
		return rpt, err
	}

	if led != nil {
		if rpt, err := verifyLedgerSubchain(ctx, b, led); rpt != nil || err != nil {
			return rpt, err
		}
	}

	return &VerifyReport{OK: true, IssuerVerified: true}, nil
}

// verifyManifestSignature checks the manifest signature against the
// trusted key registered under the manifest's issuer id. Deployments
// register keys in the ring under their own Fingerprint() and set
// Config.IssuerNodeID to that same fingerprint, so IssuerNodeID doubles
// as the lookup key here.
func verifyManifestSignature(m Manifest, trustedKeys *identity.KeyRing) (sigOK, issuerKnown bool, err error) {
	if trustedKeys == nil {
		return false, false, nil
	}
	sig, err := hex.DecodeString(m.Signature)
	if err != nil {
		return false, true, fmt.Errorf("decode manifest signature: %w", err)
	}
	data, err := canonical.Marshal(m.signedView())
	if err != nil {
		return false, true, fmt.Errorf("canonicalize manifest: %w", err)
	}
	ok, verr := trustedKeys.Verify(m.IssuerNodeID, data, sig)
	if verr != nil {
		return false, false, nil
	}
	return ok, true, nil
}

// verifyEvidenceContent confirms every blob's content still hashes to
// the id/content_hash its index metadata claims, pinpointing the first
// offending artifact (spec.md §8 scenario 6).
func verifyEvidenceContent(b *Bundle) (*VerifyReport, error) {
	var evidenceMeta map[string]json.RawMessage
	if len(b.EvidenceIndex) > 0 {
		if err := json.Unmarshal(b.EvidenceIndex, &evidenceMeta); err != nil {
			return nil, fmt.Errorf("export: decode evidence index: %w", err)
		}
	}
	for id, content := range b.EvidenceBlobs {
		if _, ok := evidenceMeta[id]; !ok {
			rpt, _ := fail(FailureEvidenceMismatch, fmt.Sprintf("blob %s has no index entry", id))
			rpt.ArtifactID = id
			return rpt, nil
		}
		if canonical.HashBytes(content) != id {
			rpt, _ := fail(FailureEvidenceMismatch, fmt.Sprintf("blob %s content hash does not match its id", id))
			rpt.ArtifactID = id
			return rpt, nil
		}
	}

	var policyMeta map[string]struct {
		ID string `json:"id"`
	}
	if len(b.PolicySnapshots) > 0 {
		if err := json.Unmarshal(b.PolicySnapshots, &policyMeta); err != nil {
			return nil, fmt.Errorf("export: decode policy snapshots index: %w", err)
		}
	}
	for hash, content := range b.PolicyBlobs {
		meta, ok := policyMeta[hash]
		if !ok {
			rpt, _ := fail(FailureEvidenceMismatch, fmt.Sprintf("policy snapshot %s has no index entry", hash))
			rpt.ArtifactID = hash
			return rpt, nil
		}
		if canonical.HashBytes(content) != meta.ID {
			rpt, _ := fail(FailureEvidenceMismatch, fmt.Sprintf("policy snapshot %s content hash does not match its id", hash))
			rpt.ArtifactID = hash
			return rpt, nil
		}
	}
	return nil, nil
}

// verifyLedgerSubchain re-walks the exported entries against the live
// ledger's own Verify, then cross-checks the exported copies still match
// what the ledger holds — catching a bundle whose ledger section was
// edited after export even though the live chain itself is intact.
func verifyLedgerSubchain(ctx context.Context, b *Bundle, led ledger.Ledger) (*VerifyReport, error) {
	var entries []ledger.Entry
	if err := json.Unmarshal(b.LedgerEntries, &entries); err != nil {
		return nil, fmt.Errorf("export: decode ledger section: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	from := entries[0].Seq
	to := entries[len(entries)-1].Seq + 1
	report, err := led.Verify(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("export: verify ledger subchain: %w", err)
	}
	if !report.OK {
		rpt := &VerifyReport{OK: false, Kind: FailureLedgerChain, Detail: "live ledger subchain is broken"}
		if report.Failure != nil {
			rpt.LedgerSeq = report.Failure.Seq
			rpt.Detail = report.Failure.Reason
		}
		return rpt, nil
	}

	for _, exported := range entries {
		live, err := led.Get(ctx, exported.Seq)
		if err != nil {
			return nil, fmt.Errorf("export: fetch live entry seq %d: %w", exported.Seq, err)
		}
		if live.Hash != exported.Hash {
			rpt, _ := fail(FailureLedgerChain, fmt.Sprintf("exported entry at seq %d does not match live ledger", exported.Seq))
			rpt.LedgerSeq = exported.Seq
			return rpt, nil
		}
	}
	return nil, nil
}
