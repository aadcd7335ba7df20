package export

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexecon-dev/lexecon/pkg/decision"
	"github.com/lexecon-dev/lexecon/pkg/evidence"
	"github.com/lexecon-dev/lexecon/pkg/identity"
	"github.com/lexecon-dev/lexecon/pkg/ledger"
	"github.com/lexecon-dev/lexecon/pkg/policy"
	"github.com/lexecon-dev/lexecon/pkg/risk"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func buildTestBundle(t *testing.T) (*Bundle, ledger.Ledger, *identity.KeyRing) {
	t.Helper()
	signer, err := identity.GenerateEd25519()
	require.NoError(t, err)

	ring := identity.NewKeyRing()
	ring.Add(signer)

	led := ledger.NewMemoryLedger(signer, nil)
	store, err := evidence.NewFileStore(t.TempDir())
	require.NoError(t, err)

	p, err := policy.NewPolicy(policy.Policy{
		Mode: policy.ModeStrict,
		Terms: []policy.Term{
			{ID: "agent_a", Category: policy.CategoryActor},
			{ID: "read_public", Category: policy.CategoryAction},
		},
		Relations: []policy.Relation{
			{ID: "r1", Type: policy.RelationPermits, Subject: "agent_a", Action: "read_public"},
		},
	})
	require.NoError(t, err)

	polEngine, err := policy.NewEngine()
	require.NoError(t, err)

	riskStore := risk.NewMemoryStore()
	svc := decision.NewService(
		decision.Config{IssuerNodeID: signer.Fingerprint()},
		polEngine,
		risk.NewEngine(),
		riskStore,
		led,
		store,
		signer,
		fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		nil,
	)
	svc.SetPolicy(p)

	_, _, err = svc.Decide(context.Background(), decision.Request{
		RequestID: "req-1", Actor: "agent_a", Action: "read_public", RiskHint: 1,
	})
	require.NoError(t, err)

	b, err := BuildBundle(context.Background(), led, store, riskStore, signer, signer.Fingerprint(),
		time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		ExportRequest{BundleID: "bundle-1", Requestor: "auditor", Purpose: "audit", FromSeq: 0, ToSeq: 100, IncludeRiskRecords: true})
	require.NoError(t, err)

	return b, led, ring
}

func TestBuildAndVerifyBundle_Intact(t *testing.T) {
	b, led, ring := buildTestBundle(t)

	rpt, err := VerifyLoadedBundle(context.Background(), b, ring, led)
	require.NoError(t, err)
	require.True(t, rpt.OK, "detail: %s", rpt.Detail)
}

func TestBuildAndVerifyBundle_RoundTripThroughDisk(t *testing.T) {
	b, led, ring := buildTestBundle(t)

	dir := t.TempDir()
	require.NoError(t, WriteDir(b, dir))

	loaded, err := ReadDir(dir)
	require.NoError(t, err)

	rpt, err := VerifyLoadedBundle(context.Background(), loaded, ring, led)
	require.NoError(t, err)
	require.True(t, rpt.OK, "detail: %s", rpt.Detail)
}

func TestVerifyBundle_TamperedEvidenceByteIsPinpointed(t *testing.T) {
	b, led, ring := buildTestBundle(t)

	var tamperedID string
	for id, content := range b.EvidenceBlobs {
		tampered := append([]byte(nil), content...)
		tampered[0] ^= 0xFF
		b.EvidenceBlobs[id] = tampered
		tamperedID = id
		break
	}
	require.NotEmpty(t, tamperedID)

	rpt, err := VerifyLoadedBundle(context.Background(), b, ring, led)
	require.NoError(t, err)
	require.False(t, rpt.OK)
	require.Equal(t, FailureEvidenceMismatch, rpt.Kind)
	require.Equal(t, tamperedID, rpt.ArtifactID)
}

func TestVerifyBundle_TamperedSectionBreaksChecksum(t *testing.T) {
	b, _, ring := buildTestBundle(t)

	b.Decisions = append(append([]byte(nil), b.Decisions...), ' ')

	rpt, err := VerifyLoadedBundle(context.Background(), b, ring, nil)
	require.NoError(t, err)
	require.False(t, rpt.OK)
	require.Equal(t, FailureSectionChecksum, rpt.Kind)
	require.Equal(t, SectionDecisions, rpt.Section)
}

func TestVerifyBundle_UnknownIssuerRejected(t *testing.T) {
	b, _, _ := buildTestBundle(t)
	emptyRing := identity.NewKeyRing()

	rpt, err := VerifyLoadedBundle(context.Background(), b, emptyRing, nil)
	require.NoError(t, err)
	require.False(t, rpt.OK)
	require.Equal(t, FailureUnknownIssuer, rpt.Kind)
}

func TestVerifyBundle_RootChecksumCatchesManifestTamper(t *testing.T) {
	b, _, ring := buildTestBundle(t)
	b.Manifest.Purpose = "something-else"

	rpt, err := VerifyLoadedBundle(context.Background(), b, ring, nil)
	require.NoError(t, err)
	require.False(t, rpt.OK)
	require.Equal(t, FailureRootChecksum, rpt.Kind)
}
