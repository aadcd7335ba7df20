package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexecon-dev/lexecon/pkg/identity"
	"github.com/lexecon-dev/lexecon/pkg/ledger"
)

func testSigner(t *testing.T) identity.KeyPair {
	t.Helper()
	kp, err := identity.GenerateEd25519()
	require.NoError(t, err)
	return kp
}

func TestMint_DefaultTTL(t *testing.T) {
	signer := testSigner(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tok, err := Mint(MintParams{
		DecisionID:        "d1",
		Action:            "read",
		PolicyVersionHash: "hash1",
		IssuerNodeID:      signer.Fingerprint(),
	}, now, signer)
	require.NoError(t, err)
	require.Equal(t, DefaultTTL, tok.Body.ExpiresAt.Sub(tok.Body.IssuedAt))
	require.Equal(t, now, tok.Body.IssuedAt)
	require.NotEmpty(t, tok.Body.TokenID)
}

func TestMint_TTLExceedsCeiling(t *testing.T) {
	signer := testSigner(t)
	now := time.Now()

	_, err := Mint(MintParams{DecisionID: "d1", Action: "read", TTL: MaxTTL + time.Second}, now, signer)
	require.Error(t, err)
	var ttlErr *ErrTTLExceedsCeiling
	require.ErrorAs(t, err, &ttlErr)
}

func TestMint_NonPositiveTTLRejected(t *testing.T) {
	signer := testSigner(t)
	now := time.Now()

	_, err := Mint(MintParams{DecisionID: "d1", Action: "read", TTL: -time.Second}, now, signer)
	require.Error(t, err)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	signer := testSigner(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tok, err := Mint(MintParams{
		DecisionID:        "d1",
		Action:            "read",
		Tool:              "search",
		Resource:          "doc-42",
		PolicyVersionHash: "hash1",
		IssuerNodeID:      signer.Fingerprint(),
	}, now, signer)
	require.NoError(t, err)

	wire, err := tok.Encode()
	require.NoError(t, err)
	require.NotEmpty(t, wire)

	decoded, err := Decode(wire)
	require.NoError(t, err)
	require.Equal(t, tok.Body, decoded.Body)
	require.Equal(t, tok.Signature, decoded.Signature)
}

func TestDecode_MalformedWire(t *testing.T) {
	_, err := Decode("not-a-valid-token")
	require.Error(t, err)
}

func TestVerify_SignatureAndExpiryWindow(t *testing.T) {
	signer := testSigner(t)
	ring := identity.NewKeyRing()
	ring.Add(signer)

	led := ledger.NewMemoryLedger(signer, nil)
	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tok, err := Mint(MintParams{
		DecisionID:        "d1",
		Action:            "read",
		PolicyVersionHash: "hash1",
		IssuerNodeID:      signer.Fingerprint(),
		TTL:               10 * time.Second,
	}, issuedAt, signer)
	require.NoError(t, err)

	params := VerifyParams{ActivePolicyHash: "hash1"}

	ok, err := Verify(context.Background(), tok, ring, issuedAt, led, params)
	require.NoError(t, err)
	require.True(t, ok, "token must be valid at issued_at (inclusive lower bound)")

	ok, err = Verify(context.Background(), tok, ring, issuedAt.Add(9*time.Second), led, params)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Verify(context.Background(), tok, ring, issuedAt.Add(10*time.Second), led, params)
	require.NoError(t, err)
	require.False(t, ok, "token queried at exactly expires_at must be invalid")

	ok, err = Verify(context.Background(), tok, ring, issuedAt.Add(-time.Second), led, params)
	require.NoError(t, err)
	require.False(t, ok, "token queried before issued_at must be invalid")
}

func TestVerify_UnknownIssuerRejected(t *testing.T) {
	signer := testSigner(t)
	emptyRing := identity.NewKeyRing()
	led := ledger.NewMemoryLedger(signer, nil)
	now := time.Now()

	tok, err := Mint(MintParams{DecisionID: "d1", Action: "read", PolicyVersionHash: "hash1", IssuerNodeID: signer.Fingerprint()}, now, signer)
	require.NoError(t, err)

	ok, err := Verify(context.Background(), tok, emptyRing, now, led, VerifyParams{ActivePolicyHash: "hash1"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerify_TamperedSignatureRejected(t *testing.T) {
	signer := testSigner(t)
	ring := identity.NewKeyRing()
	ring.Add(signer)
	led := ledger.NewMemoryLedger(signer, nil)
	now := time.Now()

	tok, err := Mint(MintParams{DecisionID: "d1", Action: "read", PolicyVersionHash: "hash1", IssuerNodeID: signer.Fingerprint()}, now, signer)
	require.NoError(t, err)
	tok.Body.Action = "write" // mutate the signed body after minting

	ok, err := Verify(context.Background(), tok, ring, now, led, VerifyParams{ActivePolicyHash: "hash1"})
	require.NoError(t, err)
	require.False(t, ok)
}

// Scenario 5 (spec.md §8): a token minted under policy hash P1 remains
// valid after the active policy moves to P2, as long as P1 is recorded
// in ledger history.
func TestVerify_HistoricalPolicyHashAcceptedAfterRotation(t *testing.T) {
	signer := testSigner(t)
	ring := identity.NewKeyRing()
	ring.Add(signer)
	led := ledger.NewMemoryLedger(signer, nil)
	now := time.Now()

	_, err := led.Append(context.Background(), ledger.EventPolicyLoad, map[string]string{"hash": "P1"})
	require.NoError(t, err)

	tok, err := Mint(MintParams{DecisionID: "d1", Action: "read", PolicyVersionHash: "P1", IssuerNodeID: signer.Fingerprint()}, now, signer)
	require.NoError(t, err)

	ok, err := Verify(context.Background(), tok, ring, now, led, VerifyParams{ActivePolicyHash: "P2"})
	require.NoError(t, err)
	require.True(t, ok, "token bound to a historically-active policy hash remains valid")
}

func TestVerify_UnrecordedPolicyHashRejected(t *testing.T) {
	signer := testSigner(t)
	ring := identity.NewKeyRing()
	ring.Add(signer)
	led := ledger.NewMemoryLedger(signer, nil)
	now := time.Now()

	tok, err := Mint(MintParams{DecisionID: "d1", Action: "read", PolicyVersionHash: "ghost-hash", IssuerNodeID: signer.Fingerprint()}, now, signer)
	require.NoError(t, err)

	ok, err := Verify(context.Background(), tok, ring, now, led, VerifyParams{ActivePolicyHash: "P2"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReplayGuard_Memory(t *testing.T) {
	g := NewMemoryReplayGuard()
	firstUse, err := g.MarkSpent(context.Background(), "tok-1", time.Minute)
	require.NoError(t, err)
	require.True(t, firstUse)

	firstUse, err = g.MarkSpent(context.Background(), "tok-1", time.Minute)
	require.NoError(t, err)
	require.False(t, firstUse)
}

func TestReplayGuard_NilIsPermissive(t *testing.T) {
	var g *ReplayGuard
	firstUse, err := g.MarkSpent(context.Background(), "tok-1", time.Minute)
	require.NoError(t, err)
	require.True(t, firstUse)
}
