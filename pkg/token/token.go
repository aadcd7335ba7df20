// Package token implements CapabilityToken minting and verification.
// Tokens are minted only by the Decision Service and are not stored —
// the token itself, once verified, is the proof. The wire format is
// base64url(canonical(body)) + "." + base64url(signature), intentionally
// not JWT: the body's canonical encoding is the same one every other
// signed Lexecon object uses, so one codec and one signature convention
// cover the whole system.
package token

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lexecon-dev/lexecon/pkg/canonical"
	"github.com/lexecon-dev/lexecon/pkg/identity"
)

// TTL bounds per spec.md §4.5.
const (
	DefaultTTL = 300 * time.Second
	MaxTTL     = 3600 * time.Second
)

// Body is the signed payload of a CapabilityToken.
type Body struct {
	TokenID          string    `json:"token_id"`
	DecisionID       string    `json:"decision_id"`
	Action           string    `json:"action"`
	Tool             string    `json:"tool,omitempty"`
	Resource         string    `json:"resource,omitempty"`
	IssuedAt         time.Time `json:"issued_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	PolicyVersionHash string   `json:"policy_version_hash"`
	IssuerNodeID     string    `json:"issuer_node_id"`
	Algorithm        identity.Algorithm `json:"algorithm"`
}

// Token is a minted CapabilityToken: the signed body plus its signature.
// Algorithm travels inside Body (not as a sibling field) so it survives
// the wire encoding, which only carries body+signature.
type Token struct {
	Body      Body   `json:"body"`
	Signature string `json:"signature"`
}

// ErrTTLExceedsCeiling is returned by Mint when the requested TTL is
// non-positive or exceeds MaxTTL.
type ErrTTLExceedsCeiling struct{ Requested time.Duration }

func (e *ErrTTLExceedsCeiling) Error() string {
	return fmt.Sprintf("token: requested ttl %s exceeds ceiling %s", e.Requested, MaxTTL)
}

// MintParams carries everything Mint needs to assemble and sign a body.
type MintParams struct {
	DecisionID        string
	Action            string
	Tool              string
	Resource          string
	PolicyVersionHash string
	IssuerNodeID      string
	TTL               time.Duration // 0 selects DefaultTTL
}

// Mint is invoked only by the Decision Service on a PERMIT outcome.
func Mint(p MintParams, now time.Time, signer identity.KeyPair) (*Token, error) {
	ttl := p.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if ttl <= 0 || ttl > MaxTTL {
		return nil, &ErrTTLExceedsCeiling{Requested: ttl}
	}

	body := Body{
		TokenID:           uuid.NewString(),
		DecisionID:        p.DecisionID,
		Action:            p.Action,
		Tool:              p.Tool,
		Resource:          p.Resource,
		IssuedAt:          now,
		ExpiresAt:         now.Add(ttl),
		PolicyVersionHash: p.PolicyVersionHash,
		IssuerNodeID:      p.IssuerNodeID,
		Algorithm:         signer.Algorithm(),
	}

	data, err := canonical.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("token: canonicalize body: %w", err)
	}
	sig, err := signer.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("token: sign: %w", err)
	}

	return &Token{Body: body, Signature: base64.RawURLEncoding.EncodeToString(sig)}, nil
}

// Encode produces the transport wire form.
func (t *Token) Encode() (string, error) {
	data, err := canonical.Marshal(t.Body)
	if err != nil {
		return "", fmt.Errorf("token: canonicalize body: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data) + "." + t.Signature, nil
}

// Decode parses the wire form without verifying its signature; callers
// must call Verify before trusting the result.
func Decode(wire string) (*Token, error) {
	parts := strings.SplitN(wire, ".", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("token: malformed wire format")
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("token: invalid body encoding: %w", err)
	}
	var body Body
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("token: invalid body: %w", err)
	}
	return &Token{Body: body, Signature: parts[1]}, nil
}
