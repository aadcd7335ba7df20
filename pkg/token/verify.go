package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lexecon-dev/lexecon/pkg/canonical"
	"github.com/lexecon-dev/lexecon/pkg/identity"
	"github.com/lexecon-dev/lexecon/pkg/ledger"
)

// VerifyParams carries the caller-supplied context Verify checks a token
// against: the policy currently in force, and any presented tool/resource
// the token's optional constraints must match.
type VerifyParams struct {
	ActivePolicyHash string
	Tool             string // "" skips the tool constraint
	Resource         string // "" skips the resource constraint
}

// policyLoadPayload mirrors the subset of decision.policyLoadRecord this
// package needs to read back off the ledger; it is not imported directly
// to avoid a decision<->token import cycle (decision already imports token
// to mint capability tokens).
type policyLoadPayload struct {
	Hash string `json:"hash"`
}

// Verify implements the four-point check of spec.md §4.5: signature,
// expiry window, policy version (current or historically active), and
// optional tool/resource constraints. It never trusts a token signed by
// an issuer not present in trustedKeys.
func Verify(ctx context.Context, tok *Token, trustedKeys *identity.KeyRing, now time.Time, led ledger.Ledger, params VerifyParams) (bool, error) {
	sig, err := base64.RawURLEncoding.DecodeString(tok.Signature)
	if err != nil {
		return false, nil
	}
	data, err := canonical.Marshal(tok.Body)
	if err != nil {
		return false, fmt.Errorf("token: canonicalize body: %w", err)
	}
	sigOK, err := trustedKeys.Verify(tok.Body.IssuerNodeID, data, sig)
	if err != nil {
		return false, nil // unknown issuer key
	}
	if !sigOK {
		return false, nil
	}

	if now.Before(tok.Body.IssuedAt) || !now.Before(tok.Body.ExpiresAt) {
		return false, nil
	}

	if tok.Body.PolicyVersionHash != params.ActivePolicyHash {
		historical, err := policyHashEverActive(ctx, led, tok.Body.PolicyVersionHash)
		if err != nil {
			return false, fmt.Errorf("token: check historical policy: %w", err)
		}
		if !historical {
			return false, nil
		}
	}

	if params.Tool != "" && tok.Body.Tool != "" && tok.Body.Tool != params.Tool {
		return false, nil
	}
	if params.Resource != "" && tok.Body.Resource != "" && tok.Body.Resource != params.Resource {
		return false, nil
	}

	return true, nil
}

// policyHashEverActive walks the full ledger looking for a POLICY_LOAD
// entry recording hash, implementing spec.md §8 scenario 5's "the ledger
// is the source of truth" fallback for tokens minted under a since-
// superseded policy.
func policyHashEverActive(ctx context.Context, led ledger.Ledger, hash string) (bool, error) {
	if led == nil {
		return false, nil
	}
	head, err := led.Head(ctx)
	if err != nil {
		return false, fmt.Errorf("head: %w", err)
	}

	it, err := led.Range(ctx, 0, head.Seq+1)
	if err != nil {
		return false, fmt.Errorf("range: %w", err)
	}
	defer it.Close()

	for it.Next() {
		e := it.Entry()
		if e.EventType != ledger.EventPolicyLoad {
			continue
		}
		var p policyLoadPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			continue
		}
		if p.Hash == hash {
			return true, nil
		}
	}
	return false, it.Err()
}
