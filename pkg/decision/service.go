package decision

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lexecon-dev/lexecon/pkg/canonical"
	"github.com/lexecon-dev/lexecon/pkg/evidence"
	"github.com/lexecon-dev/lexecon/pkg/identity"
	"github.com/lexecon-dev/lexecon/pkg/ledger"
	"github.com/lexecon-dev/lexecon/pkg/policy"
	"github.com/lexecon-dev/lexecon/pkg/risk"
	"github.com/lexecon-dev/lexecon/pkg/token"
)

// Config carries the tunables spec.md §5 calls out as internal deadlines
// and §4.5 as TTL ceilings, plus the bound on in-flight Decide calls that
// implements the backpressure behavior in §5/§7.
type Config struct {
	IssuerNodeID string

	DefaultTokenTTL time.Duration // 0 selects token.DefaultTTL
	MaxTokenTTL     time.Duration // 0 selects token.MaxTTL; only used for clamping

	LedgerAppendTimeout time.Duration // default 2s, per spec.md §5
	EvidencePutTimeout  time.Duration // default 10s, per spec.md §5

	MaxInFlight int // 0 disables the bound (unlimited)

	EvidenceRetention evidence.RetentionClass // default evidence.RetentionStandard
}

func (c Config) withDefaults() Config {
	if c.LedgerAppendTimeout == 0 {
		c.LedgerAppendTimeout = 2 * time.Second
	}
	if c.EvidencePutTimeout == 0 {
		c.EvidencePutTimeout = 10 * time.Second
	}
	if c.EvidenceRetention == "" {
		c.EvidenceRetention = evidence.RetentionStandard
	}
	return c
}

// Service orchestrates one Decision per Request, per the ten-step
// ordering of spec.md §4.4. The active policy is held behind an atomic
// pointer so concurrent Decide calls always observe either the old or
// the new policy, never a torn swap (spec.md §9).
type Service struct {
	cfg Config

	policyEngine *policy.Engine
	activePolicy atomic.Pointer[policy.Policy]

	riskEngine *risk.Engine
	riskStore  risk.Store

	ledger   ledger.Ledger
	evidence evidence.Store

	signer  identity.KeyPair
	clock   Clock
	history ActorHistory

	inFlight chan struct{}
}

// NewService wires the five collaborating components (policy, risk,
// ledger, evidence, identity) into one orchestrator. riskStore and
// history may be nil; history defaults to "no history for anyone", and
// with a nil riskStore Decide still signs each risk record but does not
// persist it, so its risk_score_id cannot be looked up later
// (risk.NewMemoryStore is sufficient for a single node).
func NewService(
	cfg Config,
	policyEngine *policy.Engine,
	riskEngine *risk.Engine,
	riskStore risk.Store,
	led ledger.Ledger,
	evidenceStore evidence.Store,
	signer identity.KeyPair,
	clock Clock,
	history ActorHistory,
) *Service {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = SystemClock
	}
	s := &Service{
		cfg:          cfg,
		policyEngine: policyEngine,
		riskEngine:   riskEngine,
		riskStore:    riskStore,
		ledger:       led,
		evidence:     evidenceStore,
		signer:       signer,
		clock:        clock,
		history:      history,
	}
	if cfg.MaxInFlight > 0 {
		s.inFlight = make(chan struct{}, cfg.MaxInFlight)
	}
	return s
}

// SetPolicy atomically publishes a new active Policy. Readers mid-
// evaluation keep the snapshot they already took; new Decide calls
// observe the new policy immediately.
func (s *Service) SetPolicy(p *policy.Policy) {
	s.activePolicy.Store(p)
}

// ActivePolicy returns the currently published Policy, or nil if none
// has ever been set.
func (s *Service) ActivePolicy() *policy.Policy {
	return s.activePolicy.Load()
}

// policyLoadRecord is the POLICY_LOAD ledger payload: enough to let
// token.Verify's historical-policy fallback (spec.md §8 scenario 5)
// confirm a given hash was genuinely active at some point, without
// requiring every Decision to carry a full policy snapshot.
type policyLoadRecord struct {
	Hash     string        `json:"hash"`
	Policy   policy.Policy `json:"policy"`
	LoadedAt time.Time     `json:"loaded_at"`
}

// LoadPolicy records the activation of p to the ledger and then
// publishes it via SetPolicy. Unlike SetPolicy, this is the durable,
// audited way to roll out a policy change: if the ledger append fails,
// the previously active policy remains in force.
func (s *Service) LoadPolicy(ctx context.Context, p *policy.Policy) error {
	rec := policyLoadRecord{Hash: p.Hash, Policy: *p, LoadedAt: s.clock.Now()}
	if _, err := s.ledger.Append(ctx, ledger.EventPolicyLoad, rec); err != nil {
		slog.Error("decision: policy load ledger append failed", "policy_hash", p.Hash, "error", err)
		return &LedgerUnavailableError{Err: err}
	}
	s.SetPolicy(p)
	slog.Info("decision: policy activated", "policy_hash", p.Hash)
	return nil
}

func (s *Service) acquireSlot() bool {
	if s.inFlight == nil {
		return true
	}
	select {
	case s.inFlight <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Service) releaseSlot() {
	if s.inFlight == nil {
		return
	}
	<-s.inFlight
}

func classifyCtxErr(err error) error {
	switch err {
	case context.DeadlineExceeded:
		return ErrTimeout
	case context.Canceled:
		return ErrCancelled
	default:
		return err
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Decide implements spec.md §4.4's ten steps. A Decision is returned only
// if the ledger append in step 9 durably succeeded; any earlier failure
// returns a nil Decision and a non-nil error, and nothing is left for a
// caller to mistake for a signed, anchored result.
func (s *Service) Decide(ctx context.Context, req Request) (*Decision, *token.Token, error) {
	if !s.acquireSlot() {
		slog.Warn("decision: rejecting request, in-flight limit reached", "max_in_flight", s.cfg.MaxInFlight)
		return nil, nil, ErrBackpressure
	}
	defer s.releaseSlot()

	// Step 1.
	decisionID := newID()
	receivedAt := s.clock.Now()

	// Step 2.
	clean, malformedReason, ok := normalize(req)
	if !ok {
		return s.recordMalformed(ctx, decisionID, req, receivedAt, malformedReason)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, classifyCtxErr(err)
	}

	// Step 3.
	activePolicy := s.activePolicy.Load()
	if activePolicy == nil {
		return nil, nil, ErrPolicyNotLoaded
	}

	// Step 4.
	polReq := policy.Request{
		Actor:       clean.Actor,
		Action:      clean.Action,
		Object:      clean.Resource,
		DataClasses: clean.DataClasses,
		Context:     clean.Context,
		RiskHint:    clean.RiskHint,
	}
	result, err := s.policyEngine.Evaluate(ctx, activePolicy, polReq, policyClock{s.clock})
	if err != nil {
		return nil, nil, fmt.Errorf("decision: evaluate policy: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, classifyCtxErr(err)
	}

	// Step 5.
	riskInput := buildRiskInput(activePolicy, clean, s.history)
	riskRecord := s.riskEngine.Score(activePolicy.Weights, riskInput)
	riskRecord.ID = newID()
	if err := riskRecord.Sign(s.signer); err != nil {
		return nil, nil, &SigningError{Op: "risk_record", Err: err}
	}
	if s.riskStore != nil {
		if err := s.riskStore.Put(ctx, riskRecord); err != nil {
			return nil, nil, fmt.Errorf("decision: store risk record: %w", err)
		}
	}

	outcome, reason := result.Outcome, result.Reason
	if outcome == policy.OutcomePermit && riskRecord.Level == risk.LevelCritical {
		outcome, reason = policy.OutcomeEscalate, "risk_critical"
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, classifyCtxErr(err)
	}

	// Step 6.
	var tok *token.Token
	if outcome == policy.OutcomePermit {
		ttl := s.cfg.DefaultTokenTTL
		if ttl == 0 {
			ttl = token.DefaultTTL
		}
		if max := s.cfg.MaxTokenTTL; max != 0 && ttl > max {
			ttl = max
		}
		tok, err = token.Mint(token.MintParams{
			DecisionID:        decisionID,
			Action:            clean.Action,
			Tool:              clean.Tool,
			Resource:          clean.Resource,
			PolicyVersionHash: activePolicy.Hash,
			IssuerNodeID:      s.cfg.IssuerNodeID,
			TTL:               ttl,
		}, receivedAt, s.signer)
		if err != nil {
			return nil, nil, &SigningError{Op: "token", Err: err}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, classifyCtxErr(err)
	}

	// Step 7. Evidence Put respects its own internal deadline, not the
	// caller's — once we are this far, a slow caller deadline should not
	// unwind artifact creation that the ledger append is about to depend on.
	evCtx, cancel := context.WithTimeout(context.Background(), s.cfg.EvidencePutTimeout)
	defer cancel()

	artifactIDs, err := s.storeEvidence(evCtx, decisionID, req, clean, receivedAt, activePolicy, outcome, reason, result)
	if err != nil {
		return nil, nil, err
	}

	// Step 8.
	var tokenWire string
	if tok != nil {
		tokenWire, err = tok.Encode()
		if err != nil {
			return nil, nil, &CanonicalEncodingError{Op: "token", Err: err}
		}
	}

	d := Decision{
		DecisionID:          decisionID,
		RequestID:           clean.RequestID,
		Outcome:             outcome,
		Reason:              reason,
		ReasonTrace:         result.Trace,
		PolicyVersionHash:   activePolicy.Hash,
		CapabilityToken:     tokenWire,
		RiskScoreID:         riskRecord.ID,
		EvidenceArtifactIDs: artifactIDs,
		IssuerNodeID:        s.cfg.IssuerNodeID,
		IssuedAt:            receivedAt,
		Algorithm:           s.signer.Algorithm(),
	}

	signed := d.signedView()
	data, err := canonical.Marshal(signed)
	if err != nil {
		return nil, nil, &CanonicalEncodingError{Op: "decision", Err: err}
	}
	sig, err := s.signer.Sign(data)
	if err != nil {
		return nil, nil, &SigningError{Op: "decision", Err: err}
	}
	d.Signature = hex.EncodeToString(sig)

	// Steps 9-10: append and wire back the ledger entry hash. This is the
	// point of no return; from here either the append succeeds and the
	// fully assembled, signed Decision is returned, or it fails and
	// nothing — including the minted token — is handed back.
	ledgerCtx, ledgerCancel := context.WithTimeout(context.Background(), s.cfg.LedgerAppendTimeout)
	defer ledgerCancel()

	entry, err := s.ledger.Append(ledgerCtx, ledger.EventDecision, d)
	if err != nil {
		slog.Error("decision: ledger append failed", "decision_id", decisionID, "error", err)
		return nil, nil, &LedgerUnavailableError{Err: err}
	}
	d.LedgerEntryHash = entry.Hash

	return &d, tok, nil
}

// recordMalformed implements the step-2 failure path: spec.md §7 requires
// every MalformedRequest to be converted into a recorded DENY rather than
// an error, so even a broken request leaves an audit trace.
func (s *Service) recordMalformed(ctx context.Context, decisionID string, req Request, receivedAt time.Time, reason string) (*Decision, *token.Token, error) {
	policyHash := ""
	if p := s.activePolicy.Load(); p != nil {
		policyHash = p.Hash
	}

	d := Decision{
		DecisionID:        decisionID,
		RequestID:         req.RequestID,
		Outcome:           policy.OutcomeDeny,
		Reason:            "malformed_request",
		PolicyVersionHash: policyHash,
		IssuerNodeID:      s.cfg.IssuerNodeID,
		IssuedAt:          receivedAt,
		Algorithm:         s.signer.Algorithm(),
	}
	d.ReasonTrace = []policy.TraceEntry{{Kind: "malformed", Matched: false, Note: reason}}

	signed := d.signedView()
	data, err := canonical.Marshal(signed)
	if err != nil {
		return nil, nil, &CanonicalEncodingError{Op: "decision", Err: err}
	}
	sig, err := s.signer.Sign(data)
	if err != nil {
		return nil, nil, &SigningError{Op: "decision", Err: err}
	}
	d.Signature = hex.EncodeToString(sig)

	ledgerCtx, cancel := context.WithTimeout(context.Background(), s.cfg.LedgerAppendTimeout)
	defer cancel()
	entry, err := s.ledger.Append(ledgerCtx, ledger.EventDecision, d)
	if err != nil {
		slog.Error("decision: ledger append failed for malformed request", "decision_id", decisionID, "error", err)
		return nil, nil, &LedgerUnavailableError{Err: err}
	}
	d.LedgerEntryHash = entry.Hash
	slog.Warn("decision: malformed request recorded as deny", "decision_id", decisionID, "reason", reason)

	return &d, nil, nil
}

// storeEvidence implements step 7: the policy snapshot (deduplicated by
// content hash across decisions sharing a policy version), the decision
// log, and the reason-trace artifact.
func (s *Service) storeEvidence(
	ctx context.Context,
	decisionID string,
	raw Request,
	clean Request,
	receivedAt time.Time,
	p *policy.Policy,
	outcome policy.Outcome,
	reason string,
	result policy.Result,
) ([]string, error) {
	var ids []string

	snapshotBytes, err := canonical.Marshal(p)
	if err != nil {
		return nil, &CanonicalEncodingError{Op: "policy_snapshot", Err: err}
	}
	snapshot, err := s.evidence.Put(ctx, snapshotBytes, evidence.CategoryPolicySnapshot, s.cfg.EvidenceRetention, []string{decisionID})
	if err != nil {
		return nil, s.wrapEvidenceErr(err)
	}
	ids = append(ids, snapshot.ID)

	logRecord := decisionLog{
		DecisionID:        decisionID,
		RequestID:         raw.RequestID,
		Actor:             clean.Actor,
		Action:            clean.Action,
		Tool:              clean.Tool,
		Resource:          clean.Resource,
		DataClasses:       clean.DataClasses,
		RiskHint:          clean.RiskHint,
		Outcome:           outcome,
		Reason:            reason,
		PolicyVersionHash: p.Hash,
		ReceivedAt:        receivedAt,
	}
	logBytes, err := canonical.Marshal(logRecord)
	if err != nil {
		return nil, &CanonicalEncodingError{Op: "decision_log", Err: err}
	}
	logArtifact, err := s.evidence.Put(ctx, logBytes, evidence.CategoryDecisionLog, s.cfg.EvidenceRetention, []string{decisionID})
	if err != nil {
		return nil, s.wrapEvidenceErr(err)
	}
	ids = append(ids, logArtifact.ID)

	traceBytes, err := canonical.Marshal(result.Trace)
	if err != nil {
		return nil, &CanonicalEncodingError{Op: "reason_trace", Err: err}
	}
	traceArtifact, err := s.evidence.Put(ctx, traceBytes, evidence.CategoryAuditTrail, s.cfg.EvidenceRetention, []string{decisionID})
	if err != nil {
		return nil, s.wrapEvidenceErr(err)
	}
	ids = append(ids, traceArtifact.ID)

	return ids, nil
}

func (s *Service) wrapEvidenceErr(err error) error {
	slog.Error("decision: evidence store put failed", "error", err)
	return &EvidenceStoreFullError{Err: err}
}

// policyClock adapts decision.Clock to policy.Clock; both are the single-
// method Now() time.Time shape, kept as distinct named interfaces per
// package so neither package depends on the other's exported type.
type policyClock struct{ c Clock }

func (p policyClock) Now() time.Time { return p.c.Now() }
