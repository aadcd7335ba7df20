package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// Clock is the injected time source every component that must reason
// about "now" depends on, rather than calling time.Now() directly. This
// keeps evaluation reproducible in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Request is the structural input to Evaluate: §3's DecisionRequest
// reduced to the fields the policy algorithm reads.
type Request struct {
	Actor      string
	Action     string
	Object     string
	DataClasses []string
	Context    map[string]interface{}
	RiskHint   int
}

// Outcome is the result of evaluating a Request against a Policy.
type Outcome string

const (
	OutcomePermit   Outcome = "PERMIT"
	OutcomeDeny     Outcome = "DENY"
	OutcomeEscalate Outcome = "ESCALATE"
)

// TraceEntry is one rule inspection that influenced the outcome.
type TraceEntry struct {
	RelationID string `json:"relation_id"`
	Kind       RelationType `json:"kind"`
	Matched    bool   `json:"matched"`
	Note       string `json:"note"`
}

// Result bundles everything Evaluate produces for the Decision Service
// to fold into a signed Decision.
type Result struct {
	Outcome Outcome
	Reason  string
	Trace   []TraceEntry
}

const unknownTermID = "__unknown__"

// Engine evaluates requests against a Policy. It holds a CEL environment
// used to compile relation constraint expressions; programs are compiled
// lazily and cached per Policy.Hash+relation id, since the same policy is
// evaluated many times.
type Engine struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program // policyHash+"/"+relationID -> compiled program
}

// NewEngine builds the fixed CEL environment every constraint expression
// is compiled against: actor, action, object, data_classes, context,
// risk_hint. No time or randomness built-ins are registered, so a
// compiled program is a pure function of its inputs.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("actor", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("object", cel.StringType),
		cel.Variable("data_classes", cel.ListType(cel.StringType)),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("risk_hint", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: build cel env: %w", err)
	}
	return &Engine{env: env, programs: make(map[string]cel.Program)}, nil
}

func (e *Engine) program(policyHash string, r Relation) (cel.Program, error) {
	if r.Constraint == "" {
		return nil, nil
	}
	key := policyHash + "/" + r.ID
	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.programs[key]; ok {
		return prg, nil
	}
	ast, issues := e.env.Compile(r.Constraint)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: relation %q: compile constraint: %w", r.ID, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policy: relation %q: build program: %w", r.ID, err)
	}
	e.programs[key] = prg
	return prg, nil
}

func (e *Engine) constraintSatisfied(policyHash string, r Relation, req Request) (bool, error) {
	prg, err := e.program(policyHash, r)
	if err != nil {
		return false, err
	}
	if prg == nil {
		return true, nil
	}
	out, _, err := prg.Eval(map[string]interface{}{
		"actor":        req.Actor,
		"action":       req.Action,
		"object":       req.Object,
		"data_classes": req.DataClasses,
		"context":      req.Context,
		"risk_hint":    int64(req.RiskHint),
	})
	if err != nil {
		return false, fmt.Errorf("policy: relation %q: evaluate constraint: %w", r.ID, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: relation %q: constraint did not evaluate to bool (got %s)", r.ID, out.Type().TypeName())
	}
	return b, nil
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// objectMatches implements §4.3 step 2's object-match rule: no declared
// object matches anything; an explicit object matches the request's
// object verbatim or any of its data classes.
func objectMatches(relationObject string, req Request) bool {
	if relationObject == "" {
		return true
	}
	if relationObject == req.Object {
		return true
	}
	return containsString(req.DataClasses, relationObject)
}

// Evaluate implements the six-step policy algorithm. It is side-effect
// free: the same (Policy, Request) pair always yields a byte-equal
// Result except that compiled CEL programs are cached across calls as a
// pure performance optimization.
func (e *Engine) Evaluate(ctx context.Context, p *Policy, req Request, clock Clock) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	// Step 1: resolve actor/action/object; unresolved ids become the
	// synthetic unknown term, which matches no relation.
	actorID := req.Actor
	if _, ok := p.Term(actorID); !ok {
		actorID = unknownTermID
	}
	actionID := req.Action
	if _, ok := p.Term(actionID); !ok {
		actionID = unknownTermID
	}

	// Step 2: collect candidates (subject+action match; object optional).
	var forbids, permits, requires []Relation
	trace := make([]TraceEntry, 0, len(p.Relations))

	for _, r := range p.Relations {
		if r.Subject != actorID || r.Action != actionID {
			continue
		}
		if !objectMatches(r.Object, req) {
			continue
		}
		satisfied, err := e.constraintSatisfied(p.Hash, r, req)
		if err != nil {
			return Result{}, err
		}
		entry := TraceEntry{RelationID: r.ID, Kind: r.Type, Matched: satisfied}
		if !satisfied {
			entry.Note = "structural match but constraint false"
			trace = append(trace, entry)
			continue
		}
		entry.Note = "matched"
		trace = append(trace, entry)

		switch r.Type {
		case RelationForbids:
			forbids = append(forbids, r)
		case RelationPermits:
			permits = append(permits, r)
		case RelationRequires:
			requires = append(requires, r)
		}
	}

	// Step 4: any satisfied forbid is an immediate deny.
	if len(forbids) > 0 {
		return Result{Outcome: OutcomeDeny, Reason: "forbidden", Trace: trace}, nil
	}

	// Step 5: apply mode.
	var outcome Outcome
	var reason string
	switch p.Mode {
	case ModePermissive:
		outcome, reason = OutcomePermit, "permissive_default"
	case ModeStrict:
		if len(permits) > 0 {
			outcome, reason = OutcomePermit, "permit_matched"
		} else {
			outcome, reason = OutcomeDeny, "not_permitted"
		}
	case ModeParanoid:
		threshold := p.ParanoidRiskThreshold
		if threshold == 0 {
			threshold = defaultParanoidRiskThreshold
		}
		// Per spec.md §4.3 step 5, paranoid mode has exactly two outcomes
		// once no forbid matched: PERMIT when a permit relation matched and
		// the risk hint clears the threshold, ESCALATE otherwise. There is
		// no third "not_permitted" deny branch here (see DESIGN.md for the
		// empty-policy boundary note).
		if len(permits) > 0 && req.RiskHint <= threshold {
			outcome, reason = OutcomePermit, "permit_matched"
		} else {
			outcome, reason = OutcomeEscalate, "requires_human"
		}
	default:
		return Result{}, fmt.Errorf("policy: unknown mode %q", p.Mode)
	}

	// Step 6: unsatisfied requires converts a would-be permit into escalate.
	if outcome == OutcomePermit {
		for _, r := range requires {
			met, err := requirementMet(r, req)
			if err != nil {
				return Result{}, err
			}
			if !met {
				trace = append(trace, TraceEntry{RelationID: r.ID, Kind: r.Type, Matched: false, Note: "unsatisfied requirement"})
				return Result{Outcome: OutcomeEscalate, Reason: "missing_requirement", Trace: trace}, nil
			}
		}
	}

	return Result{Outcome: outcome, Reason: reason, Trace: trace}, nil
}

// requirementMet checks a `requires` relation's context predicate. The
// convention (spec §4.3 example: `requires user_approval` checked against
// `context.user_approval != true`) is that the relation's action id names
// the context key that must be truthy.
func requirementMet(r Relation, req Request) (bool, error) {
	v, ok := req.Context[r.Action]
	if !ok {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, nil
	}
	return b, nil
}
