// Package policy implements the structural policy engine: terms, typed
// relations between them, and the PERMIT/DENY/ESCALATE evaluation
// algorithm described for the Decision Service to invoke per request.
// Evaluation is purely structural plus an optional CEL constraint check;
// it never touches the network, the clock, or a random source.
package policy

import (
	"fmt"
	"sort"

	"github.com/lexecon-dev/lexecon/pkg/canonical"
)

// TermCategory enumerates the kinds of term a Policy may declare.
type TermCategory string

const (
	CategoryActor     TermCategory = "actor"
	CategoryAction    TermCategory = "action"
	CategoryResource  TermCategory = "resource"
	CategoryDataClass TermCategory = "data_class"
	CategoryContext   TermCategory = "context"
)

// Term is a named entity a Policy's relations refer to.
type Term struct {
	ID         string                 `json:"id"`
	Category   TermCategory           `json:"category"`
	Label      string                 `json:"label"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// RelationType enumerates the three relation kinds §3 defines.
type RelationType string

const (
	RelationPermits  RelationType = "permits"
	RelationForbids  RelationType = "forbids"
	RelationRequires RelationType = "requires"
)

// Relation is a typed directed edge between terms. Object is optional: a
// relation with no object matches any object; a relation with a
// data_class object matches a request whose data_classes set contains it.
type Relation struct {
	ID         string       `json:"id"`
	Type       RelationType `json:"type"`
	Subject    string       `json:"subject"`
	Action     string       `json:"action"`
	Object     string       `json:"object,omitempty"`
	Constraint string       `json:"constraint,omitempty"`
}

// Mode selects how an otherwise-unmatched or merely-permitted request is
// resolved.
type Mode string

const (
	ModePermissive Mode = "PERMISSIVE"
	ModeStrict     Mode = "STRICT"
	ModeParanoid   Mode = "PARANOID"
)

// RiskWeights holds the six-dimension rubric weights the risk engine
// reads; they are part of the policy bundle because they are hashed into
// PolicyHash along with terms and relations (spec requires weights and
// dimension formulas to be covered by the policy version hash).
type RiskWeights struct {
	Novelty      float64 `json:"novelty"`
	Reversibility float64 `json:"reversibility"`
	DataExposure float64 `json:"data_exposure"`
	Blast        float64 `json:"blast_radius"`
	ActorTrust   float64 `json:"actor_trust"`
	Context      float64 `json:"context"`
}

// Policy is an immutable, hashed collection of terms and relations.
type Policy struct {
	Mode      Mode       `json:"mode"`
	Terms     []Term     `json:"terms"`
	Relations []Relation `json:"relations"`
	Weights   RiskWeights `json:"risk_weights"`

	// ParanoidRiskThreshold is the inclusive upper bound on a request's
	// risk hint for PARANOID mode to permit rather than escalate.
	// Open question in the source spec; resolved here as a policy field
	// (default 2, see DESIGN.md).
	ParanoidRiskThreshold int `json:"paranoid_risk_threshold,omitempty"`

	// Hash is computed by NewPolicy (which LoadBundle calls) and pinned into every Decision
	// evaluated against this Policy.
	Hash string `json:"-"`

	termsByID map[string]Term
}

const defaultParanoidRiskThreshold = 2

// ErrPolicyMalformed is returned when a loaded bundle fails structural
// validation (a relation references an undeclared term).
type ErrPolicyMalformed struct {
	Reason string
}

func (e *ErrPolicyMalformed) Error() string {
	return fmt.Sprintf("policy: malformed: %s", e.Reason)
}

// index builds the term lookup and fills in defaults. Called by
// LoadBundle and by NewPolicy for in-process construction (tests,
// programmatic policy assembly).
func (p *Policy) index() error {
	if p.ParanoidRiskThreshold == 0 {
		p.ParanoidRiskThreshold = defaultParanoidRiskThreshold
	}
	p.termsByID = make(map[string]Term, len(p.Terms))
	for _, t := range p.Terms {
		if _, dup := p.termsByID[t.ID]; dup {
			return &ErrPolicyMalformed{Reason: fmt.Sprintf("duplicate term id %q", t.ID)}
		}
		p.termsByID[t.ID] = t
	}
	for _, r := range p.Relations {
		if _, ok := p.termsByID[r.Subject]; !ok {
			return &ErrPolicyMalformed{Reason: fmt.Sprintf("relation %q references undefined subject %q", r.ID, r.Subject)}
		}
		if _, ok := p.termsByID[r.Action]; !ok {
			return &ErrPolicyMalformed{Reason: fmt.Sprintf("relation %q references undefined action %q", r.ID, r.Action)}
		}
		if r.Object != "" {
			if _, ok := p.termsByID[r.Object]; !ok {
				return &ErrPolicyMalformed{Reason: fmt.Sprintf("relation %q references undefined object %q", r.ID, r.Object)}
			}
		}
	}
	return nil
}

// NewPolicy validates and indexes a Policy assembled in-process (e.g. by
// tests), then computes its hash.
func NewPolicy(p Policy) (*Policy, error) {
	if err := p.index(); err != nil {
		return nil, err
	}
	h, err := p.computeHash()
	if err != nil {
		return nil, fmt.Errorf("policy: hash: %w", err)
	}
	p.Hash = h
	return &p, nil
}

// Term resolves an id to its declared Term, reporting whether it exists.
func (p *Policy) Term(id string) (Term, bool) {
	t, ok := p.termsByID[id]
	return t, ok
}

// hashView is the canonicalized shape the policy hash is computed over:
// terms sorted by id, relations sorted by (type, subject, action,
// object), mirroring the definition of PolicyHash.
type hashView struct {
	Mode        Mode        `json:"mode"`
	Terms       []Term      `json:"terms"`
	Relations   []Relation  `json:"relations"`
	Weights     RiskWeights `json:"risk_weights"`
	RiskBound   int         `json:"paranoid_risk_threshold"`
}

func (p *Policy) computeHash() (string, error) {
	terms := append([]Term(nil), p.Terms...)
	sort.Slice(terms, func(i, j int) bool { return terms[i].ID < terms[j].ID })

	relations := append([]Relation(nil), p.Relations...)
	sort.Slice(relations, func(i, j int) bool {
		a, b := relations[i], relations[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		return a.Object < b.Object
	})

	view := hashView{
		Mode:      p.Mode,
		Terms:     terms,
		Relations: relations,
		Weights:   p.Weights,
		RiskBound: p.ParanoidRiskThreshold,
	}
	return canonical.Hash(view)
}
