// Package risk implements the six-dimension deterministic risk rubric:
// novelty, reversibility, data exposure, blast radius, actor trust, and
// context. Dimension formulas are fixed code; their weights come from
// the policy bundle so that changing them changes the policy hash.
package risk

import (
	"fmt"

	"github.com/lexecon-dev/lexecon/pkg/canonical"
	"github.com/lexecon-dev/lexecon/pkg/identity"
	"github.com/lexecon-dev/lexecon/pkg/policy"
)

// Level is the quantized overall risk band.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Dimensions holds the six per-dimension scores, each in [0, 100].
type Dimensions struct {
	Novelty       float64 `json:"novelty"`
	Reversibility float64 `json:"reversibility"`
	DataExposure  float64 `json:"data_exposure"`
	BlastRadius   float64 `json:"blast_radius"`
	ActorTrust    float64 `json:"actor_trust"`
	Context       float64 `json:"context"`
}

// Record is the signed, append-only output of an evaluation, referenced
// by the Decision that triggered it. ID is assigned by the caller
// (decision.Service) before Sign, so it is covered by the signature like
// every other identifier in the system.
type Record struct {
	ID           string             `json:"id,omitempty"`
	Dimensions   Dimensions       `json:"dimensions"`
	OverallScore float64          `json:"overall_score"`
	Level        Level            `json:"level"`
	Algorithm    identity.Algorithm `json:"algorithm,omitempty"`
	Signature    string           `json:"signature,omitempty"`
}

// Input carries the fields a dimension formula may read. Actor-known and
// action-known reflect whether the request's actor/action resolved to a
// declared policy term; an unresolved actor is maximally untrusted.
type Input struct {
	ActorKnown     bool
	ActionKnown    bool
	ActorSeenCount int // number of prior decisions for this actor (novelty signal)
	DataClasses    []string
	SensitiveData  bool // true if any data class is marked sensitive in policy
	Reversible     bool // policy/term-declared: can this action's effect be undone
	BlastRadius    int  // estimated count of affected resources
	RiskHint       int  // caller-supplied 1-5 hint
	ContextFlags   map[string]bool
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func quantize(score float64) Level {
	switch {
	case score <= 25:
		return LevelLow
	case score <= 50:
		return LevelMedium
	case score <= 75:
		return LevelHigh
	default:
		return LevelCritical
	}
}

func scoreNovelty(in Input) float64 {
	if !in.ActorKnown || !in.ActionKnown {
		return 100
	}
	// Frequently-seen actors are less novel; saturates after 20 priors.
	seen := in.ActorSeenCount
	if seen > 20 {
		seen = 20
	}
	return clamp(100 - float64(seen)*5)
}

func scoreReversibility(in Input) float64 {
	if in.Reversible {
		return 10
	}
	return 90
}

func scoreDataExposure(in Input) float64 {
	if in.SensitiveData {
		return 90
	}
	if len(in.DataClasses) > 0 {
		return 40
	}
	return 5
}

func scoreBlastRadius(in Input) float64 {
	switch {
	case in.BlastRadius <= 0:
		return 5
	case in.BlastRadius == 1:
		return 20
	case in.BlastRadius <= 5:
		return 50
	case in.BlastRadius <= 20:
		return 75
	default:
		return 100
	}
}

func scoreActorTrust(in Input) float64 {
	if !in.ActorKnown {
		return 100
	}
	seen := in.ActorSeenCount
	if seen > 20 {
		seen = 20
	}
	return clamp(80 - float64(seen)*3)
}

func scoreContext(in Input) float64 {
	score := float64(in.RiskHint-1) * 25 // 1 -> 0, 5 -> 100
	for _, set := range in.ContextFlags {
		if set {
			score += 10
		}
	}
	return clamp(score)
}

// Engine computes Records from policy-supplied weights.
type Engine struct{}

// NewEngine constructs a risk Engine. It holds no state: every formula is
// a pure function of its Input and the policy's weights.
func NewEngine() *Engine { return &Engine{} }

// Score computes the six dimension scores and the weighted overall score
// and level. It never fails: unresolved inputs simply read as
// maximally risky rather than erroring.
func (e *Engine) Score(weights policy.RiskWeights, in Input) Record {
	d := Dimensions{
		Novelty:       scoreNovelty(in),
		Reversibility: scoreReversibility(in),
		DataExposure:  scoreDataExposure(in),
		BlastRadius:   scoreBlastRadius(in),
		ActorTrust:    scoreActorTrust(in),
		Context:       scoreContext(in),
	}

	totalWeight := weights.Novelty + weights.Reversibility + weights.DataExposure +
		weights.Blast + weights.ActorTrust + weights.Context
	if totalWeight <= 0 {
		// No weights configured: treat all dimensions equally.
		totalWeight = 6
		weights = policy.RiskWeights{Novelty: 1, Reversibility: 1, DataExposure: 1, Blast: 1, ActorTrust: 1, Context: 1}
	}

	weighted := d.Novelty*weights.Novelty +
		d.Reversibility*weights.Reversibility +
		d.DataExposure*weights.DataExposure +
		d.BlastRadius*weights.Blast +
		d.ActorTrust*weights.ActorTrust +
		d.Context*weights.Context
	overall := weighted / totalWeight

	return Record{
		Dimensions:   d,
		OverallScore: overall,
		Level:        quantize(overall),
	}
}

// Sign computes a signature over the canonical form of the record
// (excluding the signature field itself) and fills in Algorithm and
// Signature.
func (r *Record) Sign(kp identity.KeyPair) error {
	unsigned := *r
	unsigned.Signature = ""
	unsigned.Algorithm = ""
	data, err := canonical.Marshal(unsigned)
	if err != nil {
		return fmt.Errorf("risk: canonicalize record: %w", err)
	}
	sig, err := kp.Sign(data)
	if err != nil {
		return fmt.Errorf("risk: sign record: %w", err)
	}
	r.Algorithm = kp.Algorithm()
	r.Signature = fmt.Sprintf("%x", sig)
	return nil
}
