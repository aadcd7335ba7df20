package decision

import (
	"github.com/lexecon-dev/lexecon/pkg/policy"
	"github.com/lexecon-dev/lexecon/pkg/risk"
)

// ActorHistory supplies the novelty/trust signal the risk rubric reads:
// how many prior decisions this actor has gone through. It is optional —
// a Service with none configured treats every actor as having no history,
// which is the conservative (more novel, less trusted) direction.
type ActorHistory interface {
	SeenCount(actorID string) int
}

// buildRiskInput translates a normalized Request and the pinned Policy
// into the risk Engine's Input, resolving actor/action/data-class facts
// from policy term attributes per spec.md §4.8 ("Input: the
// DecisionRequest plus any policy-declared risk hints on terms").
func buildRiskInput(p *policy.Policy, req Request, history ActorHistory) risk.Input {
	_, actorKnown := p.Term(req.Actor)
	_, actionKnown := p.Term(req.Action)

	seen := 0
	if history != nil {
		seen = history.SeenCount(req.Actor)
	}

	sensitive := false
	for _, dc := range req.DataClasses {
		if term, ok := p.Term(dc); ok {
			if v, ok := term.Attributes["sensitivity"]; ok {
				if s, ok := v.(string); ok && s == "high" {
					sensitive = true
					break
				}
				if b, ok := v.(bool); ok && b {
					sensitive = true
					break
				}
			}
		}
	}

	reversible := false
	if actionTerm, ok := p.Term(req.Action); ok {
		if v, ok := actionTerm.Attributes["reversible"]; ok {
			if b, ok := v.(bool); ok {
				reversible = b
			}
		}
	}

	blastRadius := 0
	if v, ok := req.Context["blast_radius"]; ok {
		switch n := v.(type) {
		case float64:
			blastRadius = int(n)
		case int:
			blastRadius = n
		}
	}

	contextFlags := make(map[string]bool, len(req.Context))
	for k, v := range req.Context {
		if b, ok := v.(bool); ok {
			contextFlags[k] = b
		}
	}

	return risk.Input{
		ActorKnown:     actorKnown,
		ActionKnown:    actionKnown,
		ActorSeenCount: seen,
		DataClasses:    req.DataClasses,
		SensitiveData:  sensitive,
		Reversible:     reversible,
		BlastRadius:    blastRadius,
		RiskHint:       req.RiskHint,
		ContextFlags:   contextFlags,
	}
}
