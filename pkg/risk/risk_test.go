package risk

import (
	"testing"

	"github.com/lexecon-dev/lexecon/pkg/identity"
	"github.com/lexecon-dev/lexecon/pkg/policy"
	"github.com/stretchr/testify/require"
)

func equalWeights() policy.RiskWeights {
	return policy.RiskWeights{Novelty: 1, Reversibility: 1, DataExposure: 1, Blast: 1, ActorTrust: 1, Context: 1}
}

func TestScore_UnknownActorIsMaximallyRisky(t *testing.T) {
	e := NewEngine()
	rec := e.Score(equalWeights(), Input{ActorKnown: false, ActionKnown: true})
	require.Equal(t, 100.0, rec.Dimensions.Novelty)
	require.Equal(t, 100.0, rec.Dimensions.ActorTrust)
}

func TestScore_QuantizationBoundaries(t *testing.T) {
	require.Equal(t, LevelLow, quantize(0))
	require.Equal(t, LevelLow, quantize(25))
	require.Equal(t, LevelMedium, quantize(25.01))
	require.Equal(t, LevelMedium, quantize(50))
	require.Equal(t, LevelHigh, quantize(50.01))
	require.Equal(t, LevelHigh, quantize(75))
	require.Equal(t, LevelCritical, quantize(75.01))
	require.Equal(t, LevelCritical, quantize(100))
}

func TestScore_ReversibleAndKnownActorLowersRisk(t *testing.T) {
	e := NewEngine()
	risky := e.Score(equalWeights(), Input{ActorKnown: false, ActionKnown: false, Reversible: false, BlastRadius: 50, SensitiveData: true, RiskHint: 5})
	safe := e.Score(equalWeights(), Input{ActorKnown: true, ActionKnown: true, ActorSeenCount: 20, Reversible: true, BlastRadius: 0, RiskHint: 1})
	require.Greater(t, risky.OverallScore, safe.OverallScore)
	require.Equal(t, LevelCritical, risky.Level)
}

func TestScore_ZeroWeightsFallBackToEqualWeighting(t *testing.T) {
	e := NewEngine()
	rec := e.Score(policy.RiskWeights{}, Input{ActorKnown: true, ActionKnown: true, Reversible: true, RiskHint: 1})
	require.GreaterOrEqual(t, rec.OverallScore, 0.0)
	require.LessOrEqual(t, rec.OverallScore, 100.0)
}

func TestRecord_SignAndVerify(t *testing.T) {
	e := NewEngine()
	rec := e.Score(equalWeights(), Input{ActorKnown: true, ActionKnown: true, RiskHint: 2})

	kp, err := identity.GenerateEd25519()
	require.NoError(t, err)
	require.NoError(t, rec.Sign(kp))
	require.NotEmpty(t, rec.Signature)
	require.Equal(t, identity.AlgorithmEd25519, rec.Algorithm)
}

func TestScore_Deterministic(t *testing.T) {
	e := NewEngine()
	in := Input{ActorKnown: true, ActionKnown: true, ActorSeenCount: 3, BlastRadius: 7, DataClasses: []string{"pii"}, RiskHint: 3}
	r1 := e.Score(equalWeights(), in)
	r2 := e.Score(equalWeights(), in)
	require.Equal(t, r1, r2)
}
