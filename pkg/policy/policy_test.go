package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func testPolicy(t *testing.T, mode Mode) *Policy {
	t.Helper()
	p, err := NewPolicy(Policy{
		Mode: mode,
		Terms: []Term{
			{ID: "agent_a", Category: CategoryActor},
			{ID: "read_public", Category: CategoryAction},
			{ID: "delete_prod", Category: CategoryAction},
			{ID: "doc_1", Category: CategoryResource},
			{ID: "pii", Category: CategoryDataClass},
		},
		Relations: []Relation{
			{ID: "r1", Type: RelationPermits, Subject: "agent_a", Action: "read_public"},
			{ID: "r2", Type: RelationForbids, Subject: "agent_a", Action: "delete_prod"},
		},
	})
	require.NoError(t, err)
	return p
}

func TestPolicy_HashIsStable(t *testing.T) {
	p1 := testPolicy(t, ModeStrict)
	p2 := testPolicy(t, ModeStrict)
	require.Equal(t, p1.Hash, p2.Hash)
}

func TestPolicy_HashChangesWithMode(t *testing.T) {
	strict := testPolicy(t, ModeStrict)
	paranoid := testPolicy(t, ModeParanoid)
	require.NotEqual(t, strict.Hash, paranoid.Hash)
}

func TestPolicy_RejectsUndefinedTermReference(t *testing.T) {
	_, err := NewPolicy(Policy{
		Mode:  ModeStrict,
		Terms: []Term{{ID: "agent_a", Category: CategoryActor}},
		Relations: []Relation{
			{ID: "r1", Type: RelationPermits, Subject: "agent_a", Action: "ghost_action"},
		},
	})
	require.Error(t, err)
	var malformed *ErrPolicyMalformed
	require.ErrorAs(t, err, &malformed)
}

func TestEngine_StrictDeniesWithoutPermit(t *testing.T) {
	p := testPolicy(t, ModeStrict)
	engine, err := NewEngine()
	require.NoError(t, err)

	res, err := engine.Evaluate(context.Background(), p, Request{Actor: "agent_a", Action: "unknown_action"}, SystemClock{})
	require.NoError(t, err)
	require.Equal(t, OutcomeDeny, res.Outcome)
	require.Equal(t, "not_permitted", res.Reason)
}

func TestEngine_StrictPermitsMatchedRelation(t *testing.T) {
	p := testPolicy(t, ModeStrict)
	engine, err := NewEngine()
	require.NoError(t, err)

	res, err := engine.Evaluate(context.Background(), p, Request{Actor: "agent_a", Action: "read_public"}, SystemClock{})
	require.NoError(t, err)
	require.Equal(t, OutcomePermit, res.Outcome)
}

func TestEngine_ForbidOverridesPermit(t *testing.T) {
	p, err := NewPolicy(Policy{
		Mode: ModePermissive,
		Terms: []Term{
			{ID: "agent_a", Category: CategoryActor},
			{ID: "delete_prod", Category: CategoryAction},
		},
		Relations: []Relation{
			{ID: "r1", Type: RelationPermits, Subject: "agent_a", Action: "delete_prod"},
			{ID: "r2", Type: RelationForbids, Subject: "agent_a", Action: "delete_prod"},
		},
	})
	require.NoError(t, err)
	engine, err := NewEngine()
	require.NoError(t, err)

	res, err := engine.Evaluate(context.Background(), p, Request{Actor: "agent_a", Action: "delete_prod"}, SystemClock{})
	require.NoError(t, err)
	require.Equal(t, OutcomeDeny, res.Outcome)
	require.Equal(t, "forbidden", res.Reason)
}

func TestEngine_ParanoidEscalatesAboveThreshold(t *testing.T) {
	p := testPolicy(t, ModeParanoid)
	engine, err := NewEngine()
	require.NoError(t, err)

	res, err := engine.Evaluate(context.Background(), p, Request{Actor: "agent_a", Action: "read_public", RiskHint: 5}, SystemClock{})
	require.NoError(t, err)
	require.Equal(t, OutcomeEscalate, res.Outcome)
	require.Equal(t, "requires_human", res.Reason)
}

func TestEngine_ParanoidPermitsBelowThreshold(t *testing.T) {
	p := testPolicy(t, ModeParanoid)
	engine, err := NewEngine()
	require.NoError(t, err)

	res, err := engine.Evaluate(context.Background(), p, Request{Actor: "agent_a", Action: "read_public", RiskHint: 1}, SystemClock{})
	require.NoError(t, err)
	require.Equal(t, OutcomePermit, res.Outcome)
}

func TestEngine_RequiresConvertsPermitToEscalate(t *testing.T) {
	p, err := NewPolicy(Policy{
		Mode: ModeStrict,
		Terms: []Term{
			{ID: "agent_a", Category: CategoryActor},
			{ID: "deploy", Category: CategoryAction},
			{ID: "user_approval", Category: CategoryAction},
		},
		Relations: []Relation{
			{ID: "r1", Type: RelationPermits, Subject: "agent_a", Action: "deploy"},
			{ID: "r2", Type: RelationRequires, Subject: "agent_a", Action: "user_approval"},
		},
	})
	require.NoError(t, err)
	engine, err := NewEngine()
	require.NoError(t, err)

	res, err := engine.Evaluate(context.Background(), p, Request{Actor: "agent_a", Action: "deploy", Context: map[string]interface{}{}}, SystemClock{})
	require.NoError(t, err)
	require.Equal(t, OutcomeEscalate, res.Outcome)
	require.Equal(t, "missing_requirement", res.Reason)

	res, err = engine.Evaluate(context.Background(), p, Request{Actor: "agent_a", Action: "deploy", Context: map[string]interface{}{"user_approval": true}}, SystemClock{})
	require.NoError(t, err)
	require.Equal(t, OutcomePermit, res.Outcome)
}

func TestEngine_ConstraintExpressionGatesMatch(t *testing.T) {
	p, err := NewPolicy(Policy{
		Mode: ModeStrict,
		Terms: []Term{
			{ID: "agent_a", Category: CategoryActor},
			{ID: "read_doc", Category: CategoryAction},
		},
		Relations: []Relation{
			{ID: "r1", Type: RelationPermits, Subject: "agent_a", Action: "read_doc", Constraint: `risk_hint < 3`},
		},
	})
	require.NoError(t, err)
	engine, err := NewEngine()
	require.NoError(t, err)

	res, err := engine.Evaluate(context.Background(), p, Request{Actor: "agent_a", Action: "read_doc", RiskHint: 4}, SystemClock{})
	require.NoError(t, err)
	require.Equal(t, OutcomeDeny, res.Outcome)

	res, err = engine.Evaluate(context.Background(), p, Request{Actor: "agent_a", Action: "read_doc", RiskHint: 1}, SystemClock{})
	require.NoError(t, err)
	require.Equal(t, OutcomePermit, res.Outcome)
}

func TestEngine_UnknownActorMatchesNoRelation(t *testing.T) {
	p := testPolicy(t, ModePermissive)
	engine, err := NewEngine()
	require.NoError(t, err)

	res, err := engine.Evaluate(context.Background(), p, Request{Actor: "nobody", Action: "read_public"}, SystemClock{})
	require.NoError(t, err)
	require.Equal(t, OutcomePermit, res.Outcome, "permissive mode permits absent a forbid")
	require.Equal(t, "permissive_default", res.Reason)
}

func TestEngine_DeterminismAcrossRepeatedEvaluation(t *testing.T) {
	p := testPolicy(t, ModeStrict)
	engine, err := NewEngine()
	require.NoError(t, err)

	req := Request{Actor: "agent_a", Action: "read_public"}
	first, err := engine.Evaluate(context.Background(), p, req, SystemClock{})
	require.NoError(t, err)
	second, err := engine.Evaluate(context.Background(), p, req, SystemClock{})
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestLoadBundle_ValidBundle(t *testing.T) {
	const bundle = `{
		"mode": "STRICT",
		"terms": [
			{"id": "agent_a", "category": "actor"},
			{"id": "read_public", "category": "action"}
		],
		"relations": [
			{"id": "r1", "type": "permits", "subject": "agent_a", "action": "read_public"}
		]
	}`
	p, err := LoadBundle([]byte(bundle))
	require.NoError(t, err)
	require.Equal(t, ModeStrict, p.Mode)
	require.NotEmpty(t, p.Hash)
}

func TestLoadBundle_RejectsUnknownMode(t *testing.T) {
	const bundle = `{
		"mode": "YOLO",
		"terms": [],
		"relations": []
	}`
	_, err := LoadBundle([]byte(bundle))
	require.Error(t, err)
}

func TestLoadBundle_RejectsDanglingRelationReference(t *testing.T) {
	const bundle = `{
		"mode": "STRICT",
		"terms": [{"id": "agent_a", "category": "actor"}],
		"relations": [
			{"id": "r1", "type": "permits", "subject": "agent_a", "action": "nonexistent"}
		]
	}`
	_, err := LoadBundle([]byte(bundle))
	require.Error(t, err)
	var malformed *ErrPolicyMalformed
	require.ErrorAs(t, err, &malformed)
}
