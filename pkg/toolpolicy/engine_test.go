package toolpolicy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargate-io/cleargate/pkg/audit"
	"github.com/cleargate-io/cleargate/pkg/identity"
	"github.com/cleargate-io/cleargate/pkg/pack"
	"github.com/cleargate-io/cleargate/pkg/toolpolicy"
)

func newEngine(t *testing.T) (*toolpolicy.Engine, *audit.ChainedTrail) {
	t.Helper()

	registry := toolpolicy.NewRegistry()
	for _, tool := range []toolpolicy.Tool{
		{Name: "case.update", Group: toolpolicy.GroupCaseManagement},
		{Name: "doc.generate", Group: toolpolicy.GroupDocumentFactory},
		{Name: "evidence.link", Group: toolpolicy.GroupEvidence},
		{Name: "qc.submit", Group: toolpolicy.GroupQCGates},
		{Name: "filing.submit", Group: toolpolicy.GroupReleaseGated},
	} {
		require.NoError(t, registry.Register(tool))
	}

	directory := identity.NewStaticDirectory()
	require.NoError(t, directory.Register(identity.Actor{
		ID:   "agent-tax-01",
		Role: identity.RoleEngineAgent,
		ToolGroups: []string{
			string(toolpolicy.GroupCaseManagement),
			string(toolpolicy.GroupEvidence),
			string(toolpolicy.GroupReleaseGated),
		},
	}))

	trail := audit.NewChainedTrail()
	engine, err := toolpolicy.NewEngine(registry, directory, audit.NewRecorder(trail, nil))
	require.NoError(t, err)
	return engine, trail
}

func TestCanAgentAccessTool(t *testing.T) {
	engine, _ := newEngine(t)

	assert.True(t, engine.CanAgentAccessTool("agent-tax-01", "case.update"))
	assert.False(t, engine.CanAgentAccessTool("agent-tax-01", "doc.generate"))
	assert.False(t, engine.CanAgentAccessTool("unknown-agent", "case.update"))
	assert.False(t, engine.CanAgentAccessTool("agent-tax-01", "unknown.tool"))
}

func TestEvaluate_AllRulesPass(t *testing.T) {
	engine, trail := newEngine(t)

	verdict := engine.Evaluate(context.Background(), toolpolicy.Invocation{
		AgentID:  "agent-tax-01",
		ToolName: "case.update",
	})
	assert.True(t, verdict.Allowed)
	assert.Equal(t, "all policy rules passed", verdict.Reason)
	assert.Equal(t, 1, trail.Size())
}

func TestEvaluate_DualGate_GovernorFirst(t *testing.T) {
	engine, _ := newEngine(t)

	// Neither gate satisfied: the governor gate denies first.
	verdict := engine.Evaluate(context.Background(), toolpolicy.Invocation{
		AgentID:  "agent-tax-01",
		ToolName: "filing.submit",
	})
	assert.False(t, verdict.Allowed)
	assert.Equal(t, "release_dual_gate", verdict.Rule)
	assert.Equal(t, string(identity.RoleGovernor), verdict.EscalateTo)
}

func TestEvaluate_DualGate_GuardianSecond(t *testing.T) {
	engine, _ := newEngine(t)

	verdict := engine.Evaluate(context.Background(), toolpolicy.Invocation{
		AgentID:             "agent-tax-01",
		ToolName:            "filing.submit",
		HasGovernorApproval: true,
	})
	assert.False(t, verdict.Allowed)
	assert.Equal(t, string(identity.RoleGuardian), verdict.EscalateTo)
}

func TestEvaluate_DualGate_BothPresent(t *testing.T) {
	engine, _ := newEngine(t)

	verdict := engine.Evaluate(context.Background(), toolpolicy.Invocation{
		AgentID:             "agent-tax-01",
		ToolName:            "filing.submit",
		HasGovernorApproval: true,
		HasGuardianPass:     true,
	})
	assert.True(t, verdict.Allowed)
}

func TestEvaluate_NoveltyEscalation(t *testing.T) {
	engine, _ := newEngine(t)

	verdict := engine.Evaluate(context.Background(), toolpolicy.Invocation{
		AgentID:      "agent-tax-01",
		ToolName:     "case.update",
		NoveltyScore: 0.8,
	})
	assert.False(t, verdict.Allowed)
	assert.Equal(t, "novelty_escalation", verdict.Rule)
	assert.Equal(t, string(identity.RoleOperator), verdict.EscalateTo)
}

func TestEvaluate_ExternalActionHold(t *testing.T) {
	engine, _ := newEngine(t)

	verdict := engine.Evaluate(context.Background(), toolpolicy.Invocation{
		AgentID:        "agent-tax-01",
		ToolName:       "case.update",
		ExternalAction: true,
	})
	assert.False(t, verdict.Allowed)
	assert.Equal(t, "external_action_hold", verdict.Rule)
	assert.Equal(t, string(identity.RoleGovernor), verdict.EscalateTo)

	approved := engine.Evaluate(context.Background(), toolpolicy.Invocation{
		AgentID:             "agent-tax-01",
		ToolName:            "case.update",
		ExternalAction:      true,
		HasGovernorApproval: true,
	})
	assert.True(t, approved.Allowed)
}

func TestEvaluate_StaticDenialBeforeChain(t *testing.T) {
	engine, _ := newEngine(t)

	verdict := engine.Evaluate(context.Background(), toolpolicy.Invocation{
		AgentID:  "agent-tax-01",
		ToolName: "doc.generate",
	})
	assert.False(t, verdict.Allowed)
	assert.Equal(t, "static_access", verdict.Rule)
}

func TestEvaluate_CELRule(t *testing.T) {
	engine, _ := newEngine(t)
	require.NoError(t, engine.LoadRule(
		"mt_tax_only",
		`jurisdiction == "" || jurisdiction == "MT_TAX" || jurisdiction == "GLOBAL"`,
		string(identity.RoleOrchestrator),
	))

	allowed := engine.Evaluate(context.Background(), toolpolicy.Invocation{
		AgentID:      "agent-tax-01",
		ToolName:     "case.update",
		Jurisdiction: pack.MTTax,
	})
	assert.True(t, allowed.Allowed)

	denied := engine.Evaluate(context.Background(), toolpolicy.Invocation{
		AgentID:      "agent-tax-01",
		ToolName:     "case.update",
		Jurisdiction: pack.RWTax,
	})
	assert.False(t, denied.Allowed)
	assert.Equal(t, "mt_tax_only", denied.Rule)
	assert.Equal(t, string(identity.RoleOrchestrator), denied.EscalateTo)
}

func TestEvaluate_CELRuleCompileError(t *testing.T) {
	engine, _ := newEngine(t)
	assert.Error(t, engine.LoadRule("broken", `novelty_score ==`, ""))
}

func TestRequiresGating(t *testing.T) {
	assert.True(t, toolpolicy.RequiresGating(toolpolicy.GroupReleaseGated))
	for _, group := range []toolpolicy.Group{
		toolpolicy.GroupCaseManagement,
		toolpolicy.GroupDocumentFactory,
		toolpolicy.GroupEvidence,
		toolpolicy.GroupQCGates,
	} {
		assert.False(t, toolpolicy.RequiresGating(group))
	}
}

func TestRegistry_GetToolGroup(t *testing.T) {
	registry := toolpolicy.NewRegistry()
	require.NoError(t, registry.Register(toolpolicy.Tool{Name: "qc.submit", Group: toolpolicy.GroupQCGates}))

	group, ok := registry.GetToolGroup("qc.submit")
	assert.True(t, ok)
	assert.Equal(t, toolpolicy.GroupQCGates, group)

	_, ok = registry.GetToolGroup("missing")
	assert.False(t, ok)

	assert.Error(t, registry.Register(toolpolicy.Tool{Name: "x", Group: "bogus"}))
	assert.Error(t, registry.Register(toolpolicy.Tool{Group: toolpolicy.GroupEvidence}))
}
