package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargate-io/cleargate/pkg/audit"
	"github.com/cleargate-io/cleargate/pkg/autonomy"
	"github.com/cleargate-io/cleargate/pkg/engine"
	"github.com/cleargate-io/cleargate/pkg/errdefs"
	"github.com/cleargate-io/cleargate/pkg/evidence"
	"github.com/cleargate-io/cleargate/pkg/identity"
	"github.com/cleargate-io/cleargate/pkg/pack"
	"github.com/cleargate-io/cleargate/pkg/qc"
	"github.com/cleargate-io/cleargate/pkg/release"
	"github.com/cleargate-io/cleargate/pkg/store"
	"github.com/cleargate-io/cleargate/pkg/template"
	"github.com/cleargate-io/cleargate/pkg/toolpolicy"
)

type engineFixture struct {
	engine *engine.Engine
	mem    *store.Memory
	trail  *audit.ChainedTrail
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	directory := identity.NewStaticDirectory()
	require.NoError(t, directory.Register(identity.Actor{ID: "marco", Role: identity.RoleGovernor}))
	require.NoError(t, directory.Register(identity.Actor{ID: "diane", Role: identity.RoleGuardian}))
	require.NoError(t, directory.Register(identity.Actor{ID: "agent-tax-01", Role: identity.RoleEngineAgent,
		ToolGroups: []string{"case_management", "evidence", "release_gated"}}))

	tools := toolpolicy.NewRegistry()
	require.NoError(t, tools.Register(toolpolicy.Tool{Name: "case.read", Group: toolpolicy.GroupCaseManagement}))
	require.NoError(t, tools.Register(toolpolicy.Tool{Name: "filing.submit", Group: toolpolicy.GroupReleaseGated}))

	mem := store.NewMemory()
	mem.RegisterSubject("ws_1", "in_progress")
	trail := audit.NewChainedTrail()

	eng, err := engine.New(engine.Deps{
		QCRepo:      mem,
		Subjects:    mem,
		Directives:  mem,
		ReleaseRepo: mem,
		Templates:   mem,
		Directory:   directory,
		Tools:       tools,
		Trail:       trail,
	})
	require.NoError(t, err)
	eng.WithClock(func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) })

	return &engineFixture{engine: eng, mem: mem, trail: trail}
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := engine.New(engine.Deps{})
	assert.Error(t, err)
}

func TestClassifyAutonomy(t *testing.T) {
	f := newEngineFixture(t)

	decision := f.engine.ClassifyAutonomy(context.Background(), autonomy.Input{
		Workflow:             "vat_return",
		NoveltyScore:         10,
		EvidenceCompleteness: 95,
		HasApprovedTemplate:  true,
	})
	assert.Equal(t, autonomy.TierA, decision.Tier)
	assert.False(t, decision.RequiresHuman)
}

func TestEndToEnd_QCThendualGateRelease(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	review, err := f.engine.SubmitForQC(ctx, "ws_1", "agent-tax-01")
	require.NoError(t, err)

	// The release request cannot be cut from a review without a pass.
	_, err = f.engine.RequestReleaseForReview(ctx, review.ID, "agent-tax-01", "file_vat_return", "evd_1")
	assert.True(t, errdefs.IsPolicyViolation(err))

	_, err = f.engine.TransitionQC(ctx, review.ID, qc.StateInReview, "diane", "")
	require.NoError(t, err)
	review, err = f.engine.TransitionQC(ctx, review.ID, qc.StatePass, "diane", "workpapers complete")
	require.NoError(t, err)

	request, err := f.engine.RequestReleaseForReview(ctx, review.ID, "agent-tax-01", "file_vat_return", "evd_1")
	require.NoError(t, err)
	assert.Equal(t, "ws_1", request.WorkstreamID)
	assert.Equal(t, review.ID, request.GuardianPassRef)
	require.NotNil(t, request.GuardianPassAt)

	_, err = f.engine.AuthorizeRelease(ctx, request.ID, "marco", release.DecisionAuthorize, release.Basis{
		RuleBasis: []string{"dual_gate"}, EvidenceBasis: []string{"evd_1"},
	})
	require.NoError(t, err)

	_, err = f.engine.ExecuteRelease(ctx, request.ID, "agent-tax-01", release.OutcomeSuccess, "cfr-ack-1", "")
	require.NoError(t, err)

	status, err := f.engine.ReleaseStatus(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, release.StatusExecuted, status)

	require.NoError(t, f.trail.VerifyChain())
	assert.Greater(t, f.trail.Size(), 4)
}

func TestGovernorInbox(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	review, err := f.engine.SubmitForQC(ctx, "ws_1", "agent-tax-01")
	require.NoError(t, err)
	_, err = f.engine.TransitionQC(ctx, review.ID, qc.StateInReview, "diane", "")
	require.NoError(t, err)
	_, err = f.engine.TransitionQC(ctx, review.ID, qc.StateEscalate, "diane", "novel structure")
	require.NoError(t, err)

	inbox, err := f.engine.GovernorInbox(ctx)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, review.ID, inbox[0].ReviewID)
}

func TestToolPolicyThroughEngine(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	// Gated tool without either gate held.
	verdict := f.engine.EvaluateToolPolicy(ctx, toolpolicy.Invocation{
		AgentID: "agent-tax-01", ToolName: "filing.submit", Jurisdiction: pack.MTTax,
	})
	assert.False(t, verdict.Allowed)

	verdict = f.engine.EvaluateToolPolicy(ctx, toolpolicy.Invocation{
		AgentID: "agent-tax-01", ToolName: "filing.submit", Jurisdiction: pack.MTTax,
		HasGovernorApproval: true, HasGuardianPass: true,
	})
	assert.True(t, verdict.Allowed)

	// Operator-loaded rule joins the chain.
	require.NoError(t, f.engine.LoadPolicyRule("mt_only", `jurisdiction == "MT_TAX"`, "operator"))
	verdict = f.engine.EvaluateToolPolicy(ctx, toolpolicy.Invocation{
		AgentID: "agent-tax-01", ToolName: "case.read", Jurisdiction: pack.RWTax,
	})
	assert.False(t, verdict.Allowed)
	assert.Equal(t, "mt_only", verdict.Rule)
}

func TestTemplateLifecycleThroughEngine(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	def := template.Definition{
		Name:    "VAT return cover letter",
		Purpose: "Cover letter accompanying a periodic VAT return filing.",
		Risk:    template.RiskLow,
		Evidence: evidence.Requirement{
			RequiredTypes: []evidence.Type{evidence.FinancialRecords},
			MinItems:      1,
		},
		Instructions: []string{"State the return period and the net VAT position."},
	}
	tmpl, err := f.engine.CreateTemplateDraft(ctx, "agent-tax-01", "svc-vat", pack.MTTax, def)
	require.NoError(t, err)

	report, err := f.engine.RunTemplateQC(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "APPROVE", report.PublishRecommendation)

	published, err := f.engine.PublishTemplate(ctx, tmpl.ID,
		[]template.Approval{{Kind: template.ApprovalGuardianPass, ApprovedBy: "diane"}},
		"diane", []string{"initial publication"})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", published.Version)

	result, err := f.engine.SearchTemplates(ctx, template.Query{ServiceID: "svc-vat", Pack: pack.MTTax})
	require.NoError(t, err)
	require.NotNil(t, result.BestMatch)
	assert.Equal(t, tmpl.ID, result.BestMatch.ID)

	inst, err := f.engine.InstantiateTemplate(ctx, tmpl.ID, "case-9", "task-3", pack.MTTax)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", inst.TemplateVersion)

	inst, err = f.engine.LogTemplateDeviation(ctx, inst.ID, "extended deadline wording", "client instruction", "agent-tax-01", "period")
	require.NoError(t, err)
	require.Len(t, inst.DeviationNotes, 1)

	retired, err := f.engine.RetireTemplate(ctx, tmpl.ID, "marco", "superseded")
	require.NoError(t, err)
	assert.Equal(t, template.StatusRetired, retired.Status)

	_, err = f.engine.InstantiateTemplate(ctx, tmpl.ID, "case-9", "task-4", pack.MTTax)
	assert.True(t, errdefs.IsStateError(err))

	// The search misses a service with no templates and routes the caller.
	result, err = f.engine.SearchTemplates(ctx, template.Query{ServiceID: "svc-payroll", Pack: pack.MTTax})
	require.NoError(t, err)
	assert.Equal(t, template.TriggerNoTemplateFound, result.Trigger)
}
