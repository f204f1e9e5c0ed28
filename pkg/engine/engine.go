// Package engine wires the governance components behind one facade: the
// autonomy classifier, the QC review workflow, the dual-gate release
// authorization, the tool policy engine and the template lifecycle, all
// sharing one identity directory and one audit trail. Every exposed
// operation runs under a trace span.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cleargate-io/cleargate/pkg/audit"
	"github.com/cleargate-io/cleargate/pkg/autonomy"
	"github.com/cleargate-io/cleargate/pkg/errdefs"
	"github.com/cleargate-io/cleargate/pkg/identity"
	"github.com/cleargate-io/cleargate/pkg/pack"
	"github.com/cleargate-io/cleargate/pkg/qc"
	"github.com/cleargate-io/cleargate/pkg/release"
	"github.com/cleargate-io/cleargate/pkg/template"
	"github.com/cleargate-io/cleargate/pkg/toolpolicy"
)

// Deps are the collaborators the engine is assembled from. One store value
// typically provides all four repository surfaces.
type Deps struct {
	QCRepo      qc.Repository
	Subjects    qc.SubjectDirectory
	Directives  qc.DirectiveSink
	ReleaseRepo release.Repository
	Templates   template.Repository
	Directory   identity.Directory
	Tools       *toolpolicy.Registry
	Trail       audit.Trail

	// AuditFailure observes dropped audit writes. Optional.
	AuditFailure audit.FailureHandler

	// GuardianPassTTL bounds QC pass age at authorization time. Zero
	// disables the window.
	GuardianPassTTL time.Duration
}

// Engine is the assembled governance facade.
type Engine struct {
	qc         *qc.Service
	gate       *release.Gate
	policy     *toolpolicy.Engine
	factory    *template.Factory
	templates  template.Repository
	directives qc.DirectiveSink
	rec        *audit.Recorder
	tracer     trace.Tracer
	logger     *slog.Logger
}

// New assembles an engine from its collaborators.
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.QCRepo == nil, deps.Subjects == nil, deps.Directives == nil,
		deps.ReleaseRepo == nil, deps.Templates == nil:
		return nil, errdefs.Validation("deps", "all repository surfaces are required")
	case deps.Directory == nil:
		return nil, errdefs.Validation("deps", "identity directory is required")
	}
	if deps.Tools == nil {
		deps.Tools = toolpolicy.NewRegistry()
	}

	rec := audit.NewRecorder(deps.Trail, deps.AuditFailure)

	policy, err := toolpolicy.NewEngine(deps.Tools, deps.Directory, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to build tool policy engine: %w", err)
	}
	factory, err := template.NewFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to build template factory: %w", err)
	}

	return &Engine{
		qc:         qc.NewService(deps.QCRepo, deps.Subjects, deps.Directives, deps.Directory, rec),
		gate:       release.NewGate(deps.ReleaseRepo, deps.Directory, rec, release.Config{GuardianPassTTL: deps.GuardianPassTTL}),
		policy:     policy,
		factory:    factory,
		templates:  deps.Templates,
		directives: deps.Directives,
		rec:        rec,
		tracer:     otel.Tracer("cleargate/engine"),
		logger:     slog.Default().With("component", "engine"),
	}, nil
}

// WithClock overrides the clocks of the time-dependent components.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.qc.WithClock(clock)
	e.gate.WithClock(clock)
	e.factory.WithClock(clock)
	return e
}

// LoadPolicyRule compiles and installs an operator-supplied policy rule.
func (e *Engine) LoadPolicyRule(ruleID, source, escalateTo string) error {
	return e.policy.LoadRule(ruleID, source, escalateTo)
}

func (e *Engine) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "cleargate.engine."+op, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ClassifyAutonomy runs the tier classifier.
func (e *Engine) ClassifyAutonomy(ctx context.Context, in autonomy.Input) autonomy.Decision {
	_, span := e.start(ctx, "classify_autonomy",
		attribute.String("workflow", in.Workflow),
		attribute.Int("novelty_score", in.NoveltyScore))
	defer span.End()

	decision := autonomy.Evaluate(in)
	span.SetAttributes(
		attribute.String("tier", string(decision.Tier)),
		attribute.Bool("requires_human", decision.RequiresHuman))
	return decision
}

// SubmitForQC enters a subject into the QC queue.
func (e *Engine) SubmitForQC(ctx context.Context, subjectID, submittingAgent string) (qc.Review, error) {
	ctx, span := e.start(ctx, "submit_for_qc", attribute.String("subject_id", subjectID))
	review, err := e.qc.SubmitForQC(ctx, subjectID, submittingAgent)
	finish(span, err)
	return review, err
}

// TransitionQC moves a review through the state machine.
func (e *Engine) TransitionQC(ctx context.Context, reviewID string, target qc.State, actorID, comments string) (qc.Review, error) {
	ctx, span := e.start(ctx, "transition_qc",
		attribute.String("review_id", reviewID),
		attribute.String("target", string(target)))
	review, err := e.qc.Transition(ctx, reviewID, target, actorID, comments)
	finish(span, err)
	return review, err
}

// PendingQCReviews lists reviews awaiting the Guardian.
func (e *Engine) PendingQCReviews(ctx context.Context) ([]qc.Review, error) {
	ctx, span := e.start(ctx, "pending_qc_reviews")
	reviews, err := e.qc.ListPendingReviews(ctx)
	finish(span, err)
	return reviews, err
}

// RequestReleaseForReview builds a release request from a QC review that
// holds a pass, copying the pass reference and timestamp so the gate can
// verify the Guardian went first. The review's subject becomes the
// workstream.
func (e *Engine) RequestReleaseForReview(ctx context.Context, reviewID, requestingAgent, actionType, evidenceRef string) (release.Request, error) {
	ctx, span := e.start(ctx, "request_release",
		attribute.String("review_id", reviewID),
		attribute.String("action_type", actionType))
	defer span.End()

	review, err := e.qc.GetReview(ctx, reviewID)
	if err != nil {
		finishErr(span, err)
		return release.Request{}, err
	}
	if review.Outcome != qc.StatePass {
		err := &errdefs.PolicyViolation{Rule: "guardian pass required",
			Detail: fmt.Sprintf("review %s has outcome %q", reviewID, review.Outcome)}
		finishErr(span, err)
		return release.Request{}, err
	}

	request, err := e.gate.RequestRelease(ctx, release.Request{
		WorkstreamID:    review.SubjectID,
		RequestingAgent: requestingAgent,
		ActionType:      actionType,
		EvidenceRef:     evidenceRef,
		GuardianPassRef: review.ID,
		GuardianPassAt:  review.ReviewedAt,
	})
	if err != nil {
		finishErr(span, err)
		return release.Request{}, err
	}
	span.SetAttributes(attribute.String("request_id", request.ID))
	return request, nil
}

// RequestRelease stores a raw release request.
func (e *Engine) RequestRelease(ctx context.Context, request release.Request) (release.Request, error) {
	ctx, span := e.start(ctx, "request_release",
		attribute.String("workstream_id", request.WorkstreamID),
		attribute.String("action_type", request.ActionType))
	created, err := e.gate.RequestRelease(ctx, request)
	finish(span, err)
	return created, err
}

// AuthorizeRelease records the Governor's ruling.
func (e *Engine) AuthorizeRelease(ctx context.Context, requestID, actorID string, decision release.Decision, basis release.Basis) (release.DecisionRecord, error) {
	ctx, span := e.start(ctx, "authorize_release",
		attribute.String("request_id", requestID),
		attribute.String("decision", string(decision)))
	record, err := e.gate.Authorize(ctx, requestID, actorID, decision, basis)
	finish(span, err)
	return record, err
}

// ExecuteRelease records the one-shot execution of an authorized request.
func (e *Engine) ExecuteRelease(ctx context.Context, requestID, executedBy string, outcome release.Outcome, externalRef, notes string) (release.Execution, error) {
	ctx, span := e.start(ctx, "execute_release",
		attribute.String("request_id", requestID),
		attribute.String("outcome", string(outcome)))
	execution, err := e.gate.Execute(ctx, requestID, executedBy, outcome, externalRef, notes)
	finish(span, err)
	return execution, err
}

// ReleaseStatus derives the lifecycle status of a request.
func (e *Engine) ReleaseStatus(ctx context.Context, requestID string) (release.Status, error) {
	ctx, span := e.start(ctx, "release_status", attribute.String("request_id", requestID))
	status, err := e.gate.Status(ctx, requestID)
	finish(span, err)
	return status, err
}

// PendingReleases lists requests with no decision yet.
func (e *Engine) PendingReleases(ctx context.Context) ([]release.Request, error) {
	ctx, span := e.start(ctx, "pending_releases")
	requests, err := e.gate.PendingReleases(ctx)
	finish(span, err)
	return requests, err
}

// EvaluateToolPolicy runs the policy chain over a tool invocation.
func (e *Engine) EvaluateToolPolicy(ctx context.Context, inv toolpolicy.Invocation) toolpolicy.Verdict {
	ctx, span := e.start(ctx, "evaluate_tool_policy",
		attribute.String("agent_id", inv.AgentID),
		attribute.String("tool_name", inv.ToolName))
	defer span.End()

	verdict := e.policy.Evaluate(ctx, inv)
	if !verdict.Allowed {
		e.logger.InfoContext(ctx, "tool invocation denied",
			"agent_id", inv.AgentID, "tool", inv.ToolName, "rule", verdict.Rule)
	}
	span.SetAttributes(
		attribute.Bool("allowed", verdict.Allowed),
		attribute.String("rule", verdict.Rule))
	return verdict
}

// CreateTemplateDraft validates, creates and persists a DRAFT template.
func (e *Engine) CreateTemplateDraft(ctx context.Context, ownerAgent, serviceID string, jurisdiction pack.Pack, def template.Definition) (template.Template, error) {
	ctx, span := e.start(ctx, "create_template_draft",
		attribute.String("service_id", serviceID),
		attribute.String("pack", string(jurisdiction)))
	defer span.End()

	tmpl, err := e.factory.CreateDraft(ownerAgent, serviceID, jurisdiction, def)
	if err != nil {
		finishErr(span, err)
		return template.Template{}, err
	}
	if err := e.templates.PutTemplate(ctx, tmpl); err != nil {
		finishErr(span, err)
		return template.Template{}, err
	}
	e.rec.Record(ctx, "template_drafted", ownerAgent, "template", tmpl.ID,
		map[string]any{"service_id": serviceID, "pack": string(jurisdiction)})
	span.SetAttributes(attribute.String("template_id", tmpl.ID))
	return tmpl, nil
}

// PublishTemplate checks approvals and promotes the stored template.
func (e *Engine) PublishTemplate(ctx context.Context, templateID string, approvals []template.Approval, author string, changeNotes []string) (template.Template, error) {
	ctx, span := e.start(ctx, "publish_template", attribute.String("template_id", templateID))
	defer span.End()

	tmpl, err := e.templates.GetTemplate(ctx, templateID)
	if err != nil {
		finishErr(span, err)
		return template.Template{}, err
	}
	published, err := e.factory.Publish(tmpl, approvals, author, changeNotes)
	if err != nil {
		finishErr(span, err)
		return template.Template{}, err
	}
	if err := e.templates.PutTemplate(ctx, published); err != nil {
		finishErr(span, err)
		return template.Template{}, err
	}
	e.rec.RecordTransition(ctx, "template_published", author, "template", templateID,
		map[string]any{"version": published.Version}, string(tmpl.Status), string(published.Status))
	span.SetAttributes(attribute.String("version", published.Version))
	return published, nil
}

// RetireTemplate retires the stored template.
func (e *Engine) RetireTemplate(ctx context.Context, templateID, author, reason string) (template.Template, error) {
	ctx, span := e.start(ctx, "retire_template", attribute.String("template_id", templateID))
	defer span.End()

	tmpl, err := e.templates.GetTemplate(ctx, templateID)
	if err != nil {
		finishErr(span, err)
		return template.Template{}, err
	}
	retired, err := e.factory.Retire(tmpl, author, reason)
	if err != nil {
		finishErr(span, err)
		return template.Template{}, err
	}
	if err := e.templates.PutTemplate(ctx, retired); err != nil {
		finishErr(span, err)
		return template.Template{}, err
	}
	e.rec.RecordTransition(ctx, "template_retired", author, "template", templateID,
		map[string]any{"reason": reason}, string(tmpl.Status), string(retired.Status))
	return retired, nil
}

// InstantiateTemplate creates and persists an instance for a case/task.
func (e *Engine) InstantiateTemplate(ctx context.Context, templateID, caseID, taskID string, targetPack pack.Pack) (template.Instance, error) {
	ctx, span := e.start(ctx, "instantiate_template",
		attribute.String("template_id", templateID),
		attribute.String("pack", string(targetPack)))
	defer span.End()

	tmpl, err := e.templates.GetTemplate(ctx, templateID)
	if err != nil {
		finishErr(span, err)
		return template.Instance{}, err
	}
	inst, err := e.factory.Instantiate(tmpl, caseID, taskID, targetPack)
	if err != nil {
		finishErr(span, err)
		return template.Instance{}, err
	}
	if err := e.templates.PutInstance(ctx, inst); err != nil {
		finishErr(span, err)
		return template.Instance{}, err
	}
	span.SetAttributes(attribute.String("instance_id", inst.ID))
	return inst, nil
}

// LogTemplateDeviation appends a deviation note to a stored instance.
func (e *Engine) LogTemplateDeviation(ctx context.Context, instanceID, deviation, reason, loggedBy, fieldID string) (template.Instance, error) {
	ctx, span := e.start(ctx, "log_template_deviation", attribute.String("instance_id", instanceID))
	defer span.End()

	inst, err := e.templates.GetInstance(ctx, instanceID)
	if err != nil {
		finishErr(span, err)
		return template.Instance{}, err
	}
	updated, err := e.factory.LogDeviation(inst, deviation, reason, loggedBy, fieldID)
	if err != nil {
		finishErr(span, err)
		return template.Instance{}, err
	}
	if err := e.templates.PutInstance(ctx, updated); err != nil {
		finishErr(span, err)
		return template.Instance{}, err
	}
	e.rec.Record(ctx, "template_deviation_logged", loggedBy, "template_instance", instanceID,
		map[string]any{"field_id": fieldID})
	return updated, nil
}

// SearchTemplates filters stored templates by service and pack.
func (e *Engine) SearchTemplates(ctx context.Context, query template.Query) (template.SearchResult, error) {
	ctx, span := e.start(ctx, "search_templates",
		attribute.String("service_id", query.ServiceID),
		attribute.String("pack", string(query.Pack)))
	defer span.End()

	all, err := e.templates.ListTemplates(ctx)
	if err != nil {
		finishErr(span, err)
		return template.SearchResult{}, err
	}
	result := template.Search(all, query)
	span.SetAttributes(attribute.Int("matches", len(result.Matches)))
	return result, nil
}

// RunTemplateQC runs the template QC battery against a stored template.
func (e *Engine) RunTemplateQC(ctx context.Context, templateID string) (template.QCReport, error) {
	ctx, span := e.start(ctx, "run_template_qc", attribute.String("template_id", templateID))
	defer span.End()

	tmpl, err := e.templates.GetTemplate(ctx, templateID)
	if err != nil {
		finishErr(span, err)
		return template.QCReport{}, err
	}
	report := template.RunQC(tmpl)
	span.SetAttributes(attribute.String("recommendation", report.PublishRecommendation))
	return report, nil
}

// GovernorInbox returns the policy directives awaiting the Governor.
func (e *Engine) GovernorInbox(ctx context.Context) ([]qc.Directive, error) {
	ctx, span := e.start(ctx, "governor_inbox")
	directives, err := e.directives.PendingDirectives(ctx, string(identity.RoleGovernor))
	finish(span, err)
	return directives, err
}

func finishErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
