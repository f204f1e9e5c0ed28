package release

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cleargate-io/cleargate/pkg/audit"
	"github.com/cleargate-io/cleargate/pkg/errdefs"
	"github.com/cleargate-io/cleargate/pkg/identity"
)

// Config tunes gate hardening. A zero GuardianPassTTL disables the validity
// window, matching the default behavior.
type Config struct {
	GuardianPassTTL time.Duration
}

// Gate is the dual-authorization release workflow.
type Gate struct {
	repo      Repository
	directory identity.Directory
	rec       *audit.Recorder
	cfg       Config
	clock     func() time.Time
}

// NewGate creates a release gate.
func NewGate(repo Repository, directory identity.Directory, rec *audit.Recorder, cfg Config) *Gate {
	return &Gate{
		repo:      repo,
		directory: directory,
		rec:       rec,
		cfg:       cfg,
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// RequestRelease stores a new PENDING request. The caller is responsible for
// only submitting work that already holds a QC pass reference; the gate
// re-checks that precondition at authorization time regardless.
func (g *Gate) RequestRelease(ctx context.Context, request Request) (Request, error) {
	switch {
	case request.WorkstreamID == "":
		return Request{}, errdefs.Validation("workstream_id", "required")
	case request.RequestingAgent == "":
		return Request{}, errdefs.Validation("requesting_agent", "required")
	case request.ActionType == "":
		return Request{}, errdefs.Validation("action_type", "required")
	case request.EvidenceRef == "":
		return Request{}, errdefs.Validation("evidence_ref", "required")
	}

	request.ID = "rel_" + uuid.New().String()
	request.CreatedAt = g.clock().UTC()
	if err := g.repo.CreateRequest(ctx, request); err != nil {
		return Request{}, fmt.Errorf("failed to create release request: %w", err)
	}

	g.rec.Record(ctx, "release_requested", request.RequestingAgent, "release_request", request.ID,
		map[string]any{"workstream_id": request.WorkstreamID, "action_type": request.ActionType})
	return request, nil
}

// Basis carries the Governor's documented grounds for a ruling.
type Basis struct {
	RuleBasis     []string
	EvidenceBasis []string
	RiskRationale string
	Conditions    []string
}

// Authorize records the Governor's ruling on a request.
//
// Check order is contractual: the Governor role check runs first, per call,
// so an unauthorized actor cannot probe request ids; then existence; then
// the guardian-pass gate; then single-decision enforcement. A HOLD ruling
// leaves the request PENDING and persists nothing.
func (g *Gate) Authorize(ctx context.Context, requestID, actorID string, decision Decision, basis Basis) (DecisionRecord, error) {
	if !g.directory.HasRole(actorID, identity.RoleGovernor) {
		return DecisionRecord{}, &errdefs.SecurityViolation{ActorID: actorID, Action: "authorize release"}
	}
	switch decision {
	case DecisionAuthorize, DecisionDeny, DecisionHold:
	default:
		return DecisionRecord{}, errdefs.Validation("decision", "unknown decision "+string(decision))
	}

	request, err := g.repo.GetRequest(ctx, requestID)
	if err != nil {
		return DecisionRecord{}, err
	}
	if request.GuardianPassRef == "" {
		return DecisionRecord{}, &errdefs.PolicyViolation{Rule: "guardian pass required",
			Detail: "the Governor may not authorize ahead of the Guardian"}
	}
	if g.cfg.GuardianPassTTL > 0 && request.GuardianPassAt != nil {
		if g.clock().Sub(*request.GuardianPassAt) > g.cfg.GuardianPassTTL {
			return DecisionRecord{}, &errdefs.PolicyViolation{Rule: "guardian pass expired",
				Detail: fmt.Sprintf("pass recorded at %s is older than %s", request.GuardianPassAt.Format(time.RFC3339), g.cfg.GuardianPassTTL)}
		}
	}

	if _, exists, err := g.repo.GetDecision(ctx, requestID); err != nil {
		return DecisionRecord{}, err
	} else if exists {
		return DecisionRecord{}, &errdefs.StateError{Current: "decided", Detail: "request already has a decision"}
	}

	if decision == DecisionHold {
		// A hold is advisory: the request stays PENDING and may be decided later.
		g.rec.Record(ctx, "release_held", actorID, "release_request", requestID,
			map[string]any{"risk_rationale": basis.RiskRationale})
		return DecisionRecord{RequestID: requestID, AuthorizedBy: actorID, Decision: DecisionHold, DecidedAt: g.clock().UTC()}, nil
	}

	record := DecisionRecord{
		RequestID:     requestID,
		AuthorizedBy:  actorID,
		Decision:      decision,
		RuleBasis:     basis.RuleBasis,
		EvidenceBasis: basis.EvidenceBasis,
		RiskRationale: basis.RiskRationale,
		Conditions:    basis.Conditions,
		DecidedAt:     g.clock().UTC(),
	}
	if err := g.repo.PutDecision(ctx, record); err != nil {
		if errors.Is(err, errdefs.ErrConflict) {
			return DecisionRecord{}, &errdefs.StateError{Current: "decided", Detail: "request already has a decision"}
		}
		return DecisionRecord{}, fmt.Errorf("failed to store decision: %w", err)
	}

	g.rec.RecordTransition(ctx, "release_decided", actorID, "release_request", requestID,
		map[string]any{"decision": string(decision)}, string(StatusPending), string(statusForDecision(decision)))
	return record, nil
}

// Execute records the one-shot execution of an authorized request.
func (g *Gate) Execute(ctx context.Context, requestID, executedBy string, outcome Outcome, externalRef, notes string) (Execution, error) {
	switch outcome {
	case OutcomeSuccess, OutcomeFailure:
	default:
		return Execution{}, errdefs.Validation("outcome", "unknown outcome "+string(outcome))
	}

	if _, err := g.repo.GetRequest(ctx, requestID); err != nil {
		return Execution{}, err
	}

	decision, exists, err := g.repo.GetDecision(ctx, requestID)
	if err != nil {
		return Execution{}, err
	}
	if !exists {
		return Execution{}, &errdefs.StateError{Current: string(StatusPending), Detail: "no decision recorded"}
	}
	if decision.Decision != DecisionAuthorize {
		return Execution{}, &errdefs.StateError{Current: string(StatusDenied), Detail: "request was not authorized"}
	}
	if _, executed, err := g.repo.GetExecution(ctx, requestID); err != nil {
		return Execution{}, err
	} else if executed {
		return Execution{}, &errdefs.StateError{Current: string(StatusExecuted), Detail: "request already executed"}
	}

	execution := Execution{
		RequestID:   requestID,
		ExecutedBy:  executedBy,
		Outcome:     outcome,
		ExternalRef: externalRef,
		Notes:       notes,
		ExecutedAt:  g.clock().UTC(),
	}
	if err := g.repo.PutExecution(ctx, execution); err != nil {
		if errors.Is(err, errdefs.ErrConflict) {
			return Execution{}, &errdefs.StateError{Current: string(StatusExecuted), Detail: "request already executed"}
		}
		return Execution{}, fmt.Errorf("failed to store execution: %w", err)
	}

	g.rec.RecordTransition(ctx, "release_executed", executedBy, "release_request", requestID,
		map[string]any{"outcome": string(outcome), "external_ref": externalRef},
		string(StatusAuthorized), string(statusForOutcome(outcome)))
	return execution, nil
}

// CanExecute reports whether the request holds an AUTHORIZE decision and has
// not yet been executed.
func (g *Gate) CanExecute(ctx context.Context, requestID string) (bool, error) {
	decision, exists, err := g.repo.GetDecision(ctx, requestID)
	if err != nil {
		return false, err
	}
	if !exists || decision.Decision != DecisionAuthorize {
		return false, nil
	}
	_, executed, err := g.repo.GetExecution(ctx, requestID)
	if err != nil {
		return false, err
	}
	return !executed, nil
}

// Status derives the request status from which records exist.
func (g *Gate) Status(ctx context.Context, requestID string) (Status, error) {
	if _, err := g.repo.GetRequest(ctx, requestID); err != nil {
		return "", err
	}
	if execution, executed, err := g.repo.GetExecution(ctx, requestID); err != nil {
		return "", err
	} else if executed {
		return statusForOutcome(execution.Outcome), nil
	}
	if decision, exists, err := g.repo.GetDecision(ctx, requestID); err != nil {
		return "", err
	} else if exists {
		return statusForDecision(decision.Decision), nil
	}
	return StatusPending, nil
}

// PendingReleases returns requests with no decision yet.
func (g *Gate) PendingReleases(ctx context.Context) ([]Request, error) {
	requests, err := g.repo.ListRequests(ctx)
	if err != nil {
		return nil, err
	}
	pending := make([]Request, 0)
	for _, request := range requests {
		if _, exists, err := g.repo.GetDecision(ctx, request.ID); err != nil {
			return nil, err
		} else if !exists {
			pending = append(pending, request)
		}
	}
	return pending, nil
}

// ByWorkstream returns all requests attached to a workstream.
func (g *Gate) ByWorkstream(ctx context.Context, workstreamID string) ([]Request, error) {
	requests, err := g.repo.ListRequests(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]Request, 0)
	for _, request := range requests {
		if request.WorkstreamID == workstreamID {
			matched = append(matched, request)
		}
	}
	return matched, nil
}

func statusForDecision(d Decision) Status {
	if d == DecisionAuthorize {
		return StatusAuthorized
	}
	return StatusDenied
}

func statusForOutcome(o Outcome) Status {
	if o == OutcomeSuccess {
		return StatusExecuted
	}
	return StatusRolledBack
}
