// Package release implements the dual-gate release-authorization workflow
// gating every externally visible action: a Guardian QC pass must exist
// before the Governor may authorize, and only an already authorized request
// may be executed, in that order.
//
// The workflow is three append-style records keyed by a shared request id: a
// request has at most one decision, a decision has at most one execution.
// Status is derived from which records exist; there is no separate status
// field to desynchronize.
package release

import (
	"context"
	"time"
)

// Decision is the Governor's ruling on a request.
type Decision string

const (
	DecisionAuthorize Decision = "AUTHORIZE"
	DecisionDeny      Decision = "DENY"
	DecisionHold      Decision = "HOLD"
)

// Outcome is the result of executing an authorized release.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// Status is the derived lifecycle status of a request. The string values are
// part of the persisted contract.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAuthorized Status = "AUTHORIZED"
	StatusDenied     Status = "DENIED"
	StatusExecuted   Status = "EXECUTED"
	StatusRolledBack Status = "ROLLED_BACK"
)

// Request is an engine agent's petition to take an externally visible
// action. GuardianPassRef records the QC pass that must precede any
// authorization; the calling workflow attaches it at request time.
type Request struct {
	ID              string     `json:"id"`
	WorkstreamID    string     `json:"workstream_id"`
	RequestingAgent string     `json:"requesting_agent"`
	ActionType      string     `json:"action_type"`
	EvidenceRef     string     `json:"evidence_ref"`
	GuardianPassRef string     `json:"guardian_pass_ref,omitempty"`
	GuardianPassAt  *time.Time `json:"guardian_pass_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// DecisionRecord is the Governor's immutable ruling. Written once.
type DecisionRecord struct {
	RequestID     string    `json:"request_id"`
	AuthorizedBy  string    `json:"authorized_by"`
	Decision      Decision  `json:"decision"`
	RuleBasis     []string  `json:"rule_basis,omitempty"`
	EvidenceBasis []string  `json:"evidence_basis,omitempty"`
	RiskRationale string    `json:"risk_rationale,omitempty"`
	Conditions    []string  `json:"conditions,omitempty"`
	DecidedAt     time.Time `json:"decided_at"`
}

// Execution records the one-shot execution of an authorized release.
type Execution struct {
	RequestID   string    `json:"request_id"`
	ExecutedBy  string    `json:"executed_by"`
	Outcome     Outcome   `json:"outcome"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// Repository is the persistence surface the gate requires. PutDecision and
// PutExecution must reject a second write for the same request id with
// errdefs.ErrConflict; the store is the single point of concurrency
// control.
type Repository interface {
	CreateRequest(ctx context.Context, request Request) error
	GetRequest(ctx context.Context, id string) (Request, error)
	ListRequests(ctx context.Context) ([]Request, error)

	PutDecision(ctx context.Context, decision DecisionRecord) error
	GetDecision(ctx context.Context, requestID string) (DecisionRecord, bool, error)

	PutExecution(ctx context.Context, execution Execution) error
	GetExecution(ctx context.Context, requestID string) (Execution, bool, error)
}
