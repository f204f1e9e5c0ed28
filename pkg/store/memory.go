// Package store provides the persistence implementations behind the
// repository interfaces declared by the governance packages. The store is
// the single point of concurrency control: review updates are
// compare-and-swap on a version token, and decision/execution records are
// write-once per request id. Three implementations share the same
// semantics: an in-memory store for tests and embedded use, SQLite for
// single-node deployments, and Postgres for shared ones.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/cleargate-io/cleargate/pkg/errdefs"
	"github.com/cleargate-io/cleargate/pkg/qc"
	"github.com/cleargate-io/cleargate/pkg/release"
	"github.com/cleargate-io/cleargate/pkg/template"
)

// Memory is an in-memory store guarded by a single mutex. It implements
// qc.Repository, qc.SubjectDirectory, qc.DirectiveSink, release.Repository
// and template.Repository with the same conflict semantics as the SQL
// stores.
type Memory struct {
	mu sync.Mutex

	reviews    map[string]qc.Review
	subjects   map[string]string // subject id -> status
	directives []qc.Directive

	requests   map[string]release.Request
	decisions  map[string]release.DecisionRecord
	executions map[string]release.Execution

	templates map[string]template.Template
	instances map[string]template.Instance
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		reviews:    make(map[string]qc.Review),
		subjects:   make(map[string]string),
		requests:   make(map[string]release.Request),
		decisions:  make(map[string]release.DecisionRecord),
		executions: make(map[string]release.Execution),
		templates:  make(map[string]template.Template),
		instances:  make(map[string]template.Instance),
	}
}

// RegisterSubject makes a workstream/workpaper known to the subject
// directory with an initial status.
func (m *Memory) RegisterSubject(subjectID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[subjectID] = status
}

// SubjectExists implements qc.SubjectDirectory.
func (m *Memory) SubjectExists(_ context.Context, subjectID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subjects[subjectID]
	return ok, nil
}

// SetSubjectStatus implements qc.SubjectDirectory.
func (m *Memory) SetSubjectStatus(_ context.Context, subjectID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subjects[subjectID]; !ok {
		return errdefs.NotFound("subject", subjectID)
	}
	m.subjects[subjectID] = status
	return nil
}

// SubjectStatus returns the current status of a registered subject.
func (m *Memory) SubjectStatus(subjectID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.subjects[subjectID]
	return status, ok
}

// CreateReview implements qc.Repository.
func (m *Memory) CreateReview(_ context.Context, review qc.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviews[review.ID]; ok {
		return errdefs.ErrConflict
	}
	m.reviews[review.ID] = review
	return nil
}

// GetReview implements qc.Repository.
func (m *Memory) GetReview(_ context.Context, id string) (qc.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	review, ok := m.reviews[id]
	if !ok {
		return qc.Review{}, errdefs.NotFound("qc_review", id)
	}
	return review, nil
}

// UpdateReviewCAS implements qc.Repository. The write succeeds only when the
// stored version equals review.Version-1.
func (m *Memory) UpdateReviewCAS(_ context.Context, review qc.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.reviews[review.ID]
	if !ok {
		return errdefs.NotFound("qc_review", review.ID)
	}
	if stored.Version != review.Version-1 {
		return errdefs.ErrConflict
	}
	m.reviews[review.ID] = review
	return nil
}

// ListPendingReviews implements qc.Repository, ordered by creation time.
func (m *Memory) ListPendingReviews(_ context.Context) ([]qc.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []qc.Review
	for _, review := range m.reviews {
		if review.Status == qc.StatePending {
			pending = append(pending, review)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// FileDirective implements qc.DirectiveSink.
func (m *Memory) FileDirective(_ context.Context, directive qc.Directive) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directives = append(m.directives, directive)
	return nil
}

// PendingDirectives implements qc.DirectiveSink.
func (m *Memory) PendingDirectives(_ context.Context, targetRole string) ([]qc.Directive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []qc.Directive
	for _, d := range m.directives {
		if d.TargetRole == targetRole {
			out = append(out, d)
		}
	}
	return out, nil
}

// CreateRequest implements release.Repository.
func (m *Memory) CreateRequest(_ context.Context, request release.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[request.ID]; ok {
		return errdefs.ErrConflict
	}
	m.requests[request.ID] = request
	return nil
}

// GetRequest implements release.Repository.
func (m *Memory) GetRequest(_ context.Context, id string) (release.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	request, ok := m.requests[id]
	if !ok {
		return release.Request{}, errdefs.NotFound("release_request", id)
	}
	return request, nil
}

// ListRequests implements release.Repository, ordered by creation time.
func (m *Memory) ListRequests(_ context.Context) ([]release.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	requests := make([]release.Request, 0, len(m.requests))
	for _, request := range m.requests {
		requests = append(requests, request)
	}
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
	return requests, nil
}

// PutDecision implements release.Repository. A second decision for the same
// request id is rejected with ErrConflict.
func (m *Memory) PutDecision(_ context.Context, decision release.DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.decisions[decision.RequestID]; ok {
		return errdefs.ErrConflict
	}
	m.decisions[decision.RequestID] = decision
	return nil
}

// GetDecision implements release.Repository.
func (m *Memory) GetDecision(_ context.Context, requestID string) (release.DecisionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	decision, ok := m.decisions[requestID]
	return decision, ok, nil
}

// PutExecution implements release.Repository. A second execution for the
// same request id is rejected with ErrConflict.
func (m *Memory) PutExecution(_ context.Context, execution release.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[execution.RequestID]; ok {
		return errdefs.ErrConflict
	}
	m.executions[execution.RequestID] = execution
	return nil
}

// GetExecution implements release.Repository.
func (m *Memory) GetExecution(_ context.Context, requestID string) (release.Execution, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	execution, ok := m.executions[requestID]
	return execution, ok, nil
}

// PutTemplate implements template.Repository.
func (m *Memory) PutTemplate(_ context.Context, tmpl template.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[tmpl.ID] = tmpl
	return nil
}

// GetTemplate implements template.Repository.
func (m *Memory) GetTemplate(_ context.Context, id string) (template.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tmpl, ok := m.templates[id]
	if !ok {
		return template.Template{}, errdefs.NotFound("template", id)
	}
	return tmpl, nil
}

// ListTemplates implements template.Repository, ordered by id for
// determinism.
func (m *Memory) ListTemplates(_ context.Context) ([]template.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	templates := make([]template.Template, 0, len(m.templates))
	for _, tmpl := range m.templates {
		templates = append(templates, tmpl)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	return templates, nil
}

// PutInstance implements template.Repository.
func (m *Memory) PutInstance(_ context.Context, inst template.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[inst.ID] = inst
	return nil
}

// GetInstance implements template.Repository.
func (m *Memory) GetInstance(_ context.Context, id string) (template.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return template.Instance{}, errdefs.NotFound("template_instance", id)
	}
	return inst, nil
}

var (
	_ qc.Repository       = (*Memory)(nil)
	_ qc.SubjectDirectory = (*Memory)(nil)
	_ qc.DirectiveSink    = (*Memory)(nil)
	_ release.Repository  = (*Memory)(nil)
	_ template.Repository = (*Memory)(nil)
)
