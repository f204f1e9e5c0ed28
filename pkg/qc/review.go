package qc

import (
	"context"
	"time"
)

// Review is a quality review record. Created on submission, mutated only via
// validated transitions, never deleted.
type Review struct {
	ID           string     `json:"id"`
	SubjectID    string     `json:"subject_id"` // workstream/workpaper reference
	ReviewerRole string     `json:"reviewer_role"`
	Status       State      `json:"status"`
	Outcome      State      `json:"outcome,omitempty"`
	Comments     []Comment  `json:"comments,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`

	// Version is the optimistic concurrency token. The store rejects a write
	// whose expected version no longer matches.
	Version int64 `json:"version"`
}

// Comment is an append-only reviewer note.
type Comment struct {
	Author string    `json:"author"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Repository is the persistence surface the QC service requires. The store
// provides per-entity atomicity: UpdateCAS must fail with errdefs.ErrConflict
// when the stored version differs from review.Version-1.
type Repository interface {
	CreateReview(ctx context.Context, review Review) error
	GetReview(ctx context.Context, id string) (Review, error)
	UpdateReviewCAS(ctx context.Context, review Review) error
	ListPendingReviews(ctx context.Context) ([]Review, error)
}

// SubjectDirectory resolves the external workstream/workpaper a review is
// attached to. The subject itself is not owned by this engine.
type SubjectDirectory interface {
	SubjectExists(ctx context.Context, subjectID string) (bool, error)
	SetSubjectStatus(ctx context.Context, subjectID, status string) error
}

// Directive is a policy decision record addressed to a governance role.
// Filing one is the state machine's only cross-component side effect: a
// transition into escalate directs the Governor to intervene.
type Directive struct {
	ID         string    `json:"id"`
	ReviewID   string    `json:"review_id"`
	TargetRole string    `json:"target_role"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// DirectiveSink receives filed directives.
type DirectiveSink interface {
	FileDirective(ctx context.Context, directive Directive) error
	PendingDirectives(ctx context.Context, targetRole string) ([]Directive, error)
}
