package qc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cleargate-io/cleargate/pkg/audit"
	"github.com/cleargate-io/cleargate/pkg/errdefs"
	"github.com/cleargate-io/cleargate/pkg/identity"
)

// Service runs the QC review workflow against injected collaborators.
type Service struct {
	repo       Repository
	subjects   SubjectDirectory
	directives DirectiveSink
	directory  identity.Directory
	rec        *audit.Recorder
	clock      func() time.Time
}

// NewService creates a QC service.
func NewService(repo Repository, subjects SubjectDirectory, directives DirectiveSink, directory identity.Directory, rec *audit.Recorder) *Service {
	return &Service{
		repo:       repo,
		subjects:   subjects,
		directives: directives,
		directory:  directory,
		rec:        rec,
		clock:      time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// SubmitForQC creates a review in pending for the given subject and marks the
// subject as awaiting QC. Fails with NotFound if the subject is unknown.
func (s *Service) SubmitForQC(ctx context.Context, subjectID, submittingAgent string) (Review, error) {
	if subjectID == "" {
		return Review{}, errdefs.Validation("subject_id", "required")
	}
	exists, err := s.subjects.SubjectExists(ctx, subjectID)
	if err != nil {
		return Review{}, fmt.Errorf("subject lookup failed: %w", err)
	}
	if !exists {
		return Review{}, errdefs.NotFound("subject", subjectID)
	}

	review := Review{
		ID:           "qcr_" + uuid.New().String(),
		SubjectID:    subjectID,
		ReviewerRole: string(identity.RoleGuardian),
		Status:       StatePending,
		CreatedAt:    s.clock().UTC(),
		Version:      1,
	}
	if err := s.repo.CreateReview(ctx, review); err != nil {
		return Review{}, fmt.Errorf("failed to create review: %w", err)
	}
	if err := s.subjects.SetSubjectStatus(ctx, subjectID, "pending_qc"); err != nil {
		return Review{}, fmt.Errorf("failed to update subject status: %w", err)
	}

	s.rec.RecordTransition(ctx, "qc_submitted", submittingAgent, "qc_review", review.ID,
		map[string]any{"subject_id": subjectID}, "", string(StatePending))
	return review, nil
}

// Transition moves a review to the target state. Only the Guardian may
// mutate reviews; the role check runs before the existence check. The target
// must be reachable from the current state in the adjacency map, otherwise a
// StateError is returned and nothing is written.
func (s *Service) Transition(ctx context.Context, reviewID string, target State, actorID, comments string) (Review, error) {
	if !s.directory.HasRole(actorID, identity.RoleGuardian) {
		return Review{}, &errdefs.SecurityViolation{ActorID: actorID, Action: "transition QC review"}
	}
	if !target.Valid() {
		return Review{}, errdefs.Validation("target", "unknown state "+string(target))
	}

	review, err := s.repo.GetReview(ctx, reviewID)
	if err != nil {
		return Review{}, err
	}
	if !CanTransition(review.Status, target) {
		return Review{}, &errdefs.StateError{Current: string(review.Status), Requested: string(target)}
	}

	now := s.clock().UTC()
	previous := review.Status
	review.Status = target
	if IsOutcome(target) {
		review.Outcome = target
		review.ReviewedAt = &now
	}
	if comments != "" {
		review.Comments = append(review.Comments, Comment{Author: actorID, Text: comments, At: now})
	}
	review.Version++

	if err := s.repo.UpdateReviewCAS(ctx, review); err != nil {
		return Review{}, fmt.Errorf("failed to update review: %w", err)
	}

	if status, changed := SubjectStatusFor(target); changed {
		if err := s.subjects.SetSubjectStatus(ctx, review.SubjectID, status); err != nil {
			return Review{}, fmt.Errorf("failed to update subject status: %w", err)
		}
	}

	if target == StateEscalate {
		directive := Directive{
			ID:         "pdr_" + uuid.New().String(),
			ReviewID:   review.ID,
			TargetRole: string(identity.RoleGovernor),
			Reason:     comments,
			CreatedAt:  now,
		}
		if err := s.directives.FileDirective(ctx, directive); err != nil {
			return Review{}, fmt.Errorf("failed to file escalation directive: %w", err)
		}
	}

	s.rec.RecordTransition(ctx, "qc_transitioned_to_"+string(target), actorID, "qc_review", review.ID,
		map[string]any{"subject_id": review.SubjectID}, string(previous), string(target))
	return review, nil
}

// GetReview returns a review by id.
func (s *Service) GetReview(ctx context.Context, reviewID string) (Review, error) {
	return s.repo.GetReview(ctx, reviewID)
}

// ListPendingReviews returns reviews awaiting Guardian attention.
func (s *Service) ListPendingReviews(ctx context.Context) ([]Review, error) {
	return s.repo.ListPendingReviews(ctx)
}
