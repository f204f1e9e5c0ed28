package qc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cleargate-io/cleargate/pkg/qc"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from    qc.State
		to      qc.State
		allowed bool
	}{
		{qc.StateDraft, qc.StatePending, true},
		{qc.StatePending, qc.StateInReview, true},
		{qc.StatePending, qc.StateRevise, true},
		{qc.StateInReview, qc.StatePass, true},
		{qc.StateInReview, qc.StateRevise, true},
		{qc.StateInReview, qc.StateEscalate, true},
		{qc.StatePass, qc.StateReleased, true},
		{qc.StateRevise, qc.StatePending, true},
		{qc.StateEscalate, qc.StateInReview, true},
		{qc.StateEscalate, qc.StateReleased, true},

		// No implicit reverse edges.
		{qc.StatePending, qc.StateDraft, false},
		{qc.StateInReview, qc.StatePending, false},
		{qc.StateReleased, qc.StatePass, false},

		// No shortcuts.
		{qc.StateDraft, qc.StatePass, false},
		{qc.StatePending, qc.StatePass, false},
		{qc.StatePending, qc.StateReleased, false},
		{qc.StateRevise, qc.StateReleased, false},

		// released is terminal.
		{qc.StateReleased, qc.StateReleased, false},
		{qc.StateReleased, qc.StateDraft, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, qc.CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestStateValid(t *testing.T) {
	for _, s := range []qc.State{qc.StateDraft, qc.StatePending, qc.StateInReview,
		qc.StatePass, qc.StateRevise, qc.StateEscalate, qc.StateReleased} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, qc.State("approved").Valid())
	assert.False(t, qc.State("").Valid())
}

func TestIsOutcome(t *testing.T) {
	assert.True(t, qc.IsOutcome(qc.StatePass))
	assert.True(t, qc.IsOutcome(qc.StateRevise))
	assert.True(t, qc.IsOutcome(qc.StateEscalate))
	assert.False(t, qc.IsOutcome(qc.StateInReview))
	assert.False(t, qc.IsOutcome(qc.StateReleased))
}

func TestSubjectStatusFor(t *testing.T) {
	status, changed := qc.SubjectStatusFor(qc.StatePass)
	assert.True(t, changed)
	assert.Equal(t, "pending_approval", status)

	status, changed = qc.SubjectStatusFor(qc.StateRevise)
	assert.True(t, changed)
	assert.Equal(t, "qc_revision", status)

	status, changed = qc.SubjectStatusFor(qc.StateReleased)
	assert.True(t, changed)
	assert.Equal(t, "completed", status)

	_, changed = qc.SubjectStatusFor(qc.StateInReview)
	assert.False(t, changed)
}
