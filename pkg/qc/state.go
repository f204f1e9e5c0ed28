// Package qc implements the quality-control review state machine: the
// Guardian-owned lifecycle every draft artifact passes through before it can
// reach the release gate.
package qc

// State is a QC review lifecycle state. The string values are part of the
// persisted contract.
type State string

const (
	StateDraft    State = "draft"
	StatePending  State = "pending"
	StateInReview State = "in_review"
	StatePass     State = "pass"
	StateRevise   State = "revise"
	StateEscalate State = "escalate"
	StateReleased State = "released"
)

// transitions is the directional adjacency map. Any pair not listed is
// rejected; there are no implicit reverse edges. released is terminal.
var transitions = map[State][]State{
	StateDraft:    {StatePending},
	StatePending:  {StateInReview, StateRevise},
	StateInReview: {StatePass, StateRevise, StateEscalate},
	StatePass:     {StateReleased},
	StateRevise:   {StatePending},
	StateEscalate: {StateInReview, StateReleased},
	StateReleased: {},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s State) String() string { return string(s) }

// CanTransition reports whether from -> to is in the adjacency map.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// outcomes are the terminal review outcomes that stamp the review record.
var outcomes = map[State]bool{
	StatePass:     true,
	StateRevise:   true,
	StateEscalate: true,
}

// IsOutcome reports whether the state is a terminal review outcome.
func IsOutcome(s State) bool { return outcomes[s] }

// subjectStatus maps a review state to the externally visible status of the
// reviewed subject. States not listed leave the subject unchanged.
var subjectStatus = map[State]string{
	StatePass:     "pending_approval",
	StateRevise:   "qc_revision",
	StateReleased: "completed",
}

// SubjectStatusFor returns the subject status a transition into s implies,
// and whether the subject changes at all.
func SubjectStatusFor(s State) (string, bool) {
	status, ok := subjectStatus[s]
	return status, ok
}
