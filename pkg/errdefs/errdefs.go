// Package errdefs defines the error taxonomy shared by every governance
// component. All failures are synchronous and leave no partial state behind;
// callers discriminate with errors.As / errors.Is.
package errdefs

import (
	"errors"
	"fmt"
)

// ErrConflict signals that a precondition (current status or version) changed
// between read and write. The caller may retry against fresh state.
var ErrConflict = errors.New("concurrent modification conflict")

// ValidationError reports malformed input to a constructor-like call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for a named field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports an unknown entity id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// SecurityViolation reports the wrong actor attempting a role-restricted
// action. Role checks run before existence checks so an unauthorized caller
// cannot probe for valid ids.
type SecurityViolation struct {
	ActorID string
	Action  string
}

func (e *SecurityViolation) Error() string {
	return fmt.Sprintf("security violation: actor %q may not %s", e.ActorID, e.Action)
}

// PolicyViolation reports a missing prior gate (for example a guardian pass).
type PolicyViolation struct {
	Rule   string
	Detail string
}

func (e *PolicyViolation) Error() string {
	if e.Detail == "" {
		return "policy violation: " + e.Rule
	}
	return fmt.Sprintf("policy violation: %s: %s", e.Rule, e.Detail)
}

// StateError reports an operation attempted at the wrong lifecycle stage,
// including transitions outside the adjacency map.
type StateError struct {
	Current   string
	Requested string
	Detail    string
}

func (e *StateError) Error() string {
	if e.Requested != "" {
		return fmt.Sprintf("invalid state transition %s -> %s", e.Current, e.Requested)
	}
	return fmt.Sprintf("invalid state %q: %s", e.Current, e.Detail)
}

// PackMismatchError reports a jurisdiction isolation violation.
type PackMismatchError struct {
	ItemPack   string
	TargetPack string
}

func (e *PackMismatchError) Error() string {
	return fmt.Sprintf("jurisdiction pack mismatch: %s is not usable under %s", e.ItemPack, e.TargetPack)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsSecurityViolation reports whether err is (or wraps) a SecurityViolation.
func IsSecurityViolation(err error) bool {
	var sv *SecurityViolation
	return errors.As(err, &sv)
}

// IsPolicyViolation reports whether err is (or wraps) a PolicyViolation.
func IsPolicyViolation(err error) bool {
	var pv *PolicyViolation
	return errors.As(err, &pv)
}

// IsStateError reports whether err is (or wraps) a StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// IsPackMismatch reports whether err is (or wraps) a PackMismatchError.
func IsPackMismatch(err error) bool {
	var pm *PackMismatchError
	return errors.As(err, &pm)
}
