// Package faults defines the error taxonomy shared by the scheduling core.
// Business-rule failures (validation, conflict) carry actionable text for
// the end user; transient store failures wrap the underlying cause.
package faults

import (
	"errors"
	"fmt"
)

// ErrConflict: the slot was taken between the availability check and the
// insert, or between two concurrent inserts. The caller refreshes the
// taken-slot set; the booking is not retried automatically.
var ErrConflict = errors.New("time slot no longer available")

// ErrNotFound: the appointment no longer exists or was already moved to a
// terminal state by another actor. The caller is expected to refetch.
var ErrNotFound = errors.New("appointment not found")

// ErrForbidden: the actor is not permitted to drive this transition.
var ErrForbidden = errors.New("operation not permitted for this actor")

// ValidationError reports a missing or invalid booking field, or a
// transition attempted outside its allowed window. Never persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientError is a network/backend failure unrelated to business rules.
// The caller surfaces it with a retry affordance and preserves form state.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
