package relocation

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by a Store when a relocation or one of its
// records does not exist.
var ErrNotFound = errors.New("relocation: not found")

// ErrStale is returned by a Store when the delivery asking for a transition
// no longer owns the relocation: a later task or a newer delivery of the
// same task has moved it on, or it has finished.
var ErrStale = errors.New("relocation: stale task delivery")

// TaskError carries the failure reason a task body wants recorded if the
// error ends the relocation.
type TaskError struct {
	Reason string
	// Fatal errors fail the relocation immediately. Others are retried
	// until the task's attempt ceiling and only then use Reason.
	Fatal bool
	Err   error
}

func (e *TaskError) Error() string {
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", kind, e.Reason, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Fatal marks bad input that no retry can fix.
func Fatal(reason string, err error) error {
	return &TaskError{Reason: reason, Fatal: true, Err: err}
}

// Transient marks a retryable error that should surface with reason once
// the attempt ceiling is reached.
func Transient(reason string, err error) error {
	return &TaskError{Reason: reason, Err: err}
}

// AsTaskError returns the TaskError wrapped in err, if any.
func AsTaskError(err error) (*TaskError, bool) {
	var te *TaskError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
