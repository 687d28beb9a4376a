package outputs

import (
	"errors"
	"fmt"
)

var (
	// ErrHistoryUnavailable is returned when no previous execution has been bound.
	// It means "no known previous output", not "the previous run produced nothing".
	ErrHistoryUnavailable = errors.New("task history is currently not available for this task")

	// ErrTaskStarted is wrapped by ErrMutationAfterStart in strict mode
	ErrTaskStarted = errors.New("task execution has already started")

	// ErrUnresolvablePath is returned by FileResolver for values it cannot turn into a path
	ErrUnresolvablePath = errors.New("cannot resolve path")

	// ErrNilPredicate is returned when a nil predicate or function is registered
	ErrNilPredicate = errors.New("predicate must not be nil")
)

// ErrMutationAfterStart reports a declaration rejected by a strict guard
type ErrMutationAfterStart struct {
	TaskID string
	Action string
}

func (e *ErrMutationAfterStart) Error() string {
	return fmt.Sprintf("calling %s on task %s: %v", e.Action, e.TaskID, ErrTaskStarted)
}

func (e *ErrMutationAfterStart) Unwrap() error {
	return ErrTaskStarted
}
