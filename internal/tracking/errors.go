package tracking

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrAlreadyPaused          = errors.New("timer already paused")
	ErrNotPaused              = errors.New("timer not paused")
	ErrPersistenceFailure     = errors.New("activity record not persisted")
	ErrLocationUnavailable    = errors.New("location unavailable")
	ErrFixRejected            = errors.New("fix rejected")
	ErrClosed                 = errors.New("tracker closed")
)

// TransitionError names the command and the state that refused it.
type TransitionError struct {
	Command string
	From    State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s while %s", ErrInvalidStateTransition, e.Command, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// PersistenceError carries the record that failed to reach the sink so the
// caller can retry it.
type PersistenceError struct {
	Record Record
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: record %s: %v", ErrPersistenceFailure, e.Record.ID, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistenceFailure, e.Err} }
