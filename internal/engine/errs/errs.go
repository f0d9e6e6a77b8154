// Package errs names the error kinds the engine distinguishes (not Go
// types in the exception-hierarchy sense, but sentinels checked with
// errors.Is, and one wrapper checked with errors.As for the underlying
// store error).
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrGuardDenied: a transition guard rejected the move. Recovered
	// locally by the caller; the candidate is simply not advanced this tick.
	ErrGuardDenied = errors.New("guard denied")

	// ErrStaleState: the optimistic check failed because the step changed
	// since selection. Recovered locally; skip.
	ErrStaleState = errors.New("stale state")

	// ErrMissingArgument: job construction failed to find a required
	// constructor argument.
	ErrMissingArgument = errors.New("missing argument")

	// ErrLockContention: acquireGroupLock denied. Benign; the scheduler
	// moves on to the next group.
	ErrLockContention = errors.New("lock contention")

	// ErrAlreadyDispatching is the specific LockContention cause produced
	// when a group's can_dispatch row is already held by another tick.
	ErrAlreadyDispatching = fmt.Errorf("%w: already dispatching", ErrLockContention)
)

// StoreError wraps a transactional-store failure. Retriable marks whether
// the caller should retry the operation with bounded attempts before
// aborting the tick.
type StoreError struct {
	Retriable bool
	Err       error
}

func (e *StoreError) Error() string {
	if e.Retriable {
		return fmt.Sprintf("store error (retriable): %v", e.Err)
	}
	return fmt.Sprintf("store error: %v", e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func NewStoreError(err error, retriable bool) error {
	if err == nil {
		return nil
	}
	return &StoreError{Retriable: retriable, Err: err}
}

// JobError wraps an error the job body raised, handled by JobRunner/RetryPolicy.
type JobError struct {
	Stage string
	Err   error
}

func (e *JobError) Error() string { return fmt.Sprintf("job error at %s: %v", e.Stage, e.Err) }
func (e *JobError) Unwrap() error { return e.Err }

func NewJobError(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &JobError{Stage: stage, Err: err}
}
