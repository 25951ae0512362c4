package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrIllegalTransition   = errors.New("illegal transition")
	ErrInvalidScheduleTime = errors.New("invalid schedule time")
	ErrNotFound            = errors.New("not found")
	ErrPersistence         = errors.New("persistence failure")
	// ErrConflict marks a compare-and-set that found the state already changed.
	ErrConflict = errors.New("state changed concurrently")
)

// IllegalTransitionError names the rejected (from, to) pair.
type IllegalTransitionError struct {
	EntityID string
	From     State
	To       State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s for %s", e.From, e.To, e.EntityID)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// PersistenceError wraps a storage failure. Callers may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Retryable reports whether err is worth retrying as-is.
func Retryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}
