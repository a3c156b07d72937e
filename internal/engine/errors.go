package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyReceived is returned alongside the existing info when a message is received twice.
	ErrAlreadyReceived = errors.New("message already received")
	// ErrAlreadyResolved rejects any resolution of an info that is no longer waiting.
	ErrAlreadyResolved = errors.New("received info already resolved")
	// ErrInvalidInput wraps validation failures at the operation boundary.
	ErrInvalidInput = errors.New("invalid input")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IllegalTransitionError rejects a status change before anything is written.
type IllegalTransitionError struct {
	From   string
	To     string
	Reason string
}

func (e IllegalTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("illegal status transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

// RemoteCommitError means the remote task API refused or failed a mutation.
// Local state was rolled back and the call may be retried.
type RemoteCommitError struct {
	Op  string
	Err error
}

func (e RemoteCommitError) Error() string {
	return fmt.Sprintf("remote commit %s failed: %v", e.Op, e.Err)
}

func (e RemoteCommitError) Unwrap() error { return e.Err }

func (e RemoteCommitError) Retryable() bool { return true }
