package core

import (
	"context"
	"errors"
	"fmt"
)

// AuthError indicates the remote host rejected our credentials (401/403).
// It is fatal to the calling operation and never retried.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication rejected by remote host: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError indicates a referenced remote or local resource is absent.
type NotFoundError struct {
	Resource string
	Err      error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s not found: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// RemoteProtocolError is an unexpected response from the remote host:
// a 4xx that is neither an auth nor a not-found condition. The status and
// body are kept for diagnosis.
type RemoteProtocolError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RemoteProtocolError) Error() string {
	return fmt.Sprintf("%s: unexpected remote response %d: %s", e.Op, e.StatusCode, e.Body)
}

// TransientError wraps a failure that is expected to clear on retry:
// timeouts, connection resets, 429 and 5xx responses after the client's
// own bounded retry is exhausted.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError rejects malformed input at a boundary before any task
// state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError rejects a manual status change that is not in the
// allowed set.
type InvalidTransitionError struct {
	From TaskStatus
	To   TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("status transition %s -> %s is not allowed", e.From, e.To)
}

// IsTransient reports whether the worker should requeue after this error.
// Context cancellation counts as transient so a task interrupted by
// shutdown or a build timeout is released rather than failed outright.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
