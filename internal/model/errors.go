package model

import (
	"errors"
	"fmt"
)

// Error taxonomy for the pipeline. Components wrap these sentinels with
// fmt.Errorf("...: %w", ...) so callers can classify faults with errors.Is
// without parsing messages.
var (
	// ErrUpstreamUnavailable marks a single external source or service as
	// down. Always isolated; never aborts the whole pipeline.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrResourceExceeded marks a training budget or storage quota hit.
	// The owning job fails cleanly.
	ErrResourceExceeded = errors.New("resource budget exceeded")

	// ErrInvalidInput marks malformed caller input, rejected before any
	// job starts.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransientIO marks a retryable network fault. Surfaced only after
	// retries exhaust.
	ErrTransientIO = errors.New("transient i/o failure")

	// ErrNotFound marks a record or upstream object that does not exist.
	// Not retryable.
	ErrNotFound = errors.New("not found")

	// ErrJobTerminal marks an operation on a job that already reached a
	// terminal state.
	ErrJobTerminal = errors.New("job already terminal")
)

// errInvalidf wraps ErrInvalidInput with a formatted detail message.
func errInvalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
