// Package coreerr defines the structured error type surfaced to CLI callers
// for user-input and policy failures. Transient I/O and corrupt-state errors
// use plain wrapped errors; coreerr is for the cases where the operation is
// terminated but the system keeps running.
package coreerr

import (
	"errors"
	"fmt"
)

// Code identifies a structured error class.
type Code string

const (
	// CodeNotFound is returned when a bullet id cannot be resolved.
	CodeNotFound Code = "not_found"

	// CodePinned is returned when a lifecycle mutation targets a pinned bullet.
	CodePinned Code = "pinned"

	// CodeInvalidDelta is returned for malformed or unknown curator deltas.
	CodeInvalidDelta Code = "invalid_delta"

	// CodeInvalidScope is returned for an unrecognized scope string.
	CodeInvalidScope Code = "invalid_scope"

	// CodeInvalidPattern is returned for an invalid or unsafe regex pattern.
	CodeInvalidPattern Code = "invalid_pattern"

	// CodeLockTimeout is returned when a file lock cannot be acquired.
	CodeLockTimeout Code = "lock_timeout"
)

// Error is a structured operation error with a stable code and an optional
// hint for the user.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates a structured error.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithHint attaches a hint and returns the same error for chaining.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// CodeOf extracts the structured code from an error chain, or "" if the error
// is not a coreerr.Error.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
