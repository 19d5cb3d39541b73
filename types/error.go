package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Build-time error codes. These are raised while constructing or validating
// a workflow graph, before any node executes, and are never retried.
const (
	ErrValidation    ErrorCode = "VALIDATION"
	ErrCycleDetected ErrorCode = "CYCLE_DETECTED"
)

// Node-level error codes.
const (
	ErrTimeout        ErrorCode = "TIMEOUT"
	ErrRateLimit      ErrorCode = "RATE_LIMIT"
	ErrNetwork        ErrorCode = "NETWORK"
	ErrAdapter        ErrorCode = "ADAPTER"
	ErrBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"
	ErrCancelled      ErrorCode = "CANCELLED"
	ErrSkipped        ErrorCode = "SKIPPED"
	ErrInternal       ErrorCode = "INTERNAL"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewValidationError creates a build-time validation error.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Code: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NewTransientError creates a retryable error with the given code.
// Only TIMEOUT, RATE_LIMIT and NETWORK are meaningful transient codes.
func NewTransientError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: true}
}

// NewAdapterError creates a terminal provider error.
func NewAdapterError(provider, message string) *Error {
	return &Error{Code: ErrAdapter, Message: message, Provider: provider}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable reports whether an error should be retried. Structured errors
// carry an explicit flag; context deadline expiry counts as a transient
// timeout, while context cancellation is always terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Classify normalizes an arbitrary error into a structured *Error.
// Context errors map to TIMEOUT (retryable) and CANCELLED (terminal);
// everything else without a structured code becomes an INTERNAL error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewTransientError(ErrTimeout, "deadline exceeded").WithCause(err)
	case errors.Is(err, context.Canceled):
		return NewError(ErrCancelled, "cancelled").WithCause(err)
	default:
		return NewError(ErrInternal, err.Error()).WithCause(err)
	}
}
