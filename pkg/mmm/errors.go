// Package mmm holds the error taxonomy shared across the marketing-mix
// pipeline: typed error codes, a single wrapping error type, and
// predicate helpers for the call sites that branch on failure class.
package mmm

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failure.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "unknown"
	CodeValidation        ErrorCode = "validation"
	CodeInvalidParameter  ErrorCode = "invalid_parameter"
	CodeInvalidState      ErrorCode = "invalid_state"
	CodeDuplicateDecision ErrorCode = "duplicate_decision"
	CodeInfeasible        ErrorCode = "infeasible_constraints"
	CodeNoConvergence     ErrorCode = "no_convergence"
	CodeNotFound          ErrorCode = "not_found"
	CodeAlreadyExists     ErrorCode = "already_exists"
	CodeInternal          ErrorCode = "internal"
)

// Error is the single error type returned across package boundaries.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on code so sentinel comparison with errors.Is works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails attaches a key/value pair for diagnostics.
func (e *Error) WithDetails(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error under a code.
func Wrap(err error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// As extracts a *Error from an error chain.
func As(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var me *Error
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeUnknown for foreign errors.
func CodeOf(err error) ErrorCode {
	if me, ok := As(err); ok {
		return me.Code
	}
	return CodeUnknown
}

func is(err error, code ErrorCode) bool {
	me, ok := As(err)
	return ok && me.Code == code
}

// IsValidation reports whether err is a malformed-input failure.
func IsValidation(err error) bool { return is(err, CodeValidation) }

// IsInvalidParameter reports whether err is an out-of-domain parameter failure.
func IsInvalidParameter(err error) bool { return is(err, CodeInvalidParameter) }

// IsInvalidState reports whether err is an illegal state transition.
func IsInvalidState(err error) bool { return is(err, CodeInvalidState) }

// IsDuplicateDecision reports whether err is a re-recorded checkpoint decision.
func IsDuplicateDecision(err error) bool { return is(err, CodeDuplicateDecision) }

// IsInfeasible reports whether err means the constraint set has no solution.
func IsInfeasible(err error) bool { return is(err, CodeInfeasible) }

// IsNotFound reports whether err is a missing-resource failure.
func IsNotFound(err error) bool { return is(err, CodeNotFound) }

// Common sentinels.
var (
	ErrNotFound      = New(CodeNotFound, "resource not found")
	ErrAlreadyExists = New(CodeAlreadyExists, "resource already exists")
)
