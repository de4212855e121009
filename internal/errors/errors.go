// Package errors provides coded domain errors shared by the local store, the
// sync engine and the application services.
//
// Usage:
//
//	// In the store - return typed errors
//	if duplicate {
//	    return errors.ConstraintViolationf("expense %s already exists", id)
//	}
//
//	// In callers - check with errors.Is
//	if errors.Is(err, errors.ErrConcurrentSync) {
//	    return // another cycle is running, the next trigger retries
//	}
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
	New    = errors.New
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeNotFound            Code = "NOT_FOUND"
	CodeConstraintViolation Code = "CONSTRAINT_VIOLATION"
	CodeValidation          Code = "VALIDATION"
	CodeForbidden           Code = "FORBIDDEN"
	CodeStorageFailure      Code = "STORAGE_FAILURE"
	CodeRemoteUnavailable   Code = "REMOTE_UNAVAILABLE"
	CodeConcurrentSync      Code = "CONCURRENT_SYNC_REJECTED"
	CodeInternal            Code = "INTERNAL"
)

// Retryable reports whether an operation failing with this code may succeed
// if attempted again later without any change from the caller.
func (c Code) Retryable() bool {
	switch c {
	case CodeRemoteUnavailable, CodeConcurrentSync:
		return true
	default:
		return false
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error carrying the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetails returns a copy of the error with details attached.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// WithCause returns a copy of the error wrapping err.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: e.Details, cause: err}
}

// Sentinel errors for use with errors.Is().
var (
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "not found"}
	ErrConstraintViolation = &Error{Code: CodeConstraintViolation, Message: "constraint violation"}
	ErrValidation          = &Error{Code: CodeValidation, Message: "validation error"}
	ErrForbidden           = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrStorageFailure      = &Error{Code: CodeStorageFailure, Message: "storage failure"}
	ErrRemoteUnavailable   = &Error{Code: CodeRemoteUnavailable, Message: "remote unavailable"}
	ErrConcurrentSync      = &Error{Code: CodeConcurrentSync, Message: "sync already in progress"}
	ErrInternal            = &Error{Code: CodeInternal, Message: "internal error"}
)

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// ConstraintViolation creates a constraint violation error.
func ConstraintViolation(msg string) *Error {
	return &Error{Code: CodeConstraintViolation, Message: msg}
}

// ConstraintViolationf creates a constraint violation error with formatted message.
func ConstraintViolationf(format string, args ...any) *Error {
	return &Error{Code: CodeConstraintViolation, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with per-field details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Forbidden creates a forbidden error.
func Forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

// StorageFailure wraps a local persistence error.
func StorageFailure(err error, msg string) *Error {
	return &Error{Code: CodeStorageFailure, Message: msg, cause: err}
}

// RemoteUnavailable wraps a transport or server error from the remote store.
func RemoteUnavailable(err error, msg string) *Error {
	return &Error{Code: CodeRemoteUnavailable, Message: msg, cause: err}
}

// Internal creates an internal error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
