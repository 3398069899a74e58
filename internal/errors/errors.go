// Package errors provides standardized domain errors with codes for the
// ReadAloud API.
//
// Usage:
//
//	// In services - return typed errors
//	if entry == nil {
//	    return errors.NotFound("cache entry not found")
//	}
//
//	// In handlers - check with errors.Is
//	if errors.Is(err, errors.ErrCacheIntegrity) {
//	    response.InternalError(w, err.Error(), logger)
//	    return
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeAlreadyExists   Code = "ALREADY_EXISTS"
	CodeValidation      Code = "VALIDATION"
	CodeInternal        Code = "INTERNAL"
	CodeSynthesisFailed Code = "SYNTHESIS_FAILED"
	CodeCacheIntegrity  Code = "CACHE_INTEGRITY"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	case CodeSynthesisFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error  // unexported, for wrapping
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

// Is reports whether target matches this error.
// Matches if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		cause:   e.cause,
	}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrNotFound        = &Error{Code: CodeNotFound, Message: "not found"}
	ErrAlreadyExists   = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrValidation      = &Error{Code: CodeValidation, Message: "validation error"}
	ErrInternal        = &Error{Code: CodeInternal, Message: "internal error"}
	ErrSynthesisFailed = &Error{Code: CodeSynthesisFailed, Message: "synthesis failed"}

	// ErrCacheIntegrity marks metadata that references audio bytes which no
	// longer exist. Distinct from not-found: it means storage was mutated
	// outside the cache's control and must not be masked as a miss.
	ErrCacheIntegrity = &Error{Code: CodeCacheIntegrity, Message: "cache integrity violation"}
)

// Constructor functions for creating errors with custom messages.

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// AlreadyExists creates an already exists error.
func AlreadyExists(msg string) *Error {
	return &Error{Code: CodeAlreadyExists, Message: msg}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Internal creates an internal error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// SynthesisFailed creates a synthesis failure error.
func SynthesisFailed(msg string) *Error {
	return &Error{Code: CodeSynthesisFailed, Message: msg}
}

// SynthesisFailedf creates a synthesis failure error with formatted message.
func SynthesisFailedf(format string, args ...any) *Error {
	return &Error{Code: CodeSynthesisFailed, Message: fmt.Sprintf(format, args...)}
}

// CacheIntegrity creates a cache integrity error.
func CacheIntegrity(msg string) *Error {
	return &Error{Code: CodeCacheIntegrity, Message: msg}
}

// CacheIntegrityf creates a cache integrity error with formatted message.
func CacheIntegrityf(format string, args ...any) *Error {
	return &Error{Code: CodeCacheIntegrity, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}
