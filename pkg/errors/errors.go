// Package errors defines custom error types and error handling utilities for the Security State Manager.
// Errors carry a stable code, a human readable description and an optional cause.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure.
type Code string

const (
	CodeInvalidRequest Code = "invalid_request"
	CodeNotFound       Code = "not_found"
	CodeStorage        Code = "storage_failure"
	CodeDecode         Code = "decode_failure"
	CodeCrypto         Code = "crypto_failure"
	CodeNetwork        Code = "network_failure"
	CodeUnauthorized   Code = "unauthorized"
	CodeRateLimited    Code = "rate_limit_exceeded"
	CodeBlocked        Code = "blocked"
	CodeConfig         Code = "invalid_config"
	CodeTampered       Code = "tampered"
	CodeInternal       Code = "internal_error"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// SecError represents a structured error with additional metadata
type SecError interface {
	error

	// Code returns the error code
	Code() Code

	// HTTPStatus returns the HTTP status code used by the diagnostics surface
	HTTPStatus() int

	// Description returns a human-readable description
	Description() string

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause returns a copy carrying cause
	WithCause(cause error) SecError

	// WithMetadata returns a copy carrying an additional metadata entry
	WithMetadata(key string, value interface{}) SecError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

type baseError struct {
	code        Code
	httpStatus  int
	description string
	cause       error
	metadata    map[string]interface{}
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.description, e.cause)
	}
	return e.description
}

func (e *baseError) Code() Code          { return e.code }
func (e *baseError) HTTPStatus() int     { return e.httpStatus }
func (e *baseError) Description() string { return e.description }
func (e *baseError) Unwrap() error       { return e.cause }

func (e *baseError) WithCause(cause error) SecError {
	c := e.clone()
	c.cause = cause
	return c
}

func (e *baseError) WithMetadata(key string, value interface{}) SecError {
	c := e.clone()
	c.metadata[key] = value
	return c
}

func (e *baseError) Metadata() map[string]interface{} {
	return e.metadata
}

// Is matches errors with the same code so sentinel-style comparisons work.
func (e *baseError) Is(target error) bool {
	t, ok := target.(*baseError)
	if !ok {
		return false
	}
	return t.code == e.code
}

func (e *baseError) clone() *baseError {
	md := make(map[string]interface{}, len(e.metadata)+1)
	for k, v := range e.metadata {
		md[k] = v
	}
	return &baseError{
		code:        e.code,
		httpStatus:  e.httpStatus,
		description: e.description,
		cause:       e.cause,
		metadata:    md,
	}
}

// NewError creates a new SecError with the specified parameters
func NewError(code Code, httpStatus int, description string) SecError {
	return &baseError{
		code:        code,
		httpStatus:  httpStatus,
		description: description,
		metadata:    make(map[string]interface{}),
	}
}

// ================================================================================
// Predefined Error Constructors
// ================================================================================

// ErrInvalidRequest creates an invalid_request error
func ErrInvalidRequest(message string) SecError {
	return NewError(CodeInvalidRequest, http.StatusBadRequest, message)
}

// ErrNotFound creates a not_found error for a missing key or resource
func ErrNotFound(what string) SecError {
	return NewError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", what))
}

// ErrStorage wraps a persistent store failure
func ErrStorage(op string, cause error) SecError {
	return NewError(CodeStorage, http.StatusInternalServerError, fmt.Sprintf("store %s failed", op)).WithCause(cause)
}

// ErrDecode wraps a failure to decode persisted or received data
func ErrDecode(what string, cause error) SecError {
	return NewError(CodeDecode, http.StatusUnprocessableEntity, fmt.Sprintf("malformed %s", what)).WithCause(cause)
}

// ErrCrypto wraps a cipher or key derivation failure
func ErrCrypto(reason string) SecError {
	return NewError(CodeCrypto, http.StatusInternalServerError, reason)
}

// ErrNetwork wraps a failed call to the session endpoints
func ErrNetwork(endpoint string, cause error) SecError {
	return NewError(CodeNetwork, http.StatusBadGateway, fmt.Sprintf("request to %s failed", endpoint)).WithCause(cause)
}

// ErrUnauthorized reports a rejected credential
func ErrUnauthorized(message string) SecError {
	return NewError(CodeUnauthorized, http.StatusUnauthorized, message)
}

// ErrRateLimited reports a rejected request for a rate-limited key
func ErrRateLimited(key string) SecError {
	return NewError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded").WithMetadata("key", key)
}

// ErrBlocked reports a temporarily blocked identity
func ErrBlocked(id string) SecError {
	return NewError(CodeBlocked, http.StatusForbidden, "identity temporarily blocked").WithMetadata("id", id)
}

// ErrConfig reports an invalid configuration value
func ErrConfig(message string) SecError {
	return NewError(CodeConfig, http.StatusInternalServerError, message)
}

// ErrTampered reports a broken signature chain in the event log
func ErrTampered(index int) SecError {
	return NewError(CodeTampered, http.StatusConflict, fmt.Sprintf("event log signature chain broken at index %d", index)).WithMetadata("index", index)
}

// ErrInternal creates an internal_error error
func ErrInternal(message string) SecError {
	return NewError(CodeInternal, http.StatusInternalServerError, message)
}

// ================================================================================
// Helpers
// ================================================================================

// AsSecError extracts a SecError from an error chain
func AsSecError(err error) (SecError, bool) {
	var se SecError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// WrapError wraps err with a code and message; a nil err yields nil
func WrapError(err error, code Code, message string) SecError {
	if err == nil {
		return nil
	}
	return NewError(code, http.StatusInternalServerError, message).WithCause(err)
}

// CodeOf returns the code of err or CodeInternal when err is not a SecError
func CodeOf(err error) Code {
	if se, ok := AsSecError(err); ok {
		return se.Code()
	}
	return CodeInternal
}

// IsTransientError reports whether retrying the operation later could succeed.
// Cancelled and timed out contexts count as transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch CodeOf(err) {
	case CodeNetwork, CodeStorage:
		return true
	}
	return false
}

// ErrorResponse is the JSON body written by the diagnostics HTTP surface
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ToErrorResponse converts any error into an ErrorResponse and status code
func ToErrorResponse(err error) (int, *ErrorResponse) {
	if se, ok := AsSecError(err); ok {
		return se.HTTPStatus(), &ErrorResponse{Error: string(se.Code()), ErrorDescription: se.Description()}
	}
	return http.StatusInternalServerError, &ErrorResponse{Error: string(CodeInternal), ErrorDescription: "internal error"}
}
