// Package apperr defines the error kinds surfaced by the middleware and their
// HTTP mapping. Handlers translate any error reaching them into the stable
// response envelope via this package.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorises an error for HTTP translation and retry policy.
type Kind string

const (
	KindValidation   Kind = "VALIDATION_ERROR"
	KindNotFound     Kind = "NOT_FOUND"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindRateLimit    Kind = "RATE_LIMIT_EXCEEDED"
	KindUpstream     Kind = "UPSTREAM_ERROR"
	KindStore        Kind = "STORE_ERROR"
	KindInternal     Kind = "INTERNAL_ERROR"
)

// Error is a categorised error with an optional field-level detail list.
type Error struct {
	Kind    Kind
	Message string
	Details []string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches errors of the same kind, so callers can probe with sentinels.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// HTTPStatus maps the kind to its response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	case KindStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Validation builds a 400-class error with field-level issues.
func Validation(message string, details ...string) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// NotFound builds a 404-class error.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Unauthorized builds a 401-class error.
func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// Forbidden builds a 403-class error.
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// RateLimited builds a 429-class error.
func RateLimited(message string) *Error {
	return &Error{Kind: KindRateLimit, Message: message}
}

// Upstream wraps an ERP failure as a 502-class error.
func Upstream(message string, cause error) *Error {
	return &Error{Kind: KindUpstream, Message: message, cause: cause}
}

// Store wraps a store write failure as a 503-class error.
func Store(message string, cause error) *Error {
	return &Error{Kind: KindStore, Message: message, cause: cause}
}

// Internal wraps an unexpected failure as a 500-class error.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, cause: cause}
}

// From normalises any error into an *Error, defaulting to KindInternal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindInternal, Message: "internal error", cause: err}
}
