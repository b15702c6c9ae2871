// Package apperr defines the typed error-kind taxonomy shared across the
// content pipeline. Handlers classify errors by Kind rather than by
// matching strings, and the HTTP layer maps kinds to status codes with a
// single dispatch table.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the taxonomy of known error classes (see spec §7).
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindUnauthorized      Kind = "unauthorized"
	KindValidationFailed  Kind = "validation_failed"
	KindContentInvalid    Kind = "content_invalid"
	KindFetchNetwork      Kind = "fetch_network"
	KindFetchAuth         Kind = "fetch_auth"
	KindFetchNotFound     Kind = "fetch_not_found"
	KindCancelled         Kind = "cancelled"
	KindAlreadyInProgress Kind = "already_in_progress"
	KindInternal          Kind = "internal_error"
)

// Error is the unified error interface. Concrete errors in this codebase
// implement it so callers can classify failures with errors.As instead of
// string matching.
type Error interface {
	error
	Kind() Kind
	Unwrap() error
}

type kindError struct {
	kind    Kind
	message string
	cause   error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *kindError) Kind() Kind   { return e.kind }
func (e *kindError) Unwrap() error { return e.cause }

// New constructs an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) error {
	return &kindError{kind: kind, message: message}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) error {
	return &kindError{kind: kind, message: message, cause: cause}
}

// NotFound, Unauthorized, ... are convenience constructors.
func NotFound(format string, args ...any) error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func Unauthorized(format string, args ...any) error {
	return New(KindUnauthorized, fmt.Sprintf(format, args...))
}

func ValidationFailed(format string, args ...any) error {
	return New(KindValidationFailed, fmt.Sprintf(format, args...))
}

func ContentInvalid(format string, args ...any) error {
	return New(KindContentInvalid, fmt.Sprintf(format, args...))
}

func FetchNetwork(cause error, format string, args ...any) error {
	return Wrap(KindFetchNetwork, fmt.Sprintf(format, args...), cause)
}

func FetchAuth(cause error, format string, args ...any) error {
	return Wrap(KindFetchAuth, fmt.Sprintf(format, args...), cause)
}

func FetchNotFound(format string, args ...any) error {
	return New(KindFetchNotFound, fmt.Sprintf(format, args...))
}

func Cancelled(format string, args ...any) error {
	return New(KindCancelled, fmt.Sprintf(format, args...))
}

func AlreadyInProgress(format string, args ...any) error {
	return New(KindAlreadyInProgress, fmt.Sprintf(format, args...))
}

func Internal(cause error, format string, args ...any) error {
	return Wrap(KindInternal, fmt.Sprintf(format, args...), cause)
}

// KindOf classifies err, defaulting to KindInternal when err does not
// implement Error (or is nil, in which case it returns "").
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the status code prescribed by spec §7.
// ContentInvalid/FetchNetwork/FetchAuth/FetchNotFound/Cancelled/
// AlreadyInProgress are scheduler-internal and never surfaced directly to
// an HTTP client; they map to 500 only as a defensive fallback.
func HTTPStatus(k Kind) int {
	switch k {
	case KindNotFound, KindValidationFailed:
		return 404
	case KindUnauthorized:
		return 401
	default:
		return 500
	}
}
