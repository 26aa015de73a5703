// Package apperr defines the typed error taxonomy used at every Operations
// Core boundary so the HTTP layer can map errors to status codes without
// string-matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories named in spec.md §7.
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindForbidden              Kind = "forbidden"
	KindConflict               Kind = "conflict"
	KindInvalidWindow          Kind = "invalid_window"
	KindInvalidTransition      Kind = "invalid_transition"
	KindPrecondition           Kind = "precondition_failed"
	KindDependencyUnavailable  Kind = "dependency_unavailable"
	KindDependencyProtocol     Kind = "dependency_protocol_error"
	KindRateLimited            Kind = "rate_limited"
	KindInternal               Kind = "internal"
)

// Error is a structured {kind, detail} error that keeps its underlying
// cause for logging/errors.Is/errors.As while exposing a stable Code to
// callers.
type Error struct {
	Kind   Kind
	Code   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind/code to an underlying error without discarding it.
func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Detail: err.Error(), Err: err}
}

func NotFound(code, format string, args ...interface{}) *Error {
	return newf(KindNotFound, code, format, args...)
}

func Forbidden(code, format string, args ...interface{}) *Error {
	return newf(KindForbidden, code, format, args...)
}

func Conflict(code, format string, args ...interface{}) *Error {
	return newf(KindConflict, code, format, args...)
}

func InvalidWindow(code, format string, args ...interface{}) *Error {
	return newf(KindInvalidWindow, code, format, args...)
}

func InvalidTransition(code, format string, args ...interface{}) *Error {
	return newf(KindInvalidTransition, code, format, args...)
}

func Precondition(code, format string, args ...interface{}) *Error {
	return newf(KindPrecondition, code, format, args...)
}

func DependencyUnavailable(code, format string, args ...interface{}) *Error {
	return newf(KindDependencyUnavailable, code, format, args...)
}

func DependencyProtocol(code, format string, args ...interface{}) *Error {
	return newf(KindDependencyProtocol, code, format, args...)
}

func RateLimited(code, format string, args ...interface{}) *Error {
	return newf(KindRateLimited, code, format, args...)
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: "internal_error", Detail: "unexpected error", Err: err}
}

// KindOf extracts the Kind of err if it (or a wrapped cause) is an *Error,
// defaulting to KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
