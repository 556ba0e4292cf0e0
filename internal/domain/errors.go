package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a core error so the transport layer can map it to a
// canonical response without inspecting message text.
type ErrorKind string

const (
	KindNotFound           ErrorKind = "not_found"
	KindValidation         ErrorKind = "validation"
	KindImmutability       ErrorKind = "immutability"
	KindOptimisticConflict ErrorKind = "optimistic_conflict"
	KindConflict           ErrorKind = "conflict"
	KindForbidden          ErrorKind = "forbidden"
	KindRateLimited        ErrorKind = "rate_limited"
	KindUnauthorized       ErrorKind = "unauthorized"
	KindTransient          ErrorKind = "transient"
	KindFatal              ErrorKind = "fatal"
)

// Error is the typed error the core returns across service boundaries.
// Validation and Forbidden messages are human-readable and stable; tests
// depend on them.
type Error struct {
	Kind    ErrorKind
	Message string

	// RequiredPermission is set for Forbidden errors so the HTTP edge can
	// include it in the response body.
	RequiredPermission string

	// RetryAfterSeconds is set for RateLimited errors.
	RetryAfterSeconds int

	wrapped error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Is lets errors.Is match two domain errors by kind.
func (e *Error) Is(target error) bool {
	var de *Error
	if errors.As(target, &de) {
		return de.Kind == e.Kind && (de.Message == "" || de.Message == e.Message)
	}
	return false
}

// NewError builds a typed core error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches an underlying cause to a typed core error.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// NotFoundf builds a NotFound error.
func NotFoundf(format string, args ...any) *Error {
	return NewError(KindNotFound, format, args...)
}

// Validationf builds a Validation error.
func Validationf(format string, args ...any) *Error {
	return NewError(KindValidation, format, args...)
}

// Conflictf builds a Conflict error.
func Conflictf(format string, args ...any) *Error {
	return NewError(KindConflict, format, args...)
}

// Forbidden builds a Forbidden error carrying the missing permission.
func Forbidden(permission string) *Error {
	return &Error{
		Kind:               KindForbidden,
		Message:            fmt.Sprintf("missing permission %s", permission),
		RequiredPermission: permission,
	}
}

// RateLimited builds a RateLimited error with a retry hint.
func RateLimited(retryAfterSeconds int) *Error {
	return &Error{
		Kind:              KindRateLimited,
		Message:           "rate limit exceeded",
		RetryAfterSeconds: retryAfterSeconds,
	}
}

// ErrOptimisticConflict is returned by stores when a conditional update
// observes a stale version. Engines retry internally before surfacing it.
var ErrOptimisticConflict = &Error{Kind: KindOptimisticConflict, Message: "version conflict"}

// KindOf extracts the ErrorKind from err, or KindFatal when err carries none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindFatal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
