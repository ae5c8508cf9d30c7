// Package errs defines the typed error taxonomy shared by the store,
// executor and HTTP layers, so a handler never has to guess a status
// code from an error string.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purpose of HTTP status mapping and
// executor retry decisions.
type Kind int

const (
	// Internal covers anything unclassified; maps to 500.
	Internal Kind = iota
	// ValidationFailed means the caller supplied bad input; maps to 400.
	ValidationFailed
	// NotFound means the referenced entity does not exist; maps to 404.
	NotFound
	// Conflict means the request violates a uniqueness or state invariant; maps to 400.
	Conflict
	// Unavailable means a downstream dependency could not be reached; maps to 503.
	Unavailable
	// Cancelled means the operation was cooperatively cancelled; swallowed when caller-initiated.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case ValidationFailed:
		return "validation_failed"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Unavailable:
		return "unavailable"
	case Cancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error is a typed, wrappable error carrying a Kind.
type Error struct {
	kind    Kind
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.cause }

// Kind reports the error's classification.
func (e *Error) Kind() Kind { return e.kind }

func newErr(k Kind, msg string) *Error { return &Error{kind: k, message: msg} }

// Wrap attaches kind k to cause, prefixed with msg.
func Wrap(k Kind, msg string, cause error) *Error {
	return &Error{kind: k, message: msg, cause: cause}
}

// Validationf builds a ValidationFailed error.
func Validationf(format string, args ...interface{}) *Error {
	return newErr(ValidationFailed, fmt.Sprintf(format, args...))
}

// NotFoundf builds a NotFound error.
func NotFoundf(format string, args ...interface{}) *Error {
	return newErr(NotFound, fmt.Sprintf(format, args...))
}

// Conflictf builds a Conflict error.
func Conflictf(format string, args ...interface{}) *Error {
	return newErr(Conflict, fmt.Sprintf(format, args...))
}

// Unavailablef builds an Unavailable error.
func Unavailablef(format string, args ...interface{}) *Error {
	return newErr(Unavailable, fmt.Sprintf(format, args...))
}

// Internalf builds an Internal error.
func Internalf(format string, args ...interface{}) *Error {
	return newErr(Internal, fmt.Sprintf(format, args...))
}

// ErrCancelled is the sentinel returned when a step executor observes a
// cooperative cancellation request between steps or at a checkpoint.
var ErrCancelled = newErr(Cancelled, "job cancelled")

// KindOf classifies err, defaulting to Internal for anything that isn't
// one of our typed errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Internal
}

// IsCancelled reports whether err is, or wraps, ErrCancelled.
func IsCancelled(err error) bool {
	return KindOf(err) == Cancelled
}
