package a2a

import (
	"errors"
	"fmt"
)

// Kind classifies protocol failures.
type Kind string

// Failure kinds.
const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindStateConflict Kind = "state_conflict"
	KindForbidden     Kind = "forbidden"
	KindSignature     Kind = "signature_failure"
	KindInternal      Kind = "internal"
)

// Error is an A2A protocol failure.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinels for errors.Is. Store implementations return ErrNotFound and
// ErrStatusConflict.
var (
	ErrValidation     = newError(KindValidation, "invalid request")
	ErrNotFound       = newError(KindNotFound, "authorization not found")
	ErrStatusConflict = newError(KindStateConflict, "authorization status changed")
	ErrForbidden      = newError(KindForbidden, "caller does not own the credential")
	ErrSignature      = newError(KindSignature, "signature verification failed")
	ErrInternal       = newError(KindInternal, "internal error")
)

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
