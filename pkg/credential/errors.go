package credential

import (
	"errors"
	"fmt"
)

// Verification reason codes.
const (
	// CodeNotFound indicates the credential id is unknown.
	CodeNotFound = "CREDENTIAL_NOT_FOUND"

	// CodeIssuerNotFound indicates the issuer or its public key is unknown.
	CodeIssuerNotFound = "ISSUER_NOT_FOUND"

	// CodeRevoked indicates a stored status other than active.
	CodeRevoked = "CREDENTIAL_REVOKED"

	// CodeNotYetValid indicates now < valid_from.
	CodeNotYetValid = "CREDENTIAL_NOT_YET_VALID"

	// CodeExpired indicates now >= valid_until.
	CodeExpired = "CREDENTIAL_EXPIRED"

	// CodeInvalidSignature indicates any signature decoding or verification failure.
	CodeInvalidSignature = "INVALID_SIGNATURE"

	// CodeValidation indicates malformed input, rejected before any lookup.
	CodeValidation = "VALIDATION_ERROR"

	// CodeInternal indicates a dependency failure or timeout.
	CodeInternal = "INTERNAL_ERROR"
)

// Error is a verification failure carrying a reason code.
type Error struct {
	// Code is one of the Code* constants.
	Code string `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Cause is the underlying error. It is never serialized.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on the reason code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError creates an Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates an Error with a cause.
func WrapError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is.
var (
	ErrNotFound         = NewError(CodeNotFound, "credential not found")
	ErrIssuerNotFound   = NewError(CodeIssuerNotFound, "issuer not found")
	ErrRevoked          = NewError(CodeRevoked, "credential is not active")
	ErrNotYetValid      = NewError(CodeNotYetValid, "credential is not yet valid")
	ErrExpired          = NewError(CodeExpired, "credential has expired")
	ErrInvalidSignature = NewError(CodeInvalidSignature, "signature verification failed")
	ErrValidation       = NewError(CodeValidation, "invalid request")
	ErrInternal         = NewError(CodeInternal, "internal error")

	// ErrPolicyNotFound is returned by PolicyRepository lookups.
	ErrPolicyNotFound = errors.New("permission policy not found")
)

// AsError returns err as an *Error if it is one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetErrorCode extracts the reason code, or returns "".
func GetErrorCode(err error) string {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
