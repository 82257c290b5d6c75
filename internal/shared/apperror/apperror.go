package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the closed taxonomy used across the core.
type Kind string

const (
	KindNotFound            Kind = "NOT_FOUND"
	KindForbidden           Kind = "FORBIDDEN"
	KindOutOfTurn           Kind = "OUT_OF_TURN"
	KindInvalidState        Kind = "INVALID_STATE"
	KindValidation          Kind = "VALIDATION_ERROR"
	KindStoreConflict       Kind = "STORE_CONFLICT"
	KindStoreUnavailable    Kind = "STORE_UNAVAILABLE"
	KindProviderUnavailable Kind = "PROVIDER_UNAVAILABLE"
	KindProviderReject      Kind = "PROVIDER_REJECT"
	KindProviderTimeout     Kind = "PROVIDER_TIMEOUT"
	KindIntegrity           Kind = "INTEGRITY_ERROR"
	KindCancelled           Kind = "CANCELLED"
	KindInternal            Kind = "INTERNAL_ERROR"
)

// Error carries a taxonomy kind, a stable machine code, and a safe message.
// The wrapped cause is for logs only and never reaches API responses.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches errors by kind so callers can use errors.Is with sentinel values.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind preserving the cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the taxonomy kind, defaulting to KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Code returns the stable machine-readable code for an error.
func Code(err error) string {
	return string(KindOf(err))
}

// IsKind reports whether err belongs to the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the error kind is safe to retry locally.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindProviderUnavailable, KindProviderTimeout:
		return true
	}
	return false
}
