// Package apperr defines the error taxonomy shared by the booking, archive
// and ledger layers. Every failure surfaced to a caller carries one Kind.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	Conflict          Kind = "conflict"
	NotFound          Kind = "not_found"
	CapacityExceeded  Kind = "capacity_exceeded"
	InvalidTransition Kind = "invalid_transition"
	MalformedInput    Kind = "malformed_input"
	StorageFailure    Kind = "storage_failure"
	Internal          Kind = "internal"
)

// Error is a classified error with a caller-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Storage is shorthand for wrapping a backend error as StorageFailure.
func Storage(err error, format string, args ...any) error {
	return Wrap(StorageFailure, err, format, args...)
}

// KindOf returns the kind of the first classified error in err's chain,
// or Internal when none is found.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller-facing message of a classified error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Retryable reports whether the caller may retry the same request.
func Retryable(err error) bool {
	return Is(err, StorageFailure)
}
