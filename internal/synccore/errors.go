// Package synccore holds the error taxonomy shared by every component of
// the sync engine (persistence, document store, conflict manager,
// scheduler, map cache).
package synccore

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error kinds from spec §7.
type Kind string

const (
	KindNotFound        Kind = "not-found"
	KindAlreadyExists   Kind = "already-exists"
	KindAlreadyResolved Kind = "already-resolved"
	KindInvalidArgument Kind = "invalid-argument"
	KindStorage         Kind = "storage"
	KindNetwork         Kind = "network"
	KindProtocol        Kind = "protocol"
	KindConflict        Kind = "conflict"
	KindRetryExhausted  Kind = "retry-exhausted"
	KindCancelled       Kind = "cancelled"
)

// Error is a kind-tagged error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Kind so callers can do errors.Is(err, synccore.NotFound("", nil)).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

func newErr(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotFound(message string, cause error) *Error        { return newErr(KindNotFound, message, cause) }
func AlreadyExists(message string, cause error) *Error    { return newErr(KindAlreadyExists, message, cause) }
func AlreadyResolved(message string, cause error) *Error  { return newErr(KindAlreadyResolved, message, cause) }
func InvalidArgument(message string, cause error) *Error  { return newErr(KindInvalidArgument, message, cause) }
func Storage(message string, cause error) *Error          { return newErr(KindStorage, message, cause) }
func Network(message string, cause error) *Error          { return newErr(KindNetwork, message, cause) }
func Protocol(message string, cause error) *Error         { return newErr(KindProtocol, message, cause) }
func Conflict(message string, cause error) *Error         { return newErr(KindConflict, message, cause) }
func RetryExhausted(message string, cause error) *Error   { return newErr(KindRetryExhausted, message, cause) }
func Cancelled(message string, cause error) *Error        { return newErr(KindCancelled, message, cause) }

// KindOf extracts the Kind of err, if any, along with ok=true.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
