// Package types holds the shared vocabulary of the coordination core:
// the closed error-kind set surfaced across every interface boundary and
// the client roles recognized on inbound calls.
package types

import (
	"errors"
	"fmt"
)

// ErrorKind identifies a failure class. The set is closed: handlers map
// every internal failure onto one of these before it crosses the tool
// surface.
type ErrorKind string

const (
	KindUnknownTask         ErrorKind = "UnknownTask"
	KindUnknownAgent        ErrorKind = "UnknownAgent"
	KindInvalidArgument     ErrorKind = "InvalidArgument"
	KindInvalidTransition   ErrorKind = "InvalidTransition"
	KindNotHolder           ErrorKind = "NotHolder"
	KindWrongLeaseHolder    ErrorKind = "WrongLeaseHolder"
	KindLeaseExpired        ErrorKind = "LeaseExpired"
	KindCycleWouldForm      ErrorKind = "CycleWouldForm"
	KindCapabilityMismatch  ErrorKind = "CapabilityMismatch"
	KindNoReadyTask         ErrorKind = "NoReadyTask"
	KindProviderUnavailable ErrorKind = "ProviderUnavailable"
	KindPersistenceFailure  ErrorKind = "PersistenceFailure"
	KindTimeout             ErrorKind = "Timeout"
	KindConflict            ErrorKind = "Conflict"
	KindNonMonotonic        ErrorKind = "NonMonotonicProgress"
	KindPermissionDenied    ErrorKind = "PermissionDenied"
)

// retryableKinds are transient: callers (or the core's own retry loops)
// may repeat the operation.
var retryableKinds = map[ErrorKind]bool{
	KindProviderUnavailable: true,
	KindTimeout:             true,
	KindConflict:            true,
}

// Error is the structured error carried across package boundaries.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether the failure class is transient.
func (e *Error) Retryable() bool {
	return retryableKinds[e.Kind]
}

// E builds an Error of the given kind.
func E(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error chain. Unclassified errors map
// to PersistenceFailure, the catch-all for internal faults.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistenceFailure
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether err is transient.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
