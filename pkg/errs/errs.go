// Package errs implements the error taxonomy shared by every satcore
// component: chunk store, file protocol engine, shell multiplexer, and the
// communications service all report failures through the same typed Error.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error into one of the taxonomy buckets.
type Kind int

const (
	// KindTransport covers socket bind/send/recv failures.
	KindTransport Kind = iota
	// KindDecode covers malformed CBOR or a missing required field.
	KindDecode
	// KindProtocol covers a message that doesn't fit the current phase.
	KindProtocol
	// KindStorage covers disk errors: full, permission denied, missing file.
	KindStorage
	// KindIntegrity covers a hash mismatch after finalize.
	KindIntegrity
	// KindResourceExhaustion covers no free handler port, too many sessions.
	KindResourceExhaustion
)

// String returns the taxonomy name used in log lines and wire failure strings.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "Transport"
	case KindDecode:
		return "Decode"
	case KindProtocol:
		return "Protocol"
	case KindStorage:
		return "Storage"
	case KindIntegrity:
		return "Integrity"
	case KindResourceExhaustion:
		return "ResourceExhaustion"
	default:
		return "Unknown"
	}
}

// Error is the single error type used across satcore packages.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind, chaining cause via Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the local timeout/retry loop should keep trying
// rather than surface the failure to the peer. Transport and Protocol errors
// are locally recoverable (§7); Storage and Integrity are not.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindProtocol, KindResourceExhaustion:
		return true
	default:
		return false
	}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Common sentinel constructors for the taxonomy's recurring cases.

// Timeout builds a Transport error for a recv that never arrived.
func Timeout(message string) *Error {
	return New(KindTransport, message)
}

// NotFound builds a Storage error for a missing chunk or meta file.
func NotFound(message string) *Error {
	return New(KindStorage, message)
}

// HashMismatch builds an Integrity error for a failed re-hash after finalize.
func HashMismatch(hash string) *Error {
	return New(KindIntegrity, fmt.Sprintf("re-hash does not match %s after finalize", hash))
}
