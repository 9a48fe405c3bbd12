package replication

import "fmt"

// Class is the error taxonomy the client RPC surface maps onto envelope
// ERROR replies and retry behavior (orig §7).
type Class string

const (
	// ClassTransient covers no-leader-known, majority-unreachable, and
	// client-deadline conditions. Surfaced to the caller as retryable.
	ClassTransient Class = "transient"

	// ClassValidation covers malformed payloads, unknown users, duplicate
	// usernames, and unauthorized deletions. Surfaced as ERROR{reason}.
	ClassValidation Class = "validation"

	// ClassDurability covers a persistence write failure. The operation is
	// aborted and surfaced as ERROR{reason}; the leader keeps its role (no
	// step-down happens on this class).
	ClassDurability Class = "durability"

	// ClassProtocol covers a stale term observed on any message. The
	// receiver converts to Follower and replies with its current term.
	ClassProtocol Class = "protocol"

	// ClassFatal covers corrupt durable state at startup or a port
	// conflict. The process exits non-zero.
	ClassFatal Class = "fatal"
)

// Error is a typed replication error carrying its taxonomy class alongside
// a reason string suitable for the client envelope's ERROR{reason} field.
type Error struct {
	Class  Class
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(class Class, reason string, err error) *Error {
	return &Error{Class: class, Reason: reason, Err: err}
}

// ErrNoLeader is returned when a server has no leader hint and cannot
// service or forward a write.
var ErrNoLeader = newError(ClassTransient, "no_leader", nil)

// ErrNotLeader is returned by write paths on a follower once the caller
// should have been forwarded or redirected instead.
var ErrNotLeader = newError(ClassTransient, "not_leader", nil)

// ErrCommitTimeout is returned when a leader's replicated write fails to
// reach majority acknowledgment within the configured write deadline.
var ErrCommitTimeout = newError(ClassTransient, "commit_timeout", nil)

// WrapValidation wraps a store validation failure (e.g. ErrUsernameTaken)
// as a replication.Error of class Validation.
func WrapValidation(reason string, err error) *Error {
	return newError(ClassValidation, reason, err)
}

// WrapDurability wraps a persistence failure encountered while applying a
// committed or tentative operation.
func WrapDurability(reason string, err error) *Error {
	return newError(ClassDurability, reason, err)
}

// WrapProtocol wraps a stale-term rejection.
func WrapProtocol(reason string, err error) *Error {
	return newError(ClassProtocol, reason, err)
}

// WrapFatal wraps a startup-time fatal condition (corrupt durable state,
// port conflict).
func WrapFatal(reason string, err error) *Error {
	return newError(ClassFatal, reason, err)
}
