// Package storage implements the persistence layer (orig spec.md §4.2): an
// atomic, synchronous interface over accounts, messages, and their delivery
// and read flags. Every mutating call is flushed to stable storage before
// returning; the store does not provide multi-statement transactions across
// calls — one replicated operation is one atomic persistence call.
package storage

import (
	"context"
	"time"

	"github.com/cuemby/chatcluster/pkg/types"
)

// Store is the persistence layer's interface, built against BoltDB
// (pkg/storage/boltdb.go) but kept abstract so the replication manager and
// its tests don't depend on a concrete engine.
type Store interface {
	// CreateAccount registers a new account. Returns ErrUsernameTaken if the
	// username already exists.
	CreateAccount(username string, verifier []byte, createdAt time.Time) error

	// VerifyLogin reports whether verifier matches the stored verifier for
	// username. Returns ErrNoSuchUser if the account doesn't exist.
	VerifyLogin(username string, verifier []byte) (bool, error)

	// DeleteAccount removes an account and cascades to every message where
	// it is sender or recipient (orig §7 cascade policy).
	DeleteAccount(username string) error

	// ListAccounts returns usernames matching a shell-glob pattern ("*" and
	// "?"). An empty pattern is treated as "*".
	ListAccounts(pattern string) ([]string, error)

	// AccountExists reports whether username is registered.
	AccountExists(username string) (bool, error)

	// InsertMessage durably records a message at the given id. Idempotent:
	// re-inserting an id that already exists is a no-op success (orig §9,
	// follower re-application of heartbeat-carried ids).
	InsertMessage(msg *types.Message) error

	// FetchConversation returns messages between a and b, ordered by id
	// descending, at most limit entries, optionally only those with
	// id < beforeID (beforeID == 0 means no lower bound).
	FetchConversation(a, b string, limit int, beforeID uint64) ([]*types.Message, error)

	// ListChatPartners returns the distinct counterparts of user across all
	// messages where user is sender or recipient.
	ListChatPartners(user string) ([]string, error)

	// UndeliveredFor returns all stored messages addressed to user that
	// have not yet been delivered, ordered by id ascending. The store has no
	// notion of commit_index, so the result is not limited to committed ids.
	UndeliveredFor(user string) ([]*types.Message, error)

	// DeleteMessages removes the given ids, but only those where requester
	// is sender or recipient; other ids are silently skipped. Returns the
	// ids actually deleted.
	DeleteMessages(ids []uint64, requester string) ([]uint64, error)

	// MarkDelivered flags a message as delivered. A no-op if already set.
	MarkDelivered(id uint64) error

	// MarkRead flags the given ids as read, but only for ids requester owns
	// (is sender or recipient of); others are silently skipped.
	MarkRead(ids []uint64, requester string) error

	// HighestMessageID returns the highest assigned message id, or 0 if the
	// store holds no messages.
	HighestMessageID() (uint64, error)

	// SnapshotForCatchup streams every account and message record to the
	// returned channel for a freshly joining or badly lagging peer (orig
	// §4.6). The channel is closed when the snapshot is complete or ctx is
	// canceled.
	SnapshotForCatchup(ctx context.Context) (<-chan *SnapshotRecord, error)

	// ApplySnapshotRecord applies one record received from a peer's
	// SnapshotForCatchup stream. Idempotent.
	ApplySnapshotRecord(rec *SnapshotRecord) error

	Close() error
}

// SnapshotRecord is one entry of a catch-up stream: either an account or a
// message, never both.
type SnapshotRecord struct {
	Account *types.Account
	Message *types.Message
}

// ErrNoSuchUser is returned by VerifyLogin for an unregistered username.
var ErrNoSuchUser = &StoreError{Reason: "no_such_user"}

// ErrUsernameTaken is returned by CreateAccount for a duplicate username.
var ErrUsernameTaken = &StoreError{Reason: "username_taken"}

// ErrInvalid is returned for malformed input (empty username, etc).
var ErrInvalid = &StoreError{Reason: "invalid"}

// StoreError is a typed validation error from the persistence layer,
// mapped directly to the client envelope's ERROR{reason} contract (orig §6).
type StoreError struct {
	Reason string
}

func (e *StoreError) Error() string { return e.Reason }
