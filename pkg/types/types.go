package types

import "time"

// Account is a registered user. Username is the stable, globally unique key;
// PasswordVerifier is opaque bytes produced by a hash the engine never
// inspects (hashing is an external collaborator, orig §1).
type Account struct {
	Username         string
	PasswordVerifier []byte
	CreatedAt        time.Time
}

// Message is a single chat message between two accounts. ID is assigned by
// the leader at commit time and is strictly increasing over committed
// messages (orig §3 invariant 2).
type Message struct {
	ID        uint64
	Sender    string
	Recipient string
	Content   string
	Timestamp time.Time

	// Delivered is true once the recipient has been online at least once to
	// receive a streaming push of this message.
	Delivered bool

	// Read is true once the recipient has explicitly marked the message as
	// read. Not atomically tied to Delivered — see SPEC_FULL.md §5.1.
	Read bool
}

// Role is a replica's position in the replication state machine.
type Role string

const (
	RoleFollower  Role = "follower"
	RoleCandidate Role = "candidate"
	RoleLeader    Role = "leader"
)

// ReplicationState is the durable per-server replication state (orig §3):
// current_term, voted_for, and commit_index must survive a restart.
type ReplicationState struct {
	CurrentTerm uint64
	VotedFor    string // server id, empty if none
	CommitIndex uint64
}

// ClusterView is the in-memory, per-server view of cluster role and peer
// progress (orig §3). Not durable — rebuilt on every restart.
type ClusterView struct {
	Role       Role
	LeaderHint string // last observed leader's server id, empty if unknown
	Peers      []string
	// MatchIndex tracks, for a leader, the highest message id known
	// replicated on each peer.
	MatchIndex map[string]uint64
}
