// Package rpc defines the wire contract of both RPC surfaces (orig §4.3,
// §4.4, §6): a single client envelope shape carried over a unary Execute
// call plus a server-streaming Subscribe call, and a single peer envelope
// shape carried over one bidirectional HandleReplication stream. Because
// code-generation tooling for the RPC layer is out of scope (orig §1), the
// service descriptors in this package are hand-assembled against a JSON
// codec (codec.go) instead of protoc-gen-go-grpc output.
package rpc

import (
	"google.golang.org/protobuf/types/known/timestamppb"
)

// EnvelopeType is the client envelope's `type` discriminator (orig §6).
type EnvelopeType string

const (
	TypeCreateAccount    EnvelopeType = "CREATE_ACCOUNT"
	TypeLogin            EnvelopeType = "LOGIN"
	TypeListAccounts     EnvelopeType = "LIST_ACCOUNTS"
	TypeSendMessage      EnvelopeType = "SEND_MESSAGE"
	TypeReadMessages     EnvelopeType = "READ_MESSAGES"
	TypeDeleteMessages   EnvelopeType = "DELETE_MESSAGES"
	TypeDeleteAccount    EnvelopeType = "DELETE_ACCOUNT"
	TypeListChatPartners EnvelopeType = "LIST_CHAT_PARTNERS"
	TypeGetLeader        EnvelopeType = "GET_LEADER"
	TypeGetClusterNodes  EnvelopeType = "GET_CLUSTER_NODES"
	TypeMarkRead         EnvelopeType = "MARK_READ"
	TypeError            EnvelopeType = "ERROR"
	TypeSuccess          EnvelopeType = "SUCCESS"
)

// ClientEnvelope is the single message shape carried by every client RPC
// (orig §6). Payload is a raw JSON object whose keys depend on Type; callers
// decode it into the typed *Payload / *Result structs below.
type ClientEnvelope struct {
	Type      EnvelopeType           `json:"type"`
	Payload   map[string]any         `json:"payload,omitempty"`
	Sender    string                 `json:"sender,omitempty"`
	Recipient string                 `json:"recipient,omitempty"`
	Timestamp *timestamppb.Timestamp `json:"timestamp,omitempty"`
	// AuthenticatedAs is set by the node that owns the client's gRPC
	// connection, once it has checked that connection's session, before
	// relaying a write to the leader (SPEC_FULL.md §5 decision 2). The
	// leader has no session entry for the follower-to-leader connection
	// the forwarded call arrives on, so it trusts this field instead of
	// re-checking its own session store. Never set by pkg/client.
	AuthenticatedAs string `json:"authenticated_as,omitempty"`
}

// Typed payload/result views, decoded from or encoded into
// ClientEnvelope.Payload via the helpers in codec.go.

type CreateAccountPayload struct {
	Username         string `json:"username"`
	PasswordVerifier []byte `json:"password_verifier"`
}

type LoginPayload struct {
	Username         string `json:"username"`
	PasswordVerifier []byte `json:"password_verifier"`
}

type ListAccountsPayload struct {
	Pattern string `json:"pattern"`
}

type ListAccountsResult struct {
	Accounts []string `json:"accounts"`
}

type SendMessagePayload struct {
	Content string `json:"content"`
}

type SendMessageResult struct {
	MessageID uint64 `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
}

type ReadMessagesPayload struct {
	Username string `json:"username"`
	Limit    int    `json:"limit,omitempty"`
}

type ReadMessagesResult struct {
	MessageID uint64 `json:"message_id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type DeleteMessagesPayload struct {
	IDs []uint64 `json:"ids"`
}

type DeleteMessagesResult struct {
	Deleted []uint64 `json:"deleted"`
}

type DeleteAccountPayload struct {
	Username string `json:"username"`
}

type ListChatPartnersPayload struct {
	Username string `json:"username"`
}

type ListChatPartnersResult struct {
	Partners []string `json:"partners"`
}

type GetLeaderResult struct {
	Leader *string `json:"leader"`
}

type GetClusterNodesResult struct {
	Nodes []string `json:"nodes"`
}

type MarkReadPayload struct {
	IDs      []uint64 `json:"ids"`
	Username string   `json:"username"`
}

type ErrorPayload struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// PeerPayloadType is the peer envelope's `type` discriminator (orig §4.4).
type PeerPayloadType string

const (
	PeerVoteRequest         PeerPayloadType = "VOTE_REQUEST"
	PeerVoteResponse        PeerPayloadType = "VOTE_RESPONSE"
	PeerMessageReplication  PeerPayloadType = "MESSAGE_REPLICATION"
	PeerAccountReplication  PeerPayloadType = "ACCOUNT_REPLICATION"
	PeerDeletion            PeerPayloadType = "DELETION"
	PeerMarkReadReplication PeerPayloadType = "MARK_READ_REPLICATION"
	PeerHeartbeat           PeerPayloadType = "HEARTBEAT"
	PeerReplicationResponse PeerPayloadType = "REPLICATION_RESPONSE"
	// PeerSnapshotRequest and PeerSnapshotChunk are SPEC_FULL.md §4's
	// addition to the envelope's oneof, for late-joiner catch-up (orig
	// §4.6) — not named individually in orig §6, which documents the oneof
	// as open to implementation-specific replicated operations.
	PeerSnapshotRequest PeerPayloadType = "SNAPSHOT_REQUEST"
	PeerSnapshotChunk   PeerPayloadType = "SNAPSHOT_CHUNK"
)

// PeerEnvelope is the single message shape carried by HandleReplication
// (orig §4.4). Exactly one of the typed payload fields is set per Type.
type PeerEnvelope struct {
	Type      PeerPayloadType        `json:"type"`
	Term      uint64                 `json:"term"`
	ServerID  string                 `json:"server_id"`
	Timestamp *timestamppb.Timestamp `json:"timestamp,omitempty"`

	VoteRequest         *VoteRequestPayload         `json:"vote_request,omitempty"`
	VoteResponse        *VoteResponsePayload        `json:"vote_response,omitempty"`
	MessageReplication  *MessageReplicationPayload  `json:"message_replication,omitempty"`
	AccountReplication  *AccountReplicationPayload  `json:"account_replication,omitempty"`
	Deletion            *DeletionPayload            `json:"deletion,omitempty"`
	MarkReadReplication *MarkReadReplicationPayload `json:"mark_read_replication,omitempty"`
	Heartbeat           *HeartbeatPayload           `json:"heartbeat,omitempty"`
	ReplicationResponse *ReplicationResponsePayload `json:"replication_response,omitempty"`
	SnapshotRequest     *SnapshotRequestPayload     `json:"snapshot_request,omitempty"`
	SnapshotChunk       *SnapshotChunkPayload       `json:"snapshot_chunk,omitempty"`
}

type VoteRequestPayload struct {
	LastLogTerm  uint64 `json:"last_log_term"`
	LastLogIndex uint64 `json:"last_log_index"`
	// ElectionID tags one candidacy attempt for log correlation; vote
	// granting never looks at it. The voter compares only LastLogIndex
	// (against its commit index); LastLogTerm is carried but not compared.
	ElectionID string `json:"election_id"`
}

type VoteResponsePayload struct {
	VoteGranted bool `json:"vote_granted"`
}

type MessageReplicationPayload struct {
	MessageID uint64 `json:"message_id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type AccountReplicationPayload struct {
	Username         string `json:"username"`
	PasswordVerifier []byte `json:"password_verifier"`
	CreatedAt        int64  `json:"created_at"`
}

type DeletionPayload struct {
	MessageIDs []uint64 `json:"message_ids,omitempty"`
	Username   string   `json:"username,omitempty"`
	Requester  string   `json:"requester,omitempty"`
}

type MarkReadReplicationPayload struct {
	IDs       []uint64 `json:"ids"`
	Requester string   `json:"requester"`
}

type HeartbeatPayload struct {
	CommitIndex uint64 `json:"commit_index"`
	// NeedsResync tells the follower the leader believes it has fallen
	// behind (leader's view of match_index for this peer trails its own
	// commit index) and should pull a fresh snapshot (orig §4.2).
	NeedsResync bool `json:"needs_resync,omitempty"`
}

// ReplicationResponsePayload acknowledges one replicated write or a
// heartbeat. MessageID doubles as "the id just applied" for a write ack and
// "my highest locally-applied message id" for a heartbeat ack, letting the
// leader track match_index from the follower's own self-report.
type ReplicationResponsePayload struct {
	Success   bool   `json:"success"`
	MessageID uint64 `json:"message_id,omitempty"`
}

type SnapshotRequestPayload struct{}

// SnapshotRecordPayload mirrors one pkg/storage.SnapshotRecord: Account or
// Message is set, never both.
type SnapshotRecordPayload struct {
	Account *AccountReplicationPayload `json:"account,omitempty"`
	Message *MessageReplicationPayload `json:"message,omitempty"`
}

// SnapshotChunkPayload carries the entire catch-up snapshot in one response
// (the hand-rolled transport pairs exactly one send with one recv per
// HandleReplication call, so late-joiner catch-up is one request/one
// batched reply rather than a true chunked stream).
type SnapshotChunkPayload struct {
	Records []*SnapshotRecordPayload `json:"records"`
}
