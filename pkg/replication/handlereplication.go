package replication

import (
	"context"
	"time"

	"github.com/cuemby/chatcluster/pkg/log"
	"github.com/cuemby/chatcluster/pkg/rpc"
	"github.com/cuemby/chatcluster/pkg/storage"
	"github.com/cuemby/chatcluster/pkg/types"
)

// HandleReplication is the single entrypoint for all peer traffic (orig
// §4.4 "exactly one bidirectional RPC"), satisfying rpc.PeerHandler. It
// dispatches on the envelope's payload type; vote and heartbeat payloads
// are handled by election.go/heartbeat.go, the rest apply a replicated
// write idempotently to local storage and ack.
func (m *Manager) HandleReplication(ctx context.Context, env *rpc.PeerEnvelope) (*rpc.PeerEnvelope, error) {
	switch env.Type {
	case rpc.PeerVoteRequest:
		return m.handleVoteRequest(env), nil
	case rpc.PeerHeartbeat:
		return m.handleHeartbeat(env), nil
	case rpc.PeerMessageReplication, rpc.PeerAccountReplication, rpc.PeerDeletion, rpc.PeerMarkReadReplication:
		return m.applyReplicatedWrite(env), nil
	case rpc.PeerSnapshotRequest:
		return m.handleSnapshotRequest(ctx, env)
	default:
		return &rpc.PeerEnvelope{
			Type:     rpc.PeerReplicationResponse,
			Term:     m.durable.CurrentTerm(),
			ServerID: m.serverID,
			ReplicationResponse: &rpc.ReplicationResponsePayload{Success: false},
		}, nil
	}
}

// applyReplicatedWrite is the follower-side mirror of apply.go: the leader
// already committed the write locally, so a follower just needs to make its
// own copy durable. Applying the same record twice (e.g. a resend after a
// dropped ack) is a harmless no-op, since every insert is keyed by a stable
// id (orig §4.2 idempotent apply).
func (m *Manager) applyReplicatedWrite(env *rpc.PeerEnvelope) *rpc.PeerEnvelope {
	m.mu.Lock()
	if env.Term > m.durable.CurrentTerm() {
		m.stepDownIfStaleLocked(env.Term)
	}
	if env.Term >= m.durable.CurrentTerm() {
		m.leaderHint = env.ServerID
		m.resetElectionTimeout()
	}
	m.mu.Unlock()

	var err error
	switch env.Type {
	case rpc.PeerMessageReplication:
		err = m.applyMessageReplication(env.MessageReplication)
	case rpc.PeerAccountReplication:
		err = m.applyAccountReplication(env.AccountReplication)
	case rpc.PeerDeletion:
		err = m.applyDeletion(env.Deletion)
	case rpc.PeerMarkReadReplication:
		err = m.store.MarkRead(env.MarkReadReplication.IDs, env.MarkReadReplication.Requester)
	}

	success := err == nil
	if err != nil {
		log.WithServerID(m.serverID).Warn().Err(err).Str("payload", string(env.Type)).Msg("follower apply failed")
	}

	var msgID uint64
	if env.MessageReplication != nil {
		msgID = env.MessageReplication.MessageID
	}

	return &rpc.PeerEnvelope{
		Type:     rpc.PeerReplicationResponse,
		Term:     m.durable.CurrentTerm(),
		ServerID: m.serverID,
		ReplicationResponse: &rpc.ReplicationResponsePayload{
			Success:   success,
			MessageID: msgID,
		},
	}
}

func (m *Manager) applyMessageReplication(p *rpc.MessageReplicationPayload) error {
	if p == nil {
		return nil
	}
	msg := &types.Message{
		ID:        p.MessageID,
		Sender:    p.Sender,
		Recipient: p.Recipient,
		Content:   p.Content,
		Timestamp: time.Unix(0, p.Timestamp).UTC(),
	}
	err := m.store.InsertMessage(msg)
	if err == nil {
		m.broker.Publish(msg)
		if setErr := m.durable.SetCommitIndex(msg.ID); setErr != nil {
			return setErr
		}
	}
	return err
}

func (m *Manager) applyAccountReplication(p *rpc.AccountReplicationPayload) error {
	if p == nil {
		return nil
	}
	err := m.store.CreateAccount(p.Username, p.PasswordVerifier, time.Unix(0, p.CreatedAt).UTC())
	if err == storage.ErrUsernameTaken {
		return nil
	}
	return err
}

func (m *Manager) applyDeletion(p *rpc.DeletionPayload) error {
	if p == nil {
		return nil
	}
	if p.Username != "" {
		err := m.store.DeleteAccount(p.Username)
		if err == storage.ErrNoSuchUser {
			return nil
		}
		return err
	}
	_, err := m.store.DeleteMessages(p.MessageIDs, p.Requester)
	return err
}
