package replication

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/cuemby/chatcluster/pkg/broker"
	"github.com/cuemby/chatcluster/pkg/log"
	"github.com/cuemby/chatcluster/pkg/metrics"
	"github.com/cuemby/chatcluster/pkg/rpc"
	"github.com/cuemby/chatcluster/pkg/storage"
	"github.com/cuemby/chatcluster/pkg/types"
)

// Store exposes the underlying durable store for operations pkg/api serves
// locally without replication: the reads (LIST_ACCOUNTS, LIST_CHAT_PARTNERS,
// the undelivered backlog of READ_MESSAGES) and the MarkDelivered call
// READ_MESSAGES makes after each push. That delivered flag is set only on
// the serving node's store and is not replicated.
func (m *Manager) Store() storage.Store { return m.store }

// Broker exposes the subscription broker so pkg/api can open/close
// READ_MESSAGES streams.
func (m *Manager) Broker() *broker.Broker { return m.broker }

// replicate fans env out to every peer and blocks until a majority
// (including self) has acknowledged success, or WriteDeadline elapses
// (orig §4.2 "leader-driven replication with majority acknowledgment").
func (m *Manager) replicate(env *rpc.PeerEnvelope) error {
	m.mu.Lock()
	if m.role != types.RoleLeader {
		m.mu.Unlock()
		return ErrNotLeader
	}
	peers := append([]string(nil), m.peers...)
	majority := m.majority()
	m.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ReplicationLatency, string(env.Type))

	ctx, cancel := context.WithTimeout(context.Background(), WriteDeadline)
	defer cancel()

	acked := 1 // leader's own local apply counts
	type result struct{ ok bool }
	results := make(chan result, len(peers))

	for _, peer := range peers {
		peer := peer
		go func() {
			reply, err := m.trans.Send(ctx, peer, env)
			ok := err == nil && reply != nil && reply.ReplicationResponse != nil && reply.ReplicationResponse.Success
			outcome := "success"
			if !ok {
				outcome = "failure"
			}
			metrics.ReplicationRPCsTotal.WithLabelValues(string(env.Type), outcome).Inc()
			if err == nil && reply != nil && reply.Term > env.Term {
				m.stepDownIfStale(reply.Term)
			}
			if ok && env.Type == rpc.PeerMessageReplication && reply.ReplicationResponse.MessageID > 0 {
				m.updateMatchIndex(peer, reply.ReplicationResponse.MessageID)
			}
			results <- result{ok: ok}
		}()
	}

	for i := 0; i < len(peers); i++ {
		select {
		case r := <-results:
			if r.ok {
				acked++
			}
			if acked >= majority {
				return nil
			}
		case <-ctx.Done():
			return ErrCommitTimeout
		}
		_ = i
	}

	if acked >= majority {
		return nil
	}
	return ErrCommitTimeout
}

func (m *Manager) nextTerm() uint64 { return m.durable.CurrentTerm() }

// CreateAccount applies CREATE_ACCOUNT (orig §4.3). Must run on the leader;
// a follower returns ErrNotLeader so pkg/api can forward the write.
func (m *Manager) CreateAccount(username string, verifier []byte) error {
	if !m.IsLeader() {
		return ErrNotLeader
	}
	if username == "" || len(verifier) == 0 {
		return WrapValidation("invalid_account", nil)
	}

	createdAt := time.Now().UTC()
	if err := m.store.CreateAccount(username, verifier, createdAt); err != nil {
		if err == storage.ErrUsernameTaken {
			return WrapValidation("username_taken", err)
		}
		return WrapDurability("create_account_failed", err)
	}
	metrics.AccountsTotal.Inc()

	env := &rpc.PeerEnvelope{
		Type:     rpc.PeerAccountReplication,
		Term:     m.nextTerm(),
		ServerID: m.serverID,
		AccountReplication: &rpc.AccountReplicationPayload{
			Username:         username,
			PasswordVerifier: verifier,
			CreatedAt:        createdAt.UnixNano(),
		},
	}
	return m.replicate(env)
}

// VerifyLogin is a read against durable state; served locally by any node,
// since account verifiers are replicated eagerly before an account's
// creation RPC acknowledges (orig §4.3 LOGIN).
func (m *Manager) VerifyLogin(username string, verifier []byte) (bool, error) {
	ok, err := m.store.VerifyLogin(username, verifier)
	if err != nil {
		if err == storage.ErrNoSuchUser {
			return false, WrapValidation("no_such_user", err)
		}
		return false, WrapDurability("verify_login_failed", err)
	}
	return ok, nil
}

// DeleteAccount applies DELETE_ACCOUNT (orig §4.3).
func (m *Manager) DeleteAccount(username string) error {
	if !m.IsLeader() {
		return ErrNotLeader
	}
	if err := m.store.DeleteAccount(username); err != nil {
		if err == storage.ErrNoSuchUser {
			return WrapValidation("no_such_user", err)
		}
		return WrapDurability("delete_account_failed", err)
	}
	metrics.AccountsTotal.Dec()

	env := &rpc.PeerEnvelope{
		Type:     rpc.PeerDeletion,
		Term:     m.nextTerm(),
		ServerID: m.serverID,
		Deletion: &rpc.DeletionPayload{Username: username},
	}
	return m.replicate(env)
}

// SendMessage applies SEND_MESSAGE (orig §4.3), assigning the message a
// strictly increasing id, persisting it, publishing it to any live
// subscriber of the recipient, and replicating it to a majority before
// returning.
func (m *Manager) SendMessage(sender, recipient, content string) (*types.Message, error) {
	if !m.IsLeader() {
		return nil, ErrNotLeader
	}
	if utf8.RuneCountInString(content) == 0 || len([]byte(content)) > MaxContentBytes {
		return nil, WrapValidation("invalid_content_length", nil)
	}
	if exists, err := m.store.AccountExists(recipient); err != nil {
		return nil, WrapDurability("account_lookup_failed", err)
	} else if !exists {
		return nil, WrapValidation("no_such_recipient", nil)
	}

	highest, err := m.store.HighestMessageID()
	if err != nil {
		return nil, WrapDurability("highest_message_id_failed", err)
	}

	msg := &types.Message{
		ID:        highest + 1,
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}

	if err := m.store.InsertMessage(msg); err != nil {
		return nil, WrapDurability("insert_message_failed", err)
	}
	metrics.MessagesTotal.Inc()
	m.broker.Publish(msg)

	env := &rpc.PeerEnvelope{
		Type:     rpc.PeerMessageReplication,
		Term:     m.nextTerm(),
		ServerID: m.serverID,
		MessageReplication: &rpc.MessageReplicationPayload{
			MessageID: msg.ID,
			Sender:    msg.Sender,
			Recipient: msg.Recipient,
			Content:   msg.Content,
			Timestamp: msg.Timestamp.UnixNano(),
		},
	}
	if err := m.replicate(env); err != nil {
		return msg, err
	}

	if err := m.durable.SetCommitIndex(msg.ID); err != nil {
		log.WithServerID(m.serverID).Error().Err(err).Msg("failed to persist commit index")
	}
	metrics.CommitIndex.Set(float64(m.durable.CommitIndex()))
	return msg, nil
}

// DeleteMessages applies DELETE_MESSAGES (orig §4.3).
func (m *Manager) DeleteMessages(ids []uint64, requester string) ([]uint64, error) {
	if !m.IsLeader() {
		return nil, ErrNotLeader
	}
	deleted, err := m.store.DeleteMessages(ids, requester)
	if err != nil {
		return nil, WrapDurability("delete_messages_failed", err)
	}
	if len(deleted) == 0 {
		return deleted, nil
	}

	env := &rpc.PeerEnvelope{
		Type:     rpc.PeerDeletion,
		Term:     m.nextTerm(),
		ServerID: m.serverID,
		Deletion: &rpc.DeletionPayload{MessageIDs: deleted, Requester: requester},
	}
	return deleted, m.replicate(env)
}

// MarkRead applies MARK_READ (orig §4.3).
func (m *Manager) MarkRead(ids []uint64, requester string) error {
	if !m.IsLeader() {
		return ErrNotLeader
	}
	if err := m.store.MarkRead(ids, requester); err != nil {
		return WrapDurability("mark_read_failed", err)
	}

	env := &rpc.PeerEnvelope{
		Type:     rpc.PeerMarkReadReplication,
		Term:     m.nextTerm(),
		ServerID: m.serverID,
		MarkReadReplication: &rpc.MarkReadReplicationPayload{IDs: ids, Requester: requester},
	}
	return m.replicate(env)
}
