package replication

import (
	"context"
	"time"

	"github.com/cuemby/chatcluster/pkg/log"
	"github.com/cuemby/chatcluster/pkg/rpc"
	"github.com/cuemby/chatcluster/pkg/storage"
	"github.com/cuemby/chatcluster/pkg/types"
)

// handleSnapshotRequest answers a late joiner's catch-up request (orig
// §4.6) by draining the full SnapshotForCatchup channel into one batched
// reply. Any node, leader or follower, can serve a snapshot — it is a
// point-in-time read of local storage, not a replicated write.
func (m *Manager) handleSnapshotRequest(ctx context.Context, env *rpc.PeerEnvelope) (*rpc.PeerEnvelope, error) {
	records, err := m.store.SnapshotForCatchup(ctx)
	if err != nil {
		return nil, err
	}

	chunk := &rpc.SnapshotChunkPayload{}
	for rec := range records {
		chunk.Records = append(chunk.Records, toSnapshotRecordPayload(rec))
	}

	return &rpc.PeerEnvelope{
		Type:          rpc.PeerSnapshotChunk,
		Term:          m.durable.CurrentTerm(),
		ServerID:      m.serverID,
		SnapshotChunk: chunk,
	}, nil
}

func toSnapshotRecordPayload(rec *storage.SnapshotRecord) *rpc.SnapshotRecordPayload {
	out := &rpc.SnapshotRecordPayload{}
	if rec.Account != nil {
		out.Account = &rpc.AccountReplicationPayload{
			Username:         rec.Account.Username,
			PasswordVerifier: rec.Account.PasswordVerifier,
			CreatedAt:        rec.Account.CreatedAt.UnixNano(),
		}
	}
	if rec.Message != nil {
		out.Message = &rpc.MessageReplicationPayload{
			MessageID: rec.Message.ID,
			Sender:    rec.Message.Sender,
			Recipient: rec.Message.Recipient,
			Content:   rec.Message.Content,
			Timestamp: rec.Message.Timestamp.UnixNano(),
		}
	}
	return out
}

// CatchUp is run once at startup by pkg/bootstrap when this node has no
// local data yet (orig §4.6): it asks the first reachable peer for a
// snapshot and applies every record. The election timeout watchdog is
// already running (NewManager starts it), so this node can take part in
// elections while the catch-up is still in progress.
func (m *Manager) CatchUp(ctx context.Context) error {
	for _, peer := range m.Peers() {
		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := m.catchUpFrom(reqCtx, peer)
		cancel()
		if err != nil {
			log.WithServerID(m.serverID).Warn().Str("peer", peer).Err(err).Msg("snapshot catch-up failed, trying next peer")
			continue
		}
		return nil
	}
	return ErrNoLeader
}

// backfillFrom resyncs a running node that handleHeartbeat found trailing
// the leader's commit index (orig §4.2 "a follower that falls behind
// catches up"). Reuses the same full-snapshot exchange bootstrap's CatchUp
// uses — the hand-rolled replication stream carries no per-operation log to
// replay forward from match_index, so re-pulling the whole snapshot is the
// available recovery path. Runs in the background; m.backfilling prevents a
// second one from starting before this one finishes.
func (m *Manager) backfillFrom(peer string) {
	defer func() {
		m.mu.Lock()
		m.backfilling = false
		m.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.catchUpFrom(ctx, peer); err != nil {
		log.WithServerID(m.serverID).Warn().Str("peer", peer).Err(err).Msg("heartbeat-driven backfill failed")
	}
}

// catchUpFrom fetches and applies one snapshot from peer.
func (m *Manager) catchUpFrom(ctx context.Context, peer string) error {
	reply, err := m.trans.Send(ctx, peer, &rpc.PeerEnvelope{
		Type:            rpc.PeerSnapshotRequest,
		Term:            m.durable.CurrentTerm(),
		ServerID:        m.serverID,
		SnapshotRequest: &rpc.SnapshotRequestPayload{},
	})
	if err != nil {
		return err
	}
	if reply == nil || reply.SnapshotChunk == nil {
		return ErrNoLeader
	}

	for _, rec := range reply.SnapshotChunk.Records {
		if err := m.applySnapshotRecord(rec); err != nil {
			return WrapDurability("apply_snapshot_record_failed", err)
		}
	}
	log.WithServerID(m.serverID).Info().Str("peer", peer).Int("records", len(reply.SnapshotChunk.Records)).Msg("snapshot catch-up complete")
	return nil
}

func (m *Manager) applySnapshotRecord(rec *rpc.SnapshotRecordPayload) error {
	if rec.Account != nil {
		if err := m.store.ApplySnapshotRecord(&storage.SnapshotRecord{
			Account: &types.Account{
				Username:         rec.Account.Username,
				PasswordVerifier: rec.Account.PasswordVerifier,
				CreatedAt:        time.Unix(0, rec.Account.CreatedAt).UTC(),
			},
		}); err != nil {
			return err
		}
	}
	if rec.Message != nil {
		if err := m.store.ApplySnapshotRecord(&storage.SnapshotRecord{
			Message: &types.Message{
				ID:        rec.Message.MessageID,
				Sender:    rec.Message.Sender,
				Recipient: rec.Message.Recipient,
				Content:   rec.Message.Content,
				Timestamp: time.Unix(0, rec.Message.Timestamp).UTC(),
			},
		}); err != nil {
			return err
		}
	}
	return nil
}
