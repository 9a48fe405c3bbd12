package replication

import (
	"context"
	"time"

	"github.com/cuemby/chatcluster/pkg/log"
	"github.com/cuemby/chatcluster/pkg/metrics"
	"github.com/cuemby/chatcluster/pkg/rpc"
	"github.com/cuemby/chatcluster/pkg/types"
)

// heartbeatLoop runs only while this server is Leader (orig §4.1): every
// HeartbeatInterval it broadcasts its commit index to every peer, both to
// assert leadership (resetting followers' election timers) and to propagate
// commit progress. Exits as soon as the role changes away from Leader.
func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopC:
			return
		case <-ticker.C:
			if !m.sendHeartbeatRound() {
				return
			}
		}
	}
}

// sendHeartbeatRound fans one heartbeat out to every peer in parallel and
// returns false once this server is no longer leader. Each heartbeat also
// carries a per-peer NeedsResync hint driven by match_index (orig §4.2:
// "a follower that falls behind catches up"), and the reply's self-reported
// highest-applied id feeds match_index back for the next round.
func (m *Manager) sendHeartbeatRound() bool {
	m.mu.Lock()
	if m.role != types.RoleLeader {
		m.mu.Unlock()
		return false
	}
	term := m.durable.CurrentTerm()
	commitIndex := m.durable.CommitIndex()
	peers := append([]string(nil), m.peers...)
	matchIndex := make(map[string]uint64, len(m.matchIndex))
	for k, v := range m.matchIndex {
		matchIndex[k] = v
	}
	m.mu.Unlock()

	metrics.HeartbeatsSentTotal.Inc()

	for _, peer := range peers {
		peer := peer
		needsResync := matchIndex[peer] < commitIndex
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), HeartbeatInterval)
			defer cancel()

			env := &rpc.PeerEnvelope{
				Type:     rpc.PeerHeartbeat,
				Term:     term,
				ServerID: m.serverID,
				Heartbeat: &rpc.HeartbeatPayload{
					CommitIndex: commitIndex,
					NeedsResync: needsResync,
				},
			}
			reply, err := m.trans.Send(ctx, peer, env)
			if err != nil || reply == nil {
				log.Heartbeat.Debug().Str("peer", peer).Err(err).Msg("heartbeat failed")
				return
			}
			if reply.Term > term {
				m.stepDownIfStale(reply.Term)
			}
			if reply.ReplicationResponse != nil {
				m.updateMatchIndex(peer, reply.ReplicationResponse.MessageID)
			}
		}()
	}
	return true
}

// updateMatchIndex advances match_index[peer] monotonically (orig §3's
// leader state driving replication progress).
func (m *Manager) updateMatchIndex(peer string, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id > m.matchIndex[peer] {
		m.matchIndex[peer] = id
	}
}

// handleHeartbeat is the follower-side reaction to an inbound heartbeat
// (orig §4.1): accept the sender as leader for a term at least as high as
// ours, reset the election timer, and adopt the leader's commit index
// clamped to what this node has actually applied (orig §4.2: commit_index
// advances to min(leader_commit_index, local_highest_applied) — a follower
// can't claim to have committed an operation it never received). When the
// leader's NeedsResync hint (or a locally-observed gap) shows this node is
// missing operations the leader has committed, it kicks off a background
// snapshot catch-up rather than silently drifting.
func (m *Manager) handleHeartbeat(env *rpc.PeerEnvelope) *rpc.PeerEnvelope {
	m.mu.Lock()

	if env.Term < m.durable.CurrentTerm() {
		term := m.durable.CurrentTerm()
		m.mu.Unlock()
		return &rpc.PeerEnvelope{
			Type:     rpc.PeerReplicationResponse,
			Term:     term,
			ServerID: m.serverID,
			ReplicationResponse: &rpc.ReplicationResponsePayload{
				Success: false,
			},
		}
	}

	if env.Term > m.durable.CurrentTerm() {
		m.stepDownIfStaleLocked(env.Term)
	}
	m.role = types.RoleFollower
	m.leaderHint = env.ServerID
	metrics.Role.Set(metrics.RoleValue(string(types.RoleFollower)))
	m.resetElectionTimeout()

	var highestLocal uint64
	var gap bool
	if env.Heartbeat != nil {
		var err error
		highestLocal, err = m.store.HighestMessageID()
		if err != nil {
			log.WithServerID(m.serverID).Warn().Err(err).Msg("failed to read local highest message id for commit clamp")
			highestLocal = m.durable.CommitIndex()
		}

		target := env.Heartbeat.CommitIndex
		if highestLocal < target {
			target = highestLocal
			gap = true
		}
		if target > m.durable.CommitIndex() {
			_ = m.durable.SetCommitIndex(target)
			metrics.CommitIndex.Set(float64(m.durable.CommitIndex()))
		}
	}

	shouldBackfill := (gap || (env.Heartbeat != nil && env.Heartbeat.NeedsResync)) && !m.backfilling
	if shouldBackfill {
		m.backfilling = true
	}
	leader := env.ServerID
	term := m.durable.CurrentTerm()
	m.mu.Unlock()

	if shouldBackfill {
		go m.backfillFrom(leader)
	}

	return &rpc.PeerEnvelope{
		Type:     rpc.PeerReplicationResponse,
		Term:     term,
		ServerID: m.serverID,
		ReplicationResponse: &rpc.ReplicationResponsePayload{
			Success:   true,
			MessageID: highestLocal,
		},
	}
}
