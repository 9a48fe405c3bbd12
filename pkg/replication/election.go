package replication

import (
	"context"
	"math/rand"
	"time"

	"github.com/cuemby/chatcluster/pkg/log"
	"github.com/cuemby/chatcluster/pkg/metrics"
	"github.com/cuemby/chatcluster/pkg/rpc"
	"github.com/cuemby/chatcluster/pkg/types"
)

// randomElectionTimeout returns a duration uniformly drawn from
// [ElectionTimeoutMin, ElectionTimeoutMax), the randomization that keeps
// followers from all becoming candidates simultaneously (orig §4.1).
func randomElectionTimeout() time.Duration {
	span := ElectionTimeoutMax - ElectionTimeoutMin
	if span <= 0 {
		return ElectionTimeoutMin
	}
	return ElectionTimeoutMin + time.Duration(rand.Int63n(int64(span)))
}

// electionTimeoutLoop is the watchdog: it waits out an election timeout and,
// unless reset (a valid heartbeat or vote grant arrived), converts this
// server to Candidate and runs an election. Runs for the lifetime of the
// Manager.
func (m *Manager) electionTimeoutLoop() {
	defer m.wg.Done()

	timer := time.NewTimer(randomElectionTimeout())
	defer timer.Stop()

	for {
		select {
		case <-m.stopC:
			return
		case <-m.electionResetC:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(randomElectionTimeout())
		case <-timer.C:
			m.runElection()
			timer.Reset(randomElectionTimeout())
		}
	}
}

// runElection converts to Candidate, votes for itself, and requests votes
// from every peer in parallel (orig §4.1). If a majority (including self)
// grants a vote before the next timeout, the server becomes Leader.
func (m *Manager) runElection() {
	m.mu.Lock()
	if m.role == types.RoleLeader {
		m.mu.Unlock()
		return
	}
	m.role = types.RoleCandidate
	term := m.durable.CurrentTerm() + 1
	electionID := newElectionID()
	m.electionID = electionID
	lastLogIndex := m.durable.CommitIndex()
	peers := append([]string(nil), m.peers...)
	m.mu.Unlock()

	if err := m.durable.SetTermAndVote(term, m.serverID); err != nil {
		log.WithServerID(m.serverID).Error().Err(err).Msg("failed to persist term for election")
		return
	}
	metrics.CurrentTerm.Set(float64(term))
	metrics.ElectionsStarted.Inc()
	metrics.Role.Set(metrics.RoleValue(string(types.RoleCandidate)))

	granted := 1 // self-vote
	logger := log.WithServerID(m.serverID).With().Uint64("term", term).Str("election_id", electionID).Logger()
	logger.Info().Msg("starting election")

	type result struct{ granted bool }
	results := make(chan result, len(peers))

	for _, peer := range peers {
		peer := peer
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), ElectionTimeoutMin)
			defer cancel()

			req := &rpc.PeerEnvelope{
				Type:     rpc.PeerVoteRequest,
				Term:     term,
				ServerID: m.serverID,
				VoteRequest: &rpc.VoteRequestPayload{
					LastLogTerm:  term - 1,
					LastLogIndex: lastLogIndex,
					ElectionID:   electionID,
				},
			}
			reply, err := m.trans.Send(ctx, peer, req)
			if err != nil || reply == nil || reply.VoteResponse == nil {
				results <- result{granted: false}
				return
			}
			if reply.Term > term {
				m.stepDownIfStale(reply.Term)
			}
			results <- result{granted: reply.VoteResponse.VoteGranted}
		}()
	}

	for range peers {
		r := <-results
		if r.granted {
			granted++
			metrics.VotesGranted.Inc()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.role != types.RoleCandidate || m.electionID != electionID {
		// Stepped down, or a newer election already superseded this one.
		return
	}
	if granted >= m.majority() {
		m.becomeLeaderLocked()
		metrics.ElectionsWon.Inc()
		logger.Info().Int("votes", granted).Msg("won election")
	} else {
		m.role = types.RoleFollower
		metrics.Role.Set(metrics.RoleValue(string(types.RoleFollower)))
		logger.Info().Int("votes", granted).Msg("lost election")
	}
}

// becomeLeaderLocked transitions to Leader. Caller must hold m.mu.
func (m *Manager) becomeLeaderLocked() {
	m.role = types.RoleLeader
	m.leaderHint = m.serverID
	m.matchIndex = make(map[string]uint64)
	for _, p := range m.peers {
		m.matchIndex[p] = 0
	}
	metrics.Role.Set(metrics.RoleValue(string(types.RoleLeader)))

	m.wg.Add(1)
	go m.heartbeatLoop()
}

// stepDownIfStale reverts to Follower if theirTerm is newer than ours,
// adopting theirTerm and clearing our vote (orig §4.1 "discovering a higher
// term anywhere reverts the server to follower").
func (m *Manager) stepDownIfStale(theirTerm uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stepDownIfStaleLocked(theirTerm)
}

func (m *Manager) stepDownIfStaleLocked(theirTerm uint64) bool {
	if theirTerm <= m.durable.CurrentTerm() {
		return false
	}
	if err := m.durable.SetTermAndVote(theirTerm, ""); err != nil {
		log.WithServerID(m.serverID).Error().Err(err).Msg("failed to persist term on step-down")
	}
	metrics.CurrentTerm.Set(float64(theirTerm))
	wasLeader := m.role == types.RoleLeader
	m.role = types.RoleFollower
	metrics.Role.Set(metrics.RoleValue(string(types.RoleFollower)))
	_ = wasLeader
	return true
}

// handleVoteRequest implements the vote-granting algorithm (orig §4.1):
// grant at most one vote per term, and only to a candidate whose
// last_log_index is at least our own commit index. The candidate's
// last_log_term is not compared: this node keeps no per-entry term to
// compare it against.
func (m *Manager) handleVoteRequest(env *rpc.PeerEnvelope) *rpc.PeerEnvelope {
	req := env.VoteRequest
	m.mu.Lock()
	defer m.mu.Unlock()

	if env.Term > m.durable.CurrentTerm() {
		m.stepDownIfStaleLocked(env.Term)
	}

	currentTerm := m.durable.CurrentTerm()
	grant := false
	switch {
	case env.Term < currentTerm:
		grant = false
	case m.durable.VotedFor() != "" && m.durable.VotedFor() != env.ServerID:
		grant = false
	case req.LastLogIndex < m.durable.CommitIndex():
		grant = false
	default:
		grant = true
	}

	if grant {
		if err := m.durable.SetTermAndVote(env.Term, env.ServerID); err != nil {
			log.WithServerID(m.serverID).Error().Err(err).Msg("failed to persist vote")
			grant = false
		} else {
			m.leaderHint = ""
			m.resetElectionTimeout()
		}
	}

	return &rpc.PeerEnvelope{
		Type:         rpc.PeerVoteResponse,
		Term:         m.durable.CurrentTerm(),
		ServerID:     m.serverID,
		VoteResponse: &rpc.VoteResponsePayload{VoteGranted: grant},
	}
}
