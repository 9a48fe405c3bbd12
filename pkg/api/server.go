// Package api implements the Client RPC Surface (orig §4.3/§6): envelope
// dispatch, session auth, and leader-forwarding for a follower that knows
// the current leader. Grounded on the teacher's pkg/api/server.go shape —
// one struct wrapping the replication layer, an ensureLeader-style guard
// before any write — generalized from 30+ typed container-orchestration
// RPCs down to the single envelope-typed Execute/Subscribe pair orig
// §4.3/§6 name.
package api

import (
	"context"
	"sync"

	"github.com/cuemby/chatcluster/pkg/client"
	"github.com/cuemby/chatcluster/pkg/log"
	"github.com/cuemby/chatcluster/pkg/metrics"
	"github.com/cuemby/chatcluster/pkg/replication"
	"github.com/cuemby/chatcluster/pkg/rpc"
)

// Server implements rpc.ClientHandler over a *replication.Manager.
type Server struct {
	manager  *replication.Manager
	sessions *sessionStore

	mu          sync.Mutex
	forwardConn map[string]*client.Client // leader addr -> cached forwarding connection
}

// NewServer wraps mgr as a Client RPC Surface.
func NewServer(mgr *replication.Manager) *Server {
	return &Server{
		manager:     mgr,
		sessions:    newSessionStore(),
		forwardConn: make(map[string]*client.Client),
	}
}

// Close tears down any cached forwarding connections.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.forwardConn {
		c.Close()
	}
}

// forwardTo relays env verbatim to the leader at addr and returns its reply
// (SPEC_FULL.md §5 decision 2: forward, don't redirect).
func (s *Server) forwardTo(ctx context.Context, addr string, env *rpc.ClientEnvelope) (*rpc.ClientEnvelope, error) {
	s.mu.Lock()
	c, ok := s.forwardConn[addr]
	if !ok {
		var err error
		c, err = client.Dial(addr)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.forwardConn[addr] = c
	}
	s.mu.Unlock()

	rc := rpc.NewClientConn(c.Conn())
	return rc.Execute(ctx, env)
}

// authenticatedUser resolves the identity authorized to perform env's write.
// A direct client call is authenticated against this node's own session
// store (keyed by its gRPC connection); a call arriving via forwardTo
// already carries the identity the receiving node verified, since the
// leader's session store has nothing keyed to a follower-to-leader
// connection.
func (s *Server) authenticatedUser(ctx context.Context, env *rpc.ClientEnvelope) (string, bool) {
	if env.AuthenticatedAs != "" {
		return env.AuthenticatedAs, true
	}
	return s.sessions.authenticatedUser(ctx)
}

// ensureLeaderOrForward runs fn if this node is the leader; otherwise, if a
// leader_hint is known, it stamps env.AuthenticatedAs with identity (the
// caller's already-verified identity, or "" for writes that don't require
// auth) so the leader can trust it instead of re-checking a session it
// never saw, forwards env to the leader, and returns its reply; otherwise it
// reports the transient "no leader known" error.
func (s *Server) ensureLeaderOrForward(ctx context.Context, env *rpc.ClientEnvelope, identity string, fn func() (*rpc.ClientEnvelope, error)) (*rpc.ClientEnvelope, error) {
	if s.manager.IsLeader() {
		return fn()
	}

	hint := s.manager.LeaderHint()
	if hint == "" {
		return errorEnvelope("no_leader", "no leader known, retry"), nil
	}

	env.AuthenticatedAs = identity
	reply, err := s.forwardTo(ctx, hint, env)
	if err != nil {
		log.WithComponent("api").Warn().Err(err).Str("leader", hint).Msg("forward to leader failed")
		return errorEnvelope("no_leader", "leader unreachable, retry"), nil
	}
	return reply, nil
}

func errorEnvelope(reason, detail string) *rpc.ClientEnvelope {
	payload, _ := rpc.EncodePayload(rpc.ErrorPayload{Reason: reason, Detail: detail})
	return &rpc.ClientEnvelope{Type: rpc.TypeError, Payload: payload}
}

func successEnvelope(payload any) *rpc.ClientEnvelope {
	if payload == nil {
		return &rpc.ClientEnvelope{Type: rpc.TypeSuccess}
	}
	encoded, err := rpc.EncodePayload(payload)
	if err != nil {
		return errorEnvelope("invalid", err.Error())
	}
	return &rpc.ClientEnvelope{Type: rpc.TypeSuccess, Payload: encoded}
}

// replicationErrorEnvelope maps a *replication.Error onto the ERROR
// envelope the client contract promises (orig §7's taxonomy).
func replicationErrorEnvelope(err error) *rpc.ClientEnvelope {
	if replErr, ok := err.(*replication.Error); ok {
		return errorEnvelope(replErr.Reason, replErr.Error())
	}
	return errorEnvelope("invalid", err.Error())
}

func (s *Server) observe(envType rpc.EnvelopeType, status string) {
	metrics.APIRequestsTotal.WithLabelValues(string(envType), status).Inc()
}
