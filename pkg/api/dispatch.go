package api

import (
	"context"

	"github.com/cuemby/chatcluster/pkg/metrics"
	"github.com/cuemby/chatcluster/pkg/rpc"
)

// Execute dispatches one client envelope (orig §4.3/§6), satisfying
// rpc.ClientHandler. Read operations are answered locally from this node's
// store regardless of role (orig §4.1 "reads may be served by any
// server"); they are not filtered by commit_index, so a write that has not
// yet reached a majority can be visible. Writes run ensureLeaderOrForward
// first.
func (s *Server) Execute(ctx context.Context, env *rpc.ClientEnvelope) (*rpc.ClientEnvelope, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.APIRequestDuration, string(env.Type))

	reply := s.dispatch(ctx, env)

	status := "success"
	if reply.Type == rpc.TypeError {
		status = "error"
	}
	s.observe(env.Type, status)
	return reply, nil
}

func (s *Server) dispatch(ctx context.Context, env *rpc.ClientEnvelope) *rpc.ClientEnvelope {
	switch env.Type {
	case rpc.TypeCreateAccount:
		return s.handleCreateAccount(ctx, env)
	case rpc.TypeLogin:
		return s.handleLogin(ctx, env)
	case rpc.TypeListAccounts:
		return s.handleListAccounts(env)
	case rpc.TypeSendMessage:
		return s.handleSendMessage(ctx, env)
	case rpc.TypeDeleteMessages:
		return s.handleDeleteMessages(ctx, env)
	case rpc.TypeDeleteAccount:
		return s.handleDeleteAccount(ctx, env)
	case rpc.TypeListChatPartners:
		return s.handleListChatPartners(env)
	case rpc.TypeGetLeader:
		return s.handleGetLeader()
	case rpc.TypeGetClusterNodes:
		return s.handleGetClusterNodes()
	case rpc.TypeMarkRead:
		return s.handleMarkRead(ctx, env)
	default:
		return errorEnvelope("invalid", "unknown envelope type")
	}
}

func (s *Server) handleCreateAccount(ctx context.Context, env *rpc.ClientEnvelope) *rpc.ClientEnvelope {
	var payload rpc.CreateAccountPayload
	if err := rpc.DecodePayload(env.Payload, &payload); err != nil {
		return errorEnvelope("invalid", err.Error())
	}
	if payload.Username == "" || len(payload.PasswordVerifier) == 0 {
		return errorEnvelope("invalid", "username and password_verifier are required")
	}

	reply, _ := s.ensureLeaderOrForward(ctx, env, "", func() (*rpc.ClientEnvelope, error) {
		if err := s.manager.CreateAccount(payload.Username, payload.PasswordVerifier); err != nil {
			return replicationErrorEnvelope(err), nil
		}
		return successEnvelope(nil), nil
	})
	return reply
}

func (s *Server) handleLogin(ctx context.Context, env *rpc.ClientEnvelope) *rpc.ClientEnvelope {
	var payload rpc.LoginPayload
	if err := rpc.DecodePayload(env.Payload, &payload); err != nil {
		return errorEnvelope("invalid", err.Error())
	}

	ok, err := s.manager.VerifyLogin(payload.Username, payload.PasswordVerifier)
	if err != nil {
		return replicationErrorEnvelope(err)
	}
	if !ok {
		return errorEnvelope("bad_credentials", "username or password incorrect")
	}
	s.sessions.login(ctx, payload.Username)
	return successEnvelope(nil)
}

func (s *Server) handleListAccounts(env *rpc.ClientEnvelope) *rpc.ClientEnvelope {
	var payload rpc.ListAccountsPayload
	if err := rpc.DecodePayload(env.Payload, &payload); err != nil {
		return errorEnvelope("invalid", err.Error())
	}

	accounts, err := s.manager.Store().ListAccounts(payload.Pattern)
	if err != nil {
		return errorEnvelope("invalid", err.Error())
	}
	return successEnvelope(rpc.ListAccountsResult{Accounts: accounts})
}

func (s *Server) handleSendMessage(ctx context.Context, env *rpc.ClientEnvelope) *rpc.ClientEnvelope {
	var payload rpc.SendMessagePayload
	if err := rpc.DecodePayload(env.Payload, &payload); err != nil {
		return errorEnvelope("invalid", err.Error())
	}

	sender, authed := s.authenticatedUser(ctx, env)
	if !authed || sender != env.Sender {
		return errorEnvelope("bad_credentials", "not authenticated as sender")
	}

	reply, _ := s.ensureLeaderOrForward(ctx, env, sender, func() (*rpc.ClientEnvelope, error) {
		msg, err := s.manager.SendMessage(env.Sender, env.Recipient, payload.Content)
		if err != nil {
			return replicationErrorEnvelope(err), nil
		}
		return successEnvelope(rpc.SendMessageResult{
			MessageID: msg.ID,
			Timestamp: msg.Timestamp.Unix(),
		}), nil
	})
	return reply
}

func (s *Server) handleDeleteMessages(ctx context.Context, env *rpc.ClientEnvelope) *rpc.ClientEnvelope {
	var payload rpc.DeleteMessagesPayload
	if err := rpc.DecodePayload(env.Payload, &payload); err != nil {
		return errorEnvelope("invalid", err.Error())
	}

	requester, authed := s.authenticatedUser(ctx, env)
	if !authed {
		return errorEnvelope("bad_credentials", "not authenticated")
	}

	reply, _ := s.ensureLeaderOrForward(ctx, env, requester, func() (*rpc.ClientEnvelope, error) {
		deleted, err := s.manager.DeleteMessages(payload.IDs, requester)
		if err != nil {
			return replicationErrorEnvelope(err), nil
		}
		return successEnvelope(rpc.DeleteMessagesResult{Deleted: deleted}), nil
	})
	return reply
}

func (s *Server) handleDeleteAccount(ctx context.Context, env *rpc.ClientEnvelope) *rpc.ClientEnvelope {
	var payload rpc.DeleteAccountPayload
	if err := rpc.DecodePayload(env.Payload, &payload); err != nil {
		return errorEnvelope("invalid", err.Error())
	}

	requester, authed := s.authenticatedUser(ctx, env)
	if !authed || requester != payload.Username {
		return errorEnvelope("bad_credentials", "must be authenticated as the account being deleted")
	}

	reply, _ := s.ensureLeaderOrForward(ctx, env, requester, func() (*rpc.ClientEnvelope, error) {
		if err := s.manager.DeleteAccount(payload.Username); err != nil {
			return replicationErrorEnvelope(err), nil
		}
		s.sessions.clear(ctx)
		return successEnvelope(nil), nil
	})
	return reply
}

func (s *Server) handleListChatPartners(env *rpc.ClientEnvelope) *rpc.ClientEnvelope {
	var payload rpc.ListChatPartnersPayload
	if err := rpc.DecodePayload(env.Payload, &payload); err != nil {
		return errorEnvelope("invalid", err.Error())
	}

	partners, err := s.manager.Store().ListChatPartners(payload.Username)
	if err != nil {
		return errorEnvelope("invalid", err.Error())
	}
	return successEnvelope(rpc.ListChatPartnersResult{Partners: partners})
}

func (s *Server) handleGetLeader() *rpc.ClientEnvelope {
	hint := s.manager.LeaderHint()
	var leader *string
	if hint != "" {
		leader = &hint
	}
	return successEnvelope(rpc.GetLeaderResult{Leader: leader})
}

func (s *Server) handleGetClusterNodes() *rpc.ClientEnvelope {
	return successEnvelope(rpc.GetClusterNodesResult{Nodes: s.manager.ClusterNodes()})
}

func (s *Server) handleMarkRead(ctx context.Context, env *rpc.ClientEnvelope) *rpc.ClientEnvelope {
	var payload rpc.MarkReadPayload
	if err := rpc.DecodePayload(env.Payload, &payload); err != nil {
		return errorEnvelope("invalid", err.Error())
	}

	requester, authed := s.authenticatedUser(ctx, env)
	if !authed || requester != payload.Username {
		return errorEnvelope("bad_credentials", "not authenticated as username")
	}

	reply, _ := s.ensureLeaderOrForward(ctx, env, requester, func() (*rpc.ClientEnvelope, error) {
		if err := s.manager.MarkRead(payload.IDs, requester); err != nil {
			return replicationErrorEnvelope(err), nil
		}
		return successEnvelope(nil), nil
	})
	return reply
}
