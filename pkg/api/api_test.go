package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/chatcluster/pkg/broker"
	"github.com/cuemby/chatcluster/pkg/replication"
	"github.com/cuemby/chatcluster/pkg/rpc"
	"github.com/cuemby/chatcluster/pkg/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/peer"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mgr, err := replication.NewManager(replication.Config{
		ServerID:  "node-a:9000",
		DataDir:   t.TempDir(),
		Store:     store,
		Broker:    broker.New(),
		Transport: noopTransport{},
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Shutdown)
	require.Eventually(t, mgr.IsLeader, 2*time.Second, 5*time.Millisecond)

	s := NewServer(mgr)
	t.Cleanup(s.Close)
	return s
}

type noopTransport struct{}

func (noopTransport) Send(ctx context.Context, peerID string, env *rpc.PeerEnvelope) (*rpc.PeerEnvelope, error) {
	return nil, replication.ErrNoLeader
}

// ctxAs fakes a session-bearing client connection by attaching a distinct
// remote address to the context, the same key sessionStore uses.
func ctxAs(remote string) context.Context {
	return peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: mustPort(remote)},
	})
}

func mustPort(remote string) int {
	switch remote {
	case "alice":
		return 40001
	case "bob":
		return 40002
	default:
		return 40099
	}
}

func TestCreateAccountAndLogin(t *testing.T) {
	s := newTestServer(t)
	ctx := ctxAs("alice")

	reply, err := s.Execute(ctx, &rpc.ClientEnvelope{
		Type: rpc.TypeCreateAccount,
		Payload: map[string]any{
			"username":          "alice",
			"password_verifier": []byte("hash"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, rpc.TypeSuccess, reply.Type)

	reply, err = s.Execute(ctx, &rpc.ClientEnvelope{
		Type: rpc.TypeLogin,
		Payload: map[string]any{
			"username":          "alice",
			"password_verifier": []byte("hash"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, rpc.TypeSuccess, reply.Type)

	user, authed := s.sessions.authenticatedUser(ctx)
	require.True(t, authed)
	require.Equal(t, "alice", user)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t)
	ctx := ctxAs("alice")

	_, err := s.Execute(ctx, &rpc.ClientEnvelope{
		Type: rpc.TypeCreateAccount,
		Payload: map[string]any{
			"username":          "alice",
			"password_verifier": []byte("hash"),
		},
	})
	require.NoError(t, err)

	reply, err := s.Execute(ctx, &rpc.ClientEnvelope{
		Type: rpc.TypeLogin,
		Payload: map[string]any{
			"username":          "alice",
			"password_verifier": []byte("wrong"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, rpc.TypeError, reply.Type)
}

func TestSendMessageRequiresAuthenticatedSender(t *testing.T) {
	s := newTestServer(t)
	createAndLogin(t, s, "alice")
	createAndLogin(t, s, "bob")

	reply, err := s.Execute(ctxAs("alice"), &rpc.ClientEnvelope{
		Type:      rpc.TypeSendMessage,
		Sender:    "bob",
		Recipient: "alice",
		Payload:   map[string]any{"content": "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, rpc.TypeError, reply.Type)
}

func TestSendMessageAndListChatPartners(t *testing.T) {
	s := newTestServer(t)
	createAndLogin(t, s, "alice")
	createAndLogin(t, s, "bob")

	reply, err := s.Execute(ctxAs("alice"), &rpc.ClientEnvelope{
		Type:      rpc.TypeSendMessage,
		Sender:    "alice",
		Recipient: "bob",
		Payload:   map[string]any{"content": "hello bob"},
	})
	require.NoError(t, err)
	require.Equal(t, rpc.TypeSuccess, reply.Type)

	reply, err = s.Execute(ctxAs("alice"), &rpc.ClientEnvelope{
		Type:    rpc.TypeListChatPartners,
		Payload: map[string]any{"username": "alice"},
	})
	require.NoError(t, err)
	require.Equal(t, rpc.TypeSuccess, reply.Type)

	var result rpc.ListChatPartnersResult
	require.NoError(t, rpc.DecodePayload(reply.Payload, &result))
	require.Contains(t, result.Partners, "bob")
}

func TestGetLeaderAndClusterNodes(t *testing.T) {
	s := newTestServer(t)

	reply, err := s.Execute(context.Background(), &rpc.ClientEnvelope{Type: rpc.TypeGetLeader})
	require.NoError(t, err)
	var leaderResult rpc.GetLeaderResult
	require.NoError(t, rpc.DecodePayload(reply.Payload, &leaderResult))
	require.NotNil(t, leaderResult.Leader)
	require.Equal(t, "node-a:9000", *leaderResult.Leader)

	reply, err = s.Execute(context.Background(), &rpc.ClientEnvelope{Type: rpc.TypeGetClusterNodes})
	require.NoError(t, err)
	var nodesResult rpc.GetClusterNodesResult
	require.NoError(t, rpc.DecodePayload(reply.Payload, &nodesResult))
	require.Contains(t, nodesResult.Nodes, "node-a:9000")
}

// fakeSubscribeStream lets tests drive Subscribe without a live gRPC stream.
type fakeSubscribeStream struct {
	ctx context.Context
	out chan *rpc.ClientEnvelope
}

func (f *fakeSubscribeStream) Send(env *rpc.ClientEnvelope) error {
	f.out <- env
	return nil
}

func (f *fakeSubscribeStream) Context() context.Context { return f.ctx }

func TestSubscribeDeliversUndeliveredBacklogThenLivePush(t *testing.T) {
	s := newTestServer(t)
	createAndLogin(t, s, "alice")
	createAndLogin(t, s, "bob")

	_, err := s.Execute(ctxAs("alice"), &rpc.ClientEnvelope{
		Type:      rpc.TypeSendMessage,
		Sender:    "alice",
		Recipient: "bob",
		Payload:   map[string]any{"content": "queued before subscribe"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stream := &fakeSubscribeStream{ctx: ctx, out: make(chan *rpc.ClientEnvelope, 8)}

	done := make(chan error, 1)
	go func() {
		done <- s.Subscribe(&rpc.ClientEnvelope{
			Type:    rpc.TypeReadMessages,
			Payload: map[string]any{"username": "bob"},
		}, stream)
	}()

	var backlog rpc.ReadMessagesResult
	select {
	case env := <-stream.out:
		require.NoError(t, rpc.DecodePayload(env.Payload, &backlog))
		require.Equal(t, "queued before subscribe", backlog.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for backlog delivery")
	}

	require.Eventually(t, func() bool {
		return s.manager.Broker().SubscriberCount("bob") == 1
	}, time.Second, 5*time.Millisecond)

	_, err = s.Execute(ctxAs("alice"), &rpc.ClientEnvelope{
		Type:      rpc.TypeSendMessage,
		Sender:    "alice",
		Recipient: "bob",
		Payload:   map[string]any{"content": "live push"},
	})
	require.NoError(t, err)

	var live rpc.ReadMessagesResult
	select {
	case env := <-stream.out:
		require.NoError(t, rpc.DecodePayload(env.Payload, &live))
		require.Equal(t, "live push", live.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live delivery")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after context cancel")
	}
}

func createAndLogin(t *testing.T, s *Server, username string) {
	t.Helper()
	ctx := ctxAs(username)
	_, err := s.Execute(ctx, &rpc.ClientEnvelope{
		Type: rpc.TypeCreateAccount,
		Payload: map[string]any{
			"username":          username,
			"password_verifier": []byte("hash"),
		},
	})
	require.NoError(t, err)
	_, err = s.Execute(ctx, &rpc.ClientEnvelope{
		Type: rpc.TypeLogin,
		Payload: map[string]any{
			"username":          username,
			"password_verifier": []byte("hash"),
		},
	})
	require.NoError(t, err)
}
