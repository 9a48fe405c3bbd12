package client_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/cuemby/chatcluster/pkg/bootstrap"
	"github.com/cuemby/chatcluster/pkg/client"
	"github.com/stretchr/testify/require"
)

func startTestNode(t *testing.T, port int) *bootstrap.Node {
	t.Helper()
	return startTestNodeWithReplicas(t, port, nil)
}

func startTestNodeWithReplicas(t *testing.T, port int, replicas []string) *bootstrap.Node {
	t.Helper()
	node, err := bootstrap.New(bootstrap.Config{
		Host:     "127.0.0.1",
		Port:     port,
		Replicas: replicas,
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	})

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, time.Second, 10*time.Millisecond)

	return node
}

func TestClientCreateAccountLoginSendMessage(t *testing.T) {
	startTestNode(t, 19100)

	alice, err := client.Dial("127.0.0.1:19100")
	require.NoError(t, err)
	defer alice.Close()

	bob, err := client.Dial("127.0.0.1:19100")
	require.NoError(t, err)
	defer bob.Close()

	ctx := context.Background()

	require.NoError(t, alice.CreateAccount(ctx, "alice", []byte("hash")))
	require.NoError(t, alice.Login(ctx, "alice", []byte("hash")))

	require.NoError(t, bob.CreateAccount(ctx, "bob", []byte("hash")))
	require.NoError(t, bob.Login(ctx, "bob", []byte("hash")))

	msgID, err := alice.SendMessage(ctx, "alice", "bob", "hello from alice")
	require.NoError(t, err)
	require.Greater(t, msgID, uint64(0))

	partners, err := alice.ListChatPartners(ctx, "alice")
	require.NoError(t, err)
	require.Contains(t, partners, "bob")

	leader, err := alice.GetLeader(ctx)
	require.NoError(t, err)
	require.NotNil(t, leader)

	nodes, err := alice.GetClusterNodes(ctx)
	require.NoError(t, err)
	require.Contains(t, nodes, "127.0.0.1:19100")
}

func TestClientReadMessagesStreamsLiveDelivery(t *testing.T) {
	startTestNode(t, 19101)

	alice, err := client.Dial("127.0.0.1:19101")
	require.NoError(t, err)
	defer alice.Close()

	bob, err := client.Dial("127.0.0.1:19101")
	require.NoError(t, err)
	defer bob.Close()

	ctx := context.Background()
	require.NoError(t, alice.CreateAccount(ctx, "alice2", []byte("hash")))
	require.NoError(t, alice.Login(ctx, "alice2", []byte("hash")))
	require.NoError(t, bob.CreateAccount(ctx, "bob2", []byte("hash")))
	require.NoError(t, bob.Login(ctx, "bob2", []byte("hash")))

	subCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sub, err := bob.ReadMessages(subCtx, "bob2", 0)
	require.NoError(t, err)

	_, err = alice.SendMessage(ctx, "alice2", "bob2", "live message")
	require.NoError(t, err)

	env, err := sub.Recv()
	require.NoError(t, err)
	require.Equal(t, "READ_MESSAGES", string(env.Type))
}

// TestClientSendMessageForwardsThroughFollower exercises the regression
// where a node forwarding an authenticated write to the leader (SPEC_FULL.md
// §5 decision 2) re-authenticated the forwarded call against its own
// session store and rejected every write made through a non-leader node.
// The client here only ever talks to the follower; LOGIN establishes a
// session on the follower's connection, and SEND_MESSAGE must still succeed
// once it's relayed to the leader.
func TestClientSendMessageForwardsThroughFollower(t *testing.T) {
	addrA := "127.0.0.1:19120"
	addrB := "127.0.0.1:19121"
	startTestNodeWithReplicas(t, 19120, []string{addrB})
	startTestNodeWithReplicas(t, 19121, []string{addrA})

	a, err := client.Dial(addrA)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	var leaderAddr string
	require.Eventually(t, func() bool {
		leader, err := a.GetLeader(ctx)
		if err != nil || leader == nil {
			return false
		}
		leaderAddr = *leader
		return true
	}, 2*time.Second, 10*time.Millisecond)

	followerAddr := addrA
	if leaderAddr == addrA {
		followerAddr = addrB
	}

	follower, err := client.Dial(followerAddr)
	require.NoError(t, err)
	defer follower.Close()

	require.NoError(t, follower.CreateAccount(ctx, "carol", []byte("hash")))
	require.NoError(t, follower.Login(ctx, "carol", []byte("hash")))
	require.NoError(t, follower.CreateAccount(ctx, "dave", []byte("hash")))

	msgID, err := follower.SendMessage(ctx, "carol", "dave", "hi through the follower")
	require.NoError(t, err)
	require.Greater(t, msgID, uint64(0))
}
