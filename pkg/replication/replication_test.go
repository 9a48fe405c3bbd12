package replication

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/chatcluster/pkg/broker"
	"github.com/cuemby/chatcluster/pkg/rpc"
	"github.com/cuemby/chatcluster/pkg/storage"
	"github.com/cuemby/chatcluster/pkg/types"
	"github.com/stretchr/testify/require"
)

// fakeTransport routes Send calls directly into another Manager's
// HandleReplication, letting tests exercise real election/replication
// logic across multiple in-process Managers without a network.
type fakeTransport struct {
	peers map[string]*Manager
}

func (t *fakeTransport) Send(ctx context.Context, peerID string, env *rpc.PeerEnvelope) (*rpc.PeerEnvelope, error) {
	peer, ok := t.peers[peerID]
	if !ok {
		return nil, errPeerUnknown
	}
	return peer.HandleReplication(ctx, env)
}

var errPeerUnknown = &Error{Class: ClassTransient, Reason: "unknown_peer"}

func newTestManager(t *testing.T, id string, peers []string, trans Transport) *Manager {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m, err := NewManager(Config{
		ServerID:  id,
		Peers:     peers,
		DataDir:   t.TempDir(),
		Store:     store,
		Broker:    broker.New(),
		Transport: trans,
	})
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

// singleNodeCluster builds one Manager with no peers, so it wins its own
// election immediately (majority of 1).
func singleNodeCluster(t *testing.T) *Manager {
	t.Helper()
	return newTestManager(t, "node-a:9000", nil, &fakeTransport{peers: map[string]*Manager{}})
}

func waitForLeader(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, m.IsLeader, 2*time.Second, 5*time.Millisecond, "expected manager to become leader")
}

func TestSingleNodeBecomesLeader(t *testing.T) {
	m := singleNodeCluster(t)
	waitForLeader(t, m)
	require.Equal(t, m.serverID, m.LeaderHint())
}

func TestCreateAccountAndLogin(t *testing.T) {
	m := singleNodeCluster(t)
	waitForLeader(t, m)

	require.NoError(t, m.CreateAccount("alice", []byte("verifier")))
	ok, err := m.VerifyLogin("alice", []byte("verifier"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.VerifyLogin("alice", []byte("wrong"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSendMessageRequiresRecipient(t *testing.T) {
	m := singleNodeCluster(t)
	waitForLeader(t, m)

	_, err := m.SendMessage("alice", "bob", "hi")
	require.Error(t, err)
	var replErr *Error
	require.ErrorAs(t, err, &replErr)
	require.Equal(t, ClassValidation, replErr.Class)
}

func TestSendMessageAssignsIncreasingIDs(t *testing.T) {
	m := singleNodeCluster(t)
	waitForLeader(t, m)
	require.NoError(t, m.CreateAccount("bob", []byte("v")))

	first, err := m.SendMessage("alice", "bob", "hello")
	require.NoError(t, err)
	second, err := m.SendMessage("alice", "bob", "again")
	require.NoError(t, err)
	require.Greater(t, second.ID, first.ID)
}

func TestSendMessageRejectsOversizedContent(t *testing.T) {
	m := singleNodeCluster(t)
	waitForLeader(t, m)
	require.NoError(t, m.CreateAccount("bob", []byte("v")))

	huge := make([]byte, MaxContentBytes+1)
	for i := range huge {
		huge[i] = 'x'
	}
	_, err := m.SendMessage("alice", "bob", string(huge))
	require.Error(t, err)
}

func TestFollowerRejectsWrites(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	m := &Manager{
		serverID: "node-b:9000",
		store:    store,
		broker:   broker.New(),
	}
	ds, err := openDurableState(t.TempDir())
	require.NoError(t, err)
	m.durable = ds

	_, err = m.SendMessage("alice", "bob", "hi")
	require.ErrorIs(t, err, ErrNotLeader)
}

func TestTwoNodeClusterReplicatesMessage(t *testing.T) {
	trans := &fakeTransport{peers: map[string]*Manager{}}
	a := newTestManager(t, "node-a:9000", []string{"node-b:9001"}, trans)
	b := newTestManager(t, "node-b:9001", []string{"node-a:9000"}, trans)
	trans.peers["node-a:9000"] = a
	trans.peers["node-b:9001"] = b

	require.Eventually(t, func() bool {
		return a.IsLeader() != b.IsLeader()
	}, 2*time.Second, 5*time.Millisecond, "expected exactly one leader")

	leader, follower := a, b
	if b.IsLeader() {
		leader, follower = b, a
	}

	require.NoError(t, leader.CreateAccount("bob", []byte("v")))
	msg, err := leader.SendMessage("alice", "bob", "hello from leader")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		convo, err := follower.Store().FetchConversation("alice", "bob", 10, 0)
		if err != nil || len(convo) == 0 {
			return false
		}
		return convo[0].ID == msg.ID
	}, time.Second, 5*time.Millisecond, "expected follower to receive replicated message")
}

func TestHandleHeartbeatClampsCommitIndexToLocalHighest(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.InsertMessage(&types.Message{ID: 1, Sender: "alice", Recipient: "bob", Content: "hi"}))
	require.NoError(t, store.InsertMessage(&types.Message{ID: 2, Sender: "alice", Recipient: "bob", Content: "again"}))

	ds, err := openDurableState(t.TempDir())
	require.NoError(t, err)

	m := &Manager{
		serverID: "node-b:9001",
		store:    store,
		broker:   broker.New(),
		durable:  ds,
		trans:    &fakeTransport{peers: map[string]*Manager{}},
	}

	// The leader claims commit_index 10, but this follower only actually
	// holds 2 messages: commit_index must clamp to 2, not jump to 10.
	reply := m.handleHeartbeat(&rpc.PeerEnvelope{
		Term:      ds.CurrentTerm(),
		ServerID:  "node-a:9000",
		Heartbeat: &rpc.HeartbeatPayload{CommitIndex: 10},
	})

	require.True(t, reply.ReplicationResponse.Success)
	require.Equal(t, uint64(2), reply.ReplicationResponse.MessageID)
	require.Equal(t, uint64(2), m.CommitIndex())

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return !m.backfilling
	}, time.Second, 5*time.Millisecond, "expected the triggered backfill goroutine to finish")
}

func TestHandleHeartbeatDoesNotRegressCommitIndex(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.InsertMessage(&types.Message{ID: 1, Sender: "alice", Recipient: "bob", Content: "hi"}))

	ds, err := openDurableState(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ds.SetCommitIndex(1))

	m := &Manager{
		serverID: "node-b:9001",
		store:    store,
		broker:   broker.New(),
		durable:  ds,
		trans:    &fakeTransport{peers: map[string]*Manager{}},
	}

	reply := m.handleHeartbeat(&rpc.PeerEnvelope{
		Term:      ds.CurrentTerm(),
		ServerID:  "node-a:9000",
		Heartbeat: &rpc.HeartbeatPayload{CommitIndex: 0},
	})

	require.True(t, reply.ReplicationResponse.Success)
	require.Equal(t, uint64(1), m.CommitIndex())
}

func TestUpdateMatchIndexIsMonotonic(t *testing.T) {
	m := newTestManager(t, "node-a:9000", []string{"node-b:9001"}, &fakeTransport{peers: map[string]*Manager{}})

	m.updateMatchIndex("node-b:9001", 5)
	m.updateMatchIndex("node-b:9001", 3) // stale ack must not regress it
	m.updateMatchIndex("node-b:9001", 7)

	m.mu.Lock()
	got := m.matchIndex["node-b:9001"]
	m.mu.Unlock()
	require.Equal(t, uint64(7), got)
}

func TestReplicateAckAdvancesMatchIndex(t *testing.T) {
	trans := &fakeTransport{peers: map[string]*Manager{}}
	a := newTestManager(t, "node-a:9000", []string{"node-b:9001"}, trans)
	b := newTestManager(t, "node-b:9001", []string{"node-a:9000"}, trans)
	trans.peers["node-a:9000"] = a
	trans.peers["node-b:9001"] = b

	require.Eventually(t, func() bool {
		return a.IsLeader() != b.IsLeader()
	}, 2*time.Second, 5*time.Millisecond, "expected exactly one leader")

	leader, followerID := a, "node-b:9001"
	if b.IsLeader() {
		leader, followerID = b, "node-a:9000"
	}

	require.NoError(t, leader.CreateAccount("bob", []byte("v")))
	msg, err := leader.SendMessage("alice", "bob", "hello")
	require.NoError(t, err)

	leader.mu.Lock()
	got := leader.matchIndex[followerID]
	leader.mu.Unlock()
	require.Equal(t, msg.ID, got)
}

func TestHandleVoteRequestGrantsOncePerTerm(t *testing.T) {
	m := newTestManager(t, "node-a:9000", []string{"node-b:9001"}, &fakeTransport{peers: map[string]*Manager{}})

	env := &rpc.PeerEnvelope{
		Type:     rpc.PeerVoteRequest,
		Term:     100,
		ServerID: "node-c:9002",
		VoteRequest: &rpc.VoteRequestPayload{
			LastLogTerm:  1,
			LastLogIndex: 0,
			ElectionID:   "election-1",
		},
	}
	reply := m.handleVoteRequest(env)
	require.True(t, reply.VoteResponse.VoteGranted)

	env2 := &rpc.PeerEnvelope{
		Type:     rpc.PeerVoteRequest,
		Term:     100,
		ServerID: "node-d:9003",
		VoteRequest: &rpc.VoteRequestPayload{
			LastLogTerm:  1,
			LastLogIndex: 0,
			ElectionID:   "election-2",
		},
	}
	reply2 := m.handleVoteRequest(env2)
	require.False(t, reply2.VoteResponse.VoteGranted)
}
