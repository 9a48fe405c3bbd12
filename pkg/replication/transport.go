package replication

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/chatcluster/pkg/log"
	"github.com/cuemby/chatcluster/pkg/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// grpcTransport implements Transport over real gRPC connections using
// pkg/rpc's hand-rolled Peer service descriptor. One long-lived
// *grpc.ClientConn per peer is dialed lazily and reused; the connection is
// plaintext (insecure.NewCredentials), matching the teacher's move away
// from mTLS for this simplified peer channel (DESIGN.md: dropped
// pkg/security).
type grpcTransport struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCTransport returns a Transport that dials peers on demand.
func NewGRPCTransport() Transport {
	return &grpcTransport{conns: make(map[string]*grpc.ClientConn)}
}

func (t *grpcTransport) connFor(peerID string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cc, ok := t.conns[peerID]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(peerID, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial peer %s: %w", peerID, err)
	}
	t.conns[peerID] = cc
	return cc, nil
}

// Send opens a new HandleReplication stream to peerID, writes env,
// half-closes the stream, and reads the single reply. Per-call
// streams keep the transport stateless and simple to reason about; the
// per-peer *grpc.ClientConn is what is actually kept warm.
func (t *grpcTransport) Send(ctx context.Context, peerID string, env *rpc.PeerEnvelope) (*rpc.PeerEnvelope, error) {
	cc, err := t.connFor(peerID)
	if err != nil {
		return nil, err
	}

	stream, err := rpc.NewPeerStreamClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	if err := stream.Send(env); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		log.WithPeer(peerID).Debug().Err(err).Msg("close send failed")
	}
	return stream.Recv()
}
