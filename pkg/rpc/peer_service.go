package rpc

import (
	"context"
	"io"

	"google.golang.org/grpc"
)

// PeerHandler is the narrow interface the Peer RPC Surface dispatches into.
// Satisfied structurally by *pkg/replication.Manager — this package never
// imports pkg/replication, avoiding an rpc<->replication import cycle.
type PeerHandler interface {
	HandleReplication(ctx context.Context, env *PeerEnvelope) (*PeerEnvelope, error)
}

const (
	peerServiceName        = "chatcluster.Peer"
	peerHandleReplicationM = "HandleReplication"
)

// PeerServiceDesc is the hand-assembled equivalent of what protoc-gen-go-grpc
// would emit for a service with one bidirectional-streaming RPC (orig §4.4:
// "exactly one bidirectional RPC, HandleReplication"). Each inbound envelope
// on the stream gets one reply envelope, so logically this is a stream of
// independent unary exchanges multiplexed onto a single long-lived call —
// matching orig §4.4's "all server->server traffic goes through this
// envelope."
var PeerServiceDesc = grpc.ServiceDesc{
	ServiceName: peerServiceName,
	HandlerType: (*PeerHandler)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    peerHandleReplicationM,
			Handler:       handleReplicationStream,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "chatcluster/peer.proto",
}

func handleReplicationStream(srv any, stream grpc.ServerStream) error {
	handler := srv.(PeerHandler)
	for {
		var in PeerEnvelope
		if err := stream.RecvMsg(&in); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		out, err := handler.HandleReplication(stream.Context(), &in)
		if err != nil {
			return err
		}
		if err := stream.SendMsg(out); err != nil {
			return err
		}
	}
}

// RegisterPeerServer registers a PeerHandler on a *grpc.Server using the
// hand-rolled descriptor above.
func RegisterPeerServer(s *grpc.Server, handler PeerHandler) {
	s.RegisterService(&PeerServiceDesc, handler)
}

// PeerStreamClient is the client-side handle for the HandleReplication
// bidi stream: one Go struct wrapping grpc.ClientConn.NewStream, exposing
// Send/Recv rather than a generated stub.
type PeerStreamClient struct {
	stream grpc.ClientStream
}

// NewPeerStreamClient opens a HandleReplication stream to a single peer.
// pkg/replication's gRPC transport opens one of these per exchange over a
// reused per-peer connection.
func NewPeerStreamClient(ctx context.Context, cc grpc.ClientConnInterface) (*PeerStreamClient, error) {
	desc := &PeerServiceDesc.Streams[0]
	stream, err := cc.NewStream(ctx, desc, "/"+peerServiceName+"/"+peerHandleReplicationM,
		grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	return &PeerStreamClient{stream: stream}, nil
}

// Send writes one envelope onto the stream.
func (c *PeerStreamClient) Send(env *PeerEnvelope) error {
	return c.stream.SendMsg(env)
}

// Recv blocks for the next reply envelope.
func (c *PeerStreamClient) Recv() (*PeerEnvelope, error) {
	var out PeerEnvelope
	if err := c.stream.RecvMsg(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CloseSend half-closes the client side of the stream.
func (c *PeerStreamClient) CloseSend() error {
	return c.stream.CloseSend()
}
