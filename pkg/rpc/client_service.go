package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ClientHandler is the narrow interface the Client RPC Surface dispatches
// into. Satisfied structurally by *pkg/api.Server.
type ClientHandler interface {
	Execute(ctx context.Context, env *ClientEnvelope) (*ClientEnvelope, error)
	Subscribe(env *ClientEnvelope, stream ClientSubscribeStream) error
}

// ClientSubscribeStream is the narrow send side of the Subscribe
// server-streaming RPC, implemented by subscribeServerStream below.
type ClientSubscribeStream interface {
	Send(*ClientEnvelope) error
	Context() context.Context
}

const (
	clientServiceName = "chatcluster.Client"
	clientExecuteM    = "Execute"
	clientSubscribeM  = "Subscribe"
)

// ClientServiceDesc is the hand-assembled equivalent of protoc-gen-go-grpc
// output for the Client RPC Surface: one unary Execute (orig §4.3's
// non-streaming operations) and one server-streaming Subscribe (orig §4.3's
// ReadMessages subscription).
var ClientServiceDesc = grpc.ServiceDesc{
	ServiceName: clientServiceName,
	HandlerType: (*ClientHandler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: clientExecuteM,
			Handler:    executeHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    clientSubscribeM,
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "chatcluster/client.proto",
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ClientEnvelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := srv.(ClientHandler)
	if interceptor == nil {
		return handler.Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + clientServiceName + "/" + clientExecuteM}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return handler.Execute(ctx, req.(*ClientEnvelope))
	})
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	var in ClientEnvelope
	if err := stream.RecvMsg(&in); err != nil {
		return err
	}
	handler := srv.(ClientHandler)
	return handler.Subscribe(&in, &subscribeServerStream{ServerStream: stream})
}

type subscribeServerStream struct {
	grpc.ServerStream
}

func (s *subscribeServerStream) Send(env *ClientEnvelope) error {
	return s.ServerStream.SendMsg(env)
}

// RegisterClientServer registers a ClientHandler on a *grpc.Server using the
// hand-rolled descriptor above.
func RegisterClientServer(s *grpc.Server, handler ClientHandler) {
	s.RegisterService(&ClientServiceDesc, handler)
}

// ClientConn is a thin wrapper over grpc.ClientConn exposing Execute/
// Subscribe without a generated stub, used by pkg/client and by a follower
// forwarding a write to the leader (SPEC_FULL.md §5 decision 2).
type ClientConn struct {
	cc *grpc.ClientConn
}

// NewClientConn wraps an already-dialed connection.
func NewClientConn(cc *grpc.ClientConn) *ClientConn {
	return &ClientConn{cc: cc}
}

// Execute performs one unary client envelope round trip.
func (c *ClientConn) Execute(ctx context.Context, env *ClientEnvelope) (*ClientEnvelope, error) {
	out := new(ClientEnvelope)
	err := c.cc.Invoke(ctx, "/"+clientServiceName+"/"+clientExecuteM, env, out,
		grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Subscribe opens the READ_MESSAGES server-streaming RPC.
func (c *ClientConn) Subscribe(ctx context.Context, env *ClientEnvelope) (*ClientSubscription, error) {
	desc := &ClientServiceDesc.Streams[0]
	stream, err := c.cc.NewStream(ctx, desc, "/"+clientServiceName+"/"+clientSubscribeM,
		grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(env); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &ClientSubscription{stream: stream}, nil
}

// ClientSubscription is the client-side handle for an open Subscribe call.
type ClientSubscription struct {
	stream grpc.ClientStream
}

// Recv blocks for the next pushed envelope.
func (s *ClientSubscription) Recv() (*ClientEnvelope, error) {
	var out ClientEnvelope
	if err := s.stream.RecvMsg(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Conn returns the underlying *grpc.ClientConn, e.g. for Close.
func (c *ClientConn) Conn() *grpc.ClientConn { return c.cc }
