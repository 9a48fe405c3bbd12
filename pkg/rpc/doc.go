/*
Package rpc hand-assembles the two gRPC service descriptors this engine
needs, in place of protoc-generated stubs (code-generation tooling for the
RPC layer is out of scope per orig §1):

	┌──────────────── chatcluster.Client ────────────────┐
	│  Execute(ClientEnvelope) ClientEnvelope   (unary)   │
	│  Subscribe(ClientEnvelope) stream ClientEnvelope    │
	└──────────────────────────────────────────────────────┘
	┌──────────────── chatcluster.Peer ───────────────────┐
	│  HandleReplication(stream PeerEnvelope)             │
	│    <-> stream PeerEnvelope      (bidi)              │
	└──────────────────────────────────────────────────────┘

Both ride a JSON codec (codec.go) instead of the default protobuf wire
format, so the envelope types are plain json-tagged structs.
*/
package rpc
