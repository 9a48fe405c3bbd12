// Package replication implements the engine's consensus core: term-based
// leader election with randomized timeouts (election.go), leader
// heartbeats (heartbeat.go), leader-driven writes replicated to a majority
// before acknowledgment (apply.go), the peer-facing HandleReplication
// dispatch (handlereplication.go), late-joiner snapshot catch-up
// (snapshot.go), a gRPC Transport (transport.go), durable term/voted-for/
// commit-index state (durable.go), and a typed error taxonomy (errors.go).
//
// This is a hand-rolled, simplified protocol grounded in the shape of a
// production orchestrator's Raft-backed FSM — not hashicorp/raft and not
// full Raft: no log compaction beyond the snapshot catch-up path, and no
// persisted log of uncommitted entries (a write either reaches a majority
// within the write deadline or the caller retries).
package replication
