/*
Package storage provides BoltDB-backed state persistence for the chat
cluster's accounts, messages, and delivery/read flags.

The Store interface is implemented by BoltStore using go.etcd.io/bbolt as the
underlying engine: one bucket per table named in the durable schema, JSON
values, fsync-on-commit via Bolt's default Update semantics.

	┌──────────────────── STATE.DB (BOLTDB) ───────────────────┐
	│  accounts        username -> {verifier, created_at}      │
	│  messages        be64(id) -> {sender, recipient, ...}    │
	│  delivery_flags  be64(id) -> presence marker              │
	│  read_flags      be64(id) -> presence marker               │
	│  meta            "highest_message_id" -> be64(id)         │
	└────────────────────────────────────────────────────────────┘

Every mutating call runs inside a single bolt.Update transaction — one
replicated operation maps to one atomic persistence call, matching the
engine's replication contract (no cross-operation transactions).
*/
package storage
