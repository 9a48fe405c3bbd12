/*
Package health exposes /health, /ready, and /metrics over HTTP.

/health is a pure liveness check. /ready additionally checks that
replication knows a leader (or is the leader) and that storage answers a
read, matching the orchestrator's readiness-gate convention used to decide
whether a node should receive traffic.

	┌───────────────────── HEALTH SERVER ───────────────────────┐
	│  GET /health  -> 200 always (process is alive)            │
	│  GET /ready   -> replication.IsLeader/LeaderHint + storage │
	│  GET /metrics -> promhttp.Handler()                        │
	└────────────────────────────────────────────────────────────┘
*/
package health
