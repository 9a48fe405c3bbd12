/*
Package metrics provides Prometheus metrics collection and exposition for
the chat cluster's Replication Manager, Client RPC Surface, and storage
layer.

# Metrics Catalog

Replication state:

  - chatcluster_role (gauge): 0=follower, 1=candidate, 2=leader
  - chatcluster_current_term (gauge)
  - chatcluster_commit_index (gauge)
  - chatcluster_peers_total (gauge)

Election and replication:

  - chatcluster_elections_started_total (counter)
  - chatcluster_elections_won_total (counter)
  - chatcluster_votes_granted_total (counter)
  - chatcluster_replication_rpcs_total{payload, outcome} (counter)
  - chatcluster_replication_latency_seconds{op} (histogram)
  - chatcluster_heartbeats_sent_total (counter)

Client RPC Surface:

  - chatcluster_api_requests_total{type, status} (counter)
  - chatcluster_api_request_duration_seconds{type} (histogram)

Storage:

  - chatcluster_accounts_total (gauge)
  - chatcluster_messages_total (gauge)
  - chatcluster_storage_op_duration_seconds{op} (histogram)

Subscription broker:

  - chatcluster_active_subscriptions (gauge)
  - chatcluster_subscription_queue_depth{recipient} (gauge)
  - chatcluster_subscription_dropped_total (counter)

# Usage

All metrics are package-level variables registered at init() via
prometheus.MustRegister, following the teacher's global-registry
convention: no constructor call is needed by callers.

	metrics.Role.Set(metrics.RoleValue(string(currentRole)))
	metrics.ReplicationRPCsTotal.WithLabelValues("MESSAGE_REPLICATION", "success").Inc()

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.APIRequestDuration, "SEND_MESSAGE")

pkg/health mounts metrics.Handler() at /metrics.
*/
package metrics
