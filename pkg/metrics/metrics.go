package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Replication state metrics
	Role = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatcluster_role",
			Help: "This server's replication role (0=follower, 1=candidate, 2=leader)",
		},
	)

	CurrentTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatcluster_current_term",
			Help: "Current election term",
		},
	)

	CommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatcluster_commit_index",
			Help: "Highest committed message id",
		},
	)

	PeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatcluster_peers_total",
			Help: "Total number of peers in the cluster, including self",
		},
	)

	ElectionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcluster_elections_started_total",
			Help: "Total number of elections this server has started",
		},
	)

	ElectionsWon = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcluster_elections_won_total",
			Help: "Total number of elections this server has won",
		},
	)

	VotesGranted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcluster_votes_granted_total",
			Help: "Total number of votes this server has granted to candidates",
		},
	)

	// Replication operation metrics
	ReplicationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcluster_replication_latency_seconds",
			Help:    "Time from leader proposal to majority commit, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	ReplicationRPCsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcluster_replication_rpcs_total",
			Help: "Total number of peer replication RPCs by payload type and outcome",
		},
		[]string{"payload", "outcome"},
	)

	HeartbeatsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcluster_heartbeats_sent_total",
			Help: "Total number of heartbeat rounds sent by this server as leader",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcluster_api_requests_total",
			Help: "Total number of client envelope requests by type and status",
		},
		[]string{"type", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcluster_api_request_duration_seconds",
			Help:    "Client envelope request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Storage metrics
	AccountsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatcluster_accounts_total",
			Help: "Total number of registered accounts",
		},
	)

	MessagesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatcluster_messages_total",
			Help: "Total number of durably stored messages",
		},
	)

	StorageOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcluster_storage_op_duration_seconds",
			Help:    "Time taken for a persistence layer call in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Subscription broker metrics
	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatcluster_active_subscriptions",
			Help: "Total number of live READ_MESSAGES streaming subscribers",
		},
	)

	SubscriptionQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatcluster_subscription_queue_depth",
			Help: "Number of buffered, undelivered messages per subscriber",
		},
		[]string{"recipient"},
	)

	SubscriptionDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatcluster_subscription_dropped_total",
			Help: "Total number of subscriptions disconnected because their queue was full",
		},
	)
)

func init() {
	prometheus.MustRegister(Role)
	prometheus.MustRegister(CurrentTerm)
	prometheus.MustRegister(CommitIndex)
	prometheus.MustRegister(PeersTotal)
	prometheus.MustRegister(ElectionsStarted)
	prometheus.MustRegister(ElectionsWon)
	prometheus.MustRegister(VotesGranted)

	prometheus.MustRegister(ReplicationLatency)
	prometheus.MustRegister(ReplicationRPCsTotal)
	prometheus.MustRegister(HeartbeatsSentTotal)

	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)

	prometheus.MustRegister(AccountsTotal)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(StorageOpDuration)

	prometheus.MustRegister(ActiveSubscriptions)
	prometheus.MustRegister(SubscriptionQueueDepth)
	prometheus.MustRegister(SubscriptionDroppedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// RoleValue maps a replication role to the Role gauge's numeric encoding.
func RoleValue(role string) float64 {
	switch role {
	case "follower":
		return 0
	case "candidate":
		return 1
	case "leader":
		return 2
	default:
		return -1
	}
}
