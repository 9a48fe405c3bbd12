// Package health exposes HTTP liveness, readiness, and metrics endpoints.
// Not named by spec.md, but carried as an ambient concern of the teacher's
// cluster-manager lineage (SPEC_FULL.md §4).
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/chatcluster/pkg/metrics"
	"github.com/cuemby/chatcluster/pkg/storage"
)

// ReplicationStatus is the slice of the Replication Manager the health
// server needs; kept as a narrow interface (rather than importing
// pkg/replication directly) so tests can pass a fake (see health_test.go).
type ReplicationStatus interface {
	IsLeader() bool
	LeaderHint() string
}

// Server provides HTTP health check endpoints.
type Server struct {
	repl  ReplicationStatus
	store storage.Store
	mux   *http.ServeMux

	version string
}

// NewServer creates a new health check HTTP server.
func NewServer(repl ReplicationStatus, store storage.Store, version string) *Server {
	mux := http.NewServeMux()
	hs := &Server{repl: repl, store: store, mux: mux, version: version}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start starts the health check HTTP server. Blocks until the server
// stops; run it in its own goroutine.
func (hs *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// Handler returns the HTTP handler for embedding in another server.
func (hs *Server) Handler() http.Handler {
	return hs.mux
}

// HealthResponse is the /health liveness response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse is the /ready readiness response.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a liveness check: 200 if the process is alive at all.
func (hs *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   hs.version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler checks that replication has a known leader and storage
// answers a read, matching SPEC_FULL.md §4's "leader-known + store-
// reachable" readiness definition.
func (hs *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.repl != nil {
		if hs.repl.IsLeader() {
			checks["replication"] = "leader"
		} else if hint := hs.repl.LeaderHint(); hint != "" {
			checks["replication"] = fmt.Sprintf("follower (leader: %s)", hint)
		} else {
			checks["replication"] = "no leader known"
			ready = false
			message = "waiting for leader election"
		}
	} else {
		checks["replication"] = "not initialized"
		ready = false
		message = "replication manager not initialized"
	}

	if hs.store != nil {
		if _, err := hs.store.HighestMessageID(); err != nil {
			checks["storage"] = fmt.Sprintf("error: %v", err)
			ready = false
			if message == "" {
				message = "storage not accessible"
			}
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "not initialized"
		ready = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
