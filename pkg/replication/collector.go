package replication

import (
	"time"

	"github.com/cuemby/chatcluster/pkg/metrics"
)

// collectorInterval is how often the background collector refreshes the
// gauges that don't already update inline on every transition
// (SPEC_FULL.md §4: "a periodic collector polling role/term/commit index/
// peer count into the metrics registry every 15s", a belt-and-suspenders
// refresh in case an inline update was missed on a code path).
const collectorInterval = 15 * time.Second

// collectMetricsLoop periodically republishes the replication state gauges.
func (m *Manager) collectMetricsLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(collectorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopC:
			return
		case <-ticker.C:
			m.collectOnce()
		}
	}
}

func (m *Manager) collectOnce() {
	m.mu.Lock()
	role := m.role
	peerCount := len(m.peers)
	m.mu.Unlock()

	metrics.Role.Set(metrics.RoleValue(string(role)))
	metrics.CurrentTerm.Set(float64(m.durable.CurrentTerm()))
	metrics.CommitIndex.Set(float64(m.durable.CommitIndex()))
	metrics.PeersTotal.Set(float64(peerCount + 1))
	metrics.ActiveSubscriptions.Set(float64(m.broker.TotalSubscribers()))
}
