package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/danpasecinic/deployd/internal/types"
)

// Coordinator-side Prometheus collectors, registered once at package init.
// Purely observational: nothing here is consulted by scheduling (§9:
// reputation and any richer policy stay unused).
var (
	agentsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deployd_agents_registered",
		Help: "Number of agents currently in the registry.",
	})
	deploymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deployd_deployments_total",
		Help: "Deployments observed by status transition.",
	}, []string{"status"})
	heartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deployd_heartbeats_received_total",
		Help: "Heartbeats accepted from worker agents.",
	})
)

// Metrics is a thin handle so Server doesn't reach for package globals
// directly from its handler methods.
type Metrics struct{}

// NewMetrics returns a Metrics handle over the package's registered collectors.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// SetAgentsRegistered updates the registry-size gauge.
func (m *Metrics) SetAgentsRegistered(n int) {
	agentsRegistered.Set(float64(n))
}

// ObserveStatus increments the counter for a deployment status transition.
func (m *Metrics) ObserveStatus(status types.DeploymentStatus) {
	deploymentsTotal.WithLabelValues(string(status)).Inc()
}

// ObserveHeartbeat increments the heartbeat counter.
func (m *Metrics) ObserveHeartbeat() {
	heartbeatsTotal.Inc()
}
