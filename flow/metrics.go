package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for workflow execution.
//
// Exposed metrics, all namespaced "duraflow":
//   - runs_total (counter, label status): runs that reached a loop exit,
//     labeled completed, failed, awaiting_approval or exhausted.
//   - active_runs (gauge): runs currently inside a step loop.
//   - step_latency_ms (histogram, labels node_id, status): node execution
//     duration, status success or error.
//   - checkpoint_writes_total (counter): durable run-state writes.
//   - suspensions_total (counter): suspend-marker pauses.
//
// A nil *Metrics is valid and records nothing, so wiring metrics into the
// engine is optional.
type Metrics struct {
	runsTotal   *prometheus.CounterVec
	activeRuns  prometheus.Gauge
	stepLatency *prometheus.HistogramVec
	checkpoints prometheus.Counter
	suspensions prometheus.Counter
}

// NewMetrics creates and registers all execution metrics with the given
// registry. Pass prometheus.DefaultRegisterer for the global registry, or a
// private prometheus.NewRegistry() for isolation.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duraflow",
			Name:      "runs_total",
			Help:      "Workflow runs by loop exit status",
		}, []string{"status"}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "duraflow",
			Name:      "active_runs",
			Help:      "Runs currently executing a step loop",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "duraflow",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_id", "status"}),
		checkpoints: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "duraflow",
			Name:      "checkpoint_writes_total",
			Help:      "Durable run-state checkpoint writes",
		}),
		suspensions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "duraflow",
			Name:      "suspensions_total",
			Help:      "Runs paused awaiting external approval",
		}),
	}
}

func (m *Metrics) loopEntered() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

func (m *Metrics) loopExited(status Status) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) observeStep(nodeID string, d time.Duration, status string) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(nodeID, status).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) checkpointWritten() {
	if m == nil {
		return
	}
	m.checkpoints.Inc()
}

func (m *Metrics) suspended() {
	if m == nil {
		return
	}
	m.suspensions.Inc()
}
