// Package metrics holds the process-wide Prometheus collectors. One-shot
// commands export them to a node-exporter textfile; the health monitor
// serves them over HTTP.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Rollout metrics
	RolloutPhaseResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterops_rollout_phase_results_total",
			Help: "Per-host rollout operations by phase and result",
		},
		[]string{"phase", "result"},
	)

	RolloutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clusterops_rollout_duration_seconds",
			Help:    "Duration of complete rollouts in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		},
	)

	// Bootstrap metrics
	BootstrapsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterops_bootstraps_total",
			Help: "Node bootstraps by final status",
		},
		[]string{"status"},
	)

	VolumesFormatted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterops_volumes_formatted_total",
			Help: "Volumes that had no filesystem and were formatted",
		},
	)

	// Health metrics
	HealthProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterops_health_probes_total",
			Help: "Health probe evaluations by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(RolloutPhaseResults)
	prometheus.MustRegister(RolloutDuration)
	prometheus.MustRegister(BootstrapsTotal)
	prometheus.MustRegister(VolumesFormatted)
	prometheus.MustRegister(HealthProbes)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// WriteTextfile writes every registered metric to path in the text
// exposition format, for the node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// Timer measures an operation for a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds in o.
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}
