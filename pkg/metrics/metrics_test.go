package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	RolloutPhaseResults.WithLabelValues("upload", "success").Inc()

	path := filepath.Join(t.TempDir(), "clusterops.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "clusterops_rollout_phase_results_total")
}

func TestRolloutPhaseResultsLabels(t *testing.T) {
	before := testutil.ToFloat64(RolloutPhaseResults.WithLabelValues("stop", "failure"))
	RolloutPhaseResults.WithLabelValues("stop", "failure").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(RolloutPhaseResults.WithLabelValues("stop", "failure")))
}

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_duration_seconds"})
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)

	assert.GreaterOrEqual(t, timer.Duration(), 10*time.Millisecond)
	timer.ObserveDuration(h)
	assert.Equal(t, 1, testutil.CollectAndCount(h))
}
