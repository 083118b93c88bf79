package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordersUpdateCollectors(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordSegmentation("silence", false, []float64{30, 45})
	m.RecordChunkDispatched()
	m.RecordChunkAttempt(0)
	m.RecordChunkAttempt(1)
	m.RecordChunkResult("success", "", 2.5)
	m.RecordSpeakerResolved("store")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SegmentsProduced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Segmentations.WithLabelValues("silence", "false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChunkAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunkRetries))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ChunksInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunkResults.WithLabelValues("success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpeakersResolved.WithLabelValues("store")))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSegmentation("time", true, []float64{180})
		m.RecordChunkDispatched()
		m.RecordChunkResult("failed", "chunk_terminal", 1)
		m.RecordUnification("skipped")
		m.RecordHTTPRequest("GET", "/health", "200", 0.01)
	})
}
