package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service.
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	// Segmentation metrics
	Segmentations        *prometheus.CounterVec
	SegmentsProduced     prometheus.Counter
	SegmentDuration      prometheus.Histogram
	SegmentationFailures prometheus.Counter

	// Dispatch metrics
	ChunksDispatched   prometheus.Counter
	ChunkAttempts      prometheus.Counter
	ChunkRetries       prometheus.Counter
	ChunkResults       *prometheus.CounterVec
	ChunkDuration      prometheus.Histogram
	ChunksInFlight     prometheus.Gauge
	DispatchDeadlines  prometheus.Counter
	LateResultsDropped prometheus.Counter

	// Speaker unification metrics
	Unifications      *prometheus.CounterVec
	EmbeddingRequests *prometheus.CounterVec
	SpeakersResolved  *prometheus.CounterVec
	StoreOperations   *prometheus.CounterVec

	// Job metrics
	ActiveJobs  prometheus.Gauge
	JobResults  *prometheus.CounterVec
	JobDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates and registers all metrics with reg
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Segmentations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkscribe_segmentations_total",
			Help: "Total number of segmentation passes by resulting method",
		}, []string{"method", "fallback"}),
		SegmentsProduced: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkscribe_segments_produced_total",
			Help: "Total number of audio segments produced",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chunkscribe_segment_duration_seconds",
			Help:    "Duration of produced audio segments",
			Buckets: prometheus.ExponentialBuckets(5, 2, 8), // 5s to ~10 minutes
		}),
		SegmentationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkscribe_segmentation_failures_total",
			Help: "Total number of fatal segmentation failures",
		}),

		ChunksDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkscribe_chunks_dispatched_total",
			Help: "Total number of chunks submitted to the ASR engine",
		}),
		ChunkAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkscribe_chunk_attempts_total",
			Help: "Total number of ASR requests sent",
		}),
		ChunkRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkscribe_chunk_retries_total",
			Help: "Total number of ASR request retries",
		}),
		ChunkResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkscribe_chunk_results_total",
			Help: "Total number of chunk outcomes by status and error kind",
		}, []string{"status", "error_kind"}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chunkscribe_chunk_processing_seconds",
			Help:    "Wall time from dispatch to final chunk state",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),
		ChunksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunkscribe_chunks_in_flight",
			Help: "Current number of chunks between dispatch and a final state",
		}),
		DispatchDeadlines: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkscribe_dispatch_deadlines_total",
			Help: "Total number of dispatch batches that hit the global deadline",
		}),
		LateResultsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkscribe_late_results_dropped_total",
			Help: "Total number of chunk results discarded after the deadline",
		}),

		Unifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkscribe_unifications_total",
			Help: "Total number of speaker unification runs by outcome",
		}, []string{"outcome"}),
		EmbeddingRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkscribe_embedding_requests_total",
			Help: "Total number of embedding extractor calls by status",
		}, []string{"status"}),
		SpeakersResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkscribe_speakers_resolved_total",
			Help: "Total number of global speaker assignments by source",
		}, []string{"source"}),
		StoreOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkscribe_speaker_store_operations_total",
			Help: "Total number of speaker store operations by type and status",
		}, []string{"operation", "status"}),

		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunkscribe_active_jobs",
			Help: "Current number of running transcription jobs",
		}),
		JobResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkscribe_job_results_total",
			Help: "Total number of finished jobs by status",
		}, []string{"status"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chunkscribe_job_duration_seconds",
			Help:    "End-to-end duration of transcription jobs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkscribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chunkscribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkscribe_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSegmentation records one segmentation pass
func (m *Metrics) RecordSegmentation(method string, fallback bool, durations []float64) {
	if m == nil {
		return
	}
	fb := "false"
	if fallback {
		fb = "true"
	}
	m.Segmentations.WithLabelValues(method, fb).Inc()
	m.SegmentsProduced.Add(float64(len(durations)))
	for _, d := range durations {
		m.SegmentDuration.Observe(d)
	}
}

// RecordSegmentationFailure increments the fatal segmentation counter
func (m *Metrics) RecordSegmentationFailure() {
	if m == nil {
		return
	}
	m.SegmentationFailures.Inc()
}

// RecordChunkDispatched marks a chunk as in flight
func (m *Metrics) RecordChunkDispatched() {
	if m == nil {
		return
	}
	m.ChunksDispatched.Inc()
	m.ChunksInFlight.Inc()
}

// RecordChunkAttempt increments the attempts counter, and retries past the first
func (m *Metrics) RecordChunkAttempt(attempt int) {
	if m == nil {
		return
	}
	m.ChunkAttempts.Inc()
	if attempt > 0 {
		m.ChunkRetries.Inc()
	}
}

// RecordChunkResult records a chunk's final state
func (m *Metrics) RecordChunkResult(status, errorKind string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ChunksInFlight.Dec()
	m.ChunkResults.WithLabelValues(status, errorKind).Inc()
	m.ChunkDuration.Observe(durationSeconds)
}

// RecordDispatchDeadline records a batch that hit its deadline
func (m *Metrics) RecordDispatchDeadline() {
	if m == nil {
		return
	}
	m.DispatchDeadlines.Inc()
}

// RecordLateResult records a chunk result discarded after the deadline
func (m *Metrics) RecordLateResult() {
	if m == nil {
		return
	}
	m.LateResultsDropped.Inc()
}

// RecordUnification records a unification run outcome
func (m *Metrics) RecordUnification(outcome string) {
	if m == nil {
		return
	}
	m.Unifications.WithLabelValues(outcome).Inc()
}

// RecordEmbeddingRequest records an embedding extractor call
func (m *Metrics) RecordEmbeddingRequest(status string) {
	if m == nil {
		return
	}
	m.EmbeddingRequests.WithLabelValues(status).Inc()
}

// RecordSpeakerResolved records where a global id came from ("store", "new", "local")
func (m *Metrics) RecordSpeakerResolved(source string) {
	if m == nil {
		return
	}
	m.SpeakersResolved.WithLabelValues(source).Inc()
}

// RecordStoreOperation records a speaker store load or save
func (m *Metrics) RecordStoreOperation(operation, status string) {
	if m == nil {
		return
	}
	m.StoreOperations.WithLabelValues(operation, status).Inc()
}

// SetActiveJobs sets the current number of running jobs
func (m *Metrics) SetActiveJobs(count int) {
	if m == nil {
		return
	}
	m.ActiveJobs.Set(float64(count))
}

// RecordJobFinished records a finished job
func (m *Metrics) RecordJobFinished(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobResults.WithLabelValues(status).Inc()
	m.JobDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
