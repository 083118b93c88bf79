package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/chunkscribe/internal/config"
	"github.com/skypro1111/chunkscribe/internal/metrics"
	"github.com/skypro1111/chunkscribe/internal/model"
	"github.com/skypro1111/chunkscribe/internal/pipeline"
	"github.com/skypro1111/chunkscribe/internal/speaker"
	"github.com/skypro1111/chunkscribe/internal/transcription"
)

// maxRequestBody caps POST /jobs bodies.
const maxRequestBody = 1 << 20

// EngineStats reports ASR client statistics
type EngineStats interface {
	GetStats() transcription.ClientStats
}

// HTTPServer provides HTTP API endpoints for jobs, speakers and monitoring
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	jobs     *pipeline.Manager
	speakers *speaker.Store
	engine   EngineStats
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	startTime time.Time
}

// Deps bundles the components the API serves. Speakers and Engine may be nil.
type Deps struct {
	Jobs     *pipeline.Manager
	Speakers *speaker.Store
	Engine   EngineStats
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config, deps Deps) *HTTPServer {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		jobs:      deps.Jobs,
		speakers:  deps.Speakers,
		engine:    deps.Engine,
		metrics:   deps.Metrics,
		gatherer:  deps.Gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/jobs", h.withMetrics("/jobs", h.handleJobs))
	mux.HandleFunc("/jobs/", h.withMetrics("/jobs/{id}", h.handleJobDetail))

	mux.HandleFunc("/speakers", h.withMetrics("/speakers", h.handleSpeakers))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// errorBody is the structured failure every endpoint returns
type errorBody struct {
	Status    string          `json:"status"`
	Error     string          `json:"error"`
	ErrorKind model.ErrorKind `json:"error_kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind model.ErrorKind, msg string) {
	writeJSON(w, status, errorBody{Status: "failed", Error: msg, ErrorKind: kind})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	components := map[string]any{
		"jobs": map[string]any{
			"status": "running",
			"active": h.jobs.ActiveCount(),
		},
	}
	if h.engine != nil {
		stats := h.engine.GetStats()
		components["transcription"] = map[string]any{
			"status":          "running",
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}
	unification := map[string]any{"status": "disabled"}
	if h.speakers != nil {
		unification = map[string]any{"status": "running", "store": h.speakers.Path()}
	}
	components["unification"] = unification

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "chunkscribe",
			"version": "1.0.0",
		},
		"components": components,
	})
}

// handleJobs implements GET and POST /jobs
func (h *HTTPServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jobs := h.jobs.List()
		for i := range jobs {
			jobs[i].Result = nil
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"total_jobs": len(jobs),
			"timestamp":  time.Now().UTC(),
			"jobs":       jobs,
		})

	case http.MethodPost:
		var req pipeline.Request
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "", fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if req.Model == "" {
			req.Model = h.config.Dispatch.DefaultModel
		}
		if req.Language == "" {
			req.Language = h.config.Dispatch.DefaultLanguage
		}

		info, err := h.jobs.Submit(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, "", err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, info)

	default:
		methodNotAllowed(w)
	}
}

// handleJobDetail implements /jobs/{id} (GET, DELETE) and /jobs/{id}/srt|txt
func (h *HTTPServer) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(r.URL.Path[len("/jobs/"):], "/")
	id, artifact, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "", "job id required")
		return
	}

	if r.Method == http.MethodDelete && artifact == "" {
		if !h.jobs.Cancel(id) {
			writeError(w, http.StatusConflict, "", "job not found or already finished")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	info, exists := h.jobs.Get(id)
	if !exists {
		writeError(w, http.StatusNotFound, "", "job not found")
		return
	}

	switch artifact {
	case "":
		writeJSON(w, http.StatusOK, info)
	case "srt", "txt":
		if info.Status != pipeline.JobCompleted || info.Result == nil || info.Result.Output == nil {
			writeError(w, http.StatusConflict, info.ErrorKind, fmt.Sprintf("job is %s", info.Status))
			return
		}
		body := info.Result.Output.SRT
		if artifact == "txt" {
			body = info.Result.Output.TXT
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(body))
	default:
		writeError(w, http.StatusNotFound, "", "unknown job artifact")
	}
}

// handleSpeakers implements the /speakers endpoint
func (h *HTTPServer) handleSpeakers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if h.speakers == nil {
		writeError(w, http.StatusServiceUnavailable, model.KindUnificationUnavailable, "speaker store is not configured")
		return
	}

	summary, err := h.speakers.Summary(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, speaker.ErrCorruptStore) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	// API keys are left out.
	c := h.config
	writeJSON(w, http.StatusOK, map[string]any{
		"segmentation": c.Segmentation,
		"dispatch": map[string]any{
			"endpoint":                    c.Dispatch.Endpoint,
			"default_model":               c.Dispatch.DefaultModel,
			"default_language":            c.Dispatch.DefaultLanguage,
			"output_format":               c.Dispatch.OutputFormat,
			"request_timeout":             c.Dispatch.RequestTimeout,
			"diarization_request_timeout": c.Dispatch.DiarizationRequestTimeout,
			"global_timeout":              c.Dispatch.GlobalTimeout,
			"diarization_global_timeout":  c.Dispatch.DiarizationGlobalTimeout,
			"max_attempts":                c.Dispatch.MaxAttempts,
			"backoff_base":                c.Dispatch.BackoffBase,
			"max_in_flight":               c.Dispatch.MaxInFlight,
		},
		"unification": map[string]any{
			"enabled":                 c.Unification.Enabled,
			"embedding_endpoint":      c.Unification.EmbeddingEndpoint,
			"request_timeout":         c.Unification.RequestTimeout,
			"store_path":              c.Unification.StorePath,
			"distance_threshold":      c.Unification.DistanceThreshold,
			"max_samples_per_speaker": c.Unification.MaxSamplesPerSpeaker,
			"min_sample_duration":     c.Unification.MinSampleDuration,
		},
		"jobs": c.Jobs,
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	byStatus := map[pipeline.JobStatus]int{}
	for _, job := range h.jobs.List() {
		byStatus[job.Status]++
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"jobs": map[string]any{
			"active":    h.jobs.ActiveCount(),
			"by_status": byStatus,
		},
	}
	if h.engine != nil {
		stats["transcription"] = h.engine.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "", "not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": "chunkscribe",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"GET /":              "API documentation",
			"GET /health":        "Service health check",
			"GET /jobs":          "List transcription jobs",
			"POST /jobs":         "Submit a transcription job",
			"GET /jobs/{id}":     "Get job status and result",
			"GET /jobs/{id}/srt": "Get job subtitles",
			"GET /jobs/{id}/txt": "Get job text",
			"DELETE /jobs/{id}":  "Cancel a job",
			"GET /speakers":      "List known speakers",
			"GET /config":        "Get service configuration",
			"GET /stats":         "Get service statistics",
			"GET /metrics":       "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
