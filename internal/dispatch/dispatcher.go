package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/skypro1111/chunkscribe/internal/audio"
	"github.com/skypro1111/chunkscribe/internal/metrics"
	"github.com/skypro1111/chunkscribe/internal/model"
	"github.com/skypro1111/chunkscribe/internal/transcription"
)

// Failure messages for chunks that never reached a final state.
const (
	reasonTimeout   = "timeout"
	reasonCancelled = "cancelled"
)

// State is a chunk's position in its lifecycle
type State int

const (
	StatePending State = iota
	StateDispatched
	StateSucceeded
	StateFailedRetryable
	StateFailedTerminal
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDispatched:
		return "dispatched"
	case StateSucceeded:
		return "succeeded"
	case StateFailedRetryable:
		return "failed_retryable"
	case StateFailedTerminal:
		return "failed_terminal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config contains dispatch timing and retry policy
type Config struct {
	RequestTimeout            time.Duration
	DiarizationRequestTimeout time.Duration
	GlobalTimeout             time.Duration
	DiarizationGlobalTimeout  time.Duration
	MaxAttempts               int
	BackoffBase               time.Duration
	MaxInFlight               int // 0 means every chunk is in flight at once
}

// DefaultConfig returns the standard policy
func DefaultConfig() Config {
	return Config{
		RequestTimeout:            8 * time.Minute,
		DiarizationRequestTimeout: 12 * time.Minute,
		GlobalTimeout:             20 * time.Minute,
		DiarizationGlobalTimeout:  30 * time.Minute,
		MaxAttempts:               3,
		BackoffBase:               time.Second,
	}
}

// RequestTimeoutFor returns the per-request timeout for a run
func (c Config) RequestTimeoutFor(diarization bool) time.Duration {
	if diarization {
		return c.DiarizationRequestTimeout
	}
	return c.RequestTimeout
}

// GlobalTimeoutFor returns the batch deadline for a run
func (c Config) GlobalTimeoutFor(diarization bool) time.Duration {
	if diarization {
		return c.DiarizationGlobalTimeout
	}
	return c.GlobalTimeout
}

// Backoff returns the wait after a failed attempt (0-based): base * 2^attempt
func (c Config) Backoff(attempt int) time.Duration {
	return c.BackoffBase << uint(attempt)
}

// Job describes one run's dispatch parameters
type Job struct {
	ID           string
	SourceRef    string
	Model        string
	Language     string
	OutputFormat string
	Diarization  bool
}

// Dispatcher fans chunks out to an Engine
type Dispatcher struct {
	engine    transcription.Engine
	extractor audio.Extractor
	config    Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a dispatcher
func New(engine transcription.Engine, extractor audio.Extractor, config Config, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Dispatcher{
		engine:    engine,
		extractor: extractor,
		config:    config,
		logger:    logger,
		metrics:   m,
	}
}

// chunkTask tracks one chunk through its state machine
type chunkTask struct {
	segment  model.AudioSegment
	state    State
	attempts int
	logger   *slog.Logger
}

func (t *chunkTask) transition(to State) {
	t.logger.Debug("Chunk state transition",
		slog.String("from", t.state.String()),
		slog.String("to", to.String()),
		slog.Int("attempt", t.attempts))
	t.state = to
}

// Dispatch submits all segments concurrently and returns exactly one result
// per segment, in segment order. Chunks still unresolved when the global
// deadline expires are recorded as failed with reason "timeout"; results
// that arrive afterwards are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job, segments []model.AudioSegment) ([]model.ChunkResult, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("no segments to dispatch")
	}

	deadline := d.config.GlobalTimeoutFor(job.Diarization)
	dctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	logger := d.logger.With(slog.String("job_id", job.ID))
	logger.Info("Dispatching chunks",
		slog.Int("chunks", len(segments)),
		slog.Bool("diarization", job.Diarization),
		slog.Duration("deadline", deadline),
		slog.Duration("request_timeout", d.config.RequestTimeoutFor(job.Diarization)))

	var sem *semaphore.Weighted
	if d.config.MaxInFlight > 0 {
		sem = semaphore.NewWeighted(int64(d.config.MaxInFlight))
	}

	position := make(map[int]int, len(segments))
	for i, seg := range segments {
		position[seg.Index] = i
	}

	started := time.Now()
	resultCh := make(chan model.ChunkResult, len(segments))
	for _, seg := range segments {
		task := &chunkTask{
			segment: seg,
			state:   StatePending,
			logger:  logger.With(slog.Int("chunk_index", seg.Index)),
		}
		d.metrics.RecordChunkDispatched()
		go func() {
			resultCh <- d.runChunk(dctx, job, task, sem)
		}()
	}

	results := make([]model.ChunkResult, len(segments))
	done := make([]bool, len(segments))
	remaining := len(segments)

collect:
	for remaining > 0 {
		select {
		case r := <-resultCh:
			p, ok := position[r.ChunkIndex]
			if !ok || done[p] {
				continue
			}
			results[p] = r
			done[p] = true
			remaining--
			d.metrics.RecordChunkResult(string(r.Status), string(r.ErrorKind), time.Since(started).Seconds())
		case <-dctx.Done():
			break collect
		}
	}

	if remaining > 0 {
		reason := contextReason(dctx)
		d.metrics.RecordDispatchDeadline()
		logger.Warn("Dispatch deadline reached, cancelling unfinished chunks",
			slog.Int("unfinished", remaining),
			slog.String("reason", reason))

		for p, seg := range segments {
			if done[p] {
				continue
			}
			results[p] = failedResult(seg, 0, model.KindChunkTerminal, reason)
			d.metrics.RecordChunkResult(string(model.StatusFailed), string(model.KindChunkTerminal), time.Since(started).Seconds())
		}

		// Stragglers exit promptly once dctx is cancelled; count and drop them.
		go func(n int) {
			for i := 0; i < n; i++ {
				<-resultCh
				d.metrics.RecordLateResult()
			}
		}(remaining)
	}

	succeeded := 0
	for _, r := range results {
		if r.Succeeded() {
			succeeded++
		}
	}
	logger.Info("Dispatch complete",
		slog.Int("succeeded", succeeded),
		slog.Int("failed", len(results)-succeeded),
		slog.Duration("elapsed", time.Since(started)))

	return results, nil
}

// runChunk drives one chunk to a final state. The request, including its
// id, is built once and resubmitted unchanged on retry.
func (d *Dispatcher) runChunk(ctx context.Context, job Job, task *chunkTask, sem *semaphore.Weighted) model.ChunkResult {
	seg := task.segment

	audioData, err := d.extractor.Extract(ctx, job.SourceRef, seg.StartTime, seg.Duration)
	if err != nil {
		if ctx.Err() != nil {
			return failedResult(seg, 0, model.KindChunkTerminal, contextReason(ctx))
		}
		task.transition(StateFailedTerminal)
		task.logger.Error("Failed to extract chunk audio", "error", err)
		return failedResult(seg, 0, model.KindChunkTerminal, fmt.Sprintf("failed to extract chunk audio: %v", err))
	}

	request := &transcription.Request{
		RequestID:         uuid.NewString(),
		ChunkIndex:        seg.Index,
		AudioData:         audioData,
		AudioFileName:     fmt.Sprintf("chunk_%04d.wav", seg.Index),
		Model:             job.Model,
		Language:          job.Language,
		OutputFormat:      job.OutputFormat,
		EnableDiarization: job.Diarization,
		ChunkStartTime:    seg.StartTime,
		ChunkEndTime:      seg.EndTime,
	}
	requestTimeout := d.config.RequestTimeoutFor(job.Diarization)

	var lastErr error
	for attempt := 0; attempt < d.config.MaxAttempts; attempt++ {
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				return failedResult(seg, task.attempts, model.KindChunkTerminal, contextReason(ctx))
			}
		}

		task.attempts = attempt + 1
		task.transition(StateDispatched)
		d.metrics.RecordChunkAttempt(attempt)

		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		response, err := d.engine.Transcribe(reqCtx, request)
		cancel()
		if sem != nil {
			sem.Release(1)
		}

		if err == nil {
			task.transition(StateSucceeded)
			return response.ToChunkResult(seg, task.attempts)
		}
		lastErr = err

		if ctx.Err() != nil {
			return failedResult(seg, task.attempts, model.KindChunkTerminal, contextReason(ctx))
		}

		if !isTransient(err) {
			break
		}

		if attempt == d.config.MaxAttempts-1 {
			break
		}

		task.transition(StateFailedRetryable)
		backoff := d.config.Backoff(attempt)
		task.logger.Warn("Chunk attempt failed, retrying",
			slog.Int("attempt", task.attempts),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return failedResult(seg, task.attempts, model.KindChunkTerminal, contextReason(ctx))
		case <-timer.C:
		}
	}

	task.transition(StateFailedTerminal)
	task.logger.Error("Chunk failed",
		slog.Int("attempts", task.attempts),
		slog.String("error", lastErr.Error()))
	return failedResult(seg, task.attempts, model.KindChunkTerminal, lastErr.Error())
}

// isTransient treats typed transient errors and untyped errors (other than
// cancellation) as retryable.
func isTransient(err error) bool {
	if kind := model.KindOf(err); kind != "" {
		return kind == model.KindChunkTransient
	}
	return !errors.Is(err, context.Canceled)
}

func contextReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.Canceled) {
		return reasonCancelled
	}
	return reasonTimeout
}

func failedResult(seg model.AudioSegment, attempts int, kind model.ErrorKind, msg string) model.ChunkResult {
	return model.ChunkResult{
		ChunkIndex:   seg.Index,
		StartTime:    seg.StartTime,
		EndTime:      seg.EndTime,
		Status:       model.StatusFailed,
		Segments:     []model.Segment{},
		Attempts:     attempts,
		ErrorKind:    kind,
		ErrorMessage: msg,
	}
}
