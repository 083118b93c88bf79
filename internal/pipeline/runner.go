package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/chunkscribe/internal/dispatch"
	"github.com/skypro1111/chunkscribe/internal/merge"
	"github.com/skypro1111/chunkscribe/internal/model"
	"github.com/skypro1111/chunkscribe/internal/output"
	"github.com/skypro1111/chunkscribe/internal/speaker"
)

// Segmenter splits a source into chunks
type Segmenter interface {
	Split(ctx context.Context, ref string) ([]model.AudioSegment, error)
}

// Dispatcher transcribes chunks
type Dispatcher interface {
	Dispatch(ctx context.Context, job dispatch.Job, segments []model.AudioSegment) ([]model.ChunkResult, error)
}

// Unifier resolves chunk-local speakers to global ids
type Unifier interface {
	Unify(ctx context.Context, sourceRef string, transcript *model.MergedTranscript) (*speaker.Result, error)
}

// Request describes one transcription
type Request struct {
	AudioPath    string `json:"audio_path"`
	Model        string `json:"model,omitempty"`
	Language     string `json:"language,omitempty"`
	Diarization  bool   `json:"diarization"`
	OutputFormat string `json:"output_format,omitempty"`
}

// Timings records how long each stage took
type Timings struct {
	Segmentation time.Duration `json:"segmentation"`
	Dispatch     time.Duration `json:"dispatch"`
	Unification  time.Duration `json:"unification"`
	Total        time.Duration `json:"total"`
}

// Result is everything a run produced
type Result struct {
	JobID       string                  `json:"job_id"`
	Chunks      int                     `json:"chunks"`
	Transcript  *model.MergedTranscript `json:"-"`
	Unification *speaker.Result         `json:"unification,omitempty"`
	Output      *output.Output          `json:"output"`
	Timings     Timings                 `json:"timings"`
}

// RunnerConfig holds per-run defaults
type RunnerConfig struct {
	Model        string
	OutputFormat string
}

// Runner wires the stages of one run together
type Runner struct {
	segmenter  Segmenter
	dispatcher Dispatcher
	merger     *merge.Merger
	unifier    Unifier
	config     RunnerConfig
	logger     *slog.Logger
}

// NewRunner creates a runner. unifier may be nil, in which case speakers
// keep chunk-qualified labels.
func NewRunner(segmenter Segmenter, dispatcher Dispatcher, unifier Unifier, config RunnerConfig, logger *slog.Logger) *Runner {
	return &Runner{
		segmenter:  segmenter,
		dispatcher: dispatcher,
		merger:     merge.New(logger),
		unifier:    unifier,
		config:     config,
		logger:     logger,
	}
}

// Run transcribes req.AudioPath. It fails only when segmentation fails,
// when every chunk failed, or when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, jobID string, req Request) (*Result, error) {
	started := time.Now()
	logger := r.logger.With(slog.String("job_id", jobID), slog.String("audio", req.AudioPath))
	result := &Result{JobID: jobID}

	if req.Model == "" {
		req.Model = r.config.Model
	}
	if req.OutputFormat == "" {
		req.OutputFormat = r.config.OutputFormat
	}

	logger.Info("Starting transcription",
		slog.String("model", req.Model),
		slog.String("language", req.Language),
		slog.Bool("diarization", req.Diarization))

	stage := time.Now()
	segments, err := r.segmenter.Split(ctx, req.AudioPath)
	if err != nil {
		return nil, err
	}
	result.Chunks = len(segments)
	result.Timings.Segmentation = time.Since(stage)

	stage = time.Now()
	results, err := r.dispatcher.Dispatch(ctx, dispatch.Job{
		ID:           jobID,
		SourceRef:    req.AudioPath,
		Model:        req.Model,
		Language:     req.Language,
		OutputFormat: req.OutputFormat,
		Diarization:  req.Diarization,
	}, segments)
	if err != nil {
		return nil, fmt.Errorf("dispatch failed: %w", err)
	}
	result.Timings.Dispatch = time.Since(stage)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	transcript, err := r.merger.Merge(results)
	if err != nil {
		return nil, err
	}
	result.Transcript = transcript

	if req.Diarization {
		stage = time.Now()
		if err := r.unify(ctx, logger, req.AudioPath, result); err != nil {
			return nil, err
		}
		result.Timings.Unification = time.Since(stage)
	}

	result.Output = output.Synthesize(transcript, output.Options{Diarization: req.Diarization})
	result.Timings.Total = time.Since(started)

	logger.Info("Transcription completed",
		slog.Int("chunks_processed", transcript.ChunksProcessed),
		slog.Int("chunks_failed", transcript.ChunksFailed),
		slog.Int("segments", result.Output.Stats.OutputSegments),
		slog.Int("speakers", result.Output.Stats.SpeakerCount),
		slog.Duration("elapsed", result.Timings.Total))

	return result, nil
}

// unify rewrites pending speaker keys. Any outcome short of cancellation
// leaves the transcript with usable labels.
func (r *Runner) unify(ctx context.Context, logger *slog.Logger, sourceRef string, result *Result) error {
	transcript := result.Transcript
	if r.unifier == nil {
		merge.QualifyChunkSpeakers(transcript)
		return nil
	}

	unification, err := r.unifier.Unify(ctx, sourceRef, transcript)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error("Speaker unification failed, keeping chunk labels", "error", err)
		merge.QualifyChunkSpeakers(transcript)
		return nil
	}
	result.Unification = unification

	if unification.Unavailable || len(unification.Mapping) == 0 {
		merge.QualifyChunkSpeakers(transcript)
		return nil
	}
	merge.ApplySpeakerMapping(transcript, unification.Mapping)
	return nil
}
