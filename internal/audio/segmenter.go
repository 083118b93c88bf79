package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/skypro1111/chunkscribe/internal/metrics"
	"github.com/skypro1111/chunkscribe/internal/model"
)

// boundaryEpsilon is the smallest segment the segmenter will emit, in
// seconds. Cuts closer than this to a neighbour are dropped.
const boundaryEpsilon = 0.001

// SegmenterConfig contains the segmentation policy
type SegmenterConfig struct {
	UseSilence             bool
	MinSegmentLength       float64 // seconds
	MinSilenceLength       float64 // seconds
	ChunkDuration          float64 // time-based window length
	LongAudioThreshold     float64 // single silence segment longer than this is re-split
	LongAudioChunkDuration float64 // window length for that re-split
	SparsityDivisor        float64 // more than duration/divisor segments is too fragmented
	MaxSegmentLength       float64 // 0 disables subdivision of long silence spans
}

// DefaultSegmenterConfig returns the standard policy
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		UseSilence:             true,
		MinSegmentLength:       30,
		MinSilenceLength:       1,
		ChunkDuration:          60,
		LongAudioThreshold:     180,
		LongAudioChunkDuration: 180,
		SparsityDivisor:        20,
	}
}

// Segmenter splits a source into AudioSegments that tile [0, duration)
type Segmenter struct {
	prober   DurationProber
	detector SilenceDetector
	config   SegmenterConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewSegmenter creates a segmenter
func NewSegmenter(prober DurationProber, detector SilenceDetector, config SegmenterConfig, logger *slog.Logger, m *metrics.Metrics) *Segmenter {
	return &Segmenter{
		prober:   prober,
		detector: detector,
		config:   config,
		logger:   logger,
		metrics:  m,
	}
}

// Split probes ref and partitions it. Probe failure is fatal and reported as
// a segmentation error; a failed silence pass falls back to time windows.
func (s *Segmenter) Split(ctx context.Context, ref string) ([]model.AudioSegment, error) {
	duration, err := s.prober.ProbeDuration(ctx, ref)
	if err != nil {
		s.metrics.RecordSegmentationFailure()
		return nil, model.NewError(model.KindSegmentation, "failed to determine audio duration").WithCause(err)
	}

	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		s.metrics.RecordSegmentationFailure()
		return nil, model.NewError(model.KindSegmentation, fmt.Sprintf("invalid audio duration %f", duration))
	}

	logger := s.logger.With(slog.String("source", ref), slog.Float64("duration", duration))

	if duration < s.config.MinSegmentLength {
		logger.Debug("Audio shorter than minimum segment, using single segment")
		return s.finish(ref, []float64{0, duration}, model.MethodSingle, false), nil
	}

	if !s.config.UseSilence || s.detector == nil {
		return s.finish(ref, TimeBoundaries(duration, s.config.ChunkDuration), model.MethodTime, false), nil
	}

	events, err := s.detector.DetectSilence(ctx, ref, s.config.MinSilenceLength)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("Silence detection failed, falling back to time-based segmentation", "error", err)
		return s.finish(ref, TimeBoundaries(duration, s.config.ChunkDuration), model.MethodTime, true), nil
	}

	boundaries := SilenceBoundaries(events, duration, s.config.MinSegmentLength)
	count := len(boundaries) - 1

	switch {
	case count == 1 && duration > s.config.LongAudioThreshold:
		logger.Info("Silence segmentation produced one long segment, using fixed windows",
			"window", s.config.LongAudioChunkDuration)
		return s.finish(ref, TimeBoundaries(duration, s.config.LongAudioChunkDuration), model.MethodTime, true), nil
	case count == 0 || float64(count) > duration/s.config.SparsityDivisor:
		logger.Info("Silence segmentation too fragmented, using fixed windows",
			"segments", count, "window", s.config.ChunkDuration)
		return s.finish(ref, TimeBoundaries(duration, s.config.ChunkDuration), model.MethodTime, true), nil
	}

	if s.config.MaxSegmentLength > 0 {
		boundaries = SubdivideBoundaries(boundaries, s.config.MaxSegmentLength)
	}

	logger.Debug("Silence segmentation complete", "silences", len(events), "segments", len(boundaries)-1)
	return s.finish(ref, boundaries, model.MethodSilence, false), nil
}

func (s *Segmenter) finish(ref string, boundaries []float64, method model.SegmentMethod, fallback bool) []model.AudioSegment {
	segments := BuildSegments(ref, boundaries, method)

	durations := make([]float64, len(segments))
	for i, seg := range segments {
		durations[i] = seg.Duration
	}
	s.metrics.RecordSegmentation(string(method), fallback, durations)

	s.logger.Info("Audio segmented",
		slog.String("source", ref),
		slog.String("method", string(method)),
		slog.Bool("fallback", fallback),
		slog.Int("segments", len(segments)))

	return segments
}

// SilenceBoundaries returns cut points for silence-based segmentation: 0,
// every silence midpoint at least minSegmentLength after the previous cut,
// and duration. Midpoints at or beyond the end of audio are ignored.
func SilenceBoundaries(events []model.SilenceEvent, duration, minSegmentLength float64) []float64 {
	boundaries := []float64{0}
	current := 0.0

	for _, ev := range events {
		split := ev.SplitPoint()
		if split >= duration-boundaryEpsilon {
			continue
		}
		if split-current >= minSegmentLength {
			boundaries = append(boundaries, split)
			current = split
		}
	}

	return append(boundaries, duration)
}

// TimeBoundaries returns cut points for fixed windows of chunkLen seconds.
// The last window ends exactly at duration.
func TimeBoundaries(duration, chunkLen float64) []float64 {
	boundaries := []float64{0}
	for i := 1; ; i++ {
		cut := float64(i) * chunkLen
		if cut >= duration-boundaryEpsilon {
			break
		}
		boundaries = append(boundaries, cut)
	}
	return append(boundaries, duration)
}

// SubdivideBoundaries splits every span longer than maxLength into equal parts.
func SubdivideBoundaries(boundaries []float64, maxLength float64) []float64 {
	if len(boundaries) < 2 {
		return boundaries
	}

	expanded := make([]float64, 0, len(boundaries))
	for i := 0; i < len(boundaries)-1; i++ {
		start, end := boundaries[i], boundaries[i+1]
		expanded = append(expanded, start)

		span := end - start
		if span > maxLength {
			parts := int(math.Ceil(span / maxLength))
			step := span / float64(parts)
			for j := 1; j < parts; j++ {
				expanded = append(expanded, start+step*float64(j))
			}
		}
	}

	return append(expanded, boundaries[len(boundaries)-1])
}

// BuildSegments turns consecutive boundaries into segments. Adjacent
// segments share the boundary value, so they tile without gaps.
func BuildSegments(ref string, boundaries []float64, method model.SegmentMethod) []model.AudioSegment {
	if len(boundaries) < 2 {
		return nil
	}

	segments := make([]model.AudioSegment, 0, len(boundaries)-1)
	for i := 0; i < len(boundaries)-1; i++ {
		start, end := boundaries[i], boundaries[i+1]
		segments = append(segments, model.AudioSegment{
			Index:     i,
			StartTime: start,
			EndTime:   end,
			Duration:  end - start,
			SourceRef: ref,
			Method:    method,
		})
	}
	return segments
}
