package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/chunkscribe/internal/metrics"
	"github.com/skypro1111/chunkscribe/internal/model"
)

type fakeSource struct {
	duration float64
	probeErr error
	events   []model.SilenceEvent
	err      error
}

func (f *fakeSource) ProbeDuration(ctx context.Context, ref string) (float64, error) {
	return f.duration, f.probeErr
}

func (f *fakeSource) DetectSilence(ctx context.Context, ref string, minSilence float64) ([]model.SilenceEvent, error) {
	return f.events, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSegmenter(src *fakeSource) *Segmenter {
	return NewSegmenter(src, src, DefaultSegmenterConfig(), discardLogger(), metrics.NewMetricsWith(prometheus.NewRegistry()))
}

func assertTiles(t *testing.T, segments []model.AudioSegment, duration float64) {
	t.Helper()
	require.NotEmpty(t, segments)
	assert.Equal(t, 0.0, segments[0].StartTime)
	assert.Equal(t, duration, segments[len(segments)-1].EndTime)
	for i, seg := range segments {
		assert.Equal(t, i, seg.Index)
		assert.Greater(t, seg.EndTime, seg.StartTime, "segment %d is empty", i)
		assert.InDelta(t, seg.EndTime-seg.StartTime, seg.Duration, 1e-9)
		if i > 0 {
			assert.Equal(t, segments[i-1].EndTime, seg.StartTime, "gap or overlap before segment %d", i)
		}
	}
}

func TestSplitShortAudioIsSingleSegment(t *testing.T) {
	segments, err := newTestSegmenter(&fakeSource{duration: 12.5}).Split(context.Background(), "short.wav")
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, model.MethodSingle, segments[0].Method)
	assert.Equal(t, "short.wav", segments[0].SourceRef)
	assertTiles(t, segments, 12.5)
}

func TestSplitBySilence(t *testing.T) {
	src := &fakeSource{
		duration: 200,
		events: []model.SilenceEvent{
			{End: 11, Duration: 2},    // midpoint 10, too early
			{End: 41, Duration: 2},    // 40
			{End: 61, Duration: 2},    // 60, only 20s after the last cut
			{End: 101, Duration: 2},   // 100
			{End: 150.5, Duration: 1}, // 150
		},
	}

	segments, err := newTestSegmenter(src).Split(context.Background(), "talk.wav")
	require.NoError(t, err)
	require.Len(t, segments, 4)
	assertTiles(t, segments, 200)

	assert.Equal(t, 40.0, segments[1].StartTime)
	assert.Equal(t, 100.0, segments[2].StartTime)
	assert.Equal(t, 150.0, segments[3].StartTime)
	for _, seg := range segments {
		assert.Equal(t, model.MethodSilence, seg.Method)
	}
}

func TestSplitOneLongSilenceSegmentFallsBackTo180sWindows(t *testing.T) {
	// A 190s file where silence detection finds nothing usable.
	src := &fakeSource{duration: 190, events: []model.SilenceEvent{{End: 5, Duration: 1}}}

	segments, err := newTestSegmenter(src).Split(context.Background(), "long.wav")
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assertTiles(t, segments, 190)

	assert.Equal(t, 180.0, segments[0].Duration)
	assert.InDelta(t, 10.0, segments[1].Duration, 1e-9)
	assert.Equal(t, model.MethodTime, segments[0].Method)
}

func TestSplitFragmentedFallsBackToChunkDuration(t *testing.T) {
	// Cuts every 30s give 4 segments; a divisor of 40 caps it at 3.
	src := &fakeSource{duration: 120}
	for split := 30.0; split < 120; split += 30 {
		src.events = append(src.events, model.SilenceEvent{End: split + 0.5, Duration: 1})
	}

	seg := newTestSegmenter(src)
	seg.config.SparsityDivisor = 40

	segments, err := seg.Split(context.Background(), "choppy.wav")
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assertTiles(t, segments, 120)
	assert.Equal(t, model.MethodTime, segments[0].Method)
	assert.Equal(t, 60.0, segments[0].Duration)
}

func TestSplitSilenceFailureFallsBackToTime(t *testing.T) {
	src := &fakeSource{duration: 150, err: errors.New("ffmpeg exited 1")}

	segments, err := newTestSegmenter(src).Split(context.Background(), "broken.mp3")
	require.NoError(t, err)
	assertTiles(t, segments, 150)
	assert.Len(t, segments, 3)
	assert.Equal(t, model.MethodTime, segments[2].Method)
	assert.Equal(t, 30.0, segments[2].Duration)
}

func TestSplitProbeFailureIsSegmentationError(t *testing.T) {
	_, err := newTestSegmenter(&fakeSource{probeErr: errors.New("no such file")}).Split(context.Background(), "missing.wav")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindSegmentation))

	_, err = newTestSegmenter(&fakeSource{duration: 0}).Split(context.Background(), "empty.wav")
	assert.True(t, model.IsKind(err, model.KindSegmentation))
}

func TestSplitIgnoresSilenceAtEnd(t *testing.T) {
	src := &fakeSource{
		duration: 100,
		events:   []model.SilenceEvent{{End: 50.5, Duration: 1}, {End: 100, Duration: 0.0005}},
	}

	segments, err := newTestSegmenter(src).Split(context.Background(), "tail.wav")
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assertTiles(t, segments, 100)
}

func TestSplitSubdividesLongSpans(t *testing.T) {
	src := &fakeSource{
		duration: 300,
		events:   []model.SilenceEvent{{End: 40.5, Duration: 1}, {End: 240.5, Duration: 1}},
	}

	seg := newTestSegmenter(src)
	seg.config.MaxSegmentLength = 120

	segments, err := seg.Split(context.Background(), "lecture.wav")
	require.NoError(t, err)
	assertTiles(t, segments, 300)
	// [0,40) [40,140) [140,240) [240,300)
	require.Len(t, segments, 4)
	assert.Equal(t, 140.0, segments[2].StartTime)
}

func TestBoundariesTileForAnyDuration(t *testing.T) {
	for _, duration := range []float64{30, 59.999, 60, 61, 179.3, 180, 180.0004, 360, 1234.567, 7200.25} {
		for _, window := range []float64{60, 180} {
			b := TimeBoundaries(duration, window)
			segments := BuildSegments("x", b, model.MethodTime)
			assertTiles(t, segments, duration)
			assert.Equal(t, int(math.Ceil(duration/window-boundaryEpsilon/window)), len(segments),
				"duration %f window %f", duration, window)
		}

		events := make([]model.SilenceEvent, 0)
		for at := 7.0; at < duration+10; at += 13.7 {
			events = append(events, model.SilenceEvent{End: at, Duration: 1.2})
		}
		segments := BuildSegments("x", SilenceBoundaries(events, duration, 30), model.MethodSilence)
		assertTiles(t, segments, duration)
	}
}
