package merge

import (
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/chunkscribe/internal/model"
)

func newMerger() *Merger {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func success(index int, start, end float64, lang string, segs ...model.Segment) model.ChunkResult {
	text := ""
	for _, s := range segs {
		text += s.Text + " "
	}
	return model.ChunkResult{
		ChunkIndex:       index,
		StartTime:        start,
		EndTime:          end,
		Status:           model.StatusSuccess,
		Text:             text,
		Segments:         segs,
		LanguageDetected: lang,
		ModelUsed:        "turbo",
		Attempts:         1,
	}
}

func failed(index int, start, end float64, msg string) model.ChunkResult {
	return model.ChunkResult{
		ChunkIndex:   index,
		StartTime:    start,
		EndTime:      end,
		Status:       model.StatusFailed,
		Attempts:     3,
		ErrorKind:    model.KindChunkTerminal,
		ErrorMessage: msg,
	}
}

func seg(start, end float64, text, speaker string) model.Segment {
	return model.Segment{Start: start, End: end, Text: text, LocalSpeaker: speaker}
}

func TestMergeOffsetsSegmentsOntoGlobalTimeline(t *testing.T) {
	results := []model.ChunkResult{
		success(1, 60, 120, "en", seg(0, 5, "second", "SPEAKER_00")),
		success(0, 0, 60, "en", seg(2, 4, "first", "")),
	}

	merged, err := newMerger().Merge(results)
	require.NoError(t, err)
	require.Len(t, merged.Segments, 2)

	assert.Equal(t, 2.0, merged.Segments[0].Start)
	assert.Equal(t, model.UnknownSpeaker, merged.Segments[0].Speaker)
	assert.Equal(t, 0, merged.Segments[0].ChunkIndex)

	assert.Equal(t, 60.0, merged.Segments[1].Start)
	assert.Equal(t, 65.0, merged.Segments[1].End)
	assert.Equal(t, "chunk_1_SPEAKER_00", merged.Segments[1].Speaker)

	assert.Equal(t, "first second", merged.FullText)
	assert.Equal(t, 2, merged.ChunksProcessed)
	assert.Equal(t, 0, merged.ChunksFailed)
	assert.Equal(t, 120.0, merged.AudioDuration)
	assert.Equal(t, "turbo", merged.ModelUsed)
	assert.Equal(t, 1, merged.SpeakerCount)
}

func TestMergeOrderingHoldsForAnyCompletionOrder(t *testing.T) {
	var results []model.ChunkResult
	for i := 0; i < 8; i++ {
		start := float64(i * 30)
		results = append(results, success(i, start, start+30, "en",
			seg(20, 25, "late", "A"),
			seg(1, 10, "early", "B"),
		))
	}

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		shuffled := append([]model.ChunkResult(nil), results...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		merged, err := newMerger().Merge(shuffled)
		require.NoError(t, err)
		require.Len(t, merged.Segments, 16)
		for i := 1; i < len(merged.Segments); i++ {
			assert.LessOrEqual(t, merged.Segments[i-1].Start, merged.Segments[i].Start)
		}
	}
}

func TestMergePartialFailure(t *testing.T) {
	results := []model.ChunkResult{
		failed(2, 120, 180, "HTTP error 503: busy"),
		success(0, 0, 60, "en", seg(0, 3, "hello", "")),
		success(1, 60, 120, "en", seg(0, 3, "world", "")),
	}

	merged, err := newMerger().Merge(results)
	require.NoError(t, err)
	assert.Equal(t, 2, merged.ChunksProcessed)
	assert.Equal(t, 1, merged.ChunksFailed)
	require.Len(t, merged.Failures, 1)
	assert.Equal(t, 2, merged.Failures[0].ChunkIndex)
	assert.Equal(t, "hello world", merged.FullText)
	for _, s := range merged.Segments {
		assert.NotEqual(t, 2, s.ChunkIndex)
	}
}

func TestMergeNeverCountsAChunkTwice(t *testing.T) {
	results := []model.ChunkResult{
		failed(0, 0, 60, "timeout"),
		success(0, 0, 60, "en", seg(0, 3, "retried", "")),
		success(0, 0, 60, "en", seg(0, 3, "retried", "")),
		success(1, 60, 120, "en", seg(0, 3, "next", "")),
	}

	merged, err := newMerger().Merge(results)
	require.NoError(t, err)
	assert.Equal(t, 2, merged.ChunksProcessed)
	assert.Equal(t, 0, merged.ChunksFailed)
	assert.Len(t, merged.Segments, 2)
	assert.Equal(t, "retried next", merged.FullText)
}

func TestMergeAllChunksFailed(t *testing.T) {
	results := []model.ChunkResult{
		failed(1, 60, 120, "timeout"),
		failed(0, 0, 60, "HTTP error 500"),
	}

	merged, err := newMerger().Merge(results)
	assert.Nil(t, merged)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindAllChunksFailed))
	assert.Contains(t, err.Error(), "chunk 0: HTTP error 500")
	assert.Contains(t, err.Error(), "chunk 1: timeout")

	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Failures, 2)
}

func TestModeLanguage(t *testing.T) {
	tests := []struct {
		name      string
		languages []string
		want      string
	}{
		{"empty", nil, ""},
		{"majority", []string{"uk", "en", "en"}, "en"},
		{"tie keeps first seen", []string{"uk", "en", "en", "uk"}, "uk"},
		{"single", []string{"de"}, "de"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, modeLanguage(tt.languages))
		})
	}
}

func TestApplySpeakerMapping(t *testing.T) {
	merged, err := newMerger().Merge([]model.ChunkResult{
		success(0, 0, 60, "en", seg(0, 3, "a", "A"), seg(4, 6, "b", "B"), seg(7, 8, "?", "")),
		success(1, 60, 120, "en", seg(0, 3, "a again", "A")),
	})
	require.NoError(t, err)

	ApplySpeakerMapping(merged, map[string]string{
		"chunk_0_A": "SPEAKER_GLOBAL_001",
		"chunk_1_A": "SPEAKER_GLOBAL_001",
	})

	speakers := []string{}
	for _, s := range merged.Segments {
		speakers = append(speakers, s.Speaker)
	}
	assert.Equal(t, []string{
		"SPEAKER_GLOBAL_001",
		"SPEAKER_UNMATCHED_0_B",
		model.UnknownSpeaker,
		"SPEAKER_GLOBAL_001",
	}, speakers)
	assert.Equal(t, 2, merged.SpeakerCount)
}

func TestQualifyChunkSpeakers(t *testing.T) {
	merged, err := newMerger().Merge([]model.ChunkResult{
		success(0, 0, 60, "en", seg(0, 3, "a", "SPEAKER_00")),
		success(1, 60, 120, "en", seg(0, 3, "b", "SPEAKER_00"), seg(4, 5, "c", "")),
	})
	require.NoError(t, err)

	QualifyChunkSpeakers(merged)
	assert.Equal(t, "SPEAKER_CHUNK_0_SPEAKER_00", merged.Segments[0].Speaker)
	assert.Equal(t, "SPEAKER_CHUNK_1_SPEAKER_00", merged.Segments[1].Speaker)
	assert.Equal(t, model.UnknownSpeaker, merged.Segments[2].Speaker)
	assert.Equal(t, 2, merged.SpeakerCount)
}
