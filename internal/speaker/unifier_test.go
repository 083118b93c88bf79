package speaker

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/chunkscribe/internal/metrics"
	"github.com/skypro1111/chunkscribe/internal/model"
)

type stubExtractor struct{}

func (stubExtractor) Extract(ctx context.Context, ref string, start, duration float64) ([]byte, error) {
	return []byte("RIFF"), nil
}

// stubEmbedder returns the vector registered for the span's start time.
type stubEmbedder struct {
	mu      sync.Mutex
	vectors map[float64][]float64
	err     error
	calls   int
}

func (s *stubEmbedder) Embed(ctx context.Context, audio []byte, span model.TimeRange) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.vectors[span.Start]
	if !ok {
		return nil, errors.New("no speech")
	}
	return v, nil
}

func labelled(chunk int, start, end float64, label string) model.Segment {
	return model.Segment{
		Start:        start,
		End:          end,
		Text:         "words",
		LocalSpeaker: label,
		Speaker:      model.PendingSpeakerKey(chunk, label),
		ChunkIndex:   chunk,
	}
}

// twoSpeakerTranscript has speakers A and B in both chunks; chunk 1's
// embeddings are 0.05 away from chunk 0's.
func twoSpeakerTranscript() (*model.MergedTranscript, map[float64][]float64) {
	shift := math.Acos(1 - 0.05)
	transcript := &model.MergedTranscript{Segments: []model.Segment{
		labelled(0, 0, 10, "A"),
		labelled(0, 10, 20, "B"),
		labelled(1, 60, 70, "A"),
		labelled(1, 70, 80, "B"),
		{Start: 80, End: 81, Text: "?", Speaker: model.UnknownSpeaker, ChunkIndex: 1},
	}}
	vectors := map[float64][]float64{
		0:  rotate(0),
		10: rotate(math.Pi / 2),
		60: rotate(shift),
		70: rotate(math.Pi/2 - shift),
	}
	return transcript, vectors
}

func newTestUnifier(embedder Embedder, store *Store) *Unifier {
	return NewUnifier(embedder, stubExtractor{}, store, DefaultConfig(), discardLogger(),
		metrics.NewMetricsWith(prometheus.NewRegistry()))
}

func TestUnifyMergesSameSpeakersAcrossChunks(t *testing.T) {
	transcript, vectors := twoSpeakerTranscript()
	u := newTestUnifier(&stubEmbedder{vectors: vectors}, nil)

	result, err := u.Unify(context.Background(), "ep.mp3", transcript)
	require.NoError(t, err)

	assert.False(t, result.Unavailable)
	assert.Equal(t, 4, result.Instances)
	assert.Equal(t, 2, result.Clusters)
	assert.Len(t, result.Mapping, 4)
	assert.Equal(t, result.Mapping["chunk_0_A"], result.Mapping["chunk_1_A"])
	assert.Equal(t, result.Mapping["chunk_0_B"], result.Mapping["chunk_1_B"])
	assert.NotEqual(t, result.Mapping["chunk_0_A"], result.Mapping["chunk_0_B"])
	assert.Equal(t, "SPEAKER_GLOBAL_001", result.Mapping["chunk_0_A"])
	assert.Equal(t, "SPEAKER_GLOBAL_002", result.Mapping["chunk_0_B"])
	assert.False(t, result.Persisted)
}

func TestUnifyWithoutEmbedderDegrades(t *testing.T) {
	transcript, _ := twoSpeakerTranscript()
	u := newTestUnifier(nil, nil)

	result, err := u.Unify(context.Background(), "ep.mp3", transcript)
	require.NoError(t, err)
	assert.True(t, result.Unavailable)
	assert.Empty(t, result.Mapping)
}

func TestUnifyUnreachableEmbedderDegrades(t *testing.T) {
	transcript, _ := twoSpeakerTranscript()
	embedder := &stubEmbedder{err: model.NewError(model.KindUnificationUnavailable, "embedding extractor returned 503")}
	u := newTestUnifier(embedder, nil)

	result, err := u.Unify(context.Background(), "ep.mp3", transcript)
	require.NoError(t, err)
	assert.True(t, result.Unavailable)
	assert.Contains(t, result.Reason, "503")
	assert.Empty(t, result.Mapping)
}

func TestUnifyFailingExtractorDegrades(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "internal error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "hung",
			handler: func(w http.ResponseWriter, r *http.Request) {
				<-r.Context().Done()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			embedder, err := NewHTTPEmbedder(server.URL, "", discardLogger(), nil)
			require.NoError(t, err)
			config := DefaultConfig()
			config.RequestTimeout = 50 * time.Millisecond
			u := NewUnifier(embedder, stubExtractor{}, nil, config, discardLogger(), nil)

			transcript, _ := twoSpeakerTranscript()
			result, err := u.Unify(context.Background(), "ep.mp3", transcript)
			require.NoError(t, err)
			assert.True(t, result.Unavailable)
			assert.Equal(t, 0, result.Embedded)
			assert.Empty(t, result.Mapping)
		})
	}
}

func TestUnifyCorruptStoreUsesLocalIDs(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0755))
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0644))

	transcript, vectors := twoSpeakerTranscript()
	result, err := newTestUnifier(&stubEmbedder{vectors: vectors}, store).Unify(context.Background(), "ep.mp3", transcript)
	require.NoError(t, err)

	assert.False(t, result.Persisted)
	assert.Equal(t, "SPEAKER_LOCAL_001", result.Mapping["chunk_0_A"])
	assert.Equal(t, "SPEAKER_LOCAL_002", result.Mapping["chunk_0_B"])
	assert.Equal(t, result.Mapping["chunk_0_A"], result.Mapping["chunk_1_A"])
}

func TestUnifySkipsSpeakersWithoutEmbedding(t *testing.T) {
	transcript, vectors := twoSpeakerTranscript()
	delete(vectors, 70)
	u := newTestUnifier(&stubEmbedder{vectors: vectors}, nil)

	result, err := u.Unify(context.Background(), "ep.mp3", transcript)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Embedded)
	assert.NotContains(t, result.Mapping, "chunk_1_B")
}

func TestUnifyNoLabelledSpeakers(t *testing.T) {
	embedder := &stubEmbedder{}
	u := newTestUnifier(embedder, nil)

	result, err := u.Unify(context.Background(), "ep.mp3", &model.MergedTranscript{Segments: []model.Segment{
		{Start: 0, End: 1, Text: "x", Speaker: model.UnknownSpeaker},
	}})
	require.NoError(t, err)
	assert.Empty(t, result.Mapping)
	assert.False(t, result.Unavailable)
	assert.Equal(t, 0, embedder.calls)
}

func TestUnifyReusesKnownSpeakersAcrossRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	transcript, vectors := twoSpeakerTranscript()
	first, err := newTestUnifier(&stubEmbedder{vectors: vectors}, store).Unify(ctx, "ep1.mp3", transcript)
	require.NoError(t, err)
	assert.True(t, first.Persisted)
	assert.Equal(t, 2, first.NewSpeakers)

	transcript, vectors = twoSpeakerTranscript()
	second, err := newTestUnifier(&stubEmbedder{vectors: vectors}, store).Unify(ctx, "ep2.mp3", transcript)
	require.NoError(t, err)
	assert.Equal(t, 2, second.MatchedSpeakers)
	assert.Equal(t, 0, second.NewSpeakers)
	assert.Equal(t, first.Mapping["chunk_0_A"], second.Mapping["chunk_0_A"])
	assert.Equal(t, first.Mapping["chunk_0_B"], second.Mapping["chunk_0_B"])

	doc, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.SpeakerCounter)
	p := doc.Speakers[first.Mapping["chunk_0_A"]]
	assert.Equal(t, 2, p.SampleCount)
	assert.Equal(t, []string{"ep1.mp3", "ep2.mp3"}, p.SourceFiles)
}

func TestUnifyNewSpeakersContinueStoreCounter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Update(ctx, func(doc *Document) error {
		doc.SpeakerCounter = 7
		return nil
	}))

	transcript, vectors := twoSpeakerTranscript()
	result, err := newTestUnifier(&stubEmbedder{vectors: vectors}, store).Unify(ctx, "ep.mp3", transcript)
	require.NoError(t, err)
	assert.Equal(t, "SPEAKER_GLOBAL_008", result.Mapping["chunk_0_A"])
	assert.Equal(t, "SPEAKER_GLOBAL_009", result.Mapping["chunk_0_B"])
}

func TestPickSamples(t *testing.T) {
	spans := []model.TimeRange{
		{Start: 0, End: 0.2},
		{Start: 1, End: 4},
		{Start: 5, End: 6},
		{Start: 7, End: 12},
		{Start: 13, End: 15},
	}

	got := pickSamples(spans, 3, 0.5)
	assert.Equal(t, []model.TimeRange{{Start: 7, End: 12}, {Start: 1, End: 4}, {Start: 13, End: 15}}, got)

	short := []model.TimeRange{{Start: 0, End: 0.1}, {Start: 1, End: 1.3}}
	assert.Equal(t, []model.TimeRange{{Start: 1, End: 1.3}}, pickSamples(short, 3, 0.5))
	assert.Empty(t, pickSamples(nil, 3, 0.5))
}
