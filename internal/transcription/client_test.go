package transcription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/chunkscribe/internal/model"
)

func newRequest() *Request {
	return &Request{
		RequestID:         "req-1",
		AudioData:         []byte("RIFF....WAVE"),
		AudioFileName:     "chunk_0001.wav",
		Model:             "turbo",
		Language:          "en",
		OutputFormat:      "json",
		EnableDiarization: true,
		ChunkStartTime:    60,
		ChunkEndTime:      120,
	}
}

func TestRequestJSONRoundTripCarriesAudio(t *testing.T) {
	data, err := json.Marshal(newRequest())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "UklGRi4uLi5XQVZF", raw["audio_file_data"])
	assert.Equal(t, "turbo", raw["model_size"])
	assert.Equal(t, true, raw["enable_speaker_diarization"])

	var decoded Request
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *newRequest(), decoded)
}

func TestClientTranscribeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "req-1", r.Header.Get("Idempotency-Key"))

		var req Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []byte("RIFF....WAVE"), req.AudioData)

		json.NewEncoder(w).Encode(Response{
			ProcessingStatus: ProcessingSuccess,
			Text:             "hello there",
			Segments: []Segment{
				{Start: 0.5, End: 1.5, Text: "hello", Speaker: "SPEAKER_00"},
				{Start: 2, End: 3, Text: "there"},
			},
			LanguageDetected: "en",
			ModelUsed:        "turbo",
			AudioDuration:    60,
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL, APIKey: "secret"})
	require.NoError(t, err)

	resp, err := client.Transcribe(context.Background(), newRequest())
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	require.Len(t, resp.Segments, 2)

	chunk := model.AudioSegment{Index: 1, StartTime: 60, EndTime: 120}
	result := resp.ToChunkResult(chunk, 2)
	assert.Equal(t, model.StatusSuccess, result.Status)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, "SPEAKER_00", result.Segments[0].LocalSpeaker)
	assert.Equal(t, 1, result.Segments[1].ChunkIndex)
	assert.Equal(t, 0.5, result.Segments[0].Start, "segment times stay chunk-relative")

	stats := client.GetStats()
	assert.Equal(t, uint64(1), stats.SuccessRequests)
	assert.Equal(t, 0, stats.ActiveRequests)
}

func TestClientErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		kind    model.ErrorKind
	}{
		{
			name: "server error is transient",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "GPU out of memory", http.StatusInternalServerError)
			},
			kind: model.KindChunkTransient,
		},
		{
			name: "rejected request is transient",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "slow down", http.StatusTooManyRequests)
			},
			kind: model.KindChunkTransient,
		},
		{
			name: "engine-reported failure is terminal",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(Response{ProcessingStatus: ProcessingFailed, ErrorMessage: "unsupported codec"})
			},
			kind: model.KindChunkTerminal,
		},
		{
			name: "garbage body is terminal",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>"))
			},
			kind: model.KindChunkTerminal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client, err := NewClient(Config{Endpoint: server.URL})
			require.NoError(t, err)

			_, err = client.Transcribe(context.Background(), newRequest())
			require.Error(t, err)
			assert.Equal(t, tt.kind, model.KindOf(err))
		})
	}
}

func TestClientTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, err := NewClient(Config{Endpoint: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Transcribe(ctx, newRequest())
	require.Error(t, err)
	assert.True(t, model.IsRetryable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(1), client.GetStats().TransientFailures)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}
