// Command mock-engine serves fake ASR and embedding endpoints for local runs.
package main

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/chunkscribe/internal/audio"
	"github.com/skypro1111/chunkscribe/internal/transcription"
)

const embeddingDims = 16

type mockServer struct {
	logger  *slog.Logger
	delay   time.Duration
	segment float64
}

func (s *mockServer) transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req transcription.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error parsing request", http.StatusBadRequest)
		return
	}

	s.logger.Info("Transcription request received",
		slog.String("request_id", req.RequestID),
		slog.Int("chunk_index", req.ChunkIndex),
		slog.Float64("chunk_start", req.ChunkStartTime),
		slog.Float64("chunk_end", req.ChunkEndTime),
		slog.Int("audio_size", len(req.AudioData)),
		slog.Bool("diarization", req.EnableDiarization),
	)

	time.Sleep(s.delay)

	duration := req.ChunkEndTime - req.ChunkStartTime
	if info, err := audio.GetWAVInfo(req.AudioData); err == nil {
		duration = info.Duration
	}

	resp := transcription.Response{
		ProcessingStatus: "success",
		LanguageDetected: "uk",
		AudioDuration:    duration,
		ModelUsed:        req.Model,
	}
	for i, start := 0, 0.0; start < duration; i, start = i+1, start+s.segment {
		seg := transcription.Segment{
			Start: start,
			End:   math.Min(start+s.segment, duration),
			Text:  fmt.Sprintf("chunk %d segment %d", req.ChunkIndex, i),
		}
		if req.EnableDiarization {
			seg.Speaker = fmt.Sprintf("SPEAKER_%02d", i%2)
		}
		resp.Segments = append(resp.Segments, seg)
		if resp.Text != "" {
			resp.Text += " "
		}
		resp.Text += seg.Text
	}

	writeJSON(w, resp)
}

// embedHandler returns a unit vector derived from the audio bytes so equal
// inputs embed identically.
func (s *mockServer) embedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		AudioFileData string  `json:"audio_file_data"`
		Start         float64 `json:"start"`
		End           float64 `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error parsing request", http.StatusBadRequest)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.AudioFileData)
	if err != nil {
		http.Error(w, "Invalid audio_file_data", http.StatusBadRequest)
		return
	}

	sum := sha256.Sum256(data)
	vec := make([]float64, embeddingDims)
	var norm float64
	for i := range vec {
		vec[i] = float64(sum[i]) - 127.5
		norm += vec[i] * vec[i]
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}

	s.logger.Debug("Embedding request received",
		slog.Float64("start", req.Start),
		slog.Float64("end", req.End),
		slog.Int("audio_size", len(data)),
	)

	writeJSON(w, map[string]any{"embedding": vec})
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

func main() {
	var (
		port    int
		delay   time.Duration
		segment float64
	)

	rootCmd := &cobra.Command{
		Use:   "mock-engine",
		Short: "Fake ASR and speaker embedding server for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if segment <= 0 {
				return fmt.Errorf("segment length must be positive")
			}
			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
			s := &mockServer{logger: logger, delay: delay, segment: segment}

			mux := http.NewServeMux()
			mux.HandleFunc("/transcribe", s.transcribeHandler)
			mux.HandleFunc("/embed", s.embedHandler)

			addr := fmt.Sprintf(":%d", port)
			logger.Info("Mock engine starting",
				slog.String("transcribe", fmt.Sprintf("http://localhost%s/transcribe", addr)),
				slog.String("embed", fmt.Sprintf("http://localhost%s/embed", addr)),
			)
			return http.ListenAndServe(addr, mux)
		},
	}

	rootCmd.Flags().IntVar(&port, "port", 9000, "Listen port")
	rootCmd.Flags().DurationVar(&delay, "delay", 200*time.Millisecond, "Simulated processing time per chunk")
	rootCmd.Flags().Float64Var(&segment, "segment", 5, "Length of generated segments in seconds")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
