package transcription

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/skypro1111/chunkscribe/internal/model"
)

// Engine transcribes one chunk of audio.
type Engine interface {
	Transcribe(ctx context.Context, req *Request) (*Response, error)
}

// Request is the chunk transport payload. AudioData travels base64-encoded.
type Request struct {
	RequestID         string  `json:"request_id"`
	ChunkIndex        int     `json:"chunk_index"`
	AudioData         []byte  `json:"-"`
	AudioFileName     string  `json:"audio_file_name"`
	Model             string  `json:"model_size"`
	Language          string  `json:"language,omitempty"`
	OutputFormat      string  `json:"output_format"`
	EnableDiarization bool    `json:"enable_speaker_diarization"`
	ChunkStartTime    float64 `json:"chunk_start_time"`
	ChunkEndTime      float64 `json:"chunk_end_time"`
}

type plainRequest Request

// MarshalJSON includes the audio as base64.
func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		plainRequest
		AudioFileData string `json:"audio_file_data"`
	}{
		plainRequest:  plainRequest(r),
		AudioFileData: base64.StdEncoding.EncodeToString(r.AudioData),
	})
}

// UnmarshalJSON decodes the base64 audio back into AudioData.
func (r *Request) UnmarshalJSON(data []byte) error {
	var w struct {
		plainRequest
		AudioFileData string `json:"audio_file_data"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	audio, err := base64.StdEncoding.DecodeString(w.AudioFileData)
	if err != nil {
		return fmt.Errorf("invalid audio_file_data: %w", err)
	}
	*r = Request(w.plainRequest)
	r.AudioData = audio
	return nil
}

// Processing statuses reported by the engine.
const (
	ProcessingSuccess = "success"
	ProcessingFailed  = "failed"
)

// Response is what the engine returns for one chunk. Segment times are
// relative to the chunk.
type Response struct {
	ProcessingStatus string    `json:"processing_status"`
	Text             string    `json:"text"`
	Segments         []Segment `json:"segments"`
	LanguageDetected string    `json:"language_detected,omitempty"`
	AudioDuration    float64   `json:"audio_duration,omitempty"`
	ModelUsed        string    `json:"model_used,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
}

// Segment represents a segment of transcribed text
type Segment struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Speaker    string   `json:"speaker,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ToChunkResult converts a successful response for chunk into a ChunkResult.
func (r *Response) ToChunkResult(chunk model.AudioSegment, attempts int) model.ChunkResult {
	segments := make([]model.Segment, 0, len(r.Segments))
	for _, s := range r.Segments {
		segments = append(segments, model.Segment{
			Start:        s.Start,
			End:          s.End,
			Text:         s.Text,
			LocalSpeaker: s.Speaker,
			ChunkIndex:   chunk.Index,
			Confidence:   s.Confidence,
		})
	}

	return model.ChunkResult{
		ChunkIndex:       chunk.Index,
		StartTime:        chunk.StartTime,
		EndTime:          chunk.EndTime,
		Status:           model.StatusSuccess,
		Text:             r.Text,
		Segments:         segments,
		LanguageDetected: r.LanguageDetected,
		ModelUsed:        r.ModelUsed,
		AudioDuration:    r.AudioDuration,
		Attempts:         attempts,
	}
}
