package model

import (
	"fmt"
	"time"
)

// SegmentMethod records how an AudioSegment boundary was chosen.
type SegmentMethod string

const (
	MethodSilence SegmentMethod = "silence"
	MethodTime    SegmentMethod = "time"
	MethodSingle  SegmentMethod = "single"
)

// AudioSegment is a time-bounded slice of the source audio. Segments from one
// segmentation pass tile [0, duration) without gaps or overlaps.
type AudioSegment struct {
	Index     int           `json:"index"`
	StartTime float64       `json:"start_time"`
	EndTime   float64       `json:"end_time"`
	Duration  float64       `json:"duration"`
	SourceRef string        `json:"source_ref"`
	Method    SegmentMethod `json:"method"`
}

// TimeRange is a span on the global audio timeline, in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the length of the range.
func (r TimeRange) Duration() float64 {
	return r.End - r.Start
}

// SilenceEvent is one detected silence: where it ends and how long it lasted.
type SilenceEvent struct {
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// SplitPoint returns the middle of the silence.
func (e SilenceEvent) SplitPoint() float64 {
	return e.End - e.Duration/2
}

// ChunkStatus is the terminal state of one dispatched chunk.
type ChunkStatus string

const (
	StatusSuccess ChunkStatus = "success"
	StatusFailed  ChunkStatus = "failed"
)

// Segment is one transcribed utterance. Before merging Start/End are relative
// to the chunk; afterwards they are on the global timeline.
type Segment struct {
	Start        float64  `json:"start"`
	End          float64  `json:"end"`
	Text         string   `json:"text"`
	Speaker      string   `json:"speaker,omitempty"`
	LocalSpeaker string   `json:"local_speaker,omitempty"`
	ChunkIndex   int      `json:"chunk_index"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

// Range returns the segment's span.
func (s Segment) Range() TimeRange {
	return TimeRange{Start: s.Start, End: s.End}
}

// ChunkResult is the outcome of dispatching one AudioSegment.
type ChunkResult struct {
	ChunkIndex       int         `json:"chunk_index"`
	StartTime        float64     `json:"start_time"`
	EndTime          float64     `json:"end_time"`
	Status           ChunkStatus `json:"status"`
	Text             string      `json:"text"`
	Segments         []Segment   `json:"segments"`
	LanguageDetected string      `json:"language_detected,omitempty"`
	ModelUsed        string      `json:"model_used,omitempty"`
	AudioDuration    float64     `json:"audio_duration,omitempty"`
	Attempts         int         `json:"attempts"`
	ErrorKind        ErrorKind   `json:"error_kind,omitempty"`
	ErrorMessage     string      `json:"error_message,omitempty"`
}

// Succeeded reports whether the chunk produced a usable transcript.
func (r ChunkResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// ChunkFailure is the diagnostic kept for every chunk that did not succeed.
type ChunkFailure struct {
	ChunkIndex int       `json:"chunk_index"`
	StartTime  float64   `json:"start_time"`
	EndTime    float64   `json:"end_time"`
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
}

// MergedTranscript is the time-ordered transcript assembled from all
// successful chunks.
type MergedTranscript struct {
	FullText        string         `json:"full_text"`
	Segments        []Segment      `json:"segments"`
	Language        string         `json:"language,omitempty"`
	ModelUsed       string         `json:"model_used,omitempty"`
	AudioDuration   float64        `json:"audio_duration"`
	ChunksProcessed int            `json:"chunks_processed"`
	ChunksFailed    int            `json:"chunks_failed"`
	SpeakerCount    int            `json:"speaker_count"`
	Failures        []ChunkFailure `json:"failures,omitempty"`
}

// SpeakerProfile is a persisted cross-run speaker identity.
type SpeakerProfile struct {
	ID          string    `json:"speaker_id"`
	Embedding   []float64 `json:"embedding"`
	Confidence  float64   `json:"confidence"`
	SourceFiles []string  `json:"source_files"`
	SampleCount int       `json:"sample_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UnknownSpeaker labels segments the engine did not attribute to anyone.
const UnknownSpeaker = "UNKNOWN"

// PendingSpeakerKey identifies a chunk-local speaker awaiting unification.
func PendingSpeakerKey(chunkIndex int, label string) string {
	return fmt.Sprintf("chunk_%d_%s", chunkIndex, label)
}

// ChunkSpeakerLabel is the label kept when unification did not run.
func ChunkSpeakerLabel(chunkIndex int, label string) string {
	return fmt.Sprintf("SPEAKER_CHUNK_%d_%s", chunkIndex, label)
}

// UnmatchedSpeakerLabel is the label for a local speaker that unification
// could not embed.
func UnmatchedSpeakerLabel(chunkIndex int, label string) string {
	return fmt.Sprintf("SPEAKER_UNMATCHED_%d_%s", chunkIndex, label)
}

// GlobalSpeakerID formats a unified speaker id from its counter value.
func GlobalSpeakerID(n int) string {
	return fmt.Sprintf("SPEAKER_GLOBAL_%03d", n)
}

// LocalSpeakerID formats a unified id that is only meaningful within one run.
// It never collides with ids held in the speaker store.
func LocalSpeakerID(n int) string {
	return fmt.Sprintf("SPEAKER_LOCAL_%03d", n)
}
