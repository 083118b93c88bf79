package output

import (
	"fmt"
	"math"
	"strings"

	"github.com/skypro1111/chunkscribe/internal/model"
)

// Options controls synthesis
type Options struct {
	Diarization bool
}

// Stats are the run counters reported alongside the output
type Stats struct {
	TotalSegments   int `json:"total_segments"`
	OutputSegments  int `json:"output_segments"`
	FilteredUnknown int `json:"filtered_unknown"`
	FilteredEmpty   int `json:"filtered_empty"`
	ChunksProcessed int `json:"chunks_processed"`
	ChunksFailed    int `json:"chunks_failed"`
	SpeakerCount    int `json:"speaker_count"`
}

// SpeakerInfo summarises one speaker's share of the output
type SpeakerInfo struct {
	TotalDuration float64 `json:"total_duration"`
	SegmentCount  int     `json:"segment_count"`
}

// Output is the rendered result of a run
type Output struct {
	Text          string                 `json:"text"`
	SRT           string                 `json:"srt"`
	TXT           string                 `json:"txt"`
	Segments      []model.Segment        `json:"segments"`
	Language      string                 `json:"language,omitempty"`
	ModelUsed     string                 `json:"model_used,omitempty"`
	AudioDuration float64                `json:"audio_duration"`
	FilterUnknown bool                   `json:"filter_unknown"`
	Speakers      map[string]SpeakerInfo `json:"speakers,omitempty"`
	Failures      []model.ChunkFailure   `json:"failures,omitempty"`
	Stats         Stats                  `json:"stats"`
}

// Synthesize applies the filtering policy and renders the transcript.
// UNKNOWN segments are dropped only when diarization was requested and at
// least one segment was attributed to a speaker; otherwise they are kept.
// Segments with blank text are always dropped.
func Synthesize(t *model.MergedTranscript, opts Options) *Output {
	filterUnknown := opts.Diarization && hasIdentifiedSpeaker(t.Segments)

	out := &Output{
		Segments:      make([]model.Segment, 0, len(t.Segments)),
		Language:      t.Language,
		ModelUsed:     t.ModelUsed,
		AudioDuration: t.AudioDuration,
		FilterUnknown: filterUnknown,
		Failures:      t.Failures,
		Stats: Stats{
			TotalSegments:   len(t.Segments),
			ChunksProcessed: t.ChunksProcessed,
			ChunksFailed:    t.ChunksFailed,
		},
	}

	texts := make([]string, 0, len(t.Segments))
	for _, seg := range t.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			out.Stats.FilteredEmpty++
			continue
		}
		if filterUnknown && isUnknown(seg.Speaker) {
			out.Stats.FilteredUnknown++
			continue
		}
		seg.Text = text
		out.Segments = append(out.Segments, seg)
		texts = append(texts, text)
	}

	out.Stats.OutputSegments = len(out.Segments)
	out.Stats.SpeakerCount = countSpeakers(out.Segments)
	out.Text = strings.Join(texts, " ")
	out.SRT = RenderSRT(out.Segments, filterUnknown)
	out.TXT = RenderText(out.Segments, filterUnknown)
	if opts.Diarization {
		out.Speakers = speakerSummary(out.Segments)
	}

	return out
}

func isUnknown(speaker string) bool {
	return speaker == "" || speaker == model.UnknownSpeaker
}

func hasIdentifiedSpeaker(segments []model.Segment) bool {
	for _, seg := range segments {
		if !isUnknown(seg.Speaker) {
			return true
		}
	}
	return false
}

func countSpeakers(segments []model.Segment) int {
	seen := make(map[string]struct{})
	for _, seg := range segments {
		if !isUnknown(seg.Speaker) {
			seen[seg.Speaker] = struct{}{}
		}
	}
	return len(seen)
}

func speakerSummary(segments []model.Segment) map[string]SpeakerInfo {
	summary := make(map[string]SpeakerInfo)
	for _, seg := range segments {
		if isUnknown(seg.Speaker) {
			continue
		}
		info := summary[seg.Speaker]
		info.TotalDuration += seg.End - seg.Start
		info.SegmentCount++
		summary[seg.Speaker] = info
	}
	return summary
}

// RenderSRT renders segments as SubRip cues numbered from 1.
func RenderSRT(segments []model.Segment, withSpeakers bool) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n", i+1, FormatTimestamp(seg.Start), FormatTimestamp(seg.End))
		b.WriteString(linePrefix(seg, withSpeakers))
		b.WriteString(seg.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

// RenderText renders one line per segment.
func RenderText(segments []model.Segment, withSpeakers bool) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(linePrefix(seg, withSpeakers))
		b.WriteString(seg.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

func linePrefix(seg model.Segment, withSpeakers bool) string {
	if !withSpeakers || isUnknown(seg.Speaker) {
		return ""
	}
	return "[" + seg.Speaker + "] "
}

// FormatTimestamp formats seconds as HH:MM:SS,mmm.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}
