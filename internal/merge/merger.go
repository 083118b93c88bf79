package merge

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/skypro1111/chunkscribe/internal/model"
)

// Merger combines chunk results
type Merger struct {
	logger *slog.Logger
}

// New creates a merger
func New(logger *slog.Logger) *Merger {
	return &Merger{logger: logger}
}

// Merge filters the successful chunks, orders them by start time and moves
// every segment onto the global timeline. Labelled segments get a pending
// key awaiting unification; unlabelled ones become UNKNOWN. When no chunk
// succeeded the whole merge fails with an all_chunks_failed error listing
// each chunk's reason.
func (m *Merger) Merge(results []model.ChunkResult) (*model.MergedTranscript, error) {
	results = dedupe(results)

	var succeeded []model.ChunkResult
	var failures []model.ChunkFailure
	for _, r := range results {
		if r.Succeeded() {
			succeeded = append(succeeded, r)
			continue
		}
		failures = append(failures, model.ChunkFailure{
			ChunkIndex: r.ChunkIndex,
			StartTime:  r.StartTime,
			EndTime:    r.EndTime,
			Kind:       r.ErrorKind,
			Message:    r.ErrorMessage,
		})
	}
	sort.Slice(failures, func(i, j int) bool {
		return failures[i].ChunkIndex < failures[j].ChunkIndex
	})

	if len(succeeded) == 0 {
		m.logger.Error("No chunk succeeded", slog.Int("failed", len(failures)))
		return nil, model.AllChunksFailed(failures)
	}

	sort.SliceStable(succeeded, func(i, j int) bool {
		if succeeded[i].StartTime != succeeded[j].StartTime {
			return succeeded[i].StartTime < succeeded[j].StartTime
		}
		return succeeded[i].ChunkIndex < succeeded[j].ChunkIndex
	})

	transcript := &model.MergedTranscript{
		Segments:        []model.Segment{},
		ChunksProcessed: len(succeeded),
		ChunksFailed:    len(failures),
		Failures:        failures,
	}

	texts := make([]string, 0, len(succeeded))
	languages := make([]string, 0, len(succeeded))
	for _, r := range succeeded {
		if text := strings.TrimSpace(r.Text); text != "" {
			texts = append(texts, text)
		}
		if r.LanguageDetected != "" {
			languages = append(languages, r.LanguageDetected)
		}
		if transcript.ModelUsed == "" {
			transcript.ModelUsed = r.ModelUsed
		}
		if end := max(r.StartTime+r.AudioDuration, r.EndTime); end > transcript.AudioDuration {
			transcript.AudioDuration = end
		}

		for _, seg := range r.Segments {
			seg.Start += r.StartTime
			seg.End += r.StartTime
			seg.ChunkIndex = r.ChunkIndex
			if seg.LocalSpeaker == "" {
				seg.Speaker = model.UnknownSpeaker
			} else {
				seg.Speaker = model.PendingSpeakerKey(r.ChunkIndex, seg.LocalSpeaker)
			}
			transcript.Segments = append(transcript.Segments, seg)
		}
	}

	// Engines do not promise ordered segments within a chunk.
	sort.SliceStable(transcript.Segments, func(i, j int) bool {
		return transcript.Segments[i].Start < transcript.Segments[j].Start
	})

	transcript.FullText = strings.Join(texts, " ")
	transcript.Language = modeLanguage(languages)
	transcript.SpeakerCount = CountSpeakers(transcript.Segments)

	m.logger.Info("Merged chunk results",
		slog.Int("chunks_processed", transcript.ChunksProcessed),
		slog.Int("chunks_failed", transcript.ChunksFailed),
		slog.Int("segments", len(transcript.Segments)),
		slog.String("language", transcript.Language))

	return transcript, nil
}

// dedupe keeps one result per chunk index, preferring a success.
func dedupe(results []model.ChunkResult) []model.ChunkResult {
	byIndex := make(map[int]int, len(results))
	out := make([]model.ChunkResult, 0, len(results))
	for _, r := range results {
		p, seen := byIndex[r.ChunkIndex]
		if !seen {
			byIndex[r.ChunkIndex] = len(out)
			out = append(out, r)
			continue
		}
		if !out[p].Succeeded() && r.Succeeded() {
			out[p] = r
		}
	}
	return out
}

// modeLanguage returns the most frequent language; the first seen wins ties.
func modeLanguage(languages []string) string {
	counts := make(map[string]int, len(languages))
	best, bestCount := "", 0
	for _, lang := range languages {
		counts[lang]++
	}
	for _, lang := range languages {
		if counts[lang] > bestCount {
			best, bestCount = lang, counts[lang]
		}
	}
	return best
}

// ApplySpeakerMapping replaces pending keys with unified ids. Labelled
// segments with no mapping entry get an unmatched label instead.
func ApplySpeakerMapping(t *model.MergedTranscript, mapping map[string]string) {
	for i := range t.Segments {
		seg := &t.Segments[i]
		if seg.LocalSpeaker == "" {
			continue
		}
		key := model.PendingSpeakerKey(seg.ChunkIndex, seg.LocalSpeaker)
		if id, ok := mapping[key]; ok {
			seg.Speaker = id
		} else {
			seg.Speaker = model.UnmatchedSpeakerLabel(seg.ChunkIndex, seg.LocalSpeaker)
		}
	}
	t.SpeakerCount = CountSpeakers(t.Segments)
}

// QualifyChunkSpeakers labels every speaker by its chunk, used when
// unification was skipped.
func QualifyChunkSpeakers(t *model.MergedTranscript) {
	for i := range t.Segments {
		seg := &t.Segments[i]
		if seg.LocalSpeaker == "" {
			continue
		}
		seg.Speaker = model.ChunkSpeakerLabel(seg.ChunkIndex, seg.LocalSpeaker)
	}
	t.SpeakerCount = CountSpeakers(t.Segments)
}

// CountSpeakers returns the number of distinct identified speakers.
func CountSpeakers(segments []model.Segment) int {
	seen := make(map[string]struct{})
	for _, seg := range segments {
		if seg.Speaker == "" || seg.Speaker == model.UnknownSpeaker {
			continue
		}
		seen[seg.Speaker] = struct{}{}
	}
	return len(seen)
}
