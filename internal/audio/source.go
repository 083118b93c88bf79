package audio

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/skypro1111/chunkscribe/internal/model"
	"github.com/skypro1111/chunkscribe/internal/vad"
)

// DurationProber reports the total duration of a source in seconds.
type DurationProber interface {
	ProbeDuration(ctx context.Context, ref string) (float64, error)
}

// SilenceDetector lists silences of at least minSilence seconds.
type SilenceDetector interface {
	DetectSilence(ctx context.Context, ref string, minSilence float64) ([]model.SilenceEvent, error)
}

// Extractor returns the [start, start+duration) window of a source as a
// standalone WAV payload.
type Extractor interface {
	Extract(ctx context.Context, ref string, start, duration float64) ([]byte, error)
}

// Backend bundles the three source operations.
type Backend interface {
	DurationProber
	SilenceDetector
	Extractor
}

// WAVSource implements Backend for mono PCM-16 WAV files without any
// external binaries. The most recently decoded file is kept in memory since
// one run touches the same source many times; it is reloaded when the file's
// size or modification time changes.
type WAVSource struct {
	thresholdDB float64
	windowSize  int

	mu      sync.Mutex
	path    string
	size    int64
	modTime time.Time
	samples []int16
	rate    int
}

// NewWAVSource creates a WAV backend using an energy detector at thresholdDB
// with windowSize-sample windows.
func NewWAVSource(thresholdDB float64, windowSize int) *WAVSource {
	return &WAVSource{thresholdDB: thresholdDB, windowSize: windowSize}
}

// ProbeDuration reads the duration from the RIFF header.
func (w *WAVSource) ProbeDuration(ctx context.Context, ref string) (float64, error) {
	info, err := ReadWAVInfo(ref)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// DetectSilence runs the energy detector over the whole file.
func (w *WAVSource) DetectSilence(ctx context.Context, ref string, minSilence float64) ([]model.SilenceEvent, error) {
	samples, rate, err := w.load(ref)
	if err != nil {
		return nil, err
	}

	detector, err := vad.NewDetector(w.thresholdDB, w.windowSize, rate)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return detector.DetectSilence(samples, minSilence)
}

// Extract slices the decoded samples and re-encodes them.
func (w *WAVSource) Extract(ctx context.Context, ref string, start, duration float64) ([]byte, error) {
	samples, rate, err := w.load(ref)
	if err != nil {
		return nil, err
	}
	return SliceSamples(samples, rate, start, duration)
}

func (w *WAVSource) load(ref string) ([]int16, int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	stat, err := os.Stat(ref)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat %s: %w", ref, err)
	}
	if w.samples != nil && w.path == ref && w.size == stat.Size() && w.modTime.Equal(stat.ModTime()) {
		return w.samples, w.rate, nil
	}

	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", ref, err)
	}

	samples, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode %s: %w", ref, err)
	}

	w.path, w.size, w.modTime = ref, stat.Size(), stat.ModTime()
	w.samples, w.rate = samples, rate
	return samples, rate, nil
}
