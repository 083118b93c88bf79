package vad

import (
	"fmt"
	"math"
	"sync"

	"github.com/skypro1111/chunkscribe/internal/model"
)

// Detector classifies fixed-size windows of PCM-16 audio as voice or silence
type Detector struct {
	thresholdDB float64
	windowSize  int // samples per window
	sampleRate  int

	// Statistics
	totalWindows  uint64
	silentWindows uint64

	mu sync.RWMutex
}

// WindowResult is the classification of one window
type WindowResult struct {
	Index   int     `json:"index"`
	LevelDB float64 `json:"level_db"`
	Silent  bool    `json:"silent"`
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	ThresholdDB       float64 `json:"threshold_db"`
	WindowSize        int     `json:"window_size"`
	SampleRate        int     `json:"sample_rate"`
	TotalWindows      uint64  `json:"total_windows"`
	SilentWindows     uint64  `json:"silent_windows"`
	SilencePercentage float64 `json:"silence_percentage"`
}

// NewDetector creates a detector. thresholdDB is in dBFS and must be negative.
func NewDetector(thresholdDB float64, windowSize int, sampleRate int) (*Detector, error) {
	if thresholdDB >= 0 {
		return nil, fmt.Errorf("threshold must be negative dBFS, got %f", thresholdDB)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Detector{
		thresholdDB: thresholdDB,
		windowSize:  windowSize,
		sampleRate:  sampleRate,
	}, nil
}

// LevelDBFS returns the RMS level of samples relative to full scale.
// Digital silence yields -Inf.
func LevelDBFS(samples []int16) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}

	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	rms := math.Sqrt(energy / float64(len(samples)))
	if rms == 0 {
		return math.Inf(-1)
	}

	return 20 * math.Log10(rms/32768.0)
}

// Process classifies a single window. The final window of a stream may be
// shorter than the configured size.
func (d *Detector) Process(samples []int16) (*WindowResult, error) {
	if len(samples) == 0 || len(samples) > d.windowSize {
		return nil, fmt.Errorf("expected 1..%d samples, got %d", d.windowSize, len(samples))
	}

	level := LevelDBFS(samples)
	silent := level < d.thresholdDB

	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalWindows++
	if silent {
		d.silentWindows++
	}

	return &WindowResult{
		Index:   int(d.totalWindows - 1),
		LevelDB: level,
		Silent:  silent,
	}, nil
}

// DetectSilence scans samples window by window and returns every run of
// silence lasting at least minSilence seconds. A run reaching the end of the
// audio is reported with End equal to the audio duration.
func (d *Detector) DetectSilence(samples []int16, minSilence float64) ([]model.SilenceEvent, error) {
	if minSilence <= 0 {
		return nil, fmt.Errorf("minimum silence must be positive, got %f", minSilence)
	}

	rate := float64(d.sampleRate)
	events := make([]model.SilenceEvent, 0)
	inSilence := false
	var silenceStart float64

	for offset := 0; offset < len(samples); offset += d.windowSize {
		end := offset + d.windowSize
		if end > len(samples) {
			end = len(samples)
		}

		result, err := d.Process(samples[offset:end])
		if err != nil {
			return nil, fmt.Errorf("failed to process window at sample %d: %w", offset, err)
		}

		at := float64(offset) / rate
		switch {
		case result.Silent && !inSilence:
			inSilence = true
			silenceStart = at
		case !result.Silent && inSilence:
			inSilence = false
			if at-silenceStart >= minSilence {
				events = append(events, model.SilenceEvent{End: at, Duration: at - silenceStart})
			}
		}
	}

	if inSilence {
		total := float64(len(samples)) / rate
		if total-silenceStart >= minSilence {
			events = append(events, model.SilenceEvent{End: total, Duration: total - silenceStart})
		}
	}

	return events, nil
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	silencePercentage := float64(0)
	if d.totalWindows > 0 {
		silencePercentage = float64(d.silentWindows) / float64(d.totalWindows) * 100
	}

	return DetectorStats{
		ThresholdDB:       d.thresholdDB,
		WindowSize:        d.windowSize,
		SampleRate:        d.sampleRate,
		TotalWindows:      d.totalWindows,
		SilentWindows:     d.silentWindows,
		SilencePercentage: silencePercentage,
	}
}

// Reset clears the statistics
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalWindows = 0
	d.silentWindows = 0
}
