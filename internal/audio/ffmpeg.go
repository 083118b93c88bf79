package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/skypro1111/chunkscribe/internal/model"
)

// ExtractSampleRate is the rate chunks are resampled to before dispatch.
const ExtractSampleRate = 16000

var silenceEndRe = regexp.MustCompile(`silence_end:\s*([\d.]+)\s*\|\s*silence_duration:\s*([\d.]+)`)

// commandRunner runs an external program, wiring its output streams.
type commandRunner interface {
	Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// FFmpeg implements Backend by shelling out to ffmpeg and ffprobe.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	noiseDB     float64
	run         commandRunner
}

// FFmpegOption configures an FFmpeg backend.
type FFmpegOption func(*FFmpeg)

// WithCommandRunner replaces process execution, mainly for tests.
func WithCommandRunner(r commandRunner) FFmpegOption {
	return func(f *FFmpeg) {
		f.run = r
	}
}

// NewFFmpeg creates an ffmpeg backend detecting silence below noiseDB.
func NewFFmpeg(ffmpegPath, ffprobePath string, noiseDB float64, opts ...FFmpegOption) *FFmpeg {
	f := &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		noiseDB:     noiseDB,
		run:         execRunner{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ProbeDuration asks ffprobe for the container duration.
func (f *FFmpeg) ProbeDuration(ctx context.Context, ref string) (float64, error) {
	args := []string{"-v", "quiet", "-show_entries", "format=duration", "-of", "csv=p=0", ref}

	var stdout, stderr bytes.Buffer
	if err := f.run.Run(ctx, f.ffprobePath, args, &stdout, &stderr); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w: %s", err, tail(stderr.String()))
	}

	raw := strings.TrimSpace(stdout.String())
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe duration %q: %w", raw, err)
	}
	return duration, nil
}

// DetectSilence runs the silencedetect filter and parses its log output.
func (f *FFmpeg) DetectSilence(ctx context.Context, ref string, minSilence float64) ([]model.SilenceEvent, error) {
	args := []string{
		"-hide_banner", "-nostats",
		"-i", ref,
		"-af", fmt.Sprintf("silencedetect=noise=%gdB:d=%g", f.noiseDB, minSilence),
		"-f", "null", "-",
	}

	var stderr bytes.Buffer
	if err := f.run.Run(ctx, f.ffmpegPath, args, io.Discard, &stderr); err != nil {
		return nil, fmt.Errorf("ffmpeg silencedetect failed: %w: %s", err, tail(stderr.String()))
	}

	return parseSilenceEvents(stderr.String()), nil
}

// Extract decodes the window to mono 16kHz PCM-16 WAV on stdout.
func (f *FFmpeg) Extract(ctx context.Context, ref string, start, duration float64) ([]byte, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(start, 'f', 3, 64),
		"-t", strconv.FormatFloat(duration, 'f', 3, 64),
		"-i", ref,
		"-ac", "1",
		"-ar", strconv.Itoa(ExtractSampleRate),
		"-f", "wav", "pipe:1",
	}

	var stdout, stderr bytes.Buffer
	if err := f.run.Run(ctx, f.ffmpegPath, args, &stdout, &stderr); err != nil {
		return nil, fmt.Errorf("ffmpeg extract failed: %w: %s", err, tail(stderr.String()))
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg extract produced no audio for %.3fs+%.3fs", start, duration)
	}
	return stdout.Bytes(), nil
}

// parseSilenceEvents extracts silence_end/silence_duration pairs from
// silencedetect output. Lines that do not parse are skipped.
func parseSilenceEvents(output string) []model.SilenceEvent {
	events := make([]model.SilenceEvent, 0)
	for _, m := range silenceEndRe.FindAllStringSubmatch(output, -1) {
		end, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		duration, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		events = append(events, model.SilenceEvent{End: end, Duration: duration})
	}
	return events
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 512 {
		return "..." + s[len(s)-512:]
	}
	return s
}
