package audio

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRunner struct {
	stdout string
	stderr string
	err    error

	name string
	args []string
}

func (r *scriptedRunner) Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	r.name = name
	r.args = args
	io.WriteString(stdout, r.stdout)
	io.WriteString(stderr, r.stderr)
	return r.err
}

const silencedetectOutput = `Input #0, wav, from 'talk.wav':
  Duration: 00:03:10.00, bitrate: 256 kb/s
[silencedetect @ 0x5581c2a0] silence_start: 41.2
[silencedetect @ 0x5581c2a0] silence_end: 42.7 | silence_duration: 1.5
[silencedetect @ 0x5581c2a0] silence_start: 99.01
[silencedetect @ 0x5581c2a0] silence_end: 101.01 | silence_duration: 2
size=N/A time=00:03:10.00 bitrate=N/A speed= 512x
`

func TestParseSilenceEvents(t *testing.T) {
	events := parseSilenceEvents(silencedetectOutput)
	require.Len(t, events, 2)
	assert.Equal(t, 42.7, events[0].End)
	assert.Equal(t, 1.5, events[0].Duration)
	assert.InDelta(t, 41.95, events[0].SplitPoint(), 1e-9)
	assert.Equal(t, 2.0, events[1].Duration)

	assert.Empty(t, parseSilenceEvents("no silence here"))
}

func TestFFmpegDetectSilence(t *testing.T) {
	runner := &scriptedRunner{stderr: silencedetectOutput}
	ff := NewFFmpeg("/usr/bin/ffmpeg", "/usr/bin/ffprobe", -30, WithCommandRunner(runner))

	events, err := ff.DetectSilence(context.Background(), "talk.wav", 1)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, "/usr/bin/ffmpeg", runner.name)
	assert.Contains(t, strings.Join(runner.args, " "), "silencedetect=noise=-30dB:d=1")

	runner.err = errors.New("exit status 1")
	_, err = ff.DetectSilence(context.Background(), "talk.wav", 1)
	assert.Error(t, err)
}

func TestFFmpegProbeDuration(t *testing.T) {
	runner := &scriptedRunner{stdout: "190.000000\n"}
	ff := NewFFmpeg("ffmpeg", "ffprobe", -30, WithCommandRunner(runner))

	duration, err := ff.ProbeDuration(context.Background(), "long.mp3")
	require.NoError(t, err)
	assert.Equal(t, 190.0, duration)
	assert.Equal(t, "ffprobe", runner.name)
	assert.Equal(t, "long.mp3", runner.args[len(runner.args)-1])

	runner.stdout = "N/A"
	_, err = ff.ProbeDuration(context.Background(), "long.mp3")
	assert.Error(t, err)

	runner.err = errors.New("exit status 1")
	runner.stderr = "long.mp3: No such file or directory"
	_, err = ff.ProbeDuration(context.Background(), "long.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No such file")
}

func TestFFmpegExtract(t *testing.T) {
	runner := &scriptedRunner{stdout: "RIFFfake"}
	ff := NewFFmpeg("ffmpeg", "ffprobe", -30, WithCommandRunner(runner))

	data, err := ff.Extract(context.Background(), "talk.wav", 40, 60.5)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFFfake"), data)

	args := strings.Join(runner.args, " ")
	assert.Contains(t, args, "-ss 40.000 -t 60.500")
	assert.Contains(t, args, "-ar 16000")

	runner.stdout = ""
	_, err = ff.Extract(context.Background(), "talk.wav", 40, 60.5)
	assert.Error(t, err)
}

func TestWAVSource(t *testing.T) {
	const rate = 1000
	// 40s tone, 2s silence, 40s tone
	samples := append(append(sine(40*rate, rate), make([]int16, 2*rate)...), sine(40*rate, rate)...)
	wavData, err := EncodeWAV(samples, rate)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "talk.wav")
	require.NoError(t, os.WriteFile(path, wavData, 0644))

	src := NewWAVSource(-30, 100)
	ctx := context.Background()

	duration, err := src.ProbeDuration(ctx, path)
	require.NoError(t, err)
	assert.InDelta(t, 82.0, duration, 1e-9)

	events, err := src.DetectSilence(ctx, path, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.InDelta(t, 42.0, events[0].End, 1e-9)
	assert.InDelta(t, 41.0, events[0].SplitPoint(), 1e-9)

	chunk, err := src.Extract(ctx, path, 41, 10)
	require.NoError(t, err)
	chunkDuration, err := GetWAVDuration(chunk)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, chunkDuration, 1e-9)

	segmenter := NewSegmenter(src, src, DefaultSegmenterConfig(), discardLogger(), nil)
	segments, err := segmenter.Split(ctx, path)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.InDelta(t, 41.0, segments[1].StartTime, 1e-9)
	assertTiles(t, segments, duration)
}

func constantWAV(t *testing.T, value int16, seconds, rate int) []byte {
	t.Helper()
	samples := make([]int16, seconds*rate)
	for i := range samples {
		samples[i] = value
	}
	data, err := EncodeWAV(samples, rate)
	require.NoError(t, err)
	return data
}

func TestWAVSourceReloadsRewrittenFile(t *testing.T) {
	const rate = 1000
	path := filepath.Join(t.TempDir(), "upload.wav")
	require.NoError(t, os.WriteFile(path, constantWAV(t, 1000, 2, rate), 0644))

	src := NewWAVSource(-30, 100)
	ctx := context.Background()

	first, err := src.Extract(ctx, path, 0, 1)
	require.NoError(t, err)
	samples, _, err := DecodeWAV(first)
	require.NoError(t, err)
	assert.Equal(t, int16(1000), samples[0])

	// A new recording lands at the same path.
	require.NoError(t, os.WriteFile(path, constantWAV(t, 7, 4, rate), 0644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	duration, err := src.ProbeDuration(ctx, path)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, duration, 1e-9)

	tail, err := src.Extract(ctx, path, 2.5, 1)
	require.NoError(t, err)
	tailDuration, err := GetWAVDuration(tail)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, tailDuration, 1e-9)

	head, err := src.Extract(ctx, path, 0, 1)
	require.NoError(t, err)
	samples, _, err = DecodeWAV(head)
	require.NoError(t, err)
	assert.Equal(t, int16(7), samples[0])
}
