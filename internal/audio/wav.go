package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// WAVHeader is the canonical 44-byte header written by EncodeWAV
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo describes a RIFF/WAVE stream
type WAVInfo struct {
	AudioFormat   uint16  `json:"audio_format"`
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataOffset    int64   `json:"data_offset"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// wavProbeSize is how much of a file is read to locate the data chunk.
const wavProbeSize = 64 * 1024

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// parseWAV walks the RIFF chunks in data, which may be a prefix of a stream
// of totalSize bytes. Extra chunks (LIST, fact) written by encoders are
// skipped. A data size larger than what the stream holds is clamped, which
// covers streamed output whose header was never patched.
func parseWAV(data []byte, totalSize int64) (*WAVInfo, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	info := &WAVInfo{}
	haveFmt := false
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("invalid WAV file: truncated fmt chunk")
			}
			info.AudioFormat = binary.LittleEndian.Uint16(data[body : body+2])
			info.Channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			info.SampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			info.BitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			available := totalSize - int64(body)
			if available < 0 {
				available = 0
			}
			if int64(size) > available {
				size = uint32(available)
			}
			info.DataOffset = int64(body)
			info.DataSize = size
			return finishInfo(info)
		}

		pos = body + int(size) + int(size&1)
	}

	if !haveFmt {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	return nil, fmt.Errorf("invalid WAV file: missing data chunk")
}

func finishInfo(info *WAVInfo) (*WAVInfo, error) {
	if info.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}

	if info.BitsPerSample == 0 || info.Channels == 0 {
		return nil, fmt.Errorf("invalid WAV format: %d channels, %d bits", info.Channels, info.BitsPerSample)
	}

	frameSize := uint32(info.Channels) * uint32(info.BitsPerSample) / 8
	if frameSize == 0 {
		return nil, fmt.Errorf("unsupported bit depth: %d", info.BitsPerSample)
	}

	info.NumSamples = info.DataSize / frameSize
	info.Duration = float64(info.NumSamples) / float64(info.SampleRate)
	return info, nil
}

// GetWAVInfo extracts metadata from an in-memory WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	return parseWAV(data, int64(len(data)))
}

// ValidateWAV checks that data is a RIFF/WAVE stream with fmt and data chunks
func ValidateWAV(data []byte) error {
	_, err := GetWAVInfo(data)
	return err
}

// GetWAVDuration calculates the duration of a WAV file in seconds
func GetWAVDuration(data []byte) (float64, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// ReadWAVInfo reads only the header region of a WAV file on disk
func ReadWAVInfo(path string) (*WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	head := make([]byte, wavProbeSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return parseWAV(head[:n], stat.Size())
}

// DecodeWAV decodes mono PCM-16 WAV data to samples
func DecodeWAV(data []byte) ([]int16, int, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return nil, 0, err
	}

	if info.AudioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", info.AudioFormat)
	}

	if info.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", info.BitsPerSample)
	}

	if info.Channels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", info.Channels)
	}

	if info.NumSamples == 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	pcm := data[info.DataOffset : info.DataOffset+int64(info.NumSamples)*2]
	samples := make([]int16, info.NumSamples)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	return samples, int(info.SampleRate), nil
}

// sampleRange converts a [start, start+duration) window in seconds to sample
// indexes clamped to n.
func sampleRange(start, duration float64, sampleRate, n int) (int, int) {
	from := int(math.Round(start * float64(sampleRate)))
	to := int(math.Round((start + duration) * float64(sampleRate)))
	if from < 0 {
		from = 0
	}
	if to > n {
		to = n
	}
	if from > to {
		from = to
	}
	return from, to
}

// SliceSamples encodes the [start, start+duration) window of samples as WAV
func SliceSamples(samples []int16, sampleRate int, start, duration float64) ([]byte, error) {
	from, to := sampleRange(start, duration, sampleRate, len(samples))
	if from == to {
		return nil, fmt.Errorf("window %.3fs+%.3fs is outside the audio", start, duration)
	}
	return EncodeWAV(samples[from:to], sampleRate)
}
