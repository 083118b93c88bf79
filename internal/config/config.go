package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvASREndpoint       = "CHUNKSCRIBE_ASR_ENDPOINT"
	EnvASRAPIKey         = "CHUNKSCRIBE_ASR_API_KEY"
	EnvEmbeddingEndpoint = "CHUNKSCRIBE_EMBEDDING_ENDPOINT"
	EnvEmbeddingAPIKey   = "CHUNKSCRIBE_EMBEDDING_API_KEY"
	EnvSpeakerStore      = "CHUNKSCRIBE_SPEAKER_STORE"
)

// Config represents the complete service configuration
type Config struct {
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Unification  UnificationConfig  `yaml:"unification"`
	Output       OutputConfig       `yaml:"output"`
	HTTP         HTTPConfig         `yaml:"http"`
	Jobs         JobsConfig         `yaml:"jobs"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// SegmentationConfig controls how source audio is split into chunks
type SegmentationConfig struct {
	Backend                string  `yaml:"backend"` // "ffmpeg" or "wav"
	FFmpegPath             string  `yaml:"ffmpeg_path"`
	FFprobePath            string  `yaml:"ffprobe_path"`
	UseSilence             bool    `yaml:"use_silence"`
	MinSegmentLength       float64 `yaml:"min_segment_length"` // seconds
	MinSilenceLength       float64 `yaml:"min_silence_length"` // seconds
	SilenceThresholdDB     float64 `yaml:"silence_threshold_db"`
	ChunkDuration          float64 `yaml:"chunk_duration"`       // seconds
	LongAudioThreshold     float64 `yaml:"long_audio_threshold"` // seconds
	LongAudioChunkDuration float64 `yaml:"long_audio_chunk_duration"`
	SparsityDivisor        float64 `yaml:"sparsity_divisor"`
	MaxSegmentLength       float64 `yaml:"max_segment_length"` // seconds, 0 disables
	VADWindowSize          int     `yaml:"vad_window_size"`    // samples
}

// DispatchConfig contains ASR engine and chunk dispatch configuration
type DispatchConfig struct {
	Endpoint                  string  `yaml:"endpoint"`
	APIKey                    string  `yaml:"api_key"`
	DefaultModel              string  `yaml:"default_model"`
	DefaultLanguage           string  `yaml:"default_language"`
	OutputFormat              string  `yaml:"output_format"`
	RequestTimeout            int     `yaml:"request_timeout"`             // seconds
	DiarizationRequestTimeout int     `yaml:"diarization_request_timeout"` // seconds
	GlobalTimeout             int     `yaml:"global_timeout"`              // seconds
	DiarizationGlobalTimeout  int     `yaml:"diarization_global_timeout"`  // seconds
	MaxAttempts               int     `yaml:"max_attempts"`
	BackoffBase               float64 `yaml:"backoff_base"` // seconds
	MaxInFlight               int     `yaml:"max_in_flight"`
}

// UnificationConfig contains speaker embedding and store configuration
type UnificationConfig struct {
	Enabled              bool    `yaml:"enabled"`
	EmbeddingEndpoint    string  `yaml:"embedding_endpoint"`
	APIKey               string  `yaml:"api_key"`
	RequestTimeout       int     `yaml:"request_timeout"` // seconds
	StorePath            string  `yaml:"store_path"`
	DistanceThreshold    float64 `yaml:"distance_threshold"`
	MaxSamplesPerSpeaker int     `yaml:"max_samples_per_speaker"`
	MinSampleDuration    float64 `yaml:"min_sample_duration"` // seconds
}

// OutputConfig controls rendered artifacts written by the CLI
type OutputConfig struct {
	Format string `yaml:"format"` // "srt", "txt" or "both"
	Dir    string `yaml:"dir"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// JobsConfig controls background job execution for the HTTP API
type JobsConfig struct {
	MaxConcurrent   int `yaml:"max_concurrent"`
	Retention       int `yaml:"retention"`        // seconds
	CleanupInterval int `yaml:"cleanup_interval"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Segmentation: SegmentationConfig{
			Backend:                "ffmpeg",
			FFmpegPath:             "ffmpeg",
			FFprobePath:            "ffprobe",
			UseSilence:             true,
			MinSegmentLength:       30,
			MinSilenceLength:       1,
			SilenceThresholdDB:     -30,
			ChunkDuration:          60,
			LongAudioThreshold:     180,
			LongAudioChunkDuration: 180,
			SparsityDivisor:        20,
			VADWindowSize:          480,
		},
		Dispatch: DispatchConfig{
			Endpoint:                  "http://localhost:8000/transcribe",
			DefaultModel:              "turbo",
			OutputFormat:              "json",
			RequestTimeout:            480,
			DiarizationRequestTimeout: 720,
			GlobalTimeout:             1200,
			DiarizationGlobalTimeout:  1800,
			MaxAttempts:               3,
			BackoffBase:               1,
		},
		Unification: UnificationConfig{
			Enabled:              true,
			RequestTimeout:       60,
			StorePath:            "data/speakers/speaker_embeddings.json",
			DistanceThreshold:    0.3,
			MaxSamplesPerSpeaker: 3,
			MinSampleDuration:    0.5,
		},
		Output: OutputConfig{
			Format: "both",
			Dir:    "output",
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Jobs: JobsConfig{
			MaxConcurrent:   2,
			Retention:       3600,
			CleanupInterval: 60,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load reads and parses the configuration file. An empty path yields the
// defaults. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.ApplyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides endpoints, credentials and the store path from lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvASREndpoint); ok && v != "" {
		c.Dispatch.Endpoint = v
	}
	if v, ok := lookup(EnvASRAPIKey); ok {
		c.Dispatch.APIKey = v
	}
	if v, ok := lookup(EnvEmbeddingEndpoint); ok && v != "" {
		c.Unification.EmbeddingEndpoint = v
	}
	if v, ok := lookup(EnvEmbeddingAPIKey); ok {
		c.Unification.APIKey = v
	}
	if v, ok := lookup(EnvSpeakerStore); ok && v != "" {
		c.Unification.StorePath = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Segmentation.Validate(); err != nil {
		return fmt.Errorf("segmentation config: %w", err)
	}

	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch config: %w", err)
	}

	if err := c.Unification.Validate(); err != nil {
		return fmt.Errorf("unification config: %w", err)
	}

	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Jobs.Validate(); err != nil {
		return fmt.Errorf("jobs config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates segmentation configuration
func (s *SegmentationConfig) Validate() error {
	switch s.Backend {
	case "ffmpeg":
		if s.FFmpegPath == "" || s.FFprobePath == "" {
			return fmt.Errorf("ffmpeg_path and ffprobe_path are required for the ffmpeg backend")
		}
	case "wav":
	default:
		return fmt.Errorf("backend must be 'ffmpeg' or 'wav', got '%s'", s.Backend)
	}

	if s.MinSegmentLength <= 0 {
		return fmt.Errorf("min_segment_length must be positive, got %f", s.MinSegmentLength)
	}

	if s.MinSilenceLength <= 0 {
		return fmt.Errorf("min_silence_length must be positive, got %f", s.MinSilenceLength)
	}

	if s.SilenceThresholdDB >= 0 {
		return fmt.Errorf("silence_threshold_db must be negative, got %f", s.SilenceThresholdDB)
	}

	if s.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %f", s.ChunkDuration)
	}

	if s.LongAudioThreshold <= 0 || s.LongAudioChunkDuration <= 0 {
		return fmt.Errorf("long_audio_threshold and long_audio_chunk_duration must be positive")
	}

	if s.SparsityDivisor <= 0 {
		return fmt.Errorf("sparsity_divisor must be positive, got %f", s.SparsityDivisor)
	}

	if s.MaxSegmentLength < 0 {
		return fmt.Errorf("max_segment_length cannot be negative, got %f", s.MaxSegmentLength)
	}

	if s.MaxSegmentLength > 0 && s.MaxSegmentLength < s.MinSegmentLength {
		return fmt.Errorf("max_segment_length (%f) must not be below min_segment_length (%f)",
			s.MaxSegmentLength, s.MinSegmentLength)
	}

	if s.VADWindowSize < 80 || s.VADWindowSize > 4800 {
		return fmt.Errorf("vad_window_size must be between 80 and 4800 samples, got %d", s.VADWindowSize)
	}

	return nil
}

// Validate validates dispatch configuration
func (d *DispatchConfig) Validate() error {
	if d.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if d.DefaultModel == "" {
		return fmt.Errorf("default_model cannot be empty")
	}

	validFormats := map[string]bool{"json": true, "text": true, "srt": true}
	if !validFormats[d.OutputFormat] {
		return fmt.Errorf("output_format must be 'json', 'text' or 'srt', got '%s'", d.OutputFormat)
	}

	if d.RequestTimeout < 1 || d.DiarizationRequestTimeout < 1 {
		return fmt.Errorf("request timeouts must be at least 1 second")
	}

	if d.GlobalTimeout < d.RequestTimeout {
		return fmt.Errorf("global_timeout (%d) must not be shorter than request_timeout (%d)",
			d.GlobalTimeout, d.RequestTimeout)
	}

	if d.DiarizationGlobalTimeout < d.DiarizationRequestTimeout {
		return fmt.Errorf("diarization_global_timeout (%d) must not be shorter than diarization_request_timeout (%d)",
			d.DiarizationGlobalTimeout, d.DiarizationRequestTimeout)
	}

	if d.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", d.MaxAttempts)
	}

	if d.BackoffBase < 0 {
		return fmt.Errorf("backoff_base cannot be negative, got %f", d.BackoffBase)
	}

	if d.MaxInFlight < 0 {
		return fmt.Errorf("max_in_flight cannot be negative, got %d", d.MaxInFlight)
	}

	return nil
}

// Validate validates unification configuration
func (u *UnificationConfig) Validate() error {
	if !u.Enabled {
		return nil
	}

	if u.StorePath == "" {
		return fmt.Errorf("store_path cannot be empty when unification is enabled")
	}

	if u.DistanceThreshold <= 0 || u.DistanceThreshold >= 2 {
		return fmt.Errorf("distance_threshold must be in (0, 2), got %f", u.DistanceThreshold)
	}

	if u.MaxSamplesPerSpeaker < 1 {
		return fmt.Errorf("max_samples_per_speaker must be at least 1, got %d", u.MaxSamplesPerSpeaker)
	}

	if u.MinSampleDuration < 0 {
		return fmt.Errorf("min_sample_duration cannot be negative, got %f", u.MinSampleDuration)
	}

	if u.RequestTimeout < 1 {
		return fmt.Errorf("request_timeout must be at least 1 second, got %d", u.RequestTimeout)
	}

	return nil
}

// Validate validates output configuration
func (o *OutputConfig) Validate() error {
	validFormats := map[string]bool{"srt": true, "txt": true, "both": true}
	if !validFormats[o.Format] {
		return fmt.Errorf("format must be 'srt', 'txt' or 'both', got '%s'", o.Format)
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates job execution configuration
func (j *JobsConfig) Validate() error {
	if j.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", j.MaxConcurrent)
	}

	if j.Retention < 1 || j.CleanupInterval < 1 {
		return fmt.Errorf("retention and cleanup_interval must be at least 1 second")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is a file path rotated by size.
	if l.Output != "stdout" && l.Output != "stderr" && l.Output != "" && l.MaxSizeMB < 1 {
		return fmt.Errorf("max_size_mb must be at least 1 for file output, got %d", l.MaxSizeMB)
	}

	return nil
}

// GetRequestTimeout returns the per-request ASR timeout for a run
func (d *DispatchConfig) GetRequestTimeout(diarization bool) time.Duration {
	if diarization {
		return time.Duration(d.DiarizationRequestTimeout) * time.Second
	}
	return time.Duration(d.RequestTimeout) * time.Second
}

// GetGlobalTimeout returns the deadline for a whole dispatch batch
func (d *DispatchConfig) GetGlobalTimeout(diarization bool) time.Duration {
	if diarization {
		return time.Duration(d.DiarizationGlobalTimeout) * time.Second
	}
	return time.Duration(d.GlobalTimeout) * time.Second
}

// GetBackoffBase returns the retry backoff base as a time.Duration
func (d *DispatchConfig) GetBackoffBase() time.Duration {
	return time.Duration(d.BackoffBase * float64(time.Second))
}

// GetRequestTimeoutDuration returns the embedding request timeout
func (u *UnificationConfig) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(u.RequestTimeout) * time.Second
}

// GetRetentionDuration returns how long finished jobs are kept
func (j *JobsConfig) GetRetentionDuration() time.Duration {
	return time.Duration(j.Retention) * time.Second
}

// GetCleanupIntervalDuration returns the job cleanup period
func (j *JobsConfig) GetCleanupIntervalDuration() time.Duration {
	return time.Duration(j.CleanupInterval) * time.Second
}
