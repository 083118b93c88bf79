package main

import (
	"fmt"
	"log/slog"

	"github.com/skypro1111/chunkscribe/internal/audio"
	"github.com/skypro1111/chunkscribe/internal/config"
	"github.com/skypro1111/chunkscribe/internal/dispatch"
	"github.com/skypro1111/chunkscribe/internal/metrics"
	"github.com/skypro1111/chunkscribe/internal/pipeline"
	"github.com/skypro1111/chunkscribe/internal/speaker"
	"github.com/skypro1111/chunkscribe/internal/transcription"
)

// app holds the wired components shared by the commands
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	client  *transcription.Client
	store   *speaker.Store
	runner  *pipeline.Runner
}

// loadConfig reads env files and configuration, then builds the logger
func loadConfig(opts *globalOptions) (*config.Config, *slog.Logger, error) {
	if opts.envFile != "" {
		if err := config.LoadDotEnv(opts.envFile); err != nil {
			return nil, nil, err
		}
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	return cfg, initLogger(cfg.Logging), nil
}

// newApp wires backend, dispatcher, unifier and runner from configuration
func newApp(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*app, error) {
	var backend audio.Backend
	switch cfg.Segmentation.Backend {
	case "wav":
		backend = audio.NewWAVSource(cfg.Segmentation.SilenceThresholdDB, cfg.Segmentation.VADWindowSize)
	default:
		backend = audio.NewFFmpeg(cfg.Segmentation.FFmpegPath, cfg.Segmentation.FFprobePath, cfg.Segmentation.SilenceThresholdDB)
	}

	segmenter := audio.NewSegmenter(backend, backend, audio.SegmenterConfig{
		UseSilence:             cfg.Segmentation.UseSilence,
		MinSegmentLength:       cfg.Segmentation.MinSegmentLength,
		MinSilenceLength:       cfg.Segmentation.MinSilenceLength,
		ChunkDuration:          cfg.Segmentation.ChunkDuration,
		LongAudioThreshold:     cfg.Segmentation.LongAudioThreshold,
		LongAudioChunkDuration: cfg.Segmentation.LongAudioChunkDuration,
		SparsityDivisor:        cfg.Segmentation.SparsityDivisor,
		MaxSegmentLength:       cfg.Segmentation.MaxSegmentLength,
	}, logger.With(slog.String("component", "segmenter")), m)

	client, err := transcription.NewClient(transcription.Config{
		Endpoint: cfg.Dispatch.Endpoint,
		APIKey:   cfg.Dispatch.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transcription client: %w", err)
	}

	dispatcher := dispatch.New(client, backend, dispatch.Config{
		RequestTimeout:            cfg.Dispatch.GetRequestTimeout(false),
		DiarizationRequestTimeout: cfg.Dispatch.GetRequestTimeout(true),
		GlobalTimeout:             cfg.Dispatch.GetGlobalTimeout(false),
		DiarizationGlobalTimeout:  cfg.Dispatch.GetGlobalTimeout(true),
		MaxAttempts:               cfg.Dispatch.MaxAttempts,
		BackoffBase:               cfg.Dispatch.GetBackoffBase(),
		MaxInFlight:               cfg.Dispatch.MaxInFlight,
	}, logger.With(slog.String("component", "dispatcher")), m)

	a := &app{cfg: cfg, logger: logger, metrics: m, client: client}

	var unifier pipeline.Unifier
	if cfg.Unification.Enabled {
		unifierLogger := logger.With(slog.String("component", "unifier"))
		if cfg.Unification.StorePath != "" {
			a.store = speaker.NewStore(cfg.Unification.StorePath, unifierLogger, m)
		}

		// A nil embedder makes every pass degrade to chunk labels.
		var embedder speaker.Embedder
		if cfg.Unification.EmbeddingEndpoint != "" {
			httpEmbedder, err := speaker.NewHTTPEmbedder(cfg.Unification.EmbeddingEndpoint, cfg.Unification.APIKey, unifierLogger, m)
			if err != nil {
				return nil, fmt.Errorf("failed to create embedding client: %w", err)
			}
			embedder = httpEmbedder
		} else {
			logger.Warn("No embedding endpoint configured, speakers will keep chunk labels")
		}

		unifier = speaker.NewUnifier(embedder, backend, a.store, speaker.Config{
			Threshold:            cfg.Unification.DistanceThreshold,
			MaxSamplesPerSpeaker: cfg.Unification.MaxSamplesPerSpeaker,
			MinSampleDuration:    cfg.Unification.MinSampleDuration,
			Concurrency:          speaker.DefaultConfig().Concurrency,
			RequestTimeout:       cfg.Unification.GetRequestTimeoutDuration(),
		}, unifierLogger, m)
	}

	a.runner = pipeline.NewRunner(segmenter, dispatcher, unifier, pipeline.RunnerConfig{
		Model:        cfg.Dispatch.DefaultModel,
		OutputFormat: cfg.Dispatch.OutputFormat,
	}, logger)

	return a, nil
}

// Close releases client connections
func (a *app) Close() {
	if err := a.client.Close(); err != nil {
		a.logger.Warn("Error closing transcription client", slog.String("error", err.Error()))
	}
}
