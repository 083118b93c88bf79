package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/skypro1111/chunkscribe/internal/metrics"
	"github.com/skypro1111/chunkscribe/internal/output"
	"github.com/skypro1111/chunkscribe/internal/pipeline"
	"github.com/skypro1111/chunkscribe/internal/server"
	"github.com/skypro1111/chunkscribe/internal/speaker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP job API",
		Long: `Start the HTTP API. Jobs submitted to /jobs run in the background
and their subtitles stay downloadable until the retention period expires.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
}

func runServe(opts *globalOptions) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if !cfg.HTTP.Enabled {
		return fmt.Errorf("http server is disabled in configuration")
	}

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", opts.configPath),
	)
	logger.Info("Configuration loaded",
		slog.String("backend", cfg.Segmentation.Backend),
		slog.Bool("use_silence", cfg.Segmentation.UseSilence),
		slog.String("asr_endpoint", cfg.Dispatch.Endpoint),
		slog.Int("max_attempts", cfg.Dispatch.MaxAttempts),
		slog.Bool("unification_enabled", cfg.Unification.Enabled),
		slog.String("speaker_store", cfg.Unification.StorePath),
		slog.Int("max_concurrent_jobs", cfg.Jobs.MaxConcurrent),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()
	a, err := newApp(cfg, logger, appMetrics)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs := pipeline.NewManager(a.runner, pipeline.ManagerConfig{
		MaxConcurrent:   cfg.Jobs.MaxConcurrent,
		Retention:       cfg.Jobs.GetRetentionDuration(),
		CleanupInterval: cfg.Jobs.GetCleanupIntervalDuration(),
	}, logger.With(slog.String("component", "jobs")), appMetrics)

	httpServer := server.NewHTTPServer(cfg.HTTP, logger, cfg, server.Deps{
		Jobs:     jobs,
		Speakers: a.store,
		Engine:   a.client,
		Metrics:  appMetrics,
		Gatherer: prometheus.DefaultGatherer,
	})
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	// Stop accepting requests before cancelling running jobs.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	jobs.Stop()

	stats := a.client.GetStats()
	logger.Info("Final engine statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
	)
	logger.Info("Service stopped")
	return nil
}

type transcribeOptions struct {
	model       string
	language    string
	diarization bool
	format      string
	outDir      string
	printJSON   bool
}

func newTranscribeCmd(opts *globalOptions) *cobra.Command {
	topts := &transcribeOptions{}

	cmd := &cobra.Command{
		Use:   "transcribe <audio>",
		Short: "Transcribe one audio file and write subtitles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscribe(cmd.Context(), opts, topts, args[0])
		},
	}

	cmd.Flags().StringVar(&topts.model, "model", "", "ASR model (defaults to dispatch.default_model)")
	cmd.Flags().StringVar(&topts.language, "language", "", "Language hint (defaults to dispatch.default_language)")
	cmd.Flags().BoolVar(&topts.diarization, "diarization", false, "Request speaker labels and unify them across chunks")
	cmd.Flags().StringVar(&topts.format, "format", "", "Output files: srt, txt or both (defaults to output.format)")
	cmd.Flags().StringVar(&topts.outDir, "out-dir", "", "Directory for output files (defaults to output.dir)")
	cmd.Flags().BoolVar(&topts.printJSON, "json", false, "Print the full result as JSON to stdout")

	return cmd
}

func runTranscribe(ctx context.Context, opts *globalOptions, topts *transcribeOptions, audioPath string) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger, metrics.NewMetrics())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	language := topts.language
	if language == "" {
		language = cfg.Dispatch.DefaultLanguage
	}

	result, err := a.runner.Run(ctx, uuid.New().String(), pipeline.Request{
		AudioPath:    audioPath,
		Model:        topts.model,
		Language:     language,
		Diarization:  topts.diarization,
		OutputFormat: cfg.Dispatch.OutputFormat,
	})
	if err != nil {
		return err
	}

	format := topts.format
	if format == "" {
		format = cfg.Output.Format
	}
	dir := topts.outDir
	if dir == "" {
		dir = cfg.Output.Dir
	}
	if dir == "" {
		dir = filepath.Dir(audioPath)
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	written, err := output.WriteFiles(dir, base, result.Output, format)
	if err != nil {
		return err
	}

	logger.Info("Transcription finished",
		slog.String("job_id", result.JobID),
		slog.Int("chunks", result.Chunks),
		slog.Int("chunks_failed", result.Output.Stats.ChunksFailed),
		slog.Int("segments", result.Output.Stats.OutputSegments),
		slog.Int("speakers", result.Output.Stats.SpeakerCount),
		slog.Any("files", written),
	)

	if topts.printJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return nil
}

func newSpeakersCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "speakers",
		Short: "List persisted speaker profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Unification.StorePath == "" {
				return fmt.Errorf("unification.store_path is not configured")
			}

			store := speaker.NewStore(cfg.Unification.StorePath, logger, nil)
			summary, err := store.Summary(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}
