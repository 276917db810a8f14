package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/echo-recorder/internal/audio"
	"github.com/skypro1111/echo-recorder/internal/capture"
	"github.com/skypro1111/echo-recorder/internal/config"
	"github.com/skypro1111/echo-recorder/internal/jobs"
	"github.com/skypro1111/echo-recorder/internal/metrics"
	"github.com/skypro1111/echo-recorder/internal/recorder"
	"github.com/skypro1111/echo-recorder/internal/server"
	"github.com/skypro1111/echo-recorder/internal/store"
	"github.com/skypro1111/echo-recorder/internal/transcription"
	"github.com/skypro1111/echo-recorder/internal/vad"
)

const (
	defaultConfigPath = "configs/recorder.yaml"
	serviceName       = "echo-recorder"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	inputPath := flag.String("input", "", "Replay headerless 16 kHz mono PCM16 from this file instead of the microphone")
	paced := flag.Bool("paced", true, "Replay -input in real time")
	autostart := flag.Bool("autostart", false, "Start recording immediately")
	flag.Parse()

	// A missing .env file is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("data_dir", cfg.Storage.DataDir),
		slog.String("state_file", cfg.Storage.StateFile),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Duration("segment_duration", cfg.Audio.GetSegmentDuration()),
		slog.Duration("overlap_duration", cfg.Audio.GetOverlapDuration()),
		slog.Duration("silence_duration", cfg.Silence.GetSilenceDuration()),
		slog.Bool("transcription_enabled", cfg.Transcription.Enabled),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	repo := store.NewMemoryRepository(time.Now)

	dispatcher := jobs.NewDispatcher(jobs.Config{
		Workers:        cfg.Jobs.Workers,
		QueueSize:      cfg.Jobs.QueueSize,
		MaxAttempts:    cfg.Jobs.MaxAttempts,
		InitialBackoff: cfg.Jobs.GetInitialBackoff(),
		MaxBackoff:     cfg.Jobs.GetMaxBackoff(),
	}, logger, appMetrics)
	dispatcher.Register(jobs.KindSummary, jobs.NewSummaryHandler(repo, nil, logger))

	// Segments are only queued for upload when a transcription backend exists.
	var enqueuer audio.TranscriptionEnqueuer
	var transcriber *transcription.Client
	if cfg.Transcription.Enabled {
		transcriber, err = transcription.NewClient(transcription.Config{
			Endpoint:      cfg.Transcription.Endpoint,
			APIKey:        cfg.Transcription.APIKey,
			Timeout:       cfg.Transcription.GetTimeoutDuration(),
			MaxRetries:    cfg.Transcription.MaxRetries,
			MaxConcurrent: cfg.Transcription.MaxConcurrent,
			Language:      cfg.Transcription.Language,
		}, appMetrics)
		if err != nil {
			logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		dispatcher.Register(jobs.KindTranscribe, jobs.NewTranscribeHandler(repo, transcriber, cfg.Transcription.Language, logger))
		enqueuer = dispatcher
	}

	chunker, err := audio.NewChunker(audio.ChunkerConfig{
		DataDir:         cfg.Storage.DataDir,
		SampleRate:      cfg.Audio.SampleRate,
		Channels:        cfg.Audio.Channels,
		BitsPerSample:   cfg.Audio.BitDepth,
		SegmentDuration: cfg.Audio.GetSegmentDuration(),
		OverlapDuration: cfg.Audio.GetOverlapDuration(),
	}, nil, enqueuer, logger)
	if err != nil {
		logger.Error("Failed to create chunker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	detector, err := vad.NewSilenceDetector(vad.SilenceConfig{
		SampleRate:        cfg.Audio.SampleRate,
		Window:            cfg.Silence.GetWindowDuration(),
		CalibrationWindow: cfg.Silence.CalibrationWindows(),
		MinNoiseFloor:     cfg.Silence.CalibrationFloor,
		FloorFactor:       cfg.Silence.FloorFactor,
		MinThreshold:      cfg.Silence.MinThreshold,
		SilenceDuration:   cfg.Silence.GetSilenceDuration(),
	})
	if err != nil {
		logger.Error("Failed to create silence detector", slog.String("error", err.Error()))
		os.Exit(1)
	}

	source, closeSource, err := newSource(cfg, *inputPath, *paced, logger)
	if err != nil {
		logger.Error("Failed to create audio source", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeSource()

	controller, err := recorder.NewController(recorder.Options{
		Source:          source,
		Chunker:         chunker,
		Detector:        detector,
		Repository:      repo,
		States:          recorder.NewFileStateStore(cfg.Storage.StateFile),
		Summaries:       dispatcher,
		Metrics:         appMetrics,
		Logger:          logger,
		TickInterval:    cfg.Recorder.GetTickInterval(),
		SegmentDuration: cfg.Audio.GetSegmentDuration(),
		DataDir:         cfg.Storage.DataDir,
	})
	if err != nil {
		logger.Error("Failed to create recording controller", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Recording controller initialized",
		slog.String("status", controller.Status().Get().String()),
		slog.String("session_id", controller.SessionID()),
	)

	if cfg.Transcription.Enabled {
		if _, err := jobs.Requeue(ctx, repo, dispatcher, logger); err != nil {
			logger.Warn("Failed to requeue segments", slog.String("error", err.Error()))
		}
	}
	dispatcher.Start(ctx)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		opts := server.Options{
			Recorder:  controller,
			Sessions:  repo,
			Summaries: dispatcher,
			Jobs:      dispatcher,
			Metrics:   appMetrics,
			Gatherer:  prometheus.DefaultGatherer,
			Logger:    logger,
		}
		if transcriber != nil {
			opts.Transcription = transcriber
		}
		httpServer = server.NewHTTPServer(cfg.HTTP, opts)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if *autostart {
		if err := controller.Start(ctx); err != nil {
			logger.Error("Failed to start recording", slog.String("error", err.Error()))
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", cfg.HTTP.ListenAddress()),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// The session survives shutdown through the recovery state.
	if err := controller.Close(); err != nil {
		logger.Error("Error closing recording controller", slog.String("error", err.Error()))
	}

	dispatcher.Stop()

	if transcriber != nil {
		stats := transcriber.GetStats()
		transcriber.Close()
		logger.Info("Final transcription statistics",
			slog.Uint64("total_requests", stats.TotalRequests),
			slog.Uint64("success_requests", stats.SuccessRequests),
			slog.Uint64("failed_requests", stats.FailedRequests),
		)
	}

	logger.Info("Service stopped")
}

// newSource opens the microphone, or the replay file when input is set.
func newSource(cfg *config.Config, input string, paced bool, logger *slog.Logger) (capture.Source, func(), error) {
	format := capture.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}

	if input == "" {
		src, err := capture.NewPortAudioSource(capture.PortAudioConfig{
			Format:          format,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		}, logger)
		return src, func() {}, err
	}

	f, err := os.Open(input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input %s: %w", input, err)
	}
	src, err := capture.NewReaderSource(f, capture.ReaderConfig{
		Format: format,
		Frame:  100 * time.Millisecond,
		Paced:  paced,
	}, logger)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	logger.Info("Replaying audio from file", slog.String("input", input), slog.Bool("paced", paced))
	return src, func() { f.Close() }, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
