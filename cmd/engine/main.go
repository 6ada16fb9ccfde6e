package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxinput/dictation-engine/internal/aggregator"
	"github.com/voxinput/dictation-engine/internal/audio"
	"github.com/voxinput/dictation-engine/internal/backend"
	"github.com/voxinput/dictation-engine/internal/config"
	"github.com/voxinput/dictation-engine/internal/events"
	"github.com/voxinput/dictation-engine/internal/feed"
	"github.com/voxinput/dictation-engine/internal/injector"
	"github.com/voxinput/dictation-engine/internal/natsbridge"
	"github.com/voxinput/dictation-engine/internal/observability"
	"github.com/voxinput/dictation-engine/internal/sink"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("backend", cfg.Backend).
		Str("sink", cfg.Sink).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Dictation engine starting")

	// Transcription backend
	transcriber, err := backend.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create transcription backend")
	}
	defer transcriber.Close()

	// Typing sink
	textSink, err := sink.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create sink")
	}
	defer textSink.Close()

	// Optional session audio archive
	archiver, err := audio.NewArchiver(cfg.ArchiveDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.ArchiveDir).Msg("Failed to create audio archive")
	}

	// Event bus and pipeline
	bus := events.NewBus(events.DefaultBufferSize)
	defer bus.Close()

	agg := aggregator.New(transcriber, bus, archiver, logger)

	inject, err := injector.New(injector.Config{
		DeliveryInterval:  time.Duration(cfg.DeliveryIntervalMs) * time.Millisecond,
		MaxQueueLength:    cfg.MaxQueueLength,
		MinInjectLength:   cfg.MinInjectLength,
		MinConfidence:     cfg.InjectMinConfidence,
		FinalOnly:         cfg.FinalOnly,
		PrefixMerge:       cfg.PrefixMergeEnabled,
		CorrectionEnabled: cfg.CorrectionEnabled,
	}, textSink, bus, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create injector")
	}
	if err := inject.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start injector")
	}
	defer inject.Stop()

	// Optional NATS event mirror
	var bridge *natsbridge.Bridge
	if cfg.NATSEnabled {
		bridge, err = natsbridge.Connect(cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		bridge.Start(bus)
		defer bridge.Close()
	}

	// HTTP server
	mux := http.NewServeMux()
	mux.Handle("/streams/audio", feed.NewHandler(agg, bus, cfg, logger))
	mux.HandleFunc("/health", observability.HealthCheckHandler(version))

	checks := map[string]observability.HealthCheckFunc{
		"backend": func(ctx context.Context) (bool, error) {
			// Creation validates credentials; no billable call is made
			return transcriber != nil, nil
		},
	}
	if bridge != nil {
		checks["nats"] = func(ctx context.Context) (bool, error) {
			return bridge.Healthy(), nil
		}
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(version, checks))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/streams/audio", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down...")

	// End any in-flight session so its text still lands
	if text, err := agg.Stop(); err == nil {
		logger.Info().Int("chars", len(text)).Msg("Session flushed on shutdown")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
