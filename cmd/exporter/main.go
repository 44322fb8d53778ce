package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R167/solaredge_exporter/internal/client"
	"github.com/R167/solaredge_exporter/internal/collector"
	"github.com/R167/solaredge_exporter/internal/config"
	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Configured()
	lflag.Configure()

	// Setup structured logging
	// lflag sets llog's level from -log-level, mirror it into slog
	var level slog.Level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create SolarEdge portal client
	webClient, err := client.NewWebClient(client.WebConfig{
		BaseURL:  cfg.BaseURL,
		SiteID:   cfg.Site.SiteID,
		Username: cfg.Site.Username,
		Password: cfg.Site.Password,
		Timeout:  cfg.RequestTimeout,
	}, logger)
	if err != nil {
		logger.Error("Failed to create SolarEdge client", "error", err)
		os.Exit(1)
	}

	// Create and register optimizer collector
	optimizerCollector := collector.NewOptimizerCollector()
	prometheus.MustRegister(optimizerCollector)

	// Create and start poller
	poller := collector.NewPoller(webClient, optimizerCollector, collector.PollerConfig{
		Interval:  cfg.Interval,
		Staleness: cfg.Staleness,
		ArrayFor:  cfg.Site.ArrayFor,
	}, logger)
	go poller.Start(ctx)

	// Setup HTTP server with timeouts
	http.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      nil,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in goroutine
	go func() {
		logger.Info("Starting SolarEdge optimizer exporter", "address", cfg.ListenAddr, "site", cfg.Site.SiteID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel() // Cancel context before exit
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping gracefully...")

	// Shutdown HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop poller
	cancel()
	poller.Stop()

	logger.Info("Exporter stopped")
}
