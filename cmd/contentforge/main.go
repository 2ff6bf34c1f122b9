// Package main is the entry point for the ContentForge server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contentforge/internal/analytics"
	"contentforge/internal/config"
	"contentforge/internal/crypto"
	httpserver "contentforge/internal/http"
	"contentforge/internal/orchestrator"
	"contentforge/internal/selector"
	"contentforge/internal/storage"
	"contentforge/internal/storage/postgres"
	"contentforge/internal/telemetry"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.toml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogging(&cfg.Logging)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting ContentForge",
		"version", "0.1.0",
		"http_port", cfg.Server.HTTPPort,
	)

	// Initialize encryption service for provider credentials
	encryption, err := crypto.NewEncryptionService(cfg.Security.MasterKey)
	if err != nil {
		slog.Error("Failed to initialize encryption", "error", err)
		os.Exit(1)
	}

	// Initialize storage
	var store storage.Store
	switch cfg.Database.Driver {
	case "postgres":
		slog.Info("Initializing PostgreSQL storage",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Database,
		)
		pgStore, err := postgres.NewStore(&cfg.Database)
		if err != nil {
			slog.Error("Failed to initialize PostgreSQL storage", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		store = pgStore
	case "memory":
		slog.Warn("Using in-memory storage; all data is lost on restart")
		store = storage.NewMemoryStore()
	default:
		slog.Error("Unsupported storage driver", "driver", cfg.Database.Driver)
		os.Exit(1)
	}

	// Initialize telemetry
	metrics := telemetry.NewMetrics(nil)

	// Wire the generation pipeline
	sel := selector.New(store, encryption)
	aggregator := analytics.New(store)
	service := orchestrator.New(store, sel, aggregator, metrics, encryption, nil)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received shutdown signal", "signal", sig)
		cancel()
	}()

	// Periodically prune aged usage logs; rollups keep the history
	if cfg.Analytics.RetentionDays > 0 {
		go runLogCleanup(ctx, aggregator, &cfg.Analytics)
	}

	// Start HTTP server
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort)
	apiServer := httpserver.NewServer(cfg, service, store, aggregator, encryption)
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("Starting HTTP server",
			"addr", httpAddr,
			"endpoints", []string{"/v1/*", "/metrics"},
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	slog.Info("ContentForge ready",
		"api_endpoint", fmt.Sprintf("http://localhost:%d/v1", cfg.Server.HTTPPort),
	)

	// Wait for shutdown
	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("ContentForge stopped")
}

func setupLogging(cfg *config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runLogCleanup(ctx context.Context, aggregator *analytics.Aggregator, cfg *config.AnalyticsConfig) {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := aggregator.CleanupOldLogs(ctx, cfg.RetentionDays)
			if err != nil {
				slog.Error("Usage log cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("Pruned aged usage logs", "removed", removed, "retention_days", cfg.RetentionDays)
			}
		}
	}
}
