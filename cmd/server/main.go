package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kafly/skymetrics/internal/api"
	"github.com/kafly/skymetrics/internal/collector"
	"github.com/kafly/skymetrics/internal/config"
	"github.com/kafly/skymetrics/internal/presence"
	"github.com/kafly/skymetrics/internal/storage/sqlite"
	"github.com/kafly/skymetrics/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Optional .env file for local overrides
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("SKYMETRICS_CONFIG"), "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid server configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Skymetrics collector",
		logger.String("version", Version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Daily database file
	today := time.Now().Format("2006-01-02")
	dbFilename := fmt.Sprintf("skymetrics-%s.db", today)
	dbPath := filepath.Join(cfg.Storage.SQLiteBasePath, dbFilename)

	if err := os.MkdirAll(cfg.Storage.SQLiteBasePath, 0755); err != nil {
		log.Error("Failed to create database directory",
			logger.Error(err),
			logger.String("path", cfg.Storage.SQLiteBasePath))
		os.Exit(1)
	}

	log.Info("Using daily database", logger.String("path", dbPath))

	sessionStorage, err := sqlite.NewSessionStorage(dbPath, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer sessionStorage.Close()

	telemetryStorage := sqlite.NewTelemetryStorage(sessionStorage.GetDB(), cfg.Storage.MaxTelemetryInAPI, log)
	commandStorage := sqlite.NewCommandStorage(sessionStorage.GetDB(), log)

	// Presence providers per configuration
	rosterTimeout := time.Duration(cfg.Presence.RequestTimeoutSecs) * time.Second
	var vatsimProvider, ivaoProvider presence.Provider
	if cfg.Presence.VatsimEnabled {
		vatsimProvider = presence.NewVatsimProvider(cfg.Presence.VatsimDataURL, rosterTimeout, log)
	}
	if cfg.Presence.IvaoEnabled {
		ivaoProvider = presence.NewIvaoProvider(cfg.Presence.IvaoWhazzupURL, rosterTimeout, log)
	}
	checker := presence.NewChecker(vatsimProvider, ivaoProvider, log)

	registry := collector.NewRegistry()
	gate := collector.NewGate(
		checker,
		registry,
		commandStorage,
		time.Duration(cfg.Presence.CheckIntervalSecs)*time.Second,
		log,
	)
	if err := gate.Start(ctx); err != nil {
		log.Error("Failed to start presence gate", logger.Error(err))
		os.Exit(1)
	}

	collectorServer := collector.NewServer(registry, gate, sessionStorage, telemetryStorage, log)

	router := api.NewRouter(collectorServer, sessionStorage, telemetryStorage, commandStorage, cfg, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error on startup", logger.String("addr", server.Addr), logger.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	log.Info("Stopping presence gate...")
	gate.Stop()
	log.Info("Presence gate stopped.")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	log.Info("Shutdown complete.")
}
