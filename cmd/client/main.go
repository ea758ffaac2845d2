package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kafly/skymetrics/internal/config"
	"github.com/kafly/skymetrics/internal/flightlog"
	"github.com/kafly/skymetrics/internal/monitor"
	"github.com/kafly/skymetrics/internal/simdata"
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
	if err := cfg.ValidateClient(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid client configuration: %v\n", err)
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

	log.Info("Starting Skymetrics client",
		logger.String("version", Version),
		logger.String("pilot", cfg.Client.Pilot.Name))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := simdata.NewSyntheticProvider(43.677, -79.630)

	uploader := flightlog.NewUploader(flightlog.UploaderConfig{
		SubmitURL:      cfg.Ingestion.SubmitURL,
		MaxAttempts:    cfg.Ingestion.MaxAttempts,
		RetryDelay:     time.Duration(cfg.Ingestion.RetryDelaySecs) * time.Second,
		RequestTimeout: time.Duration(cfg.Ingestion.RequestTimeoutSecs) * time.Second,
	}, log)

	// The network ID the flight log is filed under: VATSIM first, IVAO
	// otherwise.
	userID := cfg.Client.Pilot.VatsimID
	if userID == "" {
		userID = cfg.Client.Pilot.IvaoID
	}

	t := cfg.Client.Thresholds
	detector := flightlog.NewDetector(flightlog.Thresholds{
		TaxiStartKts:      t.TaxiStartKts,
		TakeoffAGLFt:      t.TakeoffAGLFt,
		TakeoffSpeedKts:   t.TakeoffSpeedKts,
		TouchdownAGLFt:    t.TouchdownAGLFt,
		TouchdownSpeedKts: t.TouchdownSpeedKts,
		BankAlertDeg:      t.BankAlertDeg,
		AlertCooldown:     time.Duration(t.AlertCooldownSecs) * time.Second,
	}, flightlog.Identity{
		UserID:      userID,
		DepartureID: cfg.Client.Pilot.DepartureID,
		ArrivalID:   cfg.Client.Pilot.ArrivalID,
	}, uploader, log)

	link := monitor.NewLink(monitor.Config{
		ServerURL:         cfg.Client.ServerURL,
		PollInterval:      time.Duration(cfg.Client.PollIntervalMs) * time.Millisecond,
		ReconnectDelay:    time.Duration(cfg.Client.ReconnectDelaySecs) * time.Second,
		HeartbeatInterval: time.Duration(cfg.Client.HeartbeatIntervalSecs) * time.Second,
	}, monitor.Pilot{
		Name:        cfg.Client.Pilot.Name,
		VatsimID:    cfg.Client.Pilot.VatsimID,
		IvaoID:      cfg.Client.Pilot.IvaoID,
		DepartureID: cfg.Client.Pilot.DepartureID,
		ArrivalID:   cfg.Client.Pilot.ArrivalID,
	}, provider, detector, log)

	if err := link.Start(ctx); err != nil {
		log.Error("Failed to start telemetry link", logger.Error(err))
		os.Exit(1)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down client...")

	link.Stop()
	cancel()

	log.Info("Shutdown complete.")
}
