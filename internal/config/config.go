package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure shared by
// the telemetry client and the collector server.
type Config struct {
	Client    ClientConfig    `toml:"client"`    // Telemetry client settings
	Ingestion IngestionConfig `toml:"ingestion"` // Flight log ingestion endpoint settings
	Server    ServerConfig    `toml:"server"`    // Collector HTTP/websocket server settings
	Presence  PresenceConfig  `toml:"presence"`  // External network presence check settings
	Storage   StorageConfig   `toml:"storage"`   // Data persistence settings
	Logging   LoggingConfig   `toml:"logging"`   // Application logging settings
}

// ClientConfig contains the telemetry client settings.
type ClientConfig struct {
	ServerURL             string `toml:"server_url"`                 // Collector websocket URL (e.g. ws://localhost:8017/api/v1/ws)
	PollIntervalMs        int    `toml:"poll_interval_ms"`           // Simulator poll cadence in milliseconds
	ReconnectDelaySecs    int    `toml:"reconnect_delay_seconds"`    // Delay before reopening a failed connection
	HeartbeatIntervalSecs int    `toml:"heartbeat_interval_seconds"` // Max silence before a forced resend
	Source                string `toml:"source"`                     // Telemetry source ("synthetic")

	Pilot      PilotConfig      `toml:"pilot"`
	Thresholds ThresholdsConfig `toml:"thresholds"`
}

// PilotConfig identifies the pilot the client transmits for.
type PilotConfig struct {
	Name        string `toml:"name"`         // Display name
	VatsimID    string `toml:"vatsim_id"`    // VATSIM CID ("" if none)
	IvaoID      string `toml:"ivao_id"`      // IVAO VID ("" if none)
	DepartureID string `toml:"departure_id"` // Flight plan departure ICAO (optional)
	ArrivalID   string `toml:"arrival_id"`   // Flight plan arrival ICAO (optional)
}

// ThresholdsConfig contains the flight-phase detection constants.
type ThresholdsConfig struct {
	TaxiStartKts      float64 `toml:"taxi_start_kts"`         // Ground speed that starts a flight sequence
	TakeoffAGLFt      float64 `toml:"takeoff_agl_ft"`         // AGL above which takeoff is detected
	TakeoffSpeedKts   float64 `toml:"takeoff_speed_kts"`      // Ground speed above which takeoff is detected
	TouchdownAGLFt    float64 `toml:"touchdown_agl_ft"`       // AGL below which touchdown is armed
	TouchdownSpeedKts float64 `toml:"touchdown_speed_kts"`    // Ground speed below which a landing completes
	BankAlertDeg      float64 `toml:"bank_alert_deg"`         // Bank angle triggering the bank alert
	AlertCooldownSecs int     `toml:"alert_cooldown_seconds"` // Per-alert suppression window
}

// IngestionConfig contains the flight log submission settings.
type IngestionConfig struct {
	SubmitURL          string `toml:"submit_url"`              // Log-ingestion endpoint (HTTP POST, form-encoded)
	MaxAttempts        int    `toml:"max_attempts"`            // Delivery attempts per batch
	RetryDelaySecs     int    `toml:"retry_delay_seconds"`     // Delay between attempts
	RequestTimeoutSecs int    `toml:"request_timeout_seconds"` // Per-record HTTP timeout
}

// ServerConfig contains collector HTTP server configuration settings.
type ServerConfig struct {
	Host             string `toml:"host"`                  // Host address to bind to (e.g. 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	Port             int    `toml:"port"`                  // HTTP/websocket port
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// PresenceConfig contains online-network roster check configuration.
type PresenceConfig struct {
	VatsimEnabled      bool   `toml:"vatsim_enabled"`          // Check the VATSIM live data feed
	VatsimDataURL      string `toml:"vatsim_data_url"`         // VATSIM data feed URL
	IvaoEnabled        bool   `toml:"ivao_enabled"`            // Check the IVAO whazzup feed
	IvaoWhazzupURL     string `toml:"ivao_whazzup_url"`        // IVAO whazzup URL
	CheckIntervalSecs  int    `toml:"check_interval_seconds"`  // Periodic re-verification interval
	RequestTimeoutSecs int    `toml:"request_timeout_seconds"` // Roster HTTP timeout
}

// StorageConfig contains data persistence configuration.
type StorageConfig struct {
	SQLiteBasePath    string `toml:"sqlite_base_path"`     // Base path for SQLite database files (filename is generated daily)
	MaxTelemetryInAPI int    `toml:"max_telemetry_in_api"` // Maximum telemetry rows returned per session by the API
}

// LoggingConfig contains application logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" or "console"
}

// Load loads the configuration from the specified file path.
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations
// in order of preference.
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	var lastErr error
	for _, path := range searchPaths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("no config file found in any of the expected locations. Last error: %w", lastErr)
}

// Validate validates the configuration and fills in defaults for anything
// left unset.
func (c *Config) Validate() error {
	if c.Client.PollIntervalMs <= 0 {
		c.Client.PollIntervalMs = 100
	}
	if c.Client.ReconnectDelaySecs <= 0 {
		c.Client.ReconnectDelaySecs = 5
	}
	if c.Client.HeartbeatIntervalSecs <= 0 {
		c.Client.HeartbeatIntervalSecs = 30
	}
	if c.Client.Source == "" {
		c.Client.Source = "synthetic"
	}
	if c.Client.Source != "synthetic" {
		return fmt.Errorf("invalid client source: %s (only 'synthetic' is supported)", c.Client.Source)
	}

	t := &c.Client.Thresholds
	if t.TaxiStartKts <= 0 {
		t.TaxiStartKts = 10
	}
	if t.TakeoffAGLFt <= 0 {
		t.TakeoffAGLFt = 50
	}
	if t.TakeoffSpeedKts <= 0 {
		t.TakeoffSpeedKts = 30
	}
	if t.TouchdownAGLFt <= 0 {
		t.TouchdownAGLFt = 100
	}
	if t.TouchdownSpeedKts <= 0 {
		t.TouchdownSpeedKts = 10
	}
	if t.BankAlertDeg <= 0 {
		t.BankAlertDeg = 30
	}
	if t.AlertCooldownSecs <= 0 {
		t.AlertCooldownSecs = 60
	}
	if t.TouchdownSpeedKts > t.TaxiStartKts {
		return fmt.Errorf("touchdown_speed_kts (%.0f) must not exceed taxi_start_kts (%.0f)",
			t.TouchdownSpeedKts, t.TaxiStartKts)
	}

	if c.Ingestion.MaxAttempts <= 0 {
		c.Ingestion.MaxAttempts = 3
	}
	if c.Ingestion.RetryDelaySecs <= 0 {
		c.Ingestion.RetryDelaySecs = 5
	}
	if c.Ingestion.RequestTimeoutSecs <= 0 {
		c.Ingestion.RequestTimeoutSecs = 5
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8017
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}

	if c.Presence.VatsimDataURL == "" {
		c.Presence.VatsimDataURL = "https://data.vatsim.net/v3/vatsim-data.json"
	}
	if c.Presence.IvaoWhazzupURL == "" {
		c.Presence.IvaoWhazzupURL = "https://api.ivao.aero/v2/tracker/whazzup"
	}
	if c.Presence.CheckIntervalSecs <= 0 {
		c.Presence.CheckIntervalSecs = 120
	}
	if c.Presence.RequestTimeoutSecs <= 0 {
		c.Presence.RequestTimeoutSecs = 5
	}

	if c.Storage.MaxTelemetryInAPI <= 0 {
		c.Storage.MaxTelemetryInAPI = 60
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// ValidateClient checks the settings the telemetry client cannot run without.
func (c *Config) ValidateClient() error {
	if c.Client.ServerURL == "" {
		return fmt.Errorf("client server_url is required")
	}
	if c.Client.Pilot.Name == "" {
		return fmt.Errorf("client pilot name is required")
	}
	if c.Ingestion.SubmitURL == "" {
		return fmt.Errorf("ingestion submit_url is required")
	}
	return nil
}

// ValidateServer checks the settings the collector server cannot run without.
func (c *Config) ValidateServer() error {
	if c.Storage.SQLiteBasePath == "" {
		return fmt.Errorf("storage sqlite_base_path is required")
	}
	if !c.Presence.VatsimEnabled && !c.Presence.IvaoEnabled {
		return fmt.Errorf("at least one presence network must be enabled (vatsim_enabled or ivao_enabled)")
	}
	return nil
}
