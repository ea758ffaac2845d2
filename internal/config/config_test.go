package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAndValidateAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[client]
server_url = "ws://localhost:8017/api/v1/ws"

[client.pilot]
name = "Test Pilot"
vatsim_id = "1234567"

[ingestion]
submit_url = "https://logs.example.com/submit"

[presence]
vatsim_enabled = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100, cfg.Client.PollIntervalMs)
	assert.Equal(t, 5, cfg.Client.ReconnectDelaySecs)
	assert.Equal(t, 30, cfg.Client.HeartbeatIntervalSecs)
	assert.Equal(t, "synthetic", cfg.Client.Source)
	assert.Equal(t, 10.0, cfg.Client.Thresholds.TaxiStartKts)
	assert.Equal(t, 60, cfg.Client.Thresholds.AlertCooldownSecs)
	assert.Equal(t, 3, cfg.Ingestion.MaxAttempts)
	assert.Equal(t, 5, cfg.Ingestion.RetryDelaySecs)
	assert.Equal(t, 8017, cfg.Server.Port)
	assert.Equal(t, 120, cfg.Presence.CheckIntervalSecs)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = &Config{}
	cfg.Client.Source = "simconnect"
	assert.Error(t, cfg.Validate())

	cfg = &Config{}
	cfg.Server.Port = 99999
	assert.Error(t, cfg.Validate())

	cfg = &Config{}
	cfg.Client.Thresholds.TouchdownSpeedKts = 20
	cfg.Client.Thresholds.TaxiStartKts = 10
	assert.Error(t, cfg.Validate())
}

func TestValidateClientRequiresEndpoints(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Error(t, cfg.ValidateClient())

	cfg.Client.ServerURL = "ws://localhost:8017/api/v1/ws"
	assert.Error(t, cfg.ValidateClient())

	cfg.Client.Pilot.Name = "Test Pilot"
	assert.Error(t, cfg.ValidateClient())

	cfg.Ingestion.SubmitURL = "https://logs.example.com/submit"
	assert.NoError(t, cfg.ValidateClient())
}

func TestValidateServerRequiresStorageAndNetwork(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Error(t, cfg.ValidateServer())

	cfg.Storage.SQLiteBasePath = "data"
	assert.Error(t, cfg.ValidateServer(), "at least one network must be enabled")

	cfg.Presence.IvaoEnabled = true
	assert.NoError(t, cfg.ValidateServer())
}

func TestLoadWithFallbackReportsMissingFile(t *testing.T) {
	_, err := LoadWithFallback(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
