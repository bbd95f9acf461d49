package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "krishi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileWithDefaults(t *testing.T) {
	path := writeConfig(t, `
tasks:
  base_url: https://tasks.example.com/v1
  poll_interval: 1s
market:
  resource_id: 9ef84268
server:
  cors_origins: ["https://app.example.com"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, cfg.File)
	require.Equal(t, "https://tasks.example.com/v1", cfg.Tasks.BaseURL)
	require.Equal(t, time.Second, cfg.Tasks.PollInterval)
	require.Equal(t, 60*time.Second, cfg.Tasks.PollTimeout)
	require.Equal(t, BackendRemote, cfg.Tasks.Backend)
	require.Equal(t, "9ef84268", cfg.Market.ResourceID)
	require.Equal(t, 100, cfg.Market.Limit)
	require.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	require.Equal(t, ":8080", cfg.Server.Addr)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "tasks:\n  base_url: https://file.example.com\n  api_key: from-file\n")
	t.Setenv("KRISHI_TASKS_API_KEY", "from-env")
	t.Setenv("KRISHI_TASKS_POLL_TIMEOUT", "45s")
	t.Setenv("KRISHI_WEATHER_API_KEY", "owm")
	t.Setenv("KRISHI_SESSION_FILE_PATH", "/var/lib/krishi/session.json")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Tasks.APIKey)
	require.Equal(t, 45*time.Second, cfg.Tasks.PollTimeout)
	require.Equal(t, "owm", cfg.Weather.APIKey)
	require.Equal(t, "/var/lib/krishi/session.json", cfg.Session.FilePath)
}

func TestLocalBackendNeedsNoBaseURL(t *testing.T) {
	path := writeConfig(t, "tasks:\n  backend: LOCAL\nllm:\n  model: llama3\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendLocal, cfg.Tasks.Backend)
	require.Equal(t, "llama3", cfg.LLM.Model)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	_, err := Load(writeConfig(t, "tasks:\n  backend: remote\n"))
	require.ErrorContains(t, err, "tasks.base_url")

	_, err = Load(writeConfig(t, "tasks:\n  backend: carrier-pigeon\n"))
	require.ErrorContains(t, err, "tasks.backend")

	_, err = Load(writeConfig(t, "tasks:\n  base_url: http://x\n  poll_interval: 5s\n  poll_timeout: 1s\n"))
	require.ErrorContains(t, err, "poll_timeout")

	_, err = Load(writeConfig(t, "tasks:\n  base_url: http://x\ntelemetry:\n  exporter: jaeger\n"))
	require.ErrorContains(t, err, "telemetry.exporter")
}

func TestTelemetryExporterIsNormalized(t *testing.T) {
	cfg, err := Load(writeConfig(t, "tasks:\n  base_url: http://x\ntelemetry:\n  exporter: \" OTLP \"\n  sample_rate: 0.25\n"))
	require.NoError(t, err)
	require.Equal(t, "otlp", cfg.Telemetry.Exporter)
	require.InDelta(t, 0.25, cfg.Telemetry.SampleRate, 1e-9)
}

func TestMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
