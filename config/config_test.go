package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

//nolint:gocyclo
func TestLoad(t *testing.T) {
	path := writeConfig(t, "config.yaml", `mqtt:
  broker: "tcp://localhost:1883"
  client_id: "cli"
  username: "user"
  password: "pass"
  topic: "fleet/+/telemetry"
  use_tls: false
http:
  address: ":9000"
ingest:
  workers: 4
  accept_cbor: true
  risky_pct: 25
store:
  type: "sqlite"
  conf:
    path: "/tmp/fleet.db"
metrics:
  sinks:
    - type: "nop"
logging:
  level: debug
deadletter:
  path: "/tmp/dead.jsonl"
  max_size_mb: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"client_id", cfg.MQTT.ClientID, "cli"},
		{"username", cfg.MQTT.Username, "user"},
		{"password", cfg.MQTT.Password, "pass"},
		{"topic", cfg.MQTT.Topic, "fleet/+/telemetry"},
		{"qos", cfg.MQTT.QoS, byte(1)},
		{"http.address", cfg.HTTP.Address, ":9000"},
		{"http.request_timeout_ms", cfg.HTTP.RequestTimeoutMS, 5000},
		{"ingest.workers", cfg.Ingest.Workers, 4},
		{"ingest.queue_size", cfg.Ingest.QueueSize, 256},
		{"ingest.accept_cbor", cfg.Ingest.AcceptCBOR, true},
		{"ingest.risky_pct", cfg.Ingest.RiskyPct, 25.0},
		{"ingest.moderate_pct", cfg.Ingest.ModeratePct, 50.0},
		{"store.type", cfg.Store.Type, "sqlite"},
		{"store.conf.path", cfg.Store.Conf["path"], "/tmp/fleet.db"},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
		{"logging.level", cfg.Logging.Level, "debug"},
		{"deadletter.path", cfg.DeadLetter.Path, "/tmp/dead.jsonl"},
		{"deadletter.max_size_mb", cfg.DeadLetter.MaxSizeMB, 5},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: %v", c.name, c.got)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.HTTP.Address)
	assert.Equal(t, 5*time.Second, cfg.HTTP.RequestTimeout())
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 5*time.Second, cfg.Store.RetryInterval())
	assert.Equal(t, "telemetry/+/data", cfg.MQTT.Topic)
	assert.Equal(t, "info", cfg.Logging.Level)

	ic := cfg.Ingest.Coordinator()
	assert.Equal(t, 8, ic.Workers)
	assert.Equal(t, 3, ic.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, ic.Backoff)
	assert.Equal(t, 2*time.Second, ic.OpTimeout)
	p := cfg.Ingest.Policy()
	assert.Equal(t, 30.0, p.RiskyPct)
	assert.Equal(t, 50.0, p.ModeratePct)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	path := writeConfig(t, "config.json", `{"store":{"type":"memory"},"http":{"address":":8000"}}`)
	t.Setenv("K_STORE__TYPE", "postgres")
	t.Setenv("K_HTTP__REQUEST_TIMEOUT_MS", "1500")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Type)
	assert.Equal(t, 1500, cfg.HTTP.RequestTimeoutMS)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("K_LOGGING__LEVEL=warn\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("K_LOGGING__LEVEL") })
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := Load(writeConfig(t, "config.toml", ""))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "bad.yaml", "logging:\n  level: loud\n"))
	assert.ErrorContains(t, err, "logging")

	_, err = Load(writeConfig(t, "bad2.yaml", "ingest:\n  risky_pct: 120\n"))
	assert.ErrorContains(t, err, "ingest")

	_, err = Load(writeConfig(t, "bad3.yaml", "mqtt:\n  qos: 3\n"))
	assert.ErrorContains(t, err, "mqtt")
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}
