package config

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Tracker.Addr != ":8081" {
		t.Errorf("Tracker.Addr = %q", cfg.Tracker.Addr)
	}
	if cfg.Tracker.SeederTTL != 60*time.Second {
		t.Errorf("Tracker.SeederTTL = %v", cfg.Tracker.SeederTTL)
	}
	if cfg.Client.TrackerAddr() != "localhost:8081" {
		t.Errorf("TrackerAddr() = %q", cfg.Client.TrackerAddr())
	}
	if cfg.Client.RetryDelay != time.Second {
		t.Errorf("Client.RetryDelay = %v", cfg.Client.RetryDelay)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TRACKER_SEEDER_TTL", "5s")
	t.Setenv("CLIENT_TRACKER_HOST", "10.0.0.1")
	t.Setenv("CLIENT_TRACKER_PORT", "9000")
	t.Setenv("CLIENT_RETRY_JITTER", "250ms")
	t.Setenv("REDIS_POOL_SIZE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Tracker.SeederTTL != 5*time.Second {
		t.Errorf("SeederTTL = %v", cfg.Tracker.SeederTTL)
	}
	if cfg.Client.TrackerAddr() != "10.0.0.1:9000" {
		t.Errorf("TrackerAddr() = %q", cfg.Client.TrackerAddr())
	}
	if cfg.Client.RetryJitter != 250*time.Millisecond {
		t.Errorf("RetryJitter = %v", cfg.Client.RetryJitter)
	}
	if cfg.Redis.PoolSize != 50 {
		t.Errorf("unparseable REDIS_POOL_SIZE should fall back to 50, got %d", cfg.Redis.PoolSize)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Setenv("TRACKER_CATALOG_BACKEND", "sqlite")
	t.Setenv("CLIENT_STATE_BACKEND", "etcd")
	t.Setenv("LOG_LEVEL", "loud")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"TRACKER_CATALOG_BACKEND", "CLIENT_STATE_BACKEND", "LOG_LEVEL"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "test").Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"component":"test"`) {
		t.Errorf("json output missing field: %s", out)
	}
}
