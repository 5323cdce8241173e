package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
log_level: debug
thresholds:
  max_distance: 80
  max_gas: 900
  min_flow: 4
ingest:
  mqtt:
    broker: tcp://localhost:1883
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level not applied: %s", cfg.LogLevel)
	}
	if cfg.Thresholds.MaxDistance != 80 || cfg.Thresholds.MaxGas != 900 || cfg.Thresholds.MinFlow != 4 {
		t.Fatalf("thresholds not applied: %+v", cfg.Thresholds)
	}
	if cfg.Ingest.MQTT.Broker != "tcp://localhost:1883" {
		t.Fatalf("broker not applied: %s", cfg.Ingest.MQTT.Broker)
	}
	// Untouched fields keep their defaults.
	if cfg.Ingest.MQTT.Topic != "drainage/sensor-data" {
		t.Fatalf("default topic lost: %s", cfg.Ingest.MQTT.Topic)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeTemp(t, "config.json", `{"log_level": "warn", "api": {"enabled": true, "addr": ":9090"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.API.Addr != ":9090" {
		t.Fatalf("json config not applied: %+v", cfg)
	}
}

func TestLoadRejectsBadThresholds(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
thresholds:
  max_distance: -1
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("negative max_distance accepted")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeTemp(t, "config.yaml", "   ")
	if _, err := Load(path); err == nil {
		t.Fatalf("empty config accepted")
	}
}

func TestManagerUpdatePersists(t *testing.T) {
	path := writeTemp(t, "config.yaml", "log_level: info\n")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	next := *m.Get()
	next.Thresholds.MaxDistance = 75
	if err := m.Update(&next); err != nil {
		t.Fatalf("update: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Thresholds.MaxDistance != 75 {
		t.Fatalf("update not written through: %+v", reloaded.Thresholds)
	}
}

func TestStaticManagerUpdateInMemory(t *testing.T) {
	m := NewStaticManager(nil)
	next := *m.Get()
	next.LogLevel = "debug"
	if err := m.Update(&next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if m.Get().LogLevel != "debug" {
		t.Fatalf("in-memory update lost")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MQTT_BROKER_URL", "tcp://example:1883")
	t.Setenv("PORT", "3000")
	t.Setenv("DATABASE_URL", "postgres://localhost/sewerwatch")
	cfg := FromEnv()
	if cfg.Ingest.MQTT.Broker != "tcp://example:1883" {
		t.Fatalf("broker env ignored: %s", cfg.Ingest.MQTT.Broker)
	}
	if cfg.Ingest.REST.Addr != ":3000" {
		t.Fatalf("port env ignored: %s", cfg.Ingest.REST.Addr)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Fatalf("database url should select postgres: %s", cfg.Storage.Driver)
	}
}
