package config

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"sewerwatch/internal/model"
)

type Config struct {
	LogLevel   string                `json:"log_level" yaml:"log_level"`
	Ingest     IngestConfig          `json:"ingest" yaml:"ingest"`
	Thresholds model.ThresholdConfig `json:"thresholds" yaml:"thresholds"`
	API        APIConfig             `json:"api" yaml:"api"`
	Storage    StorageConfig         `json:"storage" yaml:"storage"`
	Fanout     FanoutConfig          `json:"fanout" yaml:"fanout"`
}

type IngestConfig struct {
	ChannelBuffer int  `json:"channel_buffer" yaml:"channel_buffer"`
	// TrustClientAlerts makes the pipeline accept an alert list supplied in
	// the message instead of recomputing it. Off by default.
	TrustClientAlerts bool        `json:"trust_client_alerts" yaml:"trust_client_alerts"`
	MQTT              MQTTConfig  `json:"mqtt" yaml:"mqtt"`
	Kafka             KafkaConfig `json:"kafka" yaml:"kafka"`
	REST              RESTConfig  `json:"rest" yaml:"rest"`
}

type MQTTConfig struct {
	Enabled           bool          `json:"enabled" yaml:"enabled"`
	Broker            string        `json:"broker" yaml:"broker"`
	ClientID          string        `json:"client_id" yaml:"client_id"`
	Topic             string        `json:"topic" yaml:"topic"`
	Username          string        `json:"username" yaml:"username"`
	Password          string        `json:"password" yaml:"password"`
	QoS               byte          `json:"qos" yaml:"qos"`
	ReconnectInterval time.Duration `json:"reconnect_interval" yaml:"reconnect_interval"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type FanoutConfig struct {
	SendBuffer    int `json:"send_buffer" yaml:"send_buffer"`
	SnapshotLimit int `json:"snapshot_limit" yaml:"snapshot_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer:     10000,
			TrustClientAlerts: false,
			MQTT: MQTTConfig{
				Enabled:           true,
				Broker:            "tcp://broker.hivemq.com:1883",
				ClientID:          "sewerwatch-server",
				Topic:             "drainage/sensor-data",
				QoS:               1,
				ReconnectInterval: 1 * time.Second,
			},
			Kafka: KafkaConfig{Enabled: false},
			REST:  RESTConfig{Enabled: true, Addr: ":8080"},
		},
		Thresholds: model.ThresholdConfig{
			MaxDistance: 90,
			MaxGas:      1000,
			MinFlow:     5,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Driver: "sqlite", DSN: "file:sewerwatch.db?_pragma=busy_timeout(5000)"},
		Fanout:  FanoutConfig{SendBuffer: 64, SnapshotLimit: 1000},
	}
}

// FromEnv builds a config from defaults plus any overrides present in the
// environment. Used when no config file is given.
func FromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MQTT_BROKER_URL"); v != "" {
		cfg.Ingest.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_TOPIC"); v != "" {
		cfg.Ingest.MQTT.Topic = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		cfg.Ingest.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.Ingest.MQTT.Password = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Ingest.REST.Addr = ":" + v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.Driver = "postgres"
		cfg.Storage.DSN = v
	}
	return cfg
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.MQTT.Topic == "" {
		cfg.Ingest.MQTT.Topic = "drainage/sensor-data"
	}
	if cfg.Ingest.MQTT.ClientID == "" {
		cfg.Ingest.MQTT.ClientID = "sewerwatch-server"
	}
	if cfg.Ingest.MQTT.ReconnectInterval <= 0 {
		cfg.Ingest.MQTT.ReconnectInterval = 1 * time.Second
	}
	if cfg.Ingest.MQTT.QoS > 2 {
		cfg.Ingest.MQTT.QoS = 1
	}
	if cfg.Thresholds.MaxDistance == 0 {
		cfg.Thresholds.MaxDistance = 90
	}
	if cfg.Thresholds.MaxGas == 0 {
		cfg.Thresholds.MaxGas = 1000
	}
	if cfg.Thresholds.MinFlow == 0 {
		cfg.Thresholds.MinFlow = 5
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Fanout.SendBuffer <= 0 {
		cfg.Fanout.SendBuffer = 64
	}
	if cfg.Fanout.SnapshotLimit <= 0 {
		cfg.Fanout.SnapshotLimit = 1000
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.MQTT.Enabled && cfg.Ingest.MQTT.Broker == "" {
		return errors.New("ingest.mqtt.broker required when ingest.mqtt.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Thresholds.MaxDistance <= 0 {
		return errors.New("thresholds.max_distance must be > 0")
	}
	if cfg.Thresholds.MaxGas <= 0 {
		return errors.New("thresholds.max_gas must be > 0")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config with no backing file. Updates
// are kept in memory only.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	applyDefaults(cfg)
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	if m.path != "" {
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
