package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/gateway"
	"github.com/KeeprDigital/stream-keepr/go/internal/store"
)

// Relay drivers
const (
	relayNone     = "none"
	relayNATS     = "nats"
	relayPostgres = "postgres"
)

// Config is the gateway binary configuration. Values come from defaults, then the YAML file
// named by OVERLAY_CONFIG, then environment variables.
type Config struct {
	Port           string         `yaml:"port"`
	Store          store.Driver   `yaml:"store"`
	Relay          string         `yaml:"relay"`
	NATSURL        string         `yaml:"nats_url"`
	NotifyChannel  string         `yaml:"notify_channel"`
	AllowedOrigins []string       `yaml:"allowed_origins"`
	LogLevel       string         `yaml:"log_level"`
	LogFormat      string         `yaml:"log_format"`
	TimeSync       TimeSyncConfig `yaml:"time_sync"`
	Connection     ConnConfig     `yaml:"connection"`
}

type TimeSyncConfig struct {
	UpdateInterval time.Duration `yaml:"update_interval"`
	SyncTimeout    time.Duration `yaml:"sync_timeout"`
}

type ConnConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	SendBufferSize int           `yaml:"send_buffer_size"`
}

func defaultConfig() Config {
	conn := gateway.DefaultConnectionConfig()
	ts := gateway.DefaultTimeSyncConfig()
	return Config{
		Port:           "8081",
		Store:          store.DriverBolt,
		Relay:          relayNone,
		NATSURL:        "nats://localhost:4222",
		NotifyChannel:  "overlay_sync",
		AllowedOrigins: []string{"*"},
		LogLevel:       "info",
		LogFormat:      "console",
		TimeSync: TimeSyncConfig{
			UpdateInterval: ts.UpdateInterval,
			SyncTimeout:    ts.SyncTimeout,
		},
		Connection: ConnConfig{
			PingInterval:   conn.PingInterval,
			ReadTimeout:    conn.ReadTimeout,
			WriteTimeout:   conn.WriteTimeout,
			SendBufferSize: conn.SendBufferSize,
		},
	}
}

// loadConfig reads path over the defaults. A missing file is not an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("GATEWAY_PORT", cfg.Port)
	cfg.Store = store.Driver(getEnv("STORE_DRIVER", string(cfg.Store)))
	cfg.Relay = getEnv("RELAY_DRIVER", cfg.Relay)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.Connection.SendBufferSize = getEnvAsInt("SEND_BUFFER_SIZE", cfg.Connection.SendBufferSize)

	switch cfg.Relay {
	case relayNone, relayNATS, relayPostgres:
	default:
		return cfg, fmt.Errorf("unknown relay driver %q", cfg.Relay)
	}

	// postgres notifications carry no state; peers reload it from their store
	if cfg.Relay == relayPostgres && cfg.Store != store.DriverPostgres && cfg.Store != store.DriverRedis {
		return cfg, fmt.Errorf("relay %q needs a shared store (postgres or redis), got %q", cfg.Relay, cfg.Store)
	}
	return cfg, nil
}

// gatewayConfig maps the file config onto the service config
func (c Config) gatewayConfig() gateway.Config {
	gc := gateway.DefaultConfig()
	gc.AllowedOrigins = c.AllowedOrigins
	gc.TimeSyncConfig = gateway.TimeSyncConfig{
		UpdateInterval: c.TimeSync.UpdateInterval,
		SyncTimeout:    c.TimeSync.SyncTimeout,
	}
	if c.Connection.PingInterval > 0 {
		gc.ConnectionConfig.PingInterval = c.Connection.PingInterval
	}
	if c.Connection.ReadTimeout > 0 {
		gc.ConnectionConfig.ReadTimeout = c.Connection.ReadTimeout
	}
	if c.Connection.WriteTimeout > 0 {
		gc.ConnectionConfig.WriteTimeout = c.Connection.WriteTimeout
	}
	if c.Connection.SendBufferSize > 0 {
		gc.ConnectionConfig.SendBufferSize = c.Connection.SendBufferSize
	}
	return gc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
