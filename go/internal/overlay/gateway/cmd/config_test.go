package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/KeeprDigital/stream-keepr/go/internal/store"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg, defaultConfig())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	data := `
port: "9000"
store: redis
relay: nats
allowed_origins: ["https://obs.local"]
time_sync:
  update_interval: 10s
  sync_timeout: 15s
connection:
  send_buffer_size: 64
`
	assert.Equal(t, os.WriteFile(path, []byte(data), 0o600), nil)
	t.Setenv("NATS_URL", "nats://relay:4222")
	t.Setenv("GATEWAY_PORT", "")

	cfg, err := loadConfig(path)
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.Port, "9000")
	assert.Equal(t, cfg.Store, store.DriverRedis)
	assert.Equal(t, cfg.Relay, relayNATS)
	assert.Equal(t, cfg.NATSURL, "nats://relay:4222")
	assert.Equal(t, cfg.AllowedOrigins, []string{"https://obs.local"})

	gc := cfg.gatewayConfig()
	assert.Equal(t, gc.TimeSyncConfig.UpdateInterval, 10*time.Second)
	assert.Equal(t, gc.TimeSyncConfig.SyncTimeout, 15*time.Second)
	assert.Equal(t, gc.ConnectionConfig.SendBufferSize, 64)
	assert.Equal(t, gc.ConnectionConfig.PingInterval, 30*time.Second)
}

func TestLoadConfigRejectsUnknownRelay(t *testing.T) {
	t.Setenv("RELAY_DRIVER", "carrier-pigeon")
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotEqual(t, err, nil)
}

func TestLoadConfigPostgresRelayNeedsSharedStore(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	t.Setenv("RELAY_DRIVER", relayPostgres)

	for _, driver := range []store.Driver{store.DriverBolt, store.DriverMemory} {
		t.Setenv("STORE_DRIVER", string(driver))
		_, err := loadConfig(missing)
		assert.NotEqual(t, err, nil)
	}

	for _, driver := range []store.Driver{store.DriverPostgres, store.DriverRedis} {
		t.Setenv("STORE_DRIVER", string(driver))
		cfg, err := loadConfig(missing)
		assert.Equal(t, err, nil)
		assert.Equal(t, cfg.Relay, relayPostgres)
	}
}
