package gateway

import (
	"time"

	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/protocol"
)

// Time synchronization
//
// Clients estimate their offset to the server clock with syncRequest round trips:
// - client sends its local timestamp
// - server answers with its own time and how long the request waited in the dispatcher
// - client halves the round trip, minus server processing, to estimate network delay
//
// Clients that stop probing (background tabs, stalled overlays) still get a coarse
// timeUpdate tick so their displays do not drift indefinitely.

// TimeSyncConfig controls the fallback timeUpdate tick.
type TimeSyncConfig struct {
	// UpdateInterval is how often time subscribers are considered for a tick.
	UpdateInterval time.Duration
	// SyncTimeout is how long after its last syncRequest a connection receives ticks again.
	SyncTimeout time.Duration
}

// DefaultTimeSyncConfig returns the default tick cadence.
func DefaultTimeSyncConfig() TimeSyncConfig {
	return TimeSyncConfig{
		UpdateInterval: 30 * time.Second,
		SyncTimeout:    45 * time.Second,
	}
}

// timeSync remembers when each connection last ran a precision sync. Dispatcher owned.
type timeSync struct {
	cfg      TimeSyncConfig
	lastSync map[string]time.Time
}

func newTimeSync(cfg TimeSyncConfig) *timeSync {
	def := DefaultTimeSyncConfig()
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = def.UpdateInterval
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = def.SyncTimeout
	}
	return &timeSync{cfg: cfg, lastSync: make(map[string]time.Time)}
}

// respond answers a syncRequest received at received and handled at now.
func (t *timeSync) respond(connID string, req protocol.SyncRequest, received, now time.Time) protocol.SyncResponse {
	t.lastSync[connID] = now

	processing := now.Sub(received).Milliseconds()
	if processing < 0 {
		processing = 0
	}
	return protocol.SyncResponse{
		ClientTimestamp:      req.ClientTimestamp,
		ServerTime:           now.UnixMilli(),
		ServerProcessingTime: processing,
	}
}

// due reports whether connID should receive a timeUpdate at now.
func (t *timeSync) due(connID string, now time.Time) bool {
	last, ok := t.lastSync[connID]
	if !ok {
		return true
	}
	return now.Sub(last) > t.cfg.SyncTimeout
}

func (t *timeSync) forget(connID string) {
	delete(t.lastSync, connID)
}
