package client

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/protocol"
	"github.com/KeeprDigital/stream-keepr/go/internal/topics"
)

// DefaultSyncInterval is how often TimeSync probes the gateway clock.
const DefaultSyncInterval = 30 * time.Second

const (
	// weight of the previous offset for precision samples
	precisionSmoothing = 0.7
	// weight of the previous offset for timeUpdate ticks
	tickSmoothing = 0.95

	timeSyncConsumer = "timesync"
)

// TimeSync estimates the offset between the local clock and the gateway clock so match clocks
// render identically on every overlay.
type TimeSync struct {
	client   *Client
	clock    clockwork.Clock
	interval time.Duration

	mu        sync.Mutex
	offset    float64 // milliseconds, server minus local
	synced    bool    // a precision sample has been taken
	lastSync  time.Time
	listeners []func(offset time.Duration)
}

// NewTimeSync attaches a time synchronizer to c.
func NewTimeSync(c *Client, clock clockwork.Clock) *TimeSync {
	if clock == nil {
		clock = c.clock
	}
	ts := &TimeSync{client: c, clock: clock, interval: DefaultSyncInterval}
	c.Handle(protocol.TypeSyncResponse, ts.handleSyncResponse)
	c.Handle(protocol.TypeTimeUpdate, ts.handleTimeUpdate)
	c.OnConnect(func() {
		if err := ts.ForceSync(); err != nil {
			log.Warn().Err(err).Msg("time sync after connect failed")
		}
	})
	return ts
}

// Start subscribes to the time topic and probes the gateway every interval until ctx is done.
func (ts *TimeSync) Start(ctx context.Context) error {
	if err := ts.client.Subscribe(topics.TopicTime, timeSyncConsumer, func(Update) {}); err != nil {
		return err
	}
	defer ts.client.Unsubscribe(topics.TopicTime, timeSyncConsumer)

	if err := ts.ForceSync(); err != nil {
		log.Warn().Err(err).Msg("initial time sync failed")
	}

	ticker := ts.clock.NewTicker(ts.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := ts.ForceSync(); err != nil {
				log.Debug().Err(err).Msg("periodic time sync failed")
			}
		}
	}
}

// ForceSync sends a precision probe now. Clock displays call it before first render.
func (ts *TimeSync) ForceSync() error {
	return ts.client.send(protocol.TypeSyncRequest, string(topics.TopicTime), protocol.SyncRequest{
		ClientTimestamp: ts.clock.Now().UnixMilli(),
	})
}

// OnOffsetChange registers fn to receive every new offset.
func (ts *TimeSync) OnOffsetChange(fn func(offset time.Duration)) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.listeners = append(ts.listeners, fn)
}

// Offset is the current estimate of server time minus local time.
func (ts *TimeSync) Offset() time.Duration {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return time.Duration(math.Round(ts.offset)) * time.Millisecond
}

// Synced reports whether a precision sample has been taken.
func (ts *TimeSync) Synced() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.synced
}

// LastSync is when the last precision sample arrived.
func (ts *TimeSync) LastSync() time.Time {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastSync
}

// CurrentTime is the local clock corrected by the offset.
func (ts *TimeSync) CurrentTime() time.Time {
	return ts.clock.Now().Add(ts.Offset())
}

// Now is CurrentTime in unix milliseconds.
func (ts *TimeSync) Now() int64 {
	return ts.CurrentTime().UnixMilli()
}

func (ts *TimeSync) handleSyncResponse(env protocol.Envelope) {
	var resp protocol.SyncResponse
	if err := env.DecodePayload(&resp); err != nil {
		log.Warn().Err(err).Msg("invalid syncResponse")
		return
	}
	ts.applySample(resp, ts.clock.Now())
}

func (ts *TimeSync) handleTimeUpdate(env protocol.Envelope) {
	var tick protocol.TimeUpdate
	if err := env.DecodePayload(&tick); err != nil {
		log.Warn().Err(err).Msg("invalid timeUpdate")
		return
	}
	ts.applyTick(tick, ts.clock.Now())
}

// applySample folds a round trip measurement into the offset.
func (ts *TimeSync) applySample(resp protocol.SyncResponse, received time.Time) {
	now := received.UnixMilli()
	networkDelay := float64((now-resp.ClientTimestamp)-resp.ServerProcessingTime) / 2
	estimatedServerTime := float64(resp.ServerTime) + networkDelay
	sample := estimatedServerTime - float64(now)

	ts.mu.Lock()
	if ts.synced {
		ts.offset = precisionSmoothing*ts.offset + (1-precisionSmoothing)*sample
	} else {
		ts.offset = sample
		ts.synced = true
	}
	ts.lastSync = received
	ts.notify()
}

// applyTick nudges the offset with a coarse server tick once precision sync has happened.
func (ts *TimeSync) applyTick(tick protocol.TimeUpdate, received time.Time) {
	ts.mu.Lock()
	if !ts.synced {
		ts.mu.Unlock()
		return
	}
	sample := float64(tick.Timestamp - received.UnixMilli())
	ts.offset = tickSmoothing*ts.offset + (1-tickSmoothing)*sample
	ts.notify()
}

// notify releases mu and tells listeners about the new offset.
func (ts *TimeSync) notify() {
	offset := time.Duration(math.Round(ts.offset)) * time.Millisecond
	listeners := append([]func(time.Duration){}, ts.listeners...)
	ts.mu.Unlock()

	for _, fn := range listeners {
		fn(offset)
	}
}
