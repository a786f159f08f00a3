package client

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/jonboulle/clockwork"

	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/protocol"
)

func newDetachedTimeSync() *TimeSync {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000))
	return NewTimeSync(New(DefaultConfig("ws://unused"), clock), clock)
}

func TestTimeSync_FirstSampleSetsOffset(t *testing.T) {
	ts := newDetachedTimeSync()

	var seen []time.Duration
	ts.OnOffsetChange(func(d time.Duration) { seen = append(seen, d) })

	// 100ms round trip, 20ms of it spent on the server: 40ms each way
	ts.applySample(protocol.SyncResponse{
		ClientTimestamp:      1_000,
		ServerTime:           5_000,
		ServerProcessingTime: 20,
	}, time.UnixMilli(1_100))

	assert.Equal(t, ts.Synced(), true)
	assert.Equal(t, ts.Offset(), 3940*time.Millisecond)
	assert.Equal(t, ts.LastSync().UnixMilli(), int64(1_100))
	assert.Equal(t, seen, []time.Duration{3940 * time.Millisecond})
}

func TestTimeSync_LaterSamplesAreSmoothed(t *testing.T) {
	ts := newDetachedTimeSync()
	ts.applySample(protocol.SyncResponse{ClientTimestamp: 1_000, ServerTime: 5_000, ServerProcessingTime: 20}, time.UnixMilli(1_100))

	// raw sample of 4000ms blends 30% into 3940ms
	ts.applySample(protocol.SyncResponse{ClientTimestamp: 2_000, ServerTime: 6_050}, time.UnixMilli(2_100))
	assert.Equal(t, ts.Offset(), 3958*time.Millisecond)
}

func TestTimeSync_TickIgnoredBeforePrecisionSync(t *testing.T) {
	ts := newDetachedTimeSync()

	ts.applyTick(protocol.TimeUpdate{Timestamp: 9_000}, time.UnixMilli(1_000))
	assert.Equal(t, ts.Synced(), false)
	assert.Equal(t, ts.Offset(), time.Duration(0))
}

func TestTimeSync_TickNudgesOffset(t *testing.T) {
	ts := newDetachedTimeSync()
	ts.applySample(protocol.SyncResponse{ClientTimestamp: 1_000, ServerTime: 5_000, ServerProcessingTime: 20}, time.UnixMilli(1_100))

	// tick says 4140ms; 5% of the gap is taken
	ts.applyTick(protocol.TimeUpdate{Timestamp: 5_140}, time.UnixMilli(1_000))
	assert.Equal(t, ts.Offset(), 3950*time.Millisecond)
}

func TestTimeSync_CurrentTime(t *testing.T) {
	ts := newDetachedTimeSync()
	ts.applySample(protocol.SyncResponse{ClientTimestamp: 1_000, ServerTime: 5_000, ServerProcessingTime: 20}, time.UnixMilli(1_100))

	// fake clock reads 1000ms
	assert.Equal(t, ts.Now(), int64(4_940))
	assert.Equal(t, ts.CurrentTime().Equal(time.UnixMilli(4_940)), true)
}

// syncWithJitter feeds samples whose raw offset is trueOffset plus each jitter value.
func syncWithJitter(ts *TimeSync, trueOffset int64, jitter []int64) {
	for i, j := range jitter {
		sent := int64(10_000 * (i + 1))
		// 100ms round trip with no server processing puts 50ms on each leg
		ts.applySample(protocol.SyncResponse{
			ClientTimestamp: sent,
			ServerTime:      sent + 50 + trueOffset + j,
		}, time.UnixMilli(sent+100))
	}
}

func TestTimeSync_ConvergesUnderJitter(t *testing.T) {
	ts := newDetachedTimeSync()
	const trueOffset = 5_000

	syncWithJitter(ts, trueOffset, []int64{40, -30, 25, -40, 10, -20, 35, -15})

	diff := ts.Offset() - trueOffset*time.Millisecond
	if diff < -5*time.Millisecond || diff > 5*time.Millisecond {
		t.Fatalf("offset %s did not converge to %dms", ts.Offset(), trueOffset)
	}
}

func TestTimeSync_LateTickOnlyNudgesPrecisionOffset(t *testing.T) {
	ts := newDetachedTimeSync()
	const trueOffset = 5_000
	syncWithJitter(ts, trueOffset, []int64{0, 0, 0})
	assert.Equal(t, ts.Offset(), trueOffset*time.Millisecond)

	// a tick stamped 300ms before it arrived reads as a 4700ms offset
	received := time.UnixMilli(100_000)
	ts.applyTick(protocol.TimeUpdate{Timestamp: received.UnixMilli() + trueOffset - 300}, received)

	assert.Equal(t, ts.Synced(), true)
	assert.Equal(t, ts.Offset(), 4_985*time.Millisecond)
}

func TestTimeSync_AgainstGateway(t *testing.T) {
	g := newTestGateway(t, nil)
	c := connectClient(t, g.url(), nil)
	ts := NewTimeSync(c, nil)

	assert.Equal(t, ts.ForceSync(), nil)
	eventually(t, ts.Synced)

	// the gateway clock is frozen at testNow
	want := time.UnixMilli(testNow).Sub(time.Now())
	diff := ts.Offset() - want
	if diff < -time.Second || diff > time.Second {
		t.Fatalf("offset %s too far from %s", ts.Offset(), want)
	}
}
