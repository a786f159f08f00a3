package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/KeeprDigital/stream-keepr/go/internal/models"
	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/protocol"
	"github.com/KeeprDigital/stream-keepr/go/internal/store"
)

const testNow = 1_700_000_000_000

const testCard = `{"name":"Ragavan","imageData":{"front":{"png":"r.png"}}}`

type testGateway struct {
	service *Service
	server  *httptest.Server
	clock   *clockwork.FakeClock
	docs    store.DocumentStore
}

func newTestGateway(t *testing.T, docs store.DocumentStore, relay Relay) *testGateway {
	t.Helper()
	if docs == nil {
		docs = store.NewMemoryStore()
	}

	g := &testGateway{
		clock: clockwork.NewFakeClockAt(time.UnixMilli(testNow)),
		docs:  docs,
	}
	g.service = NewService(DefaultConfig(), docs, relay, g.clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.service.ConnectionManager().Start(ctx)
	}()

	g.server = httptest.NewServer(g.service.Handler())
	t.Cleanup(func() {
		cancel()
		<-done
		g.server.Close()
	})
	return g
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func (g *testGateway) dial(t *testing.T) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	c := &testClient{t: t, conn: conn}
	env := c.expect(protocol.TypeConnection)
	var hello protocol.ConnectionPayload
	assert.Equal(t, env.DecodePayload(&hello), nil)
	assert.NotEqual(t, hello.ClientID, "")
	c.id = hello.ClientID
	return c
}

func (c *testClient) send(t protocol.MessageType, topic, id string, payload any) {
	c.t.Helper()
	frame, err := protocol.Encode(t, topic, id, payload)
	assert.Equal(c.t, err, nil)
	assert.Equal(c.t, c.conn.WriteMessage(websocket.TextMessage, frame), nil)
}

func (c *testClient) read() protocol.Envelope {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	env, err := protocol.Decode(frame)
	assert.Equal(c.t, err, nil)
	return env
}

func (c *testClient) expect(t protocol.MessageType) protocol.Envelope {
	c.t.Helper()
	env := c.read()
	if env.Type != t {
		c.t.Fatalf("expected %s, got %s (%s)", t, env.Type, env.Payload)
	}
	return env
}

// expectQuiet proves nothing is queued for the client: a ping must be answered by the next frame.
func (c *testClient) expectQuiet() {
	c.t.Helper()
	c.send(protocol.TypePing, "", "flush", nil)
	env := c.expect(protocol.TypePong)
	assert.Equal(c.t, env.ID, "flush")
}

func (c *testClient) subscribe(topic string) protocol.Envelope {
	c.t.Helper()
	c.send(protocol.TypeSubscribe, topic, "", protocol.TopicPayload{Topic: topic})
	env := c.expect(protocol.TypeSubscribed)
	assert.Equal(c.t, env.Topic, topic)
	return env
}

func (c *testClient) action(topic, id, payload string) {
	c.t.Helper()
	c.send(protocol.TypeAction, topic, id, json.RawMessage(payload))
}

func (c *testClient) expectAck(id string) protocol.Ack {
	c.t.Helper()
	env := c.expect(protocol.TypeAck)
	assert.Equal(c.t, env.ID, id)
	var ack protocol.Ack
	assert.Equal(c.t, env.DecodePayload(&ack), nil)
	return ack
}

func decodeCard(t *testing.T, env protocol.Envelope) *models.CardData {
	t.Helper()
	var card *models.CardData
	assert.Equal(t, env.DecodePayload(&card), nil)
	return card
}

func TestConnectionGreeting(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	a := g.dial(t)
	b := g.dial(t)
	assert.NotEqual(t, a.id, b.id)
}

func TestSubscribeReturnsCurrentState(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	a := g.dial(t)

	env := a.subscribe("card")
	assert.Equal(t, string(env.Payload), "null")

	env = a.subscribe("matches")
	assert.Equal(t, string(env.Payload), "[]")
}

func TestActionConvergesAcrossClients(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	a, b, c := g.dial(t), g.dial(t), g.dial(t)
	for _, cl := range []*testClient{a, b, c} {
		cl.subscribe("card")
	}

	a.action("card", "op-1", `{"action":"set","card":`+testCard+`}`)

	ack := a.expectAck("op-1")
	assert.Equal(t, ack.Success, true)
	assert.Equal(t, ack.Timestamp, int64(testNow))

	for _, cl := range []*testClient{b, c} {
		env := cl.expect(protocol.TypeSync)
		assert.Equal(t, env.Topic, "card")
		assert.Equal(t, decodeCard(t, env).Name, "Ragavan")
	}

	// the sender never receives its own sync
	a.expectQuiet()

	// a late subscriber converges on the same state
	d := g.dial(t)
	assert.Equal(t, decodeCard(t, d.subscribe("card")).Name, "Ragavan")
}

func TestActionsAreAppliedInArrivalOrder(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	a, b := g.dial(t), g.dial(t)
	a.subscribe("card")
	b.subscribe("card")

	a.action("card", "1", `{"action":"set","card":`+testCard+`}`)
	a.action("card", "2", `{"action":"flip"}`)
	a.action("card", "3", `{"action":"flip"}`)
	a.action("card", "4", `{"action":"rotate"}`)

	var last *models.CardData
	for range 4 {
		last = decodeCard(t, b.expect(protocol.TypeSync))
	}
	assert.Equal(t, last.DisplayData.Flipped, false)
	assert.Equal(t, last.DisplayData.Rotated, true)
}

func TestInvalidActionRejectedToSenderOnly(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	a, b := g.dial(t), g.dial(t)
	a.subscribe("card")
	b.subscribe("card")

	a.action("card", "op-1", `{"action":"set","card":`+testCard+`}`)
	a.expectAck("op-1")
	b.expect(protocol.TypeSync)

	a.action("card", "op-2", `{"action":"bogus"}`)

	env := a.expect(protocol.TypeError)
	var perr protocol.Error
	assert.Equal(t, env.DecodePayload(&perr), nil)
	assert.Equal(t, perr.Code, protocol.CodeInvalidAction)

	ack := a.expectAck("op-2")
	assert.Equal(t, ack.Success, false)
	assert.Equal(t, ack.Code, protocol.CodeInvalidAction)

	b.expectQuiet()

	// state unchanged
	c := g.dial(t)
	card := decodeCard(t, c.subscribe("card"))
	assert.Equal(t, card.Name, "Ragavan")
	assert.Equal(t, card.DisplayData, models.CardDisplayData{})
}

func TestActionRequiresSubscription(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	a, b := g.dial(t), g.dial(t)
	b.subscribe("event")

	a.action("event", "op-1", `{"action":"set","event":{"currentRound":"Round 1"}}`)

	env := a.expect(protocol.TypeError)
	var perr protocol.Error
	assert.Equal(t, env.DecodePayload(&perr), nil)
	assert.Equal(t, perr.Code, protocol.CodeNotSubscribed)
	assert.Equal(t, perr.Status, 403)

	ack := a.expectAck("op-1")
	assert.Equal(t, ack.Code, protocol.CodeNotSubscribed)

	b.expectQuiet()
}

func TestSubscribeUnknownTopic(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	a := g.dial(t)

	a.send(protocol.TypeSubscribe, "weather", "", protocol.TopicPayload{Topic: "weather"})

	env := a.expect(protocol.TypeError)
	var perr protocol.Error
	assert.Equal(t, env.DecodePayload(&perr), nil)
	assert.Equal(t, perr.Code, protocol.CodeInvalidTopic)
}

func TestMalformedFrame(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	a := g.dial(t)

	assert.Equal(t, a.conn.WriteMessage(websocket.TextMessage, []byte("{nope")), nil)

	env := a.expect(protocol.TypeError)
	var perr protocol.Error
	assert.Equal(t, env.DecodePayload(&perr), nil)
	assert.Equal(t, perr.Code, protocol.CodeInvalidMessage)

	// the connection survives
	a.expectQuiet()
}

func TestUnsubscribeStopsSyncs(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	a, b := g.dial(t), g.dial(t)
	a.subscribe("config")
	b.subscribe("config")

	a.send(protocol.TypeUnsubscribe, "config", "", protocol.TopicPayload{Topic: "config"})
	env := a.expect(protocol.TypeUnsubscribed)
	assert.Equal(t, env.Topic, "config")

	b.action("config", "op-1", `{"action":"clear"}`)
	b.expectAck("op-1")

	a.expectQuiet()
}

func TestMatchAddAckCarriesIdentity(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	a, b := g.dial(t), g.dial(t)
	a.subscribe("matches")
	b.subscribe("matches")

	a.action("matches", "op-1", `{"action":"add"}`)

	ack := a.expectAck("op-1")
	assert.Equal(t, ack.Success, true)

	var matchID, matchName string
	assert.Equal(t, ack.ExtraInto("matchId", &matchID), nil)
	assert.Equal(t, ack.ExtraInto("matchName", &matchName), nil)
	assert.NotEqual(t, matchID, "")
	assert.Equal(t, matchName, "Match 1")

	var matches models.MatchDataList
	assert.Equal(t, b.expect(protocol.TypeSync).DecodePayload(&matches), nil)
	assert.Equal(t, len(matches), 1)
	assert.Equal(t, matches[0].ID, matchID)
}

func TestMatchClockFailure(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	a := g.dial(t)
	a.subscribe("matches")

	a.action("matches", "op-1", `{"action":"clock","id":"missing","clockAction":"start"}`)

	a.expect(protocol.TypeError)
	ack := a.expectAck("op-1")
	assert.Equal(t, ack.Success, false)
	assert.Equal(t, ack.Code, protocol.CodeHandlerFailure)
	assert.Equal(t, ack.Error, "Match not found")
}

func TestCardAutoHideSyncsEveryone(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	a, b := g.dial(t), g.dial(t)
	a.subscribe("card")
	b.subscribe("card")

	a.action("card", "op-1", `{"action":"set","card":`+testCard+`}`)
	a.expectAck("op-1")
	b.expect(protocol.TypeSync)

	a.action("card", "op-2", `{"action":"show","timeOut":5}`)
	a.expectAck("op-2")
	shown := decodeCard(t, b.expect(protocol.TypeSync))
	assert.Equal(t, shown.DisplayData.Hidden, false)
	assert.Equal(t, *shown.DisplayData.TimeoutDuration, int64(5000))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// time update ticker plus the hide timer
	assert.Equal(t, g.clock.BlockUntilContext(ctx, 2), nil)
	g.clock.Advance(5 * time.Second)

	for _, cl := range []*testClient{a, b} {
		hidden := decodeCard(t, cl.expect(protocol.TypeSync))
		assert.Equal(t, hidden.DisplayData.Hidden, true)
		assert.Equal(t, hidden.DisplayData.TimeoutStartTimestamp, (*int64)(nil))
	}
}

func TestTimeSync(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	a, b := g.dial(t), g.dial(t)

	var now struct {
		Timestamp int64  `json:"timestamp"`
		ISO       string `json:"iso"`
	}
	assert.Equal(t, a.subscribe("time").DecodePayload(&now), nil)
	assert.Equal(t, now.Timestamp, int64(testNow))
	b.subscribe("time")

	b.send(protocol.TypeSyncRequest, "time", "", protocol.SyncRequest{ClientTimestamp: 123})
	var resp protocol.SyncResponse
	assert.Equal(t, b.expect(protocol.TypeSyncResponse).DecodePayload(&resp), nil)
	assert.Equal(t, resp, protocol.SyncResponse{ClientTimestamp: 123, ServerTime: testNow})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Equal(t, g.clock.BlockUntilContext(ctx, 1), nil)

	// a never synced, b synced 30s ago
	g.clock.Advance(30 * time.Second)
	var tick protocol.TimeUpdate
	assert.Equal(t, a.expect(protocol.TypeTimeUpdate).DecodePayload(&tick), nil)
	assert.Equal(t, tick.Timestamp, int64(testNow+30_000))
	b.expectQuiet()

	// b's last sync is now older than the timeout
	g.clock.Advance(30 * time.Second)
	assert.Equal(t, b.expect(protocol.TypeTimeUpdate).DecodePayload(&tick), nil)
	assert.Equal(t, tick.Timestamp, int64(testNow+60_000))
}

func TestDisconnectCleansSubscriptions(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	a, b := g.dial(t), g.dial(t)
	a.subscribe("card")
	b.subscribe("card")
	b.subscribe("event")

	b.send(protocol.TypeDisconnect, "", "", nil)

	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for {
		stats, err := g.service.GetStats(ctx)
		assert.Equal(t, err, nil)
		if stats.TotalConnections == 1 {
			assert.Equal(t, stats.Topics, map[string]int{"card": 1})
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("connection not removed: %+v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRelayFansOutAcrossInstances(t *testing.T) {
	docs := store.NewMemoryStore()
	relay := NewLocalRelay()
	g1 := newTestGateway(t, docs, relay)
	g2 := newTestGateway(t, docs, relay)

	a := g1.dial(t)
	b := g2.dial(t)
	a.subscribe("card")
	b.subscribe("card")

	b.action("card", "op-1", `{"action":"set","card":`+testCard+`}`)
	b.expectAck("op-1")

	assert.Equal(t, decodeCard(t, a.expect(protocol.TypeSync)).Name, "Ragavan")
	// the origin instance ignores its own relayed event
	b.expectQuiet()
}

func TestDoCompletesQueuedCommandAfterCancel(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	cm := g.service.ConnectionManager()

	// hold the dispatcher so the next command sits in the queue
	release := make(chan struct{})
	busy := make(chan struct{})
	go cm.Do(context.Background(), func(context.Context) {
		close(busy)
		<-release
	})
	<-busy

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{})
	errs := make(chan error, 1)
	go func() {
		errs <- cm.Do(ctx, func(context.Context) { close(ran) })
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(cm.commands) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("command was never queued")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-errs:
		t.Fatalf("Do returned %v before the queued command ran", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, <-errs, nil)
	<-ran

	_, err := cm.GetConnectionStats(ctx)
	assert.Equal(t, err, context.Canceled)
}
