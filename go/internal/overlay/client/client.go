// Package client is the overlay side of the topic sync protocol: one websocket to the gateway,
// shared by every consumer in the process, with optimistic actions and server time estimation
// layered on top.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/protocol"
	"github.com/KeeprDigital/stream-keepr/go/internal/topics"
)

var (
	// ErrNotConnected is returned for outgoing actions while the socket is down.
	ErrNotConnected = protocol.ErrDisconnected
	// ErrAckTimeout is returned when the gateway does not acknowledge an action in time.
	ErrAckTimeout = protocol.ErrAckTimeout
)

// DefaultAckTimeout bounds the wait for an acknowledgement.
const DefaultAckTimeout = 5 * time.Second

// Config holds client transport settings
type Config struct {
	URL              string
	AckTimeout       time.Duration
	MaxRetries       uint64 // reconnect attempts before giving up
	InitialInterval  time.Duration
	MaxInterval      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// DefaultConfig returns default settings for the gateway at url
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		AckTimeout:       DefaultAckTimeout,
		MaxRetries:       10,
		InitialInterval:  500 * time.Millisecond,
		MaxInterval:      10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// Update is a topic state delivered to consumers, from a subscribed or sync frame.
type Update struct {
	Topic   topics.Topic
	Type    protocol.MessageType
	Payload json.RawMessage
}

// Decode unmarshals the state into v.
func (u Update) Decode(v any) error {
	if len(u.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(u.Payload, v)
}

// Callback receives topic updates on the client's read goroutine.
type Callback func(Update)

// Client multiplexes topic consumers over one reconnecting websocket.
type Client struct {
	config Config
	dialer *websocket.Dialer
	clock  clockwork.Clock

	// wmu serializes socket writes
	wmu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	clientID   string
	consumers  map[topics.Topic]map[string]Callback
	pending    map[string]chan protocol.Ack
	operations map[string]string // optimistic operation id -> consumer id
	handlers   map[protocol.MessageType][]func(protocol.Envelope)
	onConnect  []func()
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a client. Call Connect to open the socket.
func New(config Config, clock clockwork.Clock) *Client {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = DefaultAckTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	return &Client{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		clock:      clock,
		consumers:  make(map[topics.Topic]map[string]Callback),
		pending:    make(map[string]chan protocol.Ack),
		operations: make(map[string]string),
		handlers:   make(map[protocol.MessageType][]func(protocol.Envelope)),
	}
}

// Connect opens the socket, retrying with backoff, and keeps it open until Close.
func (c *Client) Connect(ctx context.Context) error {
	conn, id, err := c.dialWithRetry(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.attach(conn, id)
	go c.run(runCtx, conn, done)
	return nil
}

// Close stops reconnecting and closes the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if conn != nil {
		c.wmu.Lock()
		conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wmu.Unlock()
		conn.Close()
	}
	<-done
	return nil
}

// ClientID is the identity assigned by the gateway on the current connection.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Connected reports whether the socket is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Handle registers fn for every inbound frame of type t.
func (c *Client) Handle(t protocol.MessageType, fn func(protocol.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = append(c.handlers[t], fn)
}

// OnConnect registers fn to run after every (re)connection.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// Subscribe registers cb for topic under consumerID. The first consumer of a topic subscribes on
// the gateway; while disconnected the subscription is sent on the next connection.
func (c *Client) Subscribe(topic topics.Topic, consumerID string, cb Callback) error {
	if _, err := topics.ParseTopic(string(topic)); err != nil {
		return err
	}

	c.mu.Lock()
	subs := c.consumers[topic]
	first := len(subs) == 0
	if subs == nil {
		subs = make(map[string]Callback)
		c.consumers[topic] = subs
	}
	subs[consumerID] = cb
	connected := c.conn != nil
	c.mu.Unlock()

	if first && connected {
		return c.write(protocol.TypeSubscribe, string(topic), "", protocol.TopicPayload{Topic: string(topic)})
	}
	return nil
}

// Unsubscribe removes consumerID from topic; the last consumer unsubscribes on the gateway.
func (c *Client) Unsubscribe(topic topics.Topic, consumerID string) error {
	c.mu.Lock()
	last := c.removeConsumer(topic, consumerID)
	connected := c.conn != nil
	c.mu.Unlock()

	if last && connected {
		return c.write(protocol.TypeUnsubscribe, string(topic), "", protocol.TopicPayload{Topic: string(topic)})
	}
	return nil
}

// UnsubscribeAll removes consumerID from every topic.
func (c *Client) UnsubscribeAll(consumerID string) error {
	c.mu.Lock()
	var emptied []topics.Topic
	for _, topic := range topics.All {
		if c.removeConsumer(topic, consumerID) {
			emptied = append(emptied, topic)
		}
	}
	connected := c.conn != nil
	c.mu.Unlock()

	if !connected {
		return nil
	}
	var errs []error
	for _, topic := range emptied {
		errs = append(errs, c.write(protocol.TypeUnsubscribe, string(topic), "", protocol.TopicPayload{Topic: string(topic)}))
	}
	return errors.Join(errs...)
}

// removeConsumer reports whether the topic lost its last consumer. Caller holds mu.
func (c *Client) removeConsumer(topic topics.Topic, consumerID string) bool {
	subs, ok := c.consumers[topic]
	if !ok {
		return false
	}
	if _, ok := subs[consumerID]; !ok {
		return false
	}
	delete(subs, consumerID)
	if len(subs) > 0 {
		return false
	}
	delete(c.consumers, topic)
	return true
}

// Emit validates and sends an action, waiting for its acknowledgement.
func (c *Client) Emit(ctx context.Context, topic topics.Topic, payload any) (protocol.Ack, error) {
	return c.EmitTimeout(ctx, topic, payload, c.config.AckTimeout)
}

// EmitTimeout is Emit with an explicit acknowledgement timeout.
func (c *Client) EmitTimeout(ctx context.Context, topic topics.Topic, payload any, timeout time.Duration) (protocol.Ack, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return protocol.Ack{}, fmt.Errorf("marshal %s action: %w", topic, err)
	}
	if _, err := topics.Validate(topic, raw); err != nil {
		return protocol.Ack{}, err
	}

	id := ulid.Make().String()
	ch := make(chan protocol.Ack, 1)

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return protocol.Ack{}, ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(protocol.TypeAction, string(topic), id, json.RawMessage(raw)); err != nil {
		c.dropPending(id)
		return protocol.Ack{}, err
	}

	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack, ok := <-ch:
		if !ok {
			return protocol.Ack{}, ErrNotConnected
		}
		return ack, ack.Err()
	case <-timer.Chan():
		c.dropPending(id)
		log.Warn().Str("topic", string(topic)).Str("id", id).Msg("action acknowledgement timed out")
		return protocol.Ack{}, ErrAckTimeout
	case <-ctx.Done():
		c.dropPending(id)
		return protocol.Ack{}, ctx.Err()
	}
}

func (c *Client) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// send writes a frame that expects no acknowledgement.
func (c *Client) send(t protocol.MessageType, topic string, payload any) error {
	return c.write(t, topic, "", payload)
}

func (c *Client) write(t protocol.MessageType, topic, id string, payload any) error {
	frame, err := protocol.Encode(t, topic, id, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

func (c *Client) dialWithRetry(ctx context.Context) (*websocket.Conn, string, error) {
	b := backoff.NewExponentialBackOff()
	if c.config.InitialInterval > 0 {
		b.InitialInterval = c.config.InitialInterval
	}
	if c.config.MaxInterval > 0 {
		b.MaxInterval = c.config.MaxInterval
	}
	b.MaxElapsedTime = 0

	var (
		conn *websocket.Conn
		id   string
	)
	err := backoff.RetryNotify(func() error {
		var err error
		conn, id, err = c.dial(ctx)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, c.config.MaxRetries), ctx), func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("retry_in", next).Str("url", c.config.URL).Msg("gateway connection failed")
	})
	if err != nil {
		return nil, "", err
	}
	return conn, id, nil
}

// dial opens the socket and waits for the gateway greeting.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, string, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, "", backoff.Permanent(fmt.Errorf("dial %s: %s: %w", c.config.URL, resp.Status, err))
		}
		return nil, "", fmt.Errorf("dial %s: %w", c.config.URL, err)
	}

	if c.config.HandshakeTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	}
	_, frame, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("read greeting: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	env, err := protocol.Decode(frame)
	if err != nil || env.Type != protocol.TypeConnection {
		conn.Close()
		return nil, "", fmt.Errorf("unexpected greeting %q", frame)
	}
	var hello protocol.ConnectionPayload
	if err := env.DecodePayload(&hello); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("decode greeting: %w", err)
	}
	return conn, hello.ClientID, nil
}

// attach installs a fresh connection and resubscribes every consumed topic.
func (c *Client) attach(conn *websocket.Conn, id string) {
	c.mu.Lock()
	c.conn = conn
	c.clientID = id
	var resubscribe []topics.Topic
	for _, topic := range topics.All {
		if len(c.consumers[topic]) > 0 {
			resubscribe = append(resubscribe, topic)
		}
	}
	hooks := append([]func(){}, c.onConnect...)
	c.mu.Unlock()

	log.Info().Str("client_id", id).Int("topics", len(resubscribe)).Msg("connected to gateway")

	for _, topic := range resubscribe {
		if err := c.send(protocol.TypeSubscribe, string(topic), protocol.TopicPayload{Topic: string(topic)}); err != nil {
			log.Error().Err(err).Str("topic", string(topic)).Msg("failed to resubscribe")
		}
	}
	for _, hook := range hooks {
		hook()
	}
}

// detach drops the connection and fails every in-flight action.
func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		c.readLoop(conn)
		c.detach(conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warn().Str("url", c.config.URL).Msg("gateway connection lost, reconnecting")

		next, id, err := c.dialWithRetry(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("giving up reconnecting to gateway")
			}
			return
		}
		if ctx.Err() != nil {
			next.Close()
			return
		}
		c.attach(next, id)
		conn = next
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("gateway read failed")
			}
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		log.Warn().Err(err).Msg("invalid frame from gateway")
		return
	}

	switch env.Type {
	case protocol.TypeSubscribed, protocol.TypeSync:
		c.deliver(env)
	case protocol.TypeAck:
		c.resolve(env)
	case protocol.TypeError:
		var perr protocol.Error
		if err := env.DecodePayload(&perr); err == nil {
			log.Warn().
				Str("topic", env.Topic).
				Str("id", env.ID).
				Str("code", string(perr.Code)).
				Msg(perr.Message)
		}
	}

	c.mu.Lock()
	handlers := c.handlers[env.Type]
	c.mu.Unlock()
	for _, h := range handlers {
		h(env)
	}
}

func (c *Client) deliver(env protocol.Envelope) {
	topic := topics.Topic(env.Topic)
	update := Update{Topic: topic, Type: env.Type, Payload: env.Payload}

	c.mu.Lock()
	callbacks := make([]Callback, 0, len(c.consumers[topic]))
	for _, cb := range c.consumers[topic] {
		callbacks = append(callbacks, cb)
	}
	c.mu.Unlock()

	for _, cb := range callbacks {
		cb(update)
	}
}

func (c *Client) resolve(env protocol.Envelope) {
	var ack protocol.Ack
	if err := env.DecodePayload(&ack); err != nil {
		log.Warn().Err(err).Str("id", env.ID).Msg("invalid ack")
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[env.ID]
	delete(c.pending, env.ID)
	c.mu.Unlock()

	if !ok {
		log.Debug().Str("id", env.ID).Msg("ignoring late ack")
		return
	}
	ch <- ack
}
