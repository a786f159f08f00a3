package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/protocol"
	"github.com/KeeprDigital/stream-keepr/go/internal/store"
	"github.com/KeeprDigital/stream-keepr/go/internal/topics"
)

// ErrStopped is returned by calls made after the dispatcher exited.
var ErrStopped = errors.New("connection manager stopped")

// ConnectionManager manages overlay WebSocket connections and topic subscriptions. A single
// dispatcher goroutine (Start) owns the connection and subscriber maps and performs every
// registry call; pumps, timers and HTTP handlers only enqueue commands.
type ConnectionManager struct {
	registry   *topics.Registry
	relay      Relay
	clock      clockwork.Clock
	instanceID string

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config   ConnectionConfig
	timeSync *timeSync

	commands chan command
	outbox   chan SyncEvent
	done     chan struct{}

	// owned by the dispatcher
	connections map[string]*Connection
	subscribers map[topics.Topic]map[string]*Connection
}

// Connection represents a WebSocket connection to an overlay client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// Connection metadata
	ConnectedAt time.Time

	// owned by the dispatcher
	topics map[topics.Topic]bool
	closed bool
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024, // card payloads carry image uris and rules text
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			// overlays are loaded from broadcast software on arbitrary origins
			return true
		},
	}
}

// NewConnectionManager creates a connection manager and the topic registry it drives.
func NewConnectionManager(config ConnectionConfig, timeCfg TimeSyncConfig, docs store.DocumentStore, relay Relay, clock clockwork.Clock) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	cm := &ConnectionManager{
		relay:      relay,
		clock:      clock,
		instanceID: uuid.New().String(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		timeSync:    newTimeSync(timeCfg),
		commands:    make(chan command, 1000), // Buffer for high throughput
		outbox:      make(chan SyncEvent, 256),
		done:        make(chan struct{}),
		connections: make(map[string]*Connection),
		subscribers: make(map[topics.Topic]map[string]*Connection),
	}
	cm.registry = topics.NewRegistry(docs, clock, cm.dispatchDeferred)
	return cm
}

// Registry exposes the topic registry. Call it only from functions passed to Do.
func (cm *ConnectionManager) Registry() *topics.Registry {
	return cm.registry
}

// Start runs the dispatcher until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Str("instance_id", cm.instanceID).Msg("connection manager started")

	ticker := cm.clock.NewTicker(cm.timeSync.cfg.UpdateInterval)
	defer ticker.Stop()

	if cm.relay != nil {
		go cm.publishOutbox(ctx)
		if err := cm.relay.Subscribe(ctx, cm.receiveRelayed); err != nil {
			log.Error().Err(err).Msg("failed to subscribe to relay")
		}
	}

	defer cm.shutdown()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case cmd := <-cm.commands:
			cm.handle(ctx, cmd)
		case <-ticker.Chan():
			cm.sendTimeUpdates()
		}
	}
}

func (cm *ConnectionManager) shutdown() {
	close(cm.done)
	cm.registry.Close()
	for _, conn := range cm.connections {
		cm.unregister(conn)
		conn.Conn.Close()
	}
}

// Do runs fn on the dispatcher goroutine and waits for it to finish. A command that has been
// queued always runs to completion, so cancelling ctx after that point does not abort it.
func (cm *ConnectionManager) Do(ctx context.Context, fn func(ctx context.Context)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	if !cm.enqueue(callCmd{fn: fn, done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-cm.done:
		return ErrStopped
	}
}

func (cm *ConnectionManager) enqueue(cmd command) bool {
	select {
	case <-cm.done:
		return false
	default:
	}
	select {
	case cm.commands <- cmd:
		return true
	case <-cm.done:
		return false
	}
}

func (cm *ConnectionManager) dispatchDeferred(task topics.Deferred) {
	if !cm.enqueue(deferredCmd{task: task}) {
		log.Warn().Msg("dropping deferred topic update, dispatcher stopped")
	}
}

func (cm *ConnectionManager) receiveRelayed(ev SyncEvent) {
	if ev.Origin == cm.instanceID {
		return
	}
	cm.enqueue(relayCmd{event: ev})
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: cm.clock.Now(),
		topics:      make(map[topics.Topic]bool),
	}

	if !cm.enqueue(registerCmd{conn: connection}) {
		conn.Close()
		return ErrStopped
	}

	// Start connection handlers
	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return nil
}

// register adds a connection and greets it with its identity
func (cm *ConnectionManager) register(conn *Connection) {
	cm.connections[conn.ID] = conn
	cm.send(conn, protocol.TypeConnection, "", "", protocol.ConnectionPayload{ClientID: conn.ID})

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregister removes a connection from every subscriber set
func (cm *ConnectionManager) unregister(conn *Connection) {
	if conn.closed {
		return
	}
	conn.closed = true
	delete(cm.connections, conn.ID)

	for topic := range conn.topics {
		cm.removeSubscriber(topic, conn)
	}
	cm.timeSync.forget(conn.ID)
	close(conn.Send)

	log.Info().
		Str("connection_id", conn.ID).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) removeSubscriber(topic topics.Topic, conn *Connection) {
	delete(conn.topics, topic)
	if subs, ok := cm.subscribers[topic]; ok {
		delete(subs, conn.ID)
		// Clean up empty topic pools
		if len(subs) == 0 {
			delete(cm.subscribers, topic)
		}
	}
}

// send encodes one envelope for a connection
func (cm *ConnectionManager) send(conn *Connection, t protocol.MessageType, topic, id string, payload any) {
	frame, err := protocol.Encode(t, topic, id, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to encode message")
		return
	}
	cm.deliver(conn, frame)
}

func (cm *ConnectionManager) deliver(conn *Connection, frame []byte) {
	if conn.closed {
		return
	}
	select {
	case conn.Send <- frame:
	default:
		// Connection is slow/dead, close it
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregister(conn)
		conn.Conn.Close()
	}
}

// broadcast sends a sync of topic to every subscriber except the connection with exceptID
func (cm *ConnectionManager) broadcast(topic topics.Topic, state any, exceptID string) int {
	frame, err := protocol.Encode(protocol.TypeSync, string(topic), "", state)
	if err != nil {
		log.Error().Err(err).Str("topic", string(topic)).Msg("failed to marshal sync for broadcast")
		return 0
	}

	sent := 0
	for id, conn := range cm.subscribers[topic] {
		if id == exceptID {
			continue
		}
		cm.deliver(conn, frame)
		sent++
	}

	log.Debug().
		Str("event_type", string(protocol.TypeSync)).
		Str("topic", string(topic)).
		Int("connections", sent).
		Msg("sync broadcasted")
	return sent
}

// publish broadcasts locally and hands the state to the relay for other gateway instances
func (cm *ConnectionManager) publish(topic topics.Topic, state any, exceptID string) {
	cm.broadcast(topic, state, exceptID)
	if cm.relay == nil {
		return
	}

	raw, err := json.Marshal(state)
	if err != nil {
		log.Error().Err(err).Str("topic", string(topic)).Msg("failed to marshal relay state")
		return
	}
	select {
	case cm.outbox <- SyncEvent{Origin: cm.instanceID, Topic: string(topic), State: raw, SentAt: cm.clock.Now()}:
	default:
		log.Warn().Str("topic", string(topic)).Msg("relay outbox full, dropping message")
	}
}

// publishOutbox forwards relay events in order.
func (cm *ConnectionManager) publishOutbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-cm.outbox:
			if err := cm.relay.Publish(ctx, ev); err != nil {
				log.Error().Err(err).Str("topic", ev.Topic).Msg("failed to publish to relay")
			}
		}
	}
}

// ConnectionStats summarises the active connections
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	Topics           map[string]int `json:"topics"`
	Clients          []ClientStats  `json:"clients"`
}

// ClientStats describes one connection
type ClientStats struct {
	ID          string    `json:"id"`
	Topics      []string  `json:"topics"`
	ConnectedAt time.Time `json:"connected_at"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats(ctx context.Context) (ConnectionStats, error) {
	var stats ConnectionStats
	err := cm.Do(ctx, func(context.Context) {
		stats = cm.stats()
	})
	return stats, err
}

func (cm *ConnectionManager) stats() ConnectionStats {
	stats := ConnectionStats{
		TotalConnections: len(cm.connections),
		Topics:           make(map[string]int, len(cm.subscribers)),
		Clients:          make([]ClientStats, 0, len(cm.connections)),
	}
	for topic, subs := range cm.subscribers {
		stats.Topics[string(topic)] = len(subs)
	}
	for _, conn := range cm.connections {
		client := ClientStats{ID: conn.ID, ConnectedAt: conn.ConnectedAt, Topics: []string{}}
		for _, topic := range topics.All {
			if conn.topics[topic] {
				client.Topics = append(client.Topics, string(topic))
			}
		}
		stats.Clients = append(stats.Clients, client)
	}
	return stats
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.enqueue(unregisterCmd{conn: c})
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if !c.Manager.enqueue(frameCmd{conn: c, frame: message, received: c.Manager.clock.Now()}) {
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
