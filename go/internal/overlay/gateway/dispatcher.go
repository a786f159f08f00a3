package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/protocol"
	"github.com/KeeprDigital/stream-keepr/go/internal/topics"
)

// command is one unit of work for the dispatcher goroutine.
type command interface {
	command()
}

type registerCmd struct{ conn *Connection }

type unregisterCmd struct{ conn *Connection }

type frameCmd struct {
	conn     *Connection
	frame    []byte
	received time.Time
}

type deferredCmd struct{ task topics.Deferred }

type relayCmd struct{ event SyncEvent }

type callCmd struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

func (registerCmd) command()   {}
func (unregisterCmd) command() {}
func (frameCmd) command()      {}
func (deferredCmd) command()   {}
func (relayCmd) command()      {}
func (callCmd) command()       {}

func (cm *ConnectionManager) handle(ctx context.Context, cmd command) {
	switch c := cmd.(type) {
	case registerCmd:
		cm.register(c.conn)
	case unregisterCmd:
		cm.unregister(c.conn)
	case frameCmd:
		cm.handleFrame(ctx, c)
	case deferredCmd:
		if u, ok := c.task(ctx); ok {
			cm.publish(u.Topic, u.State, "")
		}
	case relayCmd:
		cm.handleRelayed(ctx, c.event)
	case callCmd:
		c.fn(ctx)
		close(c.done)
	default:
		log.Error().Msgf("unhandled dispatcher command %T", cmd)
	}
}

func (cm *ConnectionManager) handleFrame(ctx context.Context, cmd frameCmd) {
	conn := cmd.conn
	if conn.closed {
		return
	}

	env, err := protocol.Decode(cmd.frame)
	if err != nil {
		log.Warn().Err(err).Str("connection_id", conn.ID).Msg("invalid message")
		cm.send(conn, protocol.TypeError, "", "", protocol.NewError(protocol.CodeInvalidMessage, err.Error()))
		return
	}

	switch env.Type {
	case protocol.TypePing:
		cm.send(conn, protocol.TypePong, "", env.ID, nil)
	case protocol.TypeSubscribe:
		cm.handleSubscribe(ctx, conn, env)
	case protocol.TypeUnsubscribe:
		cm.handleUnsubscribe(conn, env)
	case protocol.TypeAction:
		cm.handleAction(ctx, conn, env)
	case protocol.TypeSyncRequest:
		cm.handleSyncRequest(conn, env, cmd.received)
	case protocol.TypeDisconnect:
		cm.unregister(conn)
	default:
		cm.reject(conn, env, protocol.NewError(protocol.CodeInvalidMessage, "unsupported message type "+string(env.Type)))
	}
}

// envelopeTopic reads the topic from the envelope, falling back to a {topic} payload.
func envelopeTopic(env protocol.Envelope) (topics.Topic, error) {
	name := env.Topic
	if name == "" && len(env.Payload) > 0 {
		var p protocol.TopicPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			name = p.Topic
		}
	}
	return topics.ParseTopic(name)
}

func (cm *ConnectionManager) handleSubscribe(ctx context.Context, conn *Connection, env protocol.Envelope) {
	topic, err := envelopeTopic(env)
	if err != nil {
		cm.reject(conn, env, err)
		return
	}

	if cm.subscribers[topic] == nil {
		cm.subscribers[topic] = make(map[string]*Connection)
	}
	cm.subscribers[topic][conn.ID] = conn
	conn.topics[topic] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("topic", string(topic)).
		Msg("subscribed to topic")

	state, err := cm.registry.Subscribe(ctx, topic)
	if err != nil {
		log.Error().Err(err).Str("connection_id", conn.ID).Str("topic", string(topic)).Msg("failed to load topic state")
		cm.reject(conn, env, err)
		return
	}
	cm.send(conn, protocol.TypeSubscribed, string(topic), env.ID, state)
}

func (cm *ConnectionManager) handleUnsubscribe(conn *Connection, env protocol.Envelope) {
	topic, err := envelopeTopic(env)
	if err != nil {
		cm.reject(conn, env, err)
		return
	}

	cm.removeSubscriber(topic, conn)
	cm.send(conn, protocol.TypeUnsubscribed, string(topic), env.ID, protocol.TopicPayload{Topic: string(topic)})

	log.Debug().
		Str("connection_id", conn.ID).
		Str("topic", string(topic)).
		Msg("unsubscribed from topic")
}

func (cm *ConnectionManager) handleAction(ctx context.Context, conn *Connection, env protocol.Envelope) {
	topic, err := envelopeTopic(env)
	if err != nil {
		cm.reject(conn, env, err)
		return
	}
	if !conn.topics[topic] {
		cm.reject(conn, env, protocol.ErrNotSubscribed)
		return
	}

	result, err := cm.registry.Apply(ctx, topic, env.Payload)
	if err != nil {
		perr := protocol.AsError(err)
		if perr.Code == protocol.CodeHandlerFailure {
			log.Error().Err(err).Str("connection_id", conn.ID).Str("topic", string(topic)).Msg("action handler failed")
		}
		cm.reject(conn, env, perr)
		return
	}

	if env.ID != "" {
		ts := cm.registry.Now()
		// clock transitions ack with the instant they were applied at
		if applied, ok := result.Extra["timestamp"].(int64); ok {
			ts = applied
		}
		cm.send(conn, protocol.TypeAck, string(topic), env.ID, protocol.OK(ts, result.Extra))
	}
	cm.publish(topic, result.State, conn.ID)
}

func (cm *ConnectionManager) handleSyncRequest(conn *Connection, env protocol.Envelope, received time.Time) {
	var req protocol.SyncRequest
	if err := env.DecodePayload(&req); err != nil {
		cm.reject(conn, env, protocol.NewError(protocol.CodeInvalidMessage, "invalid syncRequest payload"))
		return
	}
	resp := cm.timeSync.respond(conn.ID, req, received, cm.clock.Now())
	cm.send(conn, protocol.TypeSyncResponse, string(topics.TopicTime), env.ID, resp)
}

// sendTimeUpdates ticks time subscribers that have not run a precision sync recently.
func (cm *ConnectionManager) sendTimeUpdates() {
	now := cm.clock.Now()
	var frame []byte
	for id, conn := range cm.subscribers[topics.TopicTime] {
		if !cm.timeSync.due(id, now) {
			continue
		}
		if frame == nil {
			var err error
			frame, err = protocol.Encode(protocol.TypeTimeUpdate, string(topics.TopicTime), "", protocol.NewTimeUpdate(now))
			if err != nil {
				log.Error().Err(err).Msg("failed to encode time update")
				return
			}
		}
		cm.deliver(conn, frame)
	}
}

func (cm *ConnectionManager) handleRelayed(ctx context.Context, ev SyncEvent) {
	topic, err := topics.ParseTopic(ev.Topic)
	if err != nil {
		log.Warn().Err(err).Str("origin", ev.Origin).Msg("ignoring relayed sync")
		return
	}

	var state any = ev.State
	if len(ev.State) == 0 {
		// notification carried no state; reload from the shared store
		if state, err = cm.registry.Subscribe(ctx, topic); err != nil {
			log.Error().Err(err).Str("topic", string(topic)).Msg("failed to reload relayed topic")
			return
		}
	}
	cm.broadcast(topic, state, "")
}

// reject reports err to the sender only, with a failed ack when the request carried an id.
func (cm *ConnectionManager) reject(conn *Connection, env protocol.Envelope, err error) {
	perr := protocol.AsError(err)
	cm.send(conn, protocol.TypeError, env.Topic, env.ID, perr)
	if env.ID != "" && env.Type == protocol.TypeAction {
		cm.send(conn, protocol.TypeAck, env.Topic, env.ID, protocol.Failed(cm.registry.Now(), perr))
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("event_type", string(env.Type)).
		Str("topic", env.Topic).
		Str("code", string(perr.Code)).
		Msg("request rejected")
}
