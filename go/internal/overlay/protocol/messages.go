// Package protocol defines the wire format shared by the overlay gateway and its clients: one
// websocket carrying topic-scoped JSON envelopes.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType discriminates envelopes.
type MessageType string

const (
	TypeConnection   MessageType = "connection"
	TypeSubscribe    MessageType = "subscribe"
	TypeUnsubscribe  MessageType = "unsubscribe"
	TypeSubscribed   MessageType = "subscribed"
	TypeUnsubscribed MessageType = "unsubscribed"
	TypeAction       MessageType = "action"
	TypeAck          MessageType = "ack"
	TypeSync         MessageType = "sync"
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
	TypeError        MessageType = "error"
	TypeDisconnect   MessageType = "disconnect"
	TypeSyncRequest  MessageType = "syncRequest"
	TypeSyncResponse MessageType = "syncResponse"
	TypeTimeUpdate   MessageType = "timeUpdate"
)

// Envelope is every frame on the socket.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope encodes payload into an envelope. A nil payload is sent as JSON null for sync and
// subscribed frames, where null is meaningful, and omitted otherwise.
func NewEnvelope(t MessageType, topic, id string, payload any) (Envelope, error) {
	env := Envelope{Type: t, Topic: topic, ID: id}
	if payload == nil && t != TypeSync && t != TypeSubscribed {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	env.Payload = raw
	return env, nil
}

// Encode marshals an envelope for the wire.
func Encode(t MessageType, topic, id string, payload any) ([]byte, error) {
	env, err := NewEnvelope(t, topic, id, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses a frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s envelope has no payload", e.Type)
	}
	return json.Unmarshal(e.Payload, v)
}

// ConnectionPayload greets a new connection with its identity.
type ConnectionPayload struct {
	ClientID string `json:"clientId"`
}

// TopicPayload names the topic of subscribe/unsubscribe frames.
type TopicPayload struct {
	Topic string `json:"topic"`
}

// SyncRequest is a client round-trip time probe.
type SyncRequest struct {
	ClientTimestamp int64 `json:"clientTimestamp"`
}

// SyncResponse answers a SyncRequest.
type SyncResponse struct {
	ClientTimestamp      int64 `json:"clientTimestamp"`
	ServerTime           int64 `json:"serverTime"`
	ServerProcessingTime int64 `json:"serverProcessingTime"`
}

// TimeUpdate is the fallback wall clock tick.
type TimeUpdate struct {
	Timestamp int64  `json:"timestamp"`
	ISO       string `json:"iso"`
}

// NewTimeUpdate builds a tick for t.
func NewTimeUpdate(t time.Time) TimeUpdate {
	return TimeUpdate{Timestamp: t.UnixMilli(), ISO: t.UTC().Format(time.RFC3339Nano)}
}
