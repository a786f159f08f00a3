package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSRelayConfig holds configuration for the NATS relay
type NATSRelayConfig struct {
	URL           string
	SubjectPrefix string // e.g., "overlay.sync"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSRelayConfig returns default NATS relay configuration
func DefaultNATSRelayConfig() NATSRelayConfig {
	return NATSRelayConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "overlay.sync",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSRelay publishes sync events on core NATS subjects, one per topic.
type NATSRelay struct {
	nc     *nats.Conn
	config NATSRelayConfig
}

// NewNATSRelay connects to NATS
func NewNATSRelay(config NATSRelayConfig) (*NATSRelay, error) {
	opts := []nats.Option{
		nats.Name("stream-keepr-gateway"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSRelay{nc: nc, config: config}, nil
}

func (r *NATSRelay) subject(topic string) string {
	return r.config.SubjectPrefix + "." + topic
}

// Publish sends the event on the topic's subject
func (r *NATSRelay) Publish(_ context.Context, event SyncEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}
	if err := r.nc.Publish(r.subject(event.Topic), data); err != nil {
		return fmt.Errorf("publish sync event: %w", err)
	}
	return nil
}

// Subscribe listens on every topic subject until ctx is cancelled
func (r *NATSRelay) Subscribe(ctx context.Context, handler func(SyncEvent)) error {
	sub, err := r.nc.Subscribe(r.subject(">"), func(msg *nats.Msg) {
		var event SyncEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Error().
				Err(err).
				Str("subject", msg.Subject).
				Msg("failed to unmarshal sync event")
			return
		}
		handler(event)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.subject(">"), err)
	}

	log.Info().
		Str("subject", sub.Subject).
		Msg("NATS relay subscribed")

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil && r.nc.IsConnected() {
			log.Error().Err(err).Msg("failed to unsubscribe NATS relay")
		}
	}()
	return nil
}

func (r *NATSRelay) Close() error {
	if r.nc != nil {
		r.nc.Close()
	}
	return nil
}
