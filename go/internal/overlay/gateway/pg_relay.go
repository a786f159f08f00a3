package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type PostgresRelayConfig struct {
	DatabaseURL   string // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string // Channel name to LISTEN on
	PingInterval  time.Duration
}

func DefaultPostgresRelayConfig() PostgresRelayConfig {
	return PostgresRelayConfig{
		NotifyChannel: "overlay_sync",
		PingInterval:  90 * time.Second,
	}
}

// PostgresRelay fans out over LISTEN/NOTIFY. Notifications carry only the topic and origin
// since NOTIFY payloads are size limited; receivers reload the topic from the shared store.
type PostgresRelay struct {
	db       *sql.DB
	listener *pq.Listener
	cfg      PostgresRelayConfig
}

// NewPostgresRelay opens the notify connection and starts listening on the channel.
func NewPostgresRelay(cfg PostgresRelayConfig) (*PostgresRelay, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open notify connection: %w", err)
	}

	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return &PostgresRelay{db: db, listener: l, cfg: cfg}, nil
}

// notification is the NOTIFY payload.
type notification struct {
	Origin string `json:"origin"`
	Topic  string `json:"topic"`
}

func (r *PostgresRelay) Publish(ctx context.Context, event SyncEvent) error {
	payload, err := json.Marshal(notification{Origin: event.Origin, Topic: event.Topic})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", r.cfg.NotifyChannel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", r.cfg.NotifyChannel, err)
	}
	return nil
}

func (r *PostgresRelay) Subscribe(ctx context.Context, handler func(SyncEvent)) error {
	go r.listen(ctx, handler)
	return nil
}

func (r *PostgresRelay) listen(ctx context.Context, handler func(SyncEvent)) {
	log.Info().
		Str("channel", r.cfg.NotifyChannel).
		Dur("ping_interval", r.cfg.PingInterval).
		Msg("relay listener started")

	pingTicker := time.NewTicker(r.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay listener shutting down")
			return
		case note := <-r.listener.Notify:
			if note == nil {
				// nil notification means the connection was re-established
				continue
			}
			var n notification
			if err := json.Unmarshal([]byte(note.Extra), &n); err != nil {
				log.Error().Err(err).Msg("invalid relay notification")
				continue
			}
			handler(SyncEvent{Origin: n.Origin, Topic: n.Topic})
		case <-pingTicker.C:
			if err := r.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (r *PostgresRelay) Close() error {
	err := r.listener.Close()
	if cerr := r.db.Close(); err == nil {
		err = cerr
	}
	return err
}
