package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/KeeprDigital/stream-keepr/go/internal/store"
)

// Version is reported by /info
const Version = "1.0.0"

// Service is the overlay gateway: websocket topic sync plus the HTTP and RPC surfaces
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	apiHandler        *APIHandler
	rpcHandler        *RPCHandler
	relay             Relay
	config            Config
	startedAt         time.Time
}

// Config holds configuration for the overlay gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	TimeSyncConfig   TimeSyncConfig
	AllowedOrigins   []string
}

// DefaultConfig returns default configuration for the overlay gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		TimeSyncConfig:   DefaultTimeSyncConfig(),
		AllowedOrigins:   []string{"*"},
	}
}

// NewService creates a new overlay gateway service. relay may be nil for a single instance.
func NewService(config Config, docs store.DocumentStore, relay Relay, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	connectionManager := NewConnectionManager(config.ConnectionConfig, config.TimeSyncConfig, docs, relay, clock)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		apiHandler:        NewAPIHandler(connectionManager),
		rpcHandler:        NewRPCHandler(connectionManager),
		relay:             relay,
		config:            config,
		startedAt:         clock.Now(),
	}
}

// Start runs the gateway until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting overlay gateway service")

	s.connectionManager.Start(ctx)

	log.Info().Msg("overlay gateway service shutting down")
	return s.Stop()
}

// Stop releases the relay. The connection manager stops with its context.
func (s *Service) Stop() error {
	if s.relay != nil {
		if err := s.relay.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close relay")
			return err
		}
	}
	log.Info().Msg("overlay gateway service stopped")
	return nil
}

// ConnectionManager exposes the dispatcher for embedding callers and tests
func (s *Service) ConnectionManager() *ConnectionManager {
	return s.connectionManager
}

// RegisterRoutes registers websocket, API, RPC and introspection routes
func (s *Service) RegisterRoutes(r *mux.Router) {
	s.wsHandler.RegisterRoutes(r)
	s.apiHandler.RegisterRoutes(r)
	s.rpcHandler.RegisterRoutes(r)
	r.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/info", s.HandleInfo).Methods(http.MethodGet)
	log.Info().Msg("overlay gateway routes registered")
}

// Handler returns every route wrapped with CORS
func (s *Service) Handler() http.Handler {
	r := mux.NewRouter()
	s.RegisterRoutes(r)
	return CORSMiddleware(s.config.AllowedOrigins, r)
}

// HandleHealth handles GET /health
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

// ServiceInfo is the /info response
type ServiceInfo struct {
	Service     string    `json:"service"`
	Version     string    `json:"version"`
	InstanceID  string    `json:"instance_id"`
	StartedAt   time.Time `json:"started_at"`
	Connections int       `json:"connections"`
	Topics      int       `json:"topics"`
}

// HandleInfo handles GET /info
func (s *Service) HandleInfo(w http.ResponseWriter, r *http.Request) {
	stats, err := s.GetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ServiceInfo{
		Service:     "overlay-gateway",
		Version:     Version,
		InstanceID:  s.connectionManager.instanceID,
		StartedAt:   s.startedAt,
		Connections: stats.TotalConnections,
		Topics:      len(stats.Topics),
	})
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats(ctx context.Context) (ConnectionStats, error) {
	return s.connectionManager.GetConnectionStats(ctx)
}
