package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/KeeprDigital/stream-keepr/go/internal/dbconfig"
	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/gateway"
	"github.com/KeeprDigital/stream-keepr/go/internal/store"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := loadConfig(getEnv("OVERLAY_CONFIG", "overlay.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg)

	dbCfg := dbconfig.NewConfigFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	docs, err := store.Open(ctx, cfg.Store, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", string(cfg.Store)).Msg("failed to open document store")
	}
	defer docs.Close()

	relay, err := setupRelay(cfg, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Str("relay", cfg.Relay).Msg("failed to set up relay")
	}

	log.Info().
		Str("store", string(cfg.Store)).
		Str("relay", cfg.Relay).
		Str("port", cfg.Port).
		Msg("starting overlay gateway")

	gatewayService := gateway.NewService(cfg.gatewayConfig(), docs, relay, nil)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     h2c.NewHandler(gatewayService.Handler(), &http2.Server{}),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	serviceDone := make(chan struct{})
	go func() {
		defer close(serviceDone)
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	// Start HTTP server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Cancel service context to stop the dispatcher
	cancel()
	select {
	case <-serviceDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("gateway service did not stop in time")
	}

	log.Info().Msg("overlay gateway shutdown complete")
}

func setupLogging(cfg Config) {
	if cfg.LogFormat != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func setupRelay(cfg Config, dbCfg dbconfig.Config) (gateway.Relay, error) {
	switch cfg.Relay {
	case relayNATS:
		natsCfg := gateway.DefaultNATSRelayConfig()
		natsCfg.URL = cfg.NATSURL
		return gateway.NewNATSRelay(natsCfg)
	case relayPostgres:
		pgCfg := gateway.DefaultPostgresRelayConfig()
		pgCfg.DatabaseURL = dbCfg.DSN()
		pgCfg.NotifyChannel = cfg.NotifyChannel
		return gateway.NewPostgresRelay(pgCfg)
	default:
		return nil, nil
	}
}
