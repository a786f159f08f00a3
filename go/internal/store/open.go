package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/KeeprDigital/stream-keepr/go/internal/dbconfig"
)

// Driver names a DocumentStore backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverBolt     Driver = "bolt"
	DriverRedis    Driver = "redis"
	DriverPostgres Driver = "postgres"
)

// Open connects the backend selected by driver.
func Open(ctx context.Context, driver Driver, cfg dbconfig.Config) (DocumentStore, error) {
	var (
		s   DocumentStore
		err error
	)
	switch driver {
	case DriverMemory:
		s = NewMemoryStore()
	case DriverBolt, "":
		s, err = OpenBolt(cfg.BoltPath)
	case DriverRedis:
		s, err = OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	case DriverPostgres:
		s, err = OpenPostgres(ctx, cfg.DSN())
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("driver", string(driver)).Msg("document store opened")
	return s, nil
}
