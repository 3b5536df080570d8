package guest

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend drivers accepted by Open.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// BackendConfig selects and configures a Backend.
type BackendConfig struct {
	Driver        string
	Path          string // sqlite database file
	RedisAddr     string
	RedisPassword string
	TTL           time.Duration // redis only
}

// Open builds the configured backend. Redis is pinged so a bad address
// fails at startup rather than on first save.
func Open(ctx context.Context, cfg BackendConfig) (Backend, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemoryBackend(), nil
	case DriverSQLite:
		b, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisBackend(client, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
