package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/herbal-consult-booking/internal/logging"
)

// Options configures the connection used by the slot locker.
type Options struct {
	Addr     string
	Username string
	Password string
	PoolSize int // 0 means 10
}

// Connect dials Redis and verifies it answers before returning the client.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     poolSize,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	logging.FromContext(ctx).Info().Str("addr", opts.Addr).Int("pool_size", poolSize).Msg("connected to redis")
	return rdb, nil
}

// HealthCheck returns a readiness check for the client.
func HealthCheck(client redis.UniversalClient) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
