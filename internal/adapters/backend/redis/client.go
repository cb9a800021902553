package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/taskmaster/tasklist/internal/infrastructure/config"
	"github.com/taskmaster/tasklist/internal/infrastructure/logger"
)

// Connect opens a Redis client and pings it, retrying with exponential
// backoff.
func Connect(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*goredis.Client, error) {
	maxRetries := 5
	retryDelay := 500 * time.Millisecond

	for attempt := 1; attempt <= maxRetries; attempt++ {
		client := goredis.NewClient(&goredis.Options{
			Addr:         cfg.GetAddr(),
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			MinIdleConns: 2,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			log.Infow("Redis connected", "address", cfg.GetAddr(), "db", cfg.DB)
			return client, nil
		}
		client.Close()

		log.Warnw("Redis connection failed", "attempt", attempt, "max_attempts", maxRetries, "error", err)
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
		}
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts", maxRetries)
}
