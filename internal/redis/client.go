package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/pramodkumar0813/DI-Skill-Bridge/config"
	"github.com/redis/go-redis/v9"
)

// Connect opens the process-wide Redis client and verifies it with a ping.
// The caller owns the client and must Close it on shutdown.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// Test connection
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
