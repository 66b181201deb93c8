package redis

import (
	"context"
	"fmt"
	"time"

	"voicelink/pkg/config"
	"voicelink/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewClient connects to the Redis instance backing the device preference
// store, verifies the link and applies pending schema migrations. The initial
// ping is retried so the daemon survives a store that comes up slightly
// after it.
func NewClient(cfg *config.Config, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := retry.Retry(ctx, retry.DefaultConfig(), func() error {
		return client.Ping(ctx).Err()
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to preference store: %w", err)
	}

	if err := Migrate(ctx, client, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to migrate preference schema: %w", err)
	}

	if logger != nil {
		logger.Infow("connected to preference store",
			"address", cfg.Redis.Address,
			"db", cfg.Redis.DB,
			"pool_size", cfg.Redis.PoolSize,
		)
	}

	return client, nil
}

// CloseClient closes the preference store connection.
func CloseClient(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
