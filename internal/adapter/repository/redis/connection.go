package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/config"
)

// Connection wraps the Redis client
type Connection struct {
	client *redis.Client
	config *config.RedisConfig
	logger *slog.Logger
}

// NewConnection creates a new Redis connection and verifies it with PING
func NewConnection(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*Connection, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		Protocol:     2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Connected to Redis",
		"addr", cfg.Addr(),
		"db", cfg.DB,
	)

	return &Connection{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

// Client returns the underlying client
func (c *Connection) Client() *redis.Client {
	return c.client
}

// Close closes the connection
func (c *Connection) Close() error {
	return c.client.Close()
}

// Ping tests the connection
func (c *Connection) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
