// Package redis provides the Redis-backed KVStore and its connection management.
// It supports standalone, cluster, and sentinel deployment modes.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/secstate/internal/config"
	"github.com/turtacn/secstate/pkg/logger"
)

// ConnectionMode defines Redis deployment mode
type ConnectionMode string

const (
	// ModeStandalone represents single Redis instance
	ModeStandalone ConnectionMode = "standalone"
	// ModeCluster represents Redis cluster mode
	ModeCluster ConnectionMode = "cluster"
	// ModeSentinel represents Redis sentinel mode for high availability
	ModeSentinel ConnectionMode = "sentinel"
)

// Connection manages the Redis client lifecycle.
type Connection struct {
	config config.RedisConfig
	client redis.UniversalClient
	logger logger.Logger
}

// NewConnection creates a connection manager. Call Connect before use.
func NewConnection(cfg config.RedisConfig, log logger.Logger) *Connection {
	return &Connection{config: cfg, logger: log.WithComponent("RedisConnection")}
}

// Connect builds the client for the configured mode and verifies it with PING.
func (c *Connection) Connect(ctx context.Context) error {
	if c.client != nil {
		c.logger.Warn(ctx, "Redis connection already initialized")
		return nil
	}

	opts, err := c.options()
	if err != nil {
		return err
	}
	client := redis.NewUniversalClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		c.logger.Error(ctx, "Redis ping failed", err, logger.Fields{"mode": c.config.Mode})
		_ = client.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	c.client = client
	c.logger.Info(ctx, "Redis connection established", logger.Fields{
		"mode":      c.config.Mode,
		"addresses": c.config.Addresses,
	})
	return nil
}

func (c *Connection) options() (*redis.UniversalOptions, error) {
	if len(c.config.Addresses) == 0 {
		return nil, fmt.Errorf("redis addresses not configured")
	}

	opts := &redis.UniversalOptions{
		Addrs:        c.config.Addresses,
		Password:     c.config.Password,
		DB:           c.config.DB,
		PoolSize:     c.config.PoolSize,
		MinIdleConns: c.config.MinIdleConns,
		DialTimeout:  c.config.DialTimeout,
		ReadTimeout:  c.config.ReadTimeout,
		WriteTimeout: c.config.WriteTimeout,
	}

	switch ConnectionMode(c.config.Mode) {
	case ModeStandalone, "":
		opts.Addrs = opts.Addrs[:1]
	case ModeCluster:
		opts.IsClusterMode = true
	case ModeSentinel:
		if c.config.SentinelMaster == "" {
			return nil, fmt.Errorf("sentinel master name not configured")
		}
		opts.MasterName = c.config.SentinelMaster
	default:
		return nil, fmt.Errorf("unsupported Redis mode: %s", c.config.Mode)
	}

	if c.config.EnableTLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.config.TLSSkipVerify,
		}
	}
	return opts, nil
}

// Client returns the Redis client, or nil before Connect.
func (c *Connection) Client() redis.UniversalClient {
	return c.client
}

// HealthCheck pings the server and reports latency and pool statistics.
func (c *Connection) HealthCheck(ctx context.Context) (map[string]interface{}, error) {
	if c.client == nil {
		return nil, fmt.Errorf("redis connection not initialized")
	}

	start := time.Now()
	err := c.client.Ping(ctx).Err()
	health := map[string]interface{}{
		"connected":  err == nil,
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		health["error"] = err.Error()
		return health, err
	}

	stats := c.client.PoolStats()
	health["total_conns"] = stats.TotalConns
	health["idle_conns"] = stats.IdleConns
	return health, nil
}

// Close gracefully closes the client.
func (c *Connection) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	if err != nil {
		c.logger.Error(context.Background(), "Failed to close Redis connection", err)
	}
	return err
}
