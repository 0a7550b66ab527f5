/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis read-through cache for playback positions.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playback/internal/store"
)

// DefaultPositionTTL bounds how long a cached position is trusted.
const DefaultPositionTTL = time.Hour

// KeyPosition prefixes position keys. The escaped resource URI follows.
const KeyPosition = "grimnir:cache:position:"

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PositionTTL   time.Duration

	// DisableOnError stops using Redis after the first failure.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		PositionTTL:    DefaultPositionTTL,
		DisableOnError: true,
	}
}

// Cache wraps a Redis client with a circuit breaker. A disabled cache
// answers every lookup with a miss.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New connects to Redis. An unreachable server yields a disabled cache, not
// an error.
func New(cfg Config, logger zerolog.Logger) *Cache {
	if cfg.PositionTTL <= 0 {
		cfg.PositionTTL = DefaultPositionTTL
	}
	logger = logger.With().Str("component", "cache").Logger()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
		return &Cache{logger: logger, config: cfg, disabled: true}
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")
	return &Cache{client: client, logger: logger, config: cfg}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}
	return true, nil
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}

func positionKey(uri string) string {
	return KeyPosition + url.QueryEscape(uri)
}

// GetPosition returns the cached position for uri.
func (c *Cache) GetPosition(ctx context.Context, uri string) (store.PlaybackPosition, bool) {
	var pos store.PlaybackPosition
	found, err := c.get(ctx, positionKey(uri), &pos)
	if err != nil || !found {
		return store.PlaybackPosition{}, false
	}
	return pos, true
}

// SetPosition caches pos under its resource URI.
func (c *Cache) SetPosition(ctx context.Context, pos store.PlaybackPosition) error {
	return c.set(ctx, positionKey(pos.ResourceURI), pos, c.config.PositionTTL)
}

// InvalidatePosition drops the cached position for uri.
func (c *Cache) InvalidatePosition(ctx context.Context, uri string) error {
	return c.delete(ctx, positionKey(uri))
}
