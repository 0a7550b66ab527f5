/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playback/internal/events"
)

// RedisBus implements a Redis-backed event bus for distributed systems.
type RedisBus struct {
	client *redis.Client
	logger zerolog.Logger
	local  *events.Bus
	nodeID string
	cfg    RedisConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Circuit breaker state
	mu          sync.Mutex
	useFallback bool
	failCount   int
	lastCheck   time.Time
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// NewRedisBus creates a Redis-backed event bus. If Redis is unreachable the
// bus starts in fallback mode and keeps retrying in the background.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisBus {
	def := DefaultRedisConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	rb := &RedisBus{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}),
		logger: logger.With().Str("component", "eventbus").Str("backend", "redis").Logger(),
		local:  events.NewBusForBackend("redis"),
		nodeID: nodeID,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := rb.client.Ping(pingCtx).Err(); err != nil {
		rb.logger.Warn().Err(err).Msg("Redis connection failed, using in-memory fallback")
		rb.useFallback = true
		rb.lastCheck = time.Now()
	} else {
		rb.logger.Info().Str("addr", cfg.Addr).Msg("Redis event bus initialized")
	}

	pubsub := rb.client.PSubscribe(ctx, subjectPrefix+"*")
	rb.wg.Add(2)
	go rb.receiveMessages(pubsub)
	go rb.reconnectLoop()

	return rb
}

// Subscribe registers a local subscriber; remote events are delivered to it
// through the receiver.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	return rb.local.Subscribe(eventType)
}

// Unsubscribe removes a subscriber.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally and, unless the breaker is open, to Redis.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)

	if rb.Degraded() {
		return
	}

	data, err := marshalMessage(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal Redis message")
		return
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()

	if err := rb.client.Publish(ctx, subjectFor(eventType), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to Redis")
		rb.handleFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}

// Degraded reports whether the breaker has tripped to local-only delivery.
func (rb *RedisBus) Degraded() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.useFallback
}

// receiveMessages relays events published by other nodes.
func (rb *RedisBus) receiveMessages(pubsub *redis.PubSub) {
	defer rb.wg.Done()
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-rb.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Msg("Redis channel closed")
				return
			}

			m, err := unmarshalMessage([]byte(msg.Payload))
			if err != nil {
				rb.logger.Error().Err(err).Msg("failed to unmarshal Redis message")
				continue
			}
			// Skip messages from ourselves (prevent echo)
			if m.NodeID == rb.nodeID {
				continue
			}
			rb.local.Publish(m.EventType, m.Payload)
		}
	}
}

// handleFailure implements circuit breaker logic.
func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.cfg.MaxFailures && !rb.useFallback {
		rb.logger.Warn().
			Int("fail_count", rb.failCount).
			Msg("Redis failure threshold reached, switching to in-memory fallback")
		rb.useFallback = true
		rb.lastCheck = time.Now()
	}
}

func (rb *RedisBus) reconnectLoop() {
	defer rb.wg.Done()

	ticker := time.NewTicker(rb.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rb.ctx.Done():
			return
		case <-ticker.C:
			if err := rb.tryReconnect(); err != nil {
				rb.logger.Debug().Err(err).Msg("Redis reconnect attempt failed")
			}
		}
	}
}

// tryReconnect closes the breaker once Redis answers again.
func (rb *RedisBus) tryReconnect() error {
	rb.mu.Lock()
	if !rb.useFallback {
		rb.mu.Unlock()
		return nil
	}
	if time.Since(rb.lastCheck) < rb.cfg.CheckInterval/2 {
		rb.mu.Unlock()
		return fmt.Errorf("too soon to retry")
	}
	rb.lastCheck = time.Now()
	rb.mu.Unlock()

	ctx, cancel := context.WithTimeout(rb.ctx, 5*time.Second)
	defer cancel()
	if err := rb.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis still unavailable: %w", err)
	}

	rb.mu.Lock()
	rb.useFallback = false
	rb.failCount = 0
	rb.mu.Unlock()

	rb.logger.Info().Msg("reconnected to Redis, disabling fallback")
	return nil
}

// Close stops the receiver and closes the Redis client.
func (rb *RedisBus) Close() error {
	rb.cancel()
	rb.wg.Wait()

	if err := rb.client.Close(); err != nil {
		rb.logger.Error().Err(err).Msg("failed to close Redis client")
		return err
	}
	rb.logger.Info().Msg("Redis event bus closed")
	return nil
}

var _ events.Broker = (*RedisBus)(nil)
