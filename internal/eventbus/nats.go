/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playback/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
	Name  string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "grimnir-playback",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus mirrors events over NATS core subjects "grimnir.<event_type>".
type NATSBus struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	local  *events.Bus
	nodeID string
	logger zerolog.Logger
}

// NewNATSBus connects to NATS and starts relaying remote events.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	def := DefaultNATSConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = def.ReconnectWait
	}

	logger = logger.With().Str("component", "eventbus").Str("backend", "nats").Logger()

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	nb := &NATSBus{
		conn:   conn,
		local:  events.NewBusForBackend("nats"),
		nodeID: nodeID,
		logger: logger,
	}

	sub, err := conn.Subscribe(subjectPrefix+">", nb.handle)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe nats: %w", err)
	}
	nb.sub = sub

	logger.Info().Str("url", conn.ConnectedUrl()).Msg("NATS event bus initialized")
	return nb, nil
}

func (nb *NATSBus) handle(msg *nats.Msg) {
	m, err := unmarshalMessage(msg.Data)
	if err != nil {
		nb.logger.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal NATS message")
		return
	}
	if m.NodeID == nb.nodeID {
		return
	}
	nb.local.Publish(m.EventType, m.Payload)
}

// Subscribe registers a local subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	return nb.local.Subscribe(eventType)
}

// Unsubscribe removes a subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally and to NATS. While disconnected the client
// buffers outgoing messages.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	data, err := marshalMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal NATS message")
		return
	}
	if err := nb.conn.Publish(subjectFor(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to NATS")
	}
}

// Close drains the subscription and closes the connection.
func (nb *NATSBus) Close() error {
	if nb.sub != nil {
		if err := nb.sub.Unsubscribe(); err != nil {
			nb.logger.Debug().Err(err).Msg("NATS unsubscribe")
		}
	}
	nb.conn.Close()
	nb.logger.Info().Msg("NATS event bus closed")
	return nil
}

var _ events.Broker = (*NATSBus)(nil)
