/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playback/internal/config"
	"github.com/friendsincode/grimnir_playback/internal/events"
)

// Bus is a broker that owns network resources.
type Bus interface {
	events.Broker
	Close() error
}

type memoryBus struct {
	*events.Bus
}

func (memoryBus) Close() error { return nil }

// New builds the event bus selected by cfg.EventBus. A NATS connection
// failure degrades to the in-memory bus rather than failing startup.
func New(cfg *config.Config, logger zerolog.Logger) Bus {
	nodeID := NodeID(cfg.InstanceID)

	switch cfg.EventBus {
	case config.EventBusRedis:
		rc := DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		return NewRedisBus(rc, nodeID, logger)

	case config.EventBusNATS:
		nc := DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		nb, err := NewNATSBus(nc, nodeID, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("NATS unavailable, using in-memory event bus")
			return NewMemory()
		}
		return nb

	default:
		return NewMemory()
	}
}

// NewMemory returns an in-process bus with a no-op Close.
func NewMemory() Bus {
	return memoryBus{events.NewBus()}
}
