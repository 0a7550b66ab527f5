/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cache

import (
	"context"
	"time"

	"github.com/friendsincode/grimnir_playback/internal/store"
)

// PositionBackend is the durable store behind the cache.
type PositionBackend interface {
	Save(ctx context.Context, pos store.PlaybackPosition) error
	Get(ctx context.Context, uri string) (store.PlaybackPosition, error)
	Delete(ctx context.Context, uri string) error
}

// Positions serves position lookups from Redis and falls back to the
// backend on a miss. Writes go to the backend first.
type Positions struct {
	backend PositionBackend
	cache   *Cache
}

// NewPositions layers cache over backend.
func NewPositions(backend PositionBackend, cache *Cache) *Positions {
	return &Positions{backend: backend, cache: cache}
}

func (p *Positions) Save(ctx context.Context, pos store.PlaybackPosition) error {
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = time.Now().UTC()
	}
	if err := p.backend.Save(ctx, pos); err != nil {
		return err
	}
	_ = p.cache.SetPosition(ctx, pos)
	return nil
}

func (p *Positions) Get(ctx context.Context, uri string) (store.PlaybackPosition, error) {
	if pos, ok := p.cache.GetPosition(ctx, uri); ok {
		return pos, nil
	}
	pos, err := p.backend.Get(ctx, uri)
	if err != nil {
		return store.PlaybackPosition{}, err
	}
	_ = p.cache.SetPosition(ctx, pos)
	return pos, nil
}

func (p *Positions) Delete(ctx context.Context, uri string) error {
	_ = p.cache.InvalidatePosition(ctx, uri)
	return p.backend.Delete(ctx, uri)
}
