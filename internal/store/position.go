/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists playback positions so sessions can resume where a
// previous one stopped.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no position is stored for a resource.
var ErrNotFound = errors.New("position not found")

// PlaybackPosition is the last known position within a resource.
type PlaybackPosition struct {
	ResourceURI string    `gorm:"type:varchar(1024);primaryKey" json:"resource_uri"`
	SessionID   string    `gorm:"type:varchar(36);index:idx_position_session" json:"session_id"`
	Position    float64   `gorm:"not null" json:"position"`
	Duration    float64   `json:"duration"`
	Ended       bool      `json:"ended"`
	UpdatedAt   time.Time `gorm:"index:idx_position_updated" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (PlaybackPosition) TableName() string {
	return "playback_positions"
}

// Migrate creates or updates the position table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&PlaybackPosition{}); err != nil {
		return fmt.Errorf("migrate playback_positions: %w", err)
	}
	return nil
}

// PositionStore reads and writes playback positions.
type PositionStore struct {
	db *gorm.DB
}

// NewPositionStore wraps an open database.
func NewPositionStore(db *gorm.DB) *PositionStore {
	return &PositionStore{db: db}
}

// Save upserts the position for p.ResourceURI.
func (s *PositionStore) Save(ctx context.Context, p PlaybackPosition) error {
	if strings.TrimSpace(p.ResourceURI) == "" {
		return errors.New("save position: empty resource uri")
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource_uri"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_id", "position", "duration", "ended", "updated_at"}),
	}).Create(&p).Error
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// Get returns the stored position for uri, or ErrNotFound.
func (s *PositionStore) Get(ctx context.Context, uri string) (PlaybackPosition, error) {
	var p PlaybackPosition
	err := s.db.WithContext(ctx).Where("resource_uri = ?", uri).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PlaybackPosition{}, ErrNotFound
	}
	if err != nil {
		return PlaybackPosition{}, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// Delete removes the stored position for uri. Deleting a missing entry
// returns ErrNotFound.
func (s *PositionStore) Delete(ctx context.Context, uri string) error {
	res := s.db.WithContext(ctx).Where("resource_uri = ?", uri).Delete(&PlaybackPosition{})
	if res.Error != nil {
		return fmt.Errorf("delete position: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns positions ordered by most recent update. A limit of zero or
// less returns everything.
func (s *PositionStore) List(ctx context.Context, limit int) ([]PlaybackPosition, error) {
	var out []PlaybackPosition
	q := s.db.WithContext(ctx).Order("updated_at DESC").Order("resource_uri")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	return out, nil
}
