/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/grimnir_playback/internal/config"
	"github.com/friendsincode/grimnir_playback/internal/events"
	"github.com/friendsincode/grimnir_playback/internal/media"
	"github.com/friendsincode/grimnir_playback/internal/mediaengine"
	"github.com/friendsincode/grimnir_playback/internal/playback"
	"github.com/friendsincode/grimnir_playback/internal/scheduler"
	"github.com/friendsincode/grimnir_playback/internal/store"
	"github.com/friendsincode/grimnir_playback/internal/testutil"
)

func newPositionStore(t *testing.T) *store.PositionStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, store.Migrate(db))
	return store.NewPositionStore(db)
}

type fixture struct {
	mgr       *Manager
	bus       *events.Bus
	positions *store.PositionStore
	dir       string
}

func newFixture(t *testing.T, maxSessions int) *fixture {
	t.Helper()
	dir := t.TempDir()
	bus := events.NewBus()
	positions := newPositionStore(t)
	svc := media.NewService(&config.Config{MediaRoot: dir, HTTPFetchTimeout: time.Second}, zerolog.Nop())

	mgr := NewManager(svc, mediaengine.NewWAVBackend(256), bus, positions, Config{
		MaxSessions: maxSessions,
		Options:     playback.Options{PositionUpdateInterval: 20 * time.Millisecond},
		Registry:    scheduler.NewRegistry(scheduler.Options{}, zerolog.Nop()),
	}, zerolog.Nop())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	return &fixture{mgr: mgr, bus: bus, positions: positions, dir: dir}
}

func waitEvent(t *testing.T, sub events.Subscriber, sessionID string) events.Payload {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case p := <-sub:
			if p.SessionID() == sessionID {
				return p
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event for %s", sessionID)
			return nil
		}
	}
}

func TestCreatePlaysToEndAndPersists(t *testing.T) {
	f := newFixture(t, 0)
	testutil.WriteWAV(t, f.dir, "short.wav", 0.25)
	created := f.bus.Subscribe(events.EventSessionCreated)
	ended := f.bus.Subscribe(events.EventEnded)

	s, err := f.mgr.Create(context.Background(), CreateRequest{URI: "short.wav", Autoplay: true})
	require.NoError(t, err)
	require.NotEmpty(t, s.ID())
	require.Equal(t, "short.wav", waitEvent(t, created, s.ID())["uri"])

	waitEvent(t, ended, s.ID())
	require.Equal(t, playback.PlayEnded, s.Decoder().State())

	pos, err := f.positions.Get(context.Background(), "short.wav")
	require.NoError(t, err)
	require.True(t, pos.Ended)
	require.Equal(t, s.ID(), pos.SessionID)
	require.InDelta(t, 0.25, pos.Position, 0.01)
}

func TestResumeSeeksToStoredPosition(t *testing.T) {
	f := newFixture(t, 0)
	testutil.WriteWAV(t, f.dir, "long.wav", 2)
	require.NoError(t, f.positions.Save(context.Background(), store.PlaybackPosition{ResourceURI: "long.wav", Position: 1.5}))

	s, err := f.mgr.Create(context.Background(), CreateRequest{URI: "long.wav", Resume: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.Decoder().State() == playback.PlayPaused
	}, 5*time.Second, 10*time.Millisecond)
	require.InDelta(t, 1.5, s.Decoder().CurrentTime(), 0.05)
}

func TestResumeIgnoresEndedPosition(t *testing.T) {
	f := newFixture(t, 0)
	testutil.WriteWAV(t, f.dir, "done.wav", 1)
	require.NoError(t, f.positions.Save(context.Background(), store.PlaybackPosition{ResourceURI: "done.wav", Position: 1, Ended: true}))

	s, err := f.mgr.Create(context.Background(), CreateRequest{URI: "done.wav", Resume: true})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.Decoder().State() == playback.PlayPaused
	}, 5*time.Second, 10*time.Millisecond)
	require.Zero(t, s.Decoder().CurrentTime())
}

func TestPauseAndClosePersistPosition(t *testing.T) {
	f := newFixture(t, 0)
	testutil.WriteWAV(t, f.dir, "pause.wav", 3)

	s, err := f.mgr.Create(context.Background(), CreateRequest{URI: "pause.wav", Autoplay: true})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.Decoder().CurrentTime() > 0.1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Pause(context.Background()))
	pos, err := f.positions.Get(context.Background(), "pause.wav")
	require.NoError(t, err)
	require.False(t, pos.Ended)
	require.Greater(t, pos.Position, 0.0)

	closed := f.bus.Subscribe(events.EventSessionClosed)
	require.NoError(t, f.mgr.Close(context.Background(), s.ID()))
	waitEvent(t, closed, s.ID())

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not shut down")
	}
	require.Eventually(t, func() bool { return f.mgr.Count() == 0 }, time.Second, 10*time.Millisecond)
	_, err = f.mgr.Get(s.ID())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMaxSessions(t *testing.T) {
	f := newFixture(t, 1)
	testutil.WriteWAV(t, f.dir, "a.wav", 1)

	_, err := f.mgr.Create(context.Background(), CreateRequest{URI: "a.wav"})
	require.NoError(t, err)
	_, err = f.mgr.Create(context.Background(), CreateRequest{URI: "a.wav"})
	require.ErrorIs(t, err, ErrTooManySessions)
}

func TestCreateErrors(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.mgr.Create(context.Background(), CreateRequest{URI: "missing.wav"})
	require.Error(t, err)

	_, err = f.mgr.Create(context.Background(), CreateRequest{})
	require.ErrorIs(t, err, playback.ErrNilResource)

	_, err = f.mgr.Create(context.Background(), CreateRequest{URI: "x.wav", StartAt: -1})
	require.ErrorIs(t, err, playback.ErrInvalidSeekTarget)

	require.Zero(t, f.mgr.Count())
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.mgr.Get("nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, f.mgr.Close(context.Background(), "nope"), ErrNotFound)
}

func TestListIsSortedByCreation(t *testing.T) {
	f := newFixture(t, 0)
	testutil.WriteWAV(t, f.dir, "a.wav", 1)

	var ids []string
	for range 3 {
		s, err := f.mgr.Create(context.Background(), CreateRequest{URI: "a.wav"})
		require.NoError(t, err)
		ids = append(ids, s.ID())
		time.Sleep(2 * time.Millisecond)
	}

	var got []string
	for _, s := range f.mgr.List() {
		got = append(got, s.ID())
	}
	require.Equal(t, ids, got)
}

func TestShutdownClosesEverything(t *testing.T) {
	f := newFixture(t, 0)
	testutil.WriteWAV(t, f.dir, "a.wav", 2)

	for range 2 {
		_, err := f.mgr.Create(context.Background(), CreateRequest{URI: "a.wav", Autoplay: true})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.mgr.Shutdown(ctx))
	require.Zero(t, f.mgr.Count())

	_, err := f.mgr.Create(context.Background(), CreateRequest{URI: "a.wav"})
	if !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("Create after Shutdown err = %v, want ErrManagerClosed", err)
	}
}

func TestSetVolumeClamps(t *testing.T) {
	f := newFixture(t, 0)
	testutil.WriteWAV(t, f.dir, "a.wav", 1)
	s, err := f.mgr.Create(context.Background(), CreateRequest{URI: "a.wav"})
	require.NoError(t, err)

	require.Equal(t, 1.0, s.SetVolume(3))
	require.Equal(t, 0.25, s.SetVolume(0.25))
	require.Equal(t, 0.0, s.SetVolume(-1))
	require.Equal(t, s.ID(), s.Info().ID)
}
