/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires configuration, persistence, the event bus and the
// session manager behind the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playback/internal/api"
	"github.com/friendsincode/grimnir_playback/internal/cache"
	"github.com/friendsincode/grimnir_playback/internal/config"
	"github.com/friendsincode/grimnir_playback/internal/db"
	"github.com/friendsincode/grimnir_playback/internal/eventbus"
	"github.com/friendsincode/grimnir_playback/internal/logbuffer"
	"github.com/friendsincode/grimnir_playback/internal/media"
	"github.com/friendsincode/grimnir_playback/internal/mediaengine"
	"github.com/friendsincode/grimnir_playback/internal/playback"
	"github.com/friendsincode/grimnir_playback/internal/scheduler"
	"github.com/friendsincode/grimnir_playback/internal/session"
	"github.com/friendsincode/grimnir_playback/internal/store"
	"github.com/friendsincode/grimnir_playback/internal/telemetry"
	"github.com/friendsincode/grimnir_playback/internal/version"
)

const (
	shutdownTimeout    = 10 * time.Second
	dbMetricsInterval  = 30 * time.Second
	requestTimeout     = 60 * time.Second
	tracingServiceName = "grimnir-playback"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error
	logs       *logbuffer.Buffer

	db       *gorm.DB
	bus      eventbus.Bus
	registry *scheduler.Registry
	sessions *session.Manager
	tracer   *telemetry.TracerProvider
}

// New constructs the server and wires dependencies. logs may be nil, which
// disables the log tail endpoints.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, logs *logbuffer.Buffer) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware)
	router.Use(telemetry.MetricsMiddleware)
	router.Use(timeoutUnlessUpgrade(requestTimeout))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		logs:   logs,
	}

	if err := srv.initDependencies(ctx); err != nil {
		_ = srv.Close()
		return nil, err
	}

	api.New(srv.sessions, srv.bus, logs, logger).Routes(router)

	srv.httpServer = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		// Event streams are long-lived; handlers manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return srv, nil
}

func (s *Server) initDependencies(ctx context.Context) error {
	tracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    tracingServiceName,
		ServiceVersion: version.Version,
		OTLPEndpoint:   s.cfg.OTLPEndpoint,
		Enabled:        s.cfg.TracingEnabled,
		SampleRate:     s.cfg.TracingSampleRate,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	s.tracer = tracer
	s.DeferClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tracer.Shutdown(ctx)
	})

	var positions session.PositionStore
	if s.cfg.PersistenceEnabled() {
		database, err := db.Connect(s.cfg)
		if err != nil {
			return err
		}
		s.db = database
		s.DeferClose(func() error { return db.Close(database) })
		if err := store.Migrate(database); err != nil {
			return err
		}
		positions = s.positionStore(store.NewPositionStore(database))
		s.logger.Info().Str("backend", string(s.cfg.DBBackend)).Msg("position persistence enabled")
	} else {
		s.logger.Info().Msg("position persistence disabled, set GRIMNIR_DB_DSN to enable resume")
	}

	s.bus = eventbus.New(s.cfg, s.logger)
	s.DeferClose(s.bus.Close)

	s.registry = scheduler.NewRegistry(scheduler.Options{CycleBudget: s.cfg.CycleBudget}, s.logger)

	s.sessions = session.NewManager(
		media.NewService(s.cfg, s.logger),
		mediaengine.NewBackend(s.cfg, s.logger),
		s.bus,
		positions,
		session.Config{
			MaxSessions: s.cfg.MaxSessions,
			Options:     playback.OptionsFromConfig(s.cfg),
			Registry:    s.registry,
		},
		s.logger,
	)
	return nil
}

// positionStore puts the Redis cache in front of durable when enabled.
func (s *Server) positionStore(durable *store.PositionStore) session.PositionStore {
	if !s.cfg.PositionCacheEnabled {
		return durable
	}
	c := cache.New(cache.Config{
		RedisAddr:      s.cfg.RedisAddr,
		RedisPassword:  s.cfg.RedisPassword,
		RedisDB:        s.cfg.RedisDB,
		PositionTTL:    s.cfg.PositionCacheTTL,
		DisableOnError: true,
	}, s.logger)
	s.DeferClose(c.Close)
	return cache.NewPositions(durable, c)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Run serves HTTP until ctx is canceled, then drains the listener and shuts
// every session down.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if s.db != nil {
		g.Go(func() error {
			ticker := time.NewTicker(dbMetricsInterval)
			defer ticker.Stop()
			for {
				db.UpdateConnectionMetrics(s.db)
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := s.sessions.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// Close releases resources in reverse registration order.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}
