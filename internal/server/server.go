/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the engine together and exposes the ops HTTP
// surface: health, metrics, and a small engine API.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_autodj/internal/acquire"
	"github.com/friendsincode/bragi_autodj/internal/autoplay"
	"github.com/friendsincode/bragi_autodj/internal/cache"
	"github.com/friendsincode/bragi_autodj/internal/config"
	"github.com/friendsincode/bragi_autodj/internal/db"
	"github.com/friendsincode/bragi_autodj/internal/eligibility"
	"github.com/friendsincode/bragi_autodj/internal/engine"
	"github.com/friendsincode/bragi_autodj/internal/eventbus"
	"github.com/friendsincode/bragi_autodj/internal/events"
	"github.com/friendsincode/bragi_autodj/internal/prefetch"
	"github.com/friendsincode/bragi_autodj/internal/recommend"
	"github.com/friendsincode/bragi_autodj/internal/store"
	"github.com/friendsincode/bragi_autodj/internal/trackcache"
	"github.com/friendsincode/bragi_autodj/internal/ytdl"
)

// Server bundles the engine, its background loops, and the ops HTTP
// endpoint.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db          *gorm.DB
	store       *store.Store
	cache       *cache.Cache
	bus         *events.Bus
	blocks      *eligibility.BlockRegistry
	cooldowns   *eligibility.CooldownTracker
	selector    *autoplay.Selector
	coordinator *acquire.Coordinator
	recommend   *recommend.Pool
	prefetcher  *prefetch.Scheduler
	engine      *engine.Engine

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// nodeID identifies this process in forwarded event envelopes.
func nodeID() string {
	host, err := os.Hostname()
	if err != nil {
		return "bragi-unknown"
	}
	return host
}

// queueAdapter exposes the store's queued tracks to the prefetcher.
type queueAdapter struct {
	store *store.Store
}

func (q *queueAdapter) UpcomingTrackIDs(ctx context.Context, limit int) ([]string, error) {
	return q.store.UpcomingQueued(ctx, limit)
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.httpServer = &http.Server{
		Addr:              cfg.OpsBind,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, nil
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		s.logger.Warn().Err(err).Msg("database metrics callbacks not registered")
	}

	s.store = store.New(database, s.logger)

	if s.cfg.CacheEnabled {
		redisCache, err := cache.New(cache.Config{
			RedisAddr:         s.cfg.RedisAddr,
			RedisPassword:     s.cfg.RedisPassword,
			RedisDB:           s.cfg.RedisDB,
			TrackTTL:          cache.DefaultTrackTTL,
			PopularityTTL:     cache.DefaultPopularityTTL,
			RecommendationTTL: cache.DefaultRecommendationTTL,
			HistoryTTL:        cache.DefaultHistoryTTL,
			DisableOnError:    true,
		}, s.logger)
		if err != nil {
			return err
		}
		s.cache = redisCache
		s.DeferClose(redisCache.Close)

		forwarder, err := eventbus.NewRedisForwarder(eventbus.RedisConfig{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		}, s.bus, nodeID(), s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Redis event forwarding disabled")
		} else {
			s.DeferClose(forwarder.Close)
		}
	}

	if s.cfg.NATSURL != "" {
		forwarder, err := eventbus.NewNATSForwarder(s.cfg.NATSURL, s.bus, nodeID(), s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("NATS event forwarding disabled")
		} else {
			s.DeferClose(forwarder.Close)
		}
	}

	s.blocks = eligibility.NewBlockRegistry(s.store, s.bus, s.cfg.BlockRefreshInterval, s.logger)
	s.cooldowns = eligibility.NewCooldownTracker(s.store, s.cfg.CooldownWindow, s.cfg.CooldownRefreshInterval, s.logger)
	checker := eligibility.NewChecker(s.blocks, s.cooldowns)

	ytdlClient := ytdl.NewClient(s.cfg.YoutubeProxy, s.logger)
	probe := ytdl.NewProbe(s.logger)

	artifacts := trackcache.New(s.store, s.bus, s.cfg.MediaRoot, s.logger)
	s.coordinator = acquire.New(acquire.Config{
		MediaRoot:           s.cfg.MediaRoot,
		AttemptTimeout:      s.cfg.DownloadTimeout,
		Attempts:            s.cfg.DownloadAttempts,
		InitialBackoff:      time.Second,
		SelfHealMinInterval: s.cfg.SelfHealMinInterval,
	}, ytdlClient, probe, ytdlClient, artifacts, s.store, s.bus, s.logger)

	s.recommend = recommend.New(ytdlClient, s.store, s.cache, s.cfg.RecommendPoolSize, s.cfg.RecommendRefreshInterval, s.logger)

	weights, err := autoplay.LoadWeights(s.cfg.AutoplayWeightFile)
	if err != nil {
		s.logger.Warn().Err(err).Msg("weight file rejected, using defaults")
	}

	// The popular source reads through the Redis snapshot when caching
	// is on.
	var popularStore autoplay.PopularStore = s.store
	if s.cache != nil {
		popularStore = store.NewCached(s.store, s.cache, s.logger)
	}

	sources := []autoplay.Source{
		autoplay.NewPlaylistSource(s.store, func() float64 { return s.selectorWeights().Playlist }, s.logger),
		autoplay.NewHistorySource(s.store, func() float64 { return s.selectorWeights().History }, s.cfg.SourcePoolSize),
		autoplay.NewPopularSource(popularStore, func() float64 { return s.selectorWeights().Popular }, s.cfg.SourcePoolSize),
		autoplay.NewMixSource(s.recommend, func() float64 { return s.selectorWeights().Mix }),
		autoplay.NewRandomSource(s.store, func() float64 { return s.selectorWeights().Random }, s.cfg.SourcePoolSize),
	}
	s.selector = autoplay.NewSelector(sources, checker, weights, s.bus, s.logger)

	s.prefetcher = prefetch.New(&queueAdapter{store: s.store}, s.coordinator, artifacts, s.bus,
		s.cfg.PrefetchHorizon, s.cfg.PrefetchInterval, s.logger)

	s.engine = engine.New(s.selector, s.coordinator, s.store, s.cache, s.bus, s.logger)
	return nil
}

// selectorWeights reads the live weights; before the selector exists
// (during wiring) it falls back to defaults.
func (s *Server) selectorWeights() autoplay.Weights {
	if s.selector == nil {
		return autoplay.DefaultWeights()
	}
	return s.selector.Weights()
}

// Engine returns the orchestration facade for in-process callers.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// HTTPServer returns the configured ops HTTP server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Start primes the eligibility sets, launches the background loops,
// and serves the ops endpoint until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.blocks.Refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial block list refresh failed")
	}
	if err := s.cooldowns.Refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial cooldown refresh failed")
	}

	s.startBackgroundWorkers()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("bind", s.cfg.OpsBind).Msg("ops endpoint listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("http shutdown error")
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	run := func(name string, fn func(context.Context)) {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			fn(ctx)
			s.logger.Debug().Str("worker", name).Msg("background worker stopped")
		}()
	}

	run("block_registry", s.blocks.Run)
	run("cooldown_tracker", s.cooldowns.Run)
	run("recommend_pool", s.recommend.Run)
	run("prefetch", s.prefetcher.Run)
	run("db_metrics", func(ctx context.Context) {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	})
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// mediaRootWritable probes the artifact root for readiness checks.
func (s *Server) mediaRootWritable() bool {
	probe, err := os.CreateTemp(s.cfg.MediaRoot, ".readyz-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return true
}
