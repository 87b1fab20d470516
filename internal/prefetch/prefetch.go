/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package prefetch warms the track cache for upcoming queue entries so
// playback never waits on a download it could have started earlier.
package prefetch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_autodj/internal/events"
	"github.com/friendsincode/bragi_autodj/internal/telemetry"
)

// QueueProvider names the tracks expected to play soon, nearest first.
type QueueProvider interface {
	UpcomingTrackIDs(ctx context.Context, limit int) ([]string, error)
}

// Acquirer downloads tracks and reports in-flight state.
type Acquirer interface {
	Acquire(ctx context.Context, trackID string) (string, error)
	InFlight(trackID string) bool
}

// CacheChecker answers whether a track is already on disk.
type CacheChecker interface {
	Get(ctx context.Context, trackID string) (string, bool, error)
}

// Scheduler periodically requests downloads for the queue head.
type Scheduler struct {
	queue    QueueProvider
	acquirer Acquirer
	cache    CacheChecker
	bus      *events.Bus
	logger   zerolog.Logger
	horizon  int
	interval time.Duration
}

// New creates a scheduler that keeps the first horizon queue entries
// cached.
func New(queue QueueProvider, acquirer Acquirer, cacheChecker CacheChecker, bus *events.Bus, horizon int, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		queue:    queue,
		acquirer: acquirer,
		cache:    cacheChecker,
		bus:      bus,
		horizon:  horizon,
		interval: interval,
		logger:   logger.With().Str("component", "prefetch").Logger(),
	}
}

// Sweep inspects the queue head once and kicks off downloads for
// entries that are neither cached nor already downloading. Downloads
// run detached; a sweep never blocks on them.
func (s *Scheduler) Sweep(ctx context.Context) error {
	if s.horizon <= 0 {
		return nil
	}

	ids, err := s.queue.UpcomingTrackIDs(ctx, s.horizon)
	if err != nil {
		return err
	}

	for _, trackID := range ids {
		if s.acquirer.InFlight(trackID) {
			continue
		}
		if _, cached, err := s.cache.Get(ctx, trackID); err != nil {
			s.logger.Warn().Err(err).Str("track_id", trackID).Msg("cache lookup failed during sweep")
			continue
		} else if cached {
			continue
		}

		telemetry.PrefetchRequestsTotal.Inc()
		s.logger.Debug().Str("track_id", trackID).Msg("prefetching upcoming track")
		if s.bus != nil {
			s.bus.Publish(events.EventPrefetchRequested, events.Payload{"track_id": trackID})
		}

		go func(id string) {
			if _, err := s.acquirer.Acquire(context.Background(), id); err != nil {
				s.logger.Warn().Err(err).Str("track_id", id).Msg("prefetch download failed")
			}
		}(trackID)
	}
	return nil
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("prefetch sweep failed")
			}
		}
	}
}
