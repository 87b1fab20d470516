/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package recommend maintains a pool of related tracks derived from
// the most recently played seed. The pool refreshes in the background
// and is only replaced on a successful fetch, so selection always sees
// the last good set.
package recommend

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_autodj/internal/cache"
	"github.com/friendsincode/bragi_autodj/internal/telemetry"
	"github.com/friendsincode/bragi_autodj/internal/ytdl"
)

// Feed supplies related tracks for a seed.
type Feed interface {
	RelatedTracks(ctx context.Context, seedID string, limit int) ([]ytdl.RelatedTrack, error)
}

// SeedSource names the track the next refresh should expand from.
type SeedSource interface {
	LatestSeed(ctx context.Context) (string, error)
}

// Pool holds the current recommendation set.
type Pool struct {
	feed     Feed
	seeds    SeedSource
	cache    *cache.Cache
	logger   zerolog.Logger
	size     int
	interval time.Duration

	mu      sync.RWMutex
	seedID  string
	tracks  []ytdl.RelatedTrack
	updated time.Time
}

// New creates an empty pool. cache may be nil.
func New(feed Feed, seeds SeedSource, redisCache *cache.Cache, size int, interval time.Duration, logger zerolog.Logger) *Pool {
	return &Pool{
		feed:     feed,
		seeds:    seeds,
		cache:    redisCache,
		size:     size,
		interval: interval,
		logger:   logger.With().Str("component", "recommend").Logger(),
	}
}

// Snapshot returns the current pool contents. The returned slice is a
// copy and safe to filter in place.
func (p *Pool) Snapshot() []ytdl.RelatedTrack {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ytdl.RelatedTrack, len(p.tracks))
	copy(out, p.tracks)
	return out
}

// Seed returns the seed the current pool was built from.
func (p *Pool) Seed() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seedID
}

// Refresh rebuilds the pool from the latest seed. A fetch failure or
// an empty feed leaves the previous pool in place.
func (p *Pool) Refresh(ctx context.Context) error {
	seedID, err := p.seeds.LatestSeed(ctx)
	if err != nil {
		telemetry.RefreshTotal.WithLabelValues("recommend", "error").Inc()
		return err
	}
	if seedID == "" {
		p.logger.Debug().Msg("no seed recorded yet, keeping pool")
		return nil
	}

	if p.cache != nil {
		if cached, ok := p.cache.GetRecommendations(ctx); ok && cached.SeedID == seedID {
			p.replace(seedID, fromCached(cached))
			telemetry.RefreshTotal.WithLabelValues("recommend", "ok").Inc()
			return nil
		}
	}

	tracks, err := p.feed.RelatedTracks(ctx, seedID, p.size)
	if err != nil {
		telemetry.RefreshTotal.WithLabelValues("recommend", "error").Inc()
		return err
	}
	if len(tracks) == 0 {
		p.logger.Warn().Str("seed_id", seedID).Msg("feed returned no related tracks, keeping pool")
		telemetry.RefreshTotal.WithLabelValues("recommend", "empty").Inc()
		return nil
	}

	p.replace(seedID, tracks)
	telemetry.RefreshTotal.WithLabelValues("recommend", "ok").Inc()
	p.logger.Debug().Str("seed_id", seedID).Int("tracks", len(tracks)).Msg("recommendation pool refreshed")

	if p.cache != nil {
		ids := make([]string, len(tracks))
		for i, track := range tracks {
			ids[i] = track.ID
		}
		if err := p.cache.SetRecommendations(ctx, &cache.CachedRecommendations{
			SeedID:   seedID,
			TrackIDs: ids,
			TakenAt:  time.Now().UTC(),
		}); err != nil {
			p.logger.Debug().Err(err).Msg("could not cache recommendation pool")
		}
	}
	return nil
}

func (p *Pool) replace(seedID string, tracks []ytdl.RelatedTrack) {
	p.mu.Lock()
	p.seedID = seedID
	p.tracks = tracks
	p.updated = time.Now()
	p.mu.Unlock()
}

func fromCached(cached *cache.CachedRecommendations) []ytdl.RelatedTrack {
	tracks := make([]ytdl.RelatedTrack, len(cached.TrackIDs))
	for i, id := range cached.TrackIDs {
		tracks[i] = ytdl.RelatedTrack{ID: id}
	}
	return tracks
}

// Run refreshes the pool on the configured interval until ctx is
// cancelled.
func (p *Pool) Run(ctx context.Context) {
	if err := p.Refresh(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("initial recommendation refresh failed")
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("recommendation refresh failed, keeping pool")
			}
		}
	}
}
