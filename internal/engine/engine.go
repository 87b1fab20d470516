/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine ties selection and acquisition together: pick the
// next track, make sure its audio is on disk, hand back a playable
// path, and record what happened.
package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_autodj/internal/acquire"
	"github.com/friendsincode/bragi_autodj/internal/autoplay"
	"github.com/friendsincode/bragi_autodj/internal/cache"
	"github.com/friendsincode/bragi_autodj/internal/events"
)

// ErrExhausted means selection kept producing tracks that could not be
// played and the retry budget ran out.
var ErrExhausted = errors.New("no playable track found")

// selectRetries bounds how many unplayable winners one NextReady call
// will burn through before giving up.
const selectRetries = 5

// Selector picks the next candidate.
type Selector interface {
	SelectNext(ctx context.Context, excludeIDs ...string) (*autoplay.Candidate, error)
}

// Acquirer produces a local file for a track.
type Acquirer interface {
	Acquire(ctx context.Context, trackID string) (string, error)
}

// PlaybackStore records playback outcomes and seeds.
type PlaybackStore interface {
	RecordPlayback(ctx context.Context, trackID string, manual, skipped bool) error
	RecordSeed(ctx context.Context, trackID string) error
}

// NextTrack is a ready-to-play selection result.
type NextTrack struct {
	TrackID  string
	Title    string
	Path     string
	Category autoplay.Category
}

// Engine is the orchestration facade.
type Engine struct {
	selector Selector
	acquirer Acquirer
	store    PlaybackStore
	cache    *cache.Cache
	bus      *events.Bus
	logger   zerolog.Logger
}

// New creates an engine. cache may be nil.
func New(selector Selector, acquirer Acquirer, playbackStore PlaybackStore, redisCache *cache.Cache, bus *events.Bus, logger zerolog.Logger) *Engine {
	return &Engine{
		selector: selector,
		acquirer: acquirer,
		store:    playbackStore,
		cache:    redisCache,
		bus:      bus,
		logger:   logger.With().Str("component", "engine").Logger(),
	}
}

// NextReady selects a track and acquires its audio. Any winner that
// fails acquisition is excluded for the rest of the call and the round
// redrawn. excludeIDs drops tracks the caller already holds, typically
// the one playing plus its queue.
func (e *Engine) NextReady(ctx context.Context, excludeIDs ...string) (*NextTrack, error) {
	exclude := append([]string(nil), excludeIDs...)
	for tries := 0; tries < selectRetries; tries++ {
		candidate, err := e.selector.SelectNext(ctx, exclude...)
		if err != nil {
			return nil, err
		}

		path, err := e.acquirer.Acquire(ctx, candidate.TrackID)
		if err == nil {
			return &NextTrack{
				TrackID:  candidate.TrackID,
				Title:    candidate.Title,
				Path:     path,
				Category: candidate.Category,
			}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var terminal *acquire.Error
		if errors.As(err, &terminal) && terminal.Kind == acquire.KindContentUnavailable {
			// Unusable for this session, but only a moderation action
			// bans a track. The exclude list below keeps it out of the
			// remaining redraws.
			e.logger.Info().Str("track_id", candidate.TrackID).Msg("track content unavailable, skipping")
		}

		exclude = append(exclude, candidate.TrackID)
		e.logger.Warn().Err(err).
			Str("track_id", candidate.TrackID).
			Int("attempt", tries+1).
			Msg("selected track could not be acquired, redrawing")
	}
	return nil, ErrExhausted
}

// ReportPlayback records that a track played (or was skipped), updates
// its scores, and reseeds the recommendation feed on completed plays.
func (e *Engine) ReportPlayback(ctx context.Context, trackID string, manual, skipped bool) error {
	if err := e.store.RecordPlayback(ctx, trackID, manual, skipped); err != nil {
		return err
	}

	if !skipped {
		if err := e.store.RecordSeed(ctx, trackID); err != nil {
			e.logger.Warn().Err(err).Str("track_id", trackID).Msg("could not record recommendation seed")
		}
	}

	if e.cache != nil {
		if err := e.cache.InvalidatePlayback(ctx, trackID); err != nil {
			e.logger.Debug().Err(err).Str("track_id", trackID).Msg("cache invalidation failed")
		}
	}

	if e.bus != nil {
		e.bus.Publish(events.EventPlaybackRecorded, events.Payload{
			"track_id": trackID,
			"manual":   manual,
			"skipped":  skipped,
		})
	}
	return nil
}
