/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eligibility maintains in-memory views of which tracks may be
// selected for playback: permanently blocked tracks and channels, and
// tracks resting in the manual-play cooldown window.
package eligibility

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_autodj/internal/events"
	"github.com/friendsincode/bragi_autodj/internal/telemetry"
)

// BlockSource supplies the persisted block lists.
type BlockSource interface {
	BannedTrackIDs(ctx context.Context) ([]string, error)
	BlockedChannelIDs(ctx context.Context) ([]string, error)
}

// CooldownSource supplies manual plays inside the cooldown window.
type CooldownSource interface {
	ManualPlayIDs(ctx context.Context, since time.Time) ([]string, error)
}

type idSet map[string]struct{}

func toSet(ids []string) idSet {
	set := make(idSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// BlockRegistry holds the blocked track and channel sets. Lookups are
// lock-cheap; Refresh swaps in complete replacement sets so readers
// never observe a partially updated view.
type BlockRegistry struct {
	source   BlockSource
	bus      *events.Bus
	logger   zerolog.Logger
	interval time.Duration

	mu       sync.RWMutex
	tracks   idSet
	channels idSet
}

// NewBlockRegistry creates an empty registry. Call Refresh before the
// first selection round, then let Run keep it current.
func NewBlockRegistry(source BlockSource, bus *events.Bus, interval time.Duration, logger zerolog.Logger) *BlockRegistry {
	return &BlockRegistry{
		source:   source,
		bus:      bus,
		interval: interval,
		logger:   logger.With().Str("component", "block_registry").Logger(),
		tracks:   idSet{},
		channels: idSet{},
	}
}

// IsTrackBlocked reports whether the track is permanently blocked.
func (r *BlockRegistry) IsTrackBlocked(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, blocked := r.tracks[id]
	return blocked
}

// IsChannelBlocked reports whether the channel is blocked.
func (r *BlockRegistry) IsChannelBlocked(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, blocked := r.channels[id]
	return blocked
}

// Refresh reloads both block lists and replaces the in-memory sets.
// On error the previous sets stay in place.
func (r *BlockRegistry) Refresh(ctx context.Context) error {
	trackIDs, err := r.source.BannedTrackIDs(ctx)
	if err != nil {
		telemetry.RefreshTotal.WithLabelValues("block_registry", "error").Inc()
		return err
	}
	channelIDs, err := r.source.BlockedChannelIDs(ctx)
	if err != nil {
		telemetry.RefreshTotal.WithLabelValues("block_registry", "error").Inc()
		return err
	}

	r.mu.Lock()
	r.tracks = toSet(trackIDs)
	r.channels = toSet(channelIDs)
	r.mu.Unlock()

	telemetry.RefreshTotal.WithLabelValues("block_registry", "ok").Inc()
	r.logger.Debug().
		Int("tracks", len(trackIDs)).
		Int("channels", len(channelIDs)).
		Msg("block lists refreshed")

	if r.bus != nil {
		r.bus.Publish(events.EventEligibilityRefresh, events.Payload{
			"component":        "block_registry",
			"blocked_tracks":   len(trackIDs),
			"blocked_channels": len(channelIDs),
		})
	}
	return nil
}

// Run refreshes the registry on the configured interval until ctx is
// cancelled.
func (r *BlockRegistry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn().Err(err).Msg("block list refresh failed, keeping previous view")
			}
		}
	}
}

// CooldownTracker holds the set of tracks manually played inside the
// rolling cooldown window. Automatic plays never enter the window.
type CooldownTracker struct {
	source   CooldownSource
	logger   zerolog.Logger
	window   time.Duration
	interval time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	cooled idSet
}

// NewCooldownTracker creates an empty tracker over the given window.
func NewCooldownTracker(source CooldownSource, window, interval time.Duration, logger zerolog.Logger) *CooldownTracker {
	return &CooldownTracker{
		source:   source,
		window:   window,
		interval: interval,
		now:      time.Now,
		logger:   logger.With().Str("component", "cooldown_tracker").Logger(),
		cooled:   idSet{},
	}
}

// InCooldown reports whether the track was manually played inside the
// window as of the last refresh.
func (t *CooldownTracker) InCooldown(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, cooled := t.cooled[id]
	return cooled
}

// Refresh reloads the cooldown set from the manual play history. On
// error the previous set stays in place.
func (t *CooldownTracker) Refresh(ctx context.Context) error {
	since := t.now().Add(-t.window)
	ids, err := t.source.ManualPlayIDs(ctx, since)
	if err != nil {
		telemetry.RefreshTotal.WithLabelValues("cooldown_tracker", "error").Inc()
		return err
	}

	t.mu.Lock()
	t.cooled = toSet(ids)
	t.mu.Unlock()

	telemetry.RefreshTotal.WithLabelValues("cooldown_tracker", "ok").Inc()
	t.logger.Debug().Int("tracks", len(ids)).Msg("cooldown window refreshed")
	return nil
}

// Run refreshes the tracker on the configured interval until ctx is
// cancelled.
func (t *CooldownTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil {
				t.logger.Warn().Err(err).Msg("cooldown refresh failed, keeping previous view")
			}
		}
	}
}

// Checker answers the combined eligibility question for a candidate.
type Checker struct {
	blocks    *BlockRegistry
	cooldowns *CooldownTracker
}

// NewChecker combines a block registry and a cooldown tracker.
func NewChecker(blocks *BlockRegistry, cooldowns *CooldownTracker) *Checker {
	return &Checker{blocks: blocks, cooldowns: cooldowns}
}

// Eligible reports whether a track may be offered for automatic
// playback. A nil channelID means the track has no channel attribution
// and only track-level rules apply.
func (c *Checker) Eligible(trackID string, channelID *string) bool {
	if c.blocks.IsTrackBlocked(trackID) {
		return false
	}
	if channelID != nil && c.blocks.IsChannelBlocked(*channelID) {
		return false
	}
	return !c.cooldowns.InCooldown(trackID)
}
