/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package autoplay picks the next track for a session with nothing
// queued. Candidates come from five weighted sources queried in
// parallel; a single weighted draw across all of them decides the
// winner.
package autoplay

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/bragi_autodj/internal/eligibility"
	"github.com/friendsincode/bragi_autodj/internal/events"
	"github.com/friendsincode/bragi_autodj/internal/telemetry"
)

// ErrNoCandidates means every source came back empty or ineligible.
var ErrNoCandidates = errors.New("no eligible candidates")

// Selector runs the weighted draw.
type Selector struct {
	sources []Source
	checker *eligibility.Checker
	bus     *events.Bus
	logger  zerolog.Logger

	mu      sync.Mutex
	weights Weights
	rng     func() float64
}

// NewSelector creates a selector over the given sources.
func NewSelector(sources []Source, checker *eligibility.Checker, weights Weights, bus *events.Bus, logger zerolog.Logger) *Selector {
	return &Selector{
		sources: sources,
		checker: checker,
		weights: weights,
		bus:     bus,
		rng:     rand.Float64,
		logger:  logger.With().Str("component", "autoplay").Logger(),
	}
}

// Weights returns the current category weights.
func (s *Selector) Weights() Weights {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weights
}

// SetWeights replaces the category weights.
func (s *Selector) SetWeights(weights Weights) {
	s.mu.Lock()
	s.weights = weights
	s.mu.Unlock()
}

// SelectNext picks the next track. excludeIDs drops tracks the caller
// already holds, typically the one playing right now plus anything
// queued. A source failure degrades that category to empty instead of
// failing the round; only a fully empty round returns ErrNoCandidates.
func (s *Selector) SelectNext(ctx context.Context, excludeIDs ...string) (*Candidate, error) {
	ctx, span := telemetry.StartSpan(ctx, "autoplay", "select_next")
	defer span.End()

	exclude := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		if id != "" {
			exclude[id] = struct{}{}
		}
	}

	results := make([][]Candidate, len(s.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, source := range s.sources {
		g.Go(func() error {
			candidates, err := source.Candidates(gctx)
			if err != nil {
				telemetry.SourceErrorsTotal.WithLabelValues(string(source.Category())).Inc()
				s.logger.Warn().Err(err).
					Str("source", string(source.Category())).
					Msg("candidate source failed, treating as empty")
				return nil
			}
			results[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var pool []Candidate
	var total float64
	for _, candidates := range results {
		var survivors []Candidate
		for _, candidate := range candidates {
			if _, skip := exclude[candidate.TrackID]; skip {
				continue
			}
			if s.checker != nil && !s.checker.Eligible(candidate.TrackID, candidate.ChannelID) {
				continue
			}
			survivors = append(survivors, candidate)
		}
		if len(survivors) == 0 {
			continue
		}

		// Sources split their category budget over everything they
		// fetched; rescale so the eligible survivors still carry the
		// category's full share.
		scale := float64(len(candidates)) / float64(len(survivors))
		for _, candidate := range survivors {
			if candidate.Weight <= 0 {
				continue
			}
			candidate.Weight *= scale
			pool = append(pool, candidate)
			total += candidate.Weight
		}
	}

	if len(pool) == 0 || total <= 0 {
		telemetry.SelectionEmptyTotal.Inc()
		if s.bus != nil {
			s.bus.Publish(events.EventAutoplayExhausted, events.Payload{})
		}
		return nil, ErrNoCandidates
	}

	s.mu.Lock()
	draw := s.rng() * total
	s.mu.Unlock()

	winner := pool[len(pool)-1]
	for _, candidate := range pool {
		draw -= candidate.Weight
		if draw < 0 {
			winner = candidate
			break
		}
	}

	for _, source := range s.sources {
		if source.Category() != winner.Category {
			continue
		}
		if adv, ok := source.(advancer); ok {
			adv.Advance(winner.TrackID)
		}
	}

	telemetry.SpanString(span, "track_id", winner.TrackID)
	telemetry.SpanString(span, "source", string(winner.Category))
	telemetry.SpanInt(span, "pool_size", len(pool))
	telemetry.SelectionsTotal.WithLabelValues(string(winner.Category)).Inc()
	s.logger.Debug().
		Str("track_id", winner.TrackID).
		Str("source", string(winner.Category)).
		Float64("weight", winner.Weight).
		Msg("autoplay candidate selected")

	if s.bus != nil {
		s.bus.Publish(events.EventAutoplaySelected, events.Payload{
			"track_id": winner.TrackID,
			"source":   string(winner.Category),
		})
	}
	return &winner, nil
}
