/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package acquire coordinates track downloads. Concurrent requests for
// the same track collapse onto one in-flight download, failures retry
// with exponential backoff, and a stale downloader tool triggers a
// guarded self-heal before the attempt is retried.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_autodj/internal/events"
	"github.com/friendsincode/bragi_autodj/internal/models"
	"github.com/friendsincode/bragi_autodj/internal/telemetry"
)

// Sentinel errors a Downloader can return to steer the coordinator.
var (
	// ErrContentUnavailable means the track cannot be fetched at all
	// (removed, private, region locked). No retry will help.
	ErrContentUnavailable = errors.New("content unavailable")

	// ErrToolStale means the download tool is outdated and needs a
	// self-heal before the attempt can be retried.
	ErrToolStale = errors.New("download tool stale")
)

// Kind classifies terminal acquisition failures.
type Kind string

const (
	KindContentUnavailable Kind = "content_unavailable"
	KindExhausted          Kind = "exhausted"
	KindValidationFailed   Kind = "validation_failed"
)

// Error is a terminal acquisition failure.
type Error struct {
	Kind    Kind
	TrackID string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("acquire %s: %s: %v", e.TrackID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Downloader fetches a track's audio to the given destination path.
type Downloader interface {
	Download(ctx context.Context, trackID, destPath string) error
}

// Validator checks a downloaded artifact before it is committed.
type Validator interface {
	Validate(ctx context.Context, path string) error
}

// SelfHealer updates the download tool in place.
type SelfHealer interface {
	Heal(ctx context.Context) error
}

// ArtifactCache is the durable cache the coordinator reads and commits.
type ArtifactCache interface {
	Get(ctx context.Context, trackID string) (string, bool, error)
	Commit(ctx context.Context, trackID, filePath string) error
	ArtifactPath(trackID string) string
}

// StatusStore records track lifecycle transitions.
type StatusStore interface {
	UpdateTrackStatus(ctx context.Context, id string, status models.TrackStatus) error
}

// Config tunes the coordinator.
type Config struct {
	MediaRoot           string
	AttemptTimeout      time.Duration
	Attempts            int
	InitialBackoff      time.Duration
	SelfHealMinInterval time.Duration
}

// ticket tracks one in-flight download. Joiners wait on done.
type ticket struct {
	done chan struct{}
	path string
	err  error
}

// Coordinator deduplicates and drives downloads.
type Coordinator struct {
	cfg        Config
	downloader Downloader
	validator  Validator
	healer     SelfHealer
	cache      ArtifactCache
	statuses   StatusStore
	bus        *events.Bus
	logger     zerolog.Logger

	mu      sync.Mutex
	tickets map[string]*ticket

	healMu   sync.Mutex
	lastHeal time.Time
}

// New creates a coordinator. validator and healer may be nil, in which
// case artifacts are committed unchecked and stale-tool errors count as
// ordinary attempt failures.
func New(cfg Config, downloader Downloader, validator Validator, healer SelfHealer, cache ArtifactCache, statuses StatusStore, bus *events.Bus, logger zerolog.Logger) *Coordinator {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	return &Coordinator{
		cfg:        cfg,
		downloader: downloader,
		validator:  validator,
		healer:     healer,
		cache:      cache,
		statuses:   statuses,
		bus:        bus,
		logger:     logger.With().Str("component", "acquire").Logger(),
		tickets:    map[string]*ticket{},
	}
}

// InFlight reports whether a download for the track is running.
func (c *Coordinator) InFlight(trackID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, running := c.tickets[trackID]
	return running
}

// Acquire returns a local file path for the track, downloading it if
// necessary. Concurrent calls for the same track share one download.
// Cancelling ctx abandons the wait but never the download itself: the
// owning goroutine keeps running so later callers hit the cache.
func (c *Coordinator) Acquire(ctx context.Context, trackID string) (string, error) {
	if path, ok, err := c.cache.Get(ctx, trackID); err != nil {
		return "", err
	} else if ok {
		return path, nil
	}

	c.mu.Lock()
	if t, running := c.tickets[trackID]; running {
		c.mu.Unlock()
		telemetry.SingleFlightJoinsTotal.Inc()
		return c.wait(ctx, t)
	}

	t := &ticket{done: make(chan struct{})}
	c.tickets[trackID] = t
	c.mu.Unlock()

	// The owner detaches from the caller's context so one impatient
	// caller cannot waste a download others are waiting on.
	go c.run(trackID, t)

	return c.wait(ctx, t)
}

func (c *Coordinator) wait(ctx context.Context, t *ticket) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.done:
		return t.path, t.err
	}
}

// run owns the full download lifecycle for one track.
func (c *Coordinator) run(trackID string, t *ticket) {
	defer func() {
		c.mu.Lock()
		delete(c.tickets, trackID)
		c.mu.Unlock()
		close(t.done)
	}()

	ctx, span := telemetry.StartSpan(context.Background(), "acquire", "download")
	defer span.End()
	telemetry.SpanString(span, "track_id", trackID)

	started := time.Now()

	if c.statuses != nil {
		if err := c.statuses.UpdateTrackStatus(ctx, trackID, models.TrackDownloading); err != nil {
			c.logger.Warn().Err(err).Str("track_id", trackID).Msg("could not mark track downloading")
		}
	}
	if c.bus != nil {
		c.bus.Publish(events.EventDownloadStarted, events.Payload{"track_id": trackID})
	}

	path, err := c.download(ctx, trackID)
	telemetry.DownloadDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		t.err = err
		telemetry.RecordError(span, err)
		c.logger.Error().Err(err).Str("track_id", trackID).Msg("acquisition failed")
		if c.statuses != nil {
			if stErr := c.statuses.UpdateTrackStatus(ctx, trackID, models.TrackStandby); stErr != nil {
				c.logger.Warn().Err(stErr).Str("track_id", trackID).Msg("could not reset track status")
			}
		}
		if c.bus != nil {
			c.bus.Publish(events.EventDownloadFailed, events.Payload{
				"track_id": trackID,
				"error":    err.Error(),
			})
		}
		return
	}

	t.path = path
	if c.statuses != nil {
		if err := c.statuses.UpdateTrackStatus(ctx, trackID, models.TrackReady); err != nil {
			c.logger.Warn().Err(err).Str("track_id", trackID).Msg("could not mark track ready")
		}
	}
	if c.bus != nil {
		c.bus.Publish(events.EventDownloadCompleted, events.Payload{
			"track_id": trackID,
			"path":     path,
			"took_ms":  time.Since(started).Milliseconds(),
		})
	}
}

// download runs the attempt loop: fetch to a temp file, validate, move
// into place, commit.
func (c *Coordinator) download(ctx context.Context, trackID string) (string, error) {
	backoff := c.cfg.InitialBackoff
	healed := false
	var lastErr error

	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		err := c.attempt(ctx, trackID)
		if err == nil {
			telemetry.DownloadAttemptsTotal.WithLabelValues("ok").Inc()
			return c.cache.ArtifactPath(trackID), nil
		}

		if errors.Is(err, ErrContentUnavailable) {
			telemetry.DownloadAttemptsTotal.WithLabelValues("unavailable").Inc()
			return "", &Error{Kind: KindContentUnavailable, TrackID: trackID, Err: err}
		}

		if errors.Is(err, ErrToolStale) && c.healer != nil && !healed {
			// One free retry per acquisition. A tool still stale after
			// the heal consumes attempts like any transient failure.
			healed = true
			telemetry.DownloadAttemptsTotal.WithLabelValues("tool_stale").Inc()
			if healErr := c.selfHeal(ctx); healErr != nil {
				c.logger.Warn().Err(healErr).Msg("self-heal failed")
			} else {
				attempt--
				lastErr = err
				continue
			}
		}

		telemetry.DownloadAttemptsTotal.WithLabelValues(attemptLabel(err)).Inc()
		lastErr = err
		c.logger.Warn().Err(err).
			Str("track_id", trackID).
			Int("attempt", attempt).
			Msg("download attempt failed")

		if attempt < c.cfg.Attempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	var attemptErr *Error
	if errors.As(lastErr, &attemptErr) && attemptErr.Kind == KindValidationFailed {
		return "", attemptErr
	}
	return "", &Error{Kind: KindExhausted, TrackID: trackID, Err: lastErr}
}

// attemptLabel maps a failed attempt to its metric label.
func attemptLabel(err error) string {
	var attemptErr *Error
	if errors.As(err, &attemptErr) && attemptErr.Kind == KindValidationFailed {
		return string(KindValidationFailed)
	}
	return "error"
}

// attempt performs one download attempt end to end.
func (c *Coordinator) attempt(parent context.Context, trackID string) error {
	ctx := parent
	if c.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, c.cfg.AttemptTimeout)
		defer cancel()
	}

	tmpDir := filepath.Join(c.cfg.MediaRoot, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	tmpPath := filepath.Join(tmpDir, trackID+"."+uuid.NewString()+".part")
	defer os.Remove(tmpPath)

	if err := c.downloader.Download(ctx, trackID, tmpPath); err != nil {
		return err
	}

	if c.validator != nil {
		if err := c.validator.Validate(ctx, tmpPath); err != nil {
			return &Error{Kind: KindValidationFailed, TrackID: trackID, Err: err}
		}
	}

	finalPath := c.cache.ArtifactPath(trackID)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := moveFile(tmpPath, finalPath); err != nil {
		return fmt.Errorf("move artifact into place: %w", err)
	}

	if err := c.cache.Commit(ctx, trackID, finalPath); err != nil {
		return err
	}
	return nil
}

// selfHeal updates the tool at most once per SelfHealMinInterval.
// Concurrent stale-tool failures share one update.
func (c *Coordinator) selfHeal(ctx context.Context) error {
	c.healMu.Lock()
	defer c.healMu.Unlock()

	if time.Since(c.lastHeal) < c.cfg.SelfHealMinInterval {
		c.logger.Debug().Msg("skipping self-heal, recently performed")
		return nil
	}

	c.logger.Info().Msg("download tool reported stale, running self-heal")
	if err := c.healer.Heal(ctx); err != nil {
		return err
	}

	c.lastHeal = time.Now()
	telemetry.SelfHealsTotal.Inc()
	if c.bus != nil {
		c.bus.Publish(events.EventDownloadSelfHeal, events.Payload{})
	}
	return nil
}

// moveFile renames src to dst, falling back to copy+remove when the
// rename crosses filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
