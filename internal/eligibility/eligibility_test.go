package eligibility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeBlockSource struct {
	tracks   []string
	channels []string
	err      error
}

func (f *fakeBlockSource) BannedTrackIDs(context.Context) ([]string, error) {
	return f.tracks, f.err
}

func (f *fakeBlockSource) BlockedChannelIDs(context.Context) ([]string, error) {
	return f.channels, f.err
}

type fakeCooldownSource struct {
	ids   []string
	since time.Time
	err   error
}

func (f *fakeCooldownSource) ManualPlayIDs(_ context.Context, since time.Time) ([]string, error) {
	f.since = since
	return f.ids, f.err
}

func TestBlockRegistryRefreshReplacesSets(t *testing.T) {
	source := &fakeBlockSource{tracks: []string{"t1"}, channels: []string{"c1"}}
	registry := NewBlockRegistry(source, nil, time.Minute, zerolog.Nop())

	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !registry.IsTrackBlocked("t1") || !registry.IsChannelBlocked("c1") {
		t.Fatal("expected t1 and c1 to be blocked")
	}

	// A track that drops off the list must become eligible again.
	source.tracks = []string{"t2"}
	source.channels = nil
	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if registry.IsTrackBlocked("t1") {
		t.Fatal("t1 should no longer be blocked after replacement")
	}
	if !registry.IsTrackBlocked("t2") {
		t.Fatal("t2 should be blocked after replacement")
	}
	if registry.IsChannelBlocked("c1") {
		t.Fatal("c1 should no longer be blocked after replacement")
	}
}

func TestBlockRegistryKeepsViewOnError(t *testing.T) {
	source := &fakeBlockSource{tracks: []string{"t1"}}
	registry := NewBlockRegistry(source, nil, time.Minute, zerolog.Nop())

	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	source.err = errors.New("db down")
	if err := registry.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if !registry.IsTrackBlocked("t1") {
		t.Fatal("previous view must survive a failed refresh")
	}
}

func TestCooldownTrackerWindow(t *testing.T) {
	source := &fakeCooldownSource{ids: []string{"manual"}}
	tracker := NewCooldownTracker(source, 3*time.Hour, time.Minute, zerolog.Nop())

	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return fixed }

	if err := tracker.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	wantSince := fixed.Add(-3 * time.Hour)
	if !source.since.Equal(wantSince) {
		t.Fatalf("since = %v, want %v", source.since, wantSince)
	}
	if !tracker.InCooldown("manual") {
		t.Fatal("manual play should be in cooldown")
	}
	if tracker.InCooldown("other") {
		t.Fatal("unplayed track should not be in cooldown")
	}
}

func TestCheckerCombinesRules(t *testing.T) {
	blocks := NewBlockRegistry(&fakeBlockSource{
		tracks:   []string{"banned"},
		channels: []string{"badchan"},
	}, nil, time.Minute, zerolog.Nop())
	cooldowns := NewCooldownTracker(&fakeCooldownSource{ids: []string{"resting"}}, time.Hour, time.Minute, zerolog.Nop())

	ctx := context.Background()
	if err := blocks.Refresh(ctx); err != nil {
		t.Fatalf("block refresh: %v", err)
	}
	if err := cooldowns.Refresh(ctx); err != nil {
		t.Fatalf("cooldown refresh: %v", err)
	}

	checker := NewChecker(blocks, cooldowns)
	badChan := "badchan"
	goodChan := "goodchan"

	cases := []struct {
		name    string
		trackID string
		channel *string
		want    bool
	}{
		{"clean track", "clean", &goodChan, true},
		{"clean track no channel", "clean", nil, true},
		{"banned track", "banned", &goodChan, false},
		{"blocked channel", "clean", &badChan, false},
		{"cooldown track", "resting", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := checker.Eligible(tc.trackID, tc.channel); got != tc.want {
				t.Fatalf("Eligible(%s) = %v, want %v", tc.trackID, got, tc.want)
			}
		})
	}
}
