package autoplay

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_autodj/internal/eligibility"
	"github.com/friendsincode/bragi_autodj/internal/models"
	"github.com/friendsincode/bragi_autodj/internal/store"
)

type stubSource struct {
	category   Category
	candidates []Candidate
	err        error
}

func (s *stubSource) Category() Category { return s.category }

func (s *stubSource) Candidates(context.Context) ([]Candidate, error) {
	return s.candidates, s.err
}

func oneTrackSource(category Category, trackID string, weight float64) *stubSource {
	return &stubSource{
		category: category,
		candidates: []Candidate{{
			TrackID:  trackID,
			Weight:   weight,
			Category: category,
		}},
	}
}

type fakeBlockSource struct {
	tracks   []string
	channels []string
}

func (f *fakeBlockSource) BannedTrackIDs(context.Context) ([]string, error) {
	return f.tracks, nil
}

func (f *fakeBlockSource) BlockedChannelIDs(context.Context) ([]string, error) {
	return f.channels, nil
}

type fakeCooldownSource struct{ ids []string }

func (f *fakeCooldownSource) ManualPlayIDs(context.Context, time.Time) ([]string, error) {
	return f.ids, nil
}

func newChecker(t *testing.T, bannedTracks, cooled []string) *eligibility.Checker {
	t.Helper()
	blocks := eligibility.NewBlockRegistry(&fakeBlockSource{tracks: bannedTracks}, nil, time.Minute, zerolog.Nop())
	cooldowns := eligibility.NewCooldownTracker(&fakeCooldownSource{ids: cooled}, time.Hour, time.Minute, zerolog.Nop())
	if err := blocks.Refresh(context.Background()); err != nil {
		t.Fatalf("block refresh: %v", err)
	}
	if err := cooldowns.Refresh(context.Background()); err != nil {
		t.Fatalf("cooldown refresh: %v", err)
	}
	return eligibility.NewChecker(blocks, cooldowns)
}

func TestSelectNextDistribution(t *testing.T) {
	weights := DefaultWeights()
	sources := []Source{
		oneTrackSource(CategoryPlaylist, "p", weights.Playlist),
		oneTrackSource(CategoryHistory, "h", weights.History),
		oneTrackSource(CategoryPopular, "o", weights.Popular),
		oneTrackSource(CategoryMix, "m", weights.Mix),
		oneTrackSource(CategoryRandom, "r", weights.Random),
	}
	selector := NewSelector(sources, nil, weights, nil, zerolog.Nop())
	selector.rng = rand.New(rand.NewSource(1)).Float64

	const draws = 100000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		winner, err := selector.SelectNext(context.Background())
		if err != nil {
			t.Fatalf("draw %d: %v", i, err)
		}
		counts[winner.TrackID]++
	}

	expected := map[string]float64{"p": 0.25, "h": 0.25, "o": 0.20, "m": 0.20, "r": 0.10}
	for trackID, want := range expected {
		got := float64(counts[trackID]) / draws
		if math.Abs(got-want) > 0.03 {
			t.Errorf("track %s share = %.4f, want %.2f +/- 0.03", trackID, got, want)
		}
	}
}

func TestSelectNextEmptyCategoryNotRedistributed(t *testing.T) {
	weights := DefaultWeights()
	sources := []Source{
		oneTrackSource(CategoryPlaylist, "p", weights.Playlist),
		oneTrackSource(CategoryHistory, "h", weights.History),
		&stubSource{category: CategoryPopular}, // empty
		oneTrackSource(CategoryMix, "m", weights.Mix),
		oneTrackSource(CategoryRandom, "r", weights.Random),
	}
	selector := NewSelector(sources, nil, weights, nil, zerolog.Nop())
	selector.rng = rand.New(rand.NewSource(2)).Float64

	const draws = 100000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		winner, err := selector.SelectNext(context.Background())
		if err != nil {
			t.Fatalf("draw %d: %v", i, err)
		}
		counts[winner.TrackID]++
	}

	if counts["o"] != 0 {
		t.Fatalf("empty category produced %d wins", counts["o"])
	}

	// The remaining 80 points of weight split 25/25/20/10; playlist
	// share rises to 25/80, not to 25/100 plus a slice of popular's.
	got := float64(counts["p"]) / draws
	want := 25.0 / 80.0
	if math.Abs(got-want) > 0.03 {
		t.Errorf("playlist share = %.4f, want %.4f +/- 0.03", got, want)
	}
}

func TestSelectNextExcludesCurrentAndIneligible(t *testing.T) {
	checker := newChecker(t, []string{"banned"}, []string{"resting"})
	sources := []Source{
		&stubSource{category: CategoryRandom, candidates: []Candidate{
			{TrackID: "current", Weight: 10, Category: CategoryRandom},
			{TrackID: "banned", Weight: 10, Category: CategoryRandom},
			{TrackID: "resting", Weight: 10, Category: CategoryRandom},
			{TrackID: "ok", Weight: 10, Category: CategoryRandom},
		}},
	}
	selector := NewSelector(sources, checker, DefaultWeights(), nil, zerolog.Nop())

	for i := 0; i < 50; i++ {
		winner, err := selector.SelectNext(context.Background(), "current")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if winner.TrackID != "ok" {
			t.Fatalf("selected excluded track %s", winner.TrackID)
		}
	}
}

func TestSelectNextFilteredCategoryKeepsFullBudget(t *testing.T) {
	checker := newChecker(t, []string{"banned"}, nil)
	popular := &stubSource{category: CategoryPopular, candidates: []Candidate{
		{TrackID: "a", Weight: 5, Category: CategoryPopular},
		{TrackID: "b", Weight: 5, Category: CategoryPopular},
		{TrackID: "c", Weight: 5, Category: CategoryPopular},
		{TrackID: "banned", Weight: 5, Category: CategoryPopular},
	}}
	mix := &stubSource{category: CategoryMix, candidates: []Candidate{
		{TrackID: "m1", Weight: 10, Category: CategoryMix},
		{TrackID: "m2", Weight: 10, Category: CategoryMix},
	}}
	selector := NewSelector([]Source{popular, mix}, checker, DefaultWeights(), nil, zerolog.Nop())
	selector.rng = rand.New(rand.NewSource(3)).Float64

	const draws = 100000
	counts := map[Category]int{}
	for i := 0; i < draws; i++ {
		winner, err := selector.SelectNext(context.Background())
		if err != nil {
			t.Fatalf("draw %d: %v", i, err)
		}
		if winner.TrackID == "banned" {
			t.Fatal("selected a banned track")
		}
		counts[winner.Category]++
	}

	// Both categories carry 20 points. Banning one popular candidate
	// thins the popular pool but must not shrink its aggregate share;
	// the three survivors split the category's full 20 points.
	got := float64(counts[CategoryPopular]) / draws
	if math.Abs(got-0.5) > 0.03 {
		t.Errorf("popular share = %.4f, want 0.50 +/- 0.03", got)
	}
}

func TestSelectNextAllEmpty(t *testing.T) {
	sources := []Source{
		&stubSource{category: CategoryPlaylist},
		&stubSource{category: CategoryRandom, err: errors.New("db down")},
	}
	selector := NewSelector(sources, nil, DefaultWeights(), nil, zerolog.Nop())

	if _, err := selector.SelectNext(context.Background()); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
}

func TestSelectNextSourceErrorDegradesToEmpty(t *testing.T) {
	sources := []Source{
		&stubSource{category: CategoryPopular, err: errors.New("db down")},
		oneTrackSource(CategoryRandom, "r", 10),
	}
	selector := NewSelector(sources, nil, DefaultWeights(), nil, zerolog.Nop())

	winner, err := selector.SelectNext(context.Background())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if winner.TrackID != "r" {
		t.Fatalf("winner = %s, want r", winner.TrackID)
	}
}

type fakePlaylistStore struct {
	playlist *models.Playlist
	err      error
}

func (f *fakePlaylistStore) ActivePlaylist(context.Context) (*models.Playlist, error) {
	return f.playlist, f.err
}

func stdWeight(w float64) func() float64 { return func() float64 { return w } }

func TestPlaylistSourceLinearWraparound(t *testing.T) {
	playlistStore := &fakePlaylistStore{playlist: &models.Playlist{
		Mode: models.PlaylistLinear,
		Entries: []models.PlaylistEntry{
			{TrackID: "t0", Position: 0},
			{TrackID: "t1", Position: 1},
			{TrackID: "t2", Position: 2},
		},
	}}
	source := NewPlaylistSource(playlistStore, stdWeight(25), zerolog.Nop())

	want := []string{"t0", "t1", "t2", "t0", "t1", "t2", "t0"}
	for i, expected := range want {
		candidates, err := source.Candidates(context.Background())
		if err != nil {
			t.Fatalf("candidates %d: %v", i, err)
		}
		if len(candidates) != 1 {
			t.Fatalf("linear mode offered %d candidates, want 1", len(candidates))
		}
		if candidates[0].TrackID != expected {
			t.Fatalf("step %d: got %s, want %s", i, candidates[0].TrackID, expected)
		}
		source.Advance(candidates[0].TrackID)
	}
}

func TestPlaylistSourcePoolModeSplitsWeight(t *testing.T) {
	playlistStore := &fakePlaylistStore{playlist: &models.Playlist{
		Mode: models.PlaylistPool,
		Entries: []models.PlaylistEntry{
			{TrackID: "t0"}, {TrackID: "t1"}, {TrackID: "t2"}, {TrackID: "t3"},
		},
	}}
	source := NewPlaylistSource(playlistStore, stdWeight(25), zerolog.Nop())

	candidates, err := source.Candidates(context.Background())
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 4 {
		t.Fatalf("pool mode offered %d candidates, want 4", len(candidates))
	}
	for _, candidate := range candidates {
		if math.Abs(candidate.Weight-6.25) > 1e-9 {
			t.Fatalf("weight = %f, want 6.25", candidate.Weight)
		}
	}
}

func TestPlaylistSourceNoActivePlaylist(t *testing.T) {
	source := NewPlaylistSource(&fakePlaylistStore{err: store.ErrNotFound}, stdWeight(25), zerolog.Nop())

	candidates, err := source.Candidates(context.Background())
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates without an active playlist, got %d", len(candidates))
	}
}

type fakeTrackLister struct{ tracks []models.Track }

func (f *fakeTrackLister) RecentlyPlayed(context.Context, int) ([]models.Track, error) {
	return f.tracks, nil
}

func (f *fakeTrackLister) TopPlayed(context.Context, int) ([]models.Track, error) {
	return f.tracks, nil
}

func (f *fakeTrackLister) RandomEligible(context.Context, int) ([]models.Track, error) {
	return f.tracks, nil
}

func TestHistorySourceDecaysByRank(t *testing.T) {
	lister := &fakeTrackLister{tracks: []models.Track{
		{ID: "newest"}, {ID: "older"}, {ID: "oldest"},
	}}
	source := NewHistorySource(lister, stdWeight(25), 20)

	candidates, err := source.Candidates(context.Background())
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}

	per := 25.0 / 3.0
	want := []float64{per, per * 0.95, per * 0.90}
	for i, candidate := range candidates {
		if math.Abs(candidate.Weight-want[i]) > 1e-9 {
			t.Fatalf("rank %d weight = %f, want %f", i, candidate.Weight, want[i])
		}
	}
}

func TestHistorySourceClampsDeepRanks(t *testing.T) {
	tracks := make([]models.Track, 25)
	for i := range tracks {
		tracks[i] = models.Track{ID: string(rune('a' + i))}
	}
	source := NewHistorySource(&fakeTrackLister{tracks: tracks}, stdWeight(25), 25)

	candidates, err := source.Candidates(context.Background())
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	// Rank 21+ would go negative (1 - 0.05*21 < 0); they clamp to 0.
	for i, candidate := range candidates {
		if candidate.Weight < 0 {
			t.Fatalf("rank %d weight %f below zero", i, candidate.Weight)
		}
	}
	if candidates[24].Weight != 0 {
		t.Fatalf("rank 24 weight = %f, want 0", candidates[24].Weight)
	}
}

func TestPopularSourceLogBoost(t *testing.T) {
	lister := &fakeTrackLister{tracks: []models.Track{
		{ID: "hit", PlayCount: 100},
		{ID: "fresh", PlayCount: 0},
	}}
	source := NewPopularSource(lister, stdWeight(20), 20)

	candidates, err := source.Candidates(context.Background())
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}

	per := 20.0 / 2.0
	wantHit := per * (1 + math.Log(100))
	if math.Abs(candidates[0].Weight-wantHit) > 1e-9 {
		t.Fatalf("hit weight = %f, want %f", candidates[0].Weight, wantHit)
	}
	// An unplayed track keeps the base weight, multiplier 1.
	if math.Abs(candidates[1].Weight-per) > 1e-9 {
		t.Fatalf("fresh weight = %f, want %f", candidates[1].Weight, per)
	}
}

func TestLoadWeightsDefaults(t *testing.T) {
	weights, err := LoadWeights("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if weights != DefaultWeights() {
		t.Fatalf("weights = %+v", weights)
	}
}

func TestLoadWeightsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	content := "playlist: 40\nhistory: 10\npopular: 20\nmix: 20\nrandom: 10\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write weight file: %v", err)
	}

	weights, err := LoadWeights(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if weights.Playlist != 40 || weights.History != 10 {
		t.Fatalf("weights = %+v", weights)
	}
}

func TestLoadWeightsRejectsNegative(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	if err := os.WriteFile(path, []byte("playlist: -5\n"), 0o644); err != nil {
		t.Fatalf("write weight file: %v", err)
	}

	weights, err := LoadWeights(path)
	if err == nil {
		t.Fatal("expected error for negative weight")
	}
	if weights != DefaultWeights() {
		t.Fatalf("weights should fall back to defaults, got %+v", weights)
	}
}
