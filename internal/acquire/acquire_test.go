package acquire

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_autodj/internal/models"
)

type fakeCache struct {
	root string

	mu      sync.Mutex
	entries map[string]string
}

func newFakeCache(root string) *fakeCache {
	return &fakeCache{root: root, entries: map[string]string{}}
}

func (f *fakeCache) Get(_ context.Context, trackID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path, ok := f.entries[trackID]
	return path, ok, nil
}

func (f *fakeCache) Commit(_ context.Context, trackID, filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[trackID] = filePath
	return nil
}

func (f *fakeCache) ArtifactPath(trackID string) string {
	return filepath.Join(f.root, trackID+".audio")
}

type fakeDownloader struct {
	calls atomic.Int32
	delay time.Duration
	// errs are returned in order; once exhausted downloads succeed.
	mu   sync.Mutex
	errs []error
}

func (f *fakeDownloader) Download(ctx context.Context, trackID, destPath string) error {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.delay):
		}
	}

	f.mu.Lock()
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}

	return os.WriteFile(destPath, []byte("audio for "+trackID), 0o644)
}

type fakeHealer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeHealer) Heal(context.Context) error {
	f.calls.Add(1)
	return f.err
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []models.TrackStatus
}

func (r *statusRecorder) UpdateTrackStatus(_ context.Context, _ string, status models.TrackStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	return nil
}

func testConfig(root string) Config {
	return Config{
		MediaRoot:           root,
		AttemptTimeout:      5 * time.Second,
		Attempts:            3,
		InitialBackoff:      time.Millisecond,
		SelfHealMinInterval: 10 * time.Minute,
	}
}

func TestAcquireCacheHitSkipsDownload(t *testing.T) {
	root := t.TempDir()
	cache := newFakeCache(root)
	cache.entries["t1"] = "/already/cached.audio"
	dl := &fakeDownloader{}

	coord := New(testConfig(root), dl, nil, nil, cache, nil, nil, zerolog.Nop())

	path, err := coord.Acquire(context.Background(), "t1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if path != "/already/cached.audio" {
		t.Fatalf("path = %s", path)
	}
	if dl.calls.Load() != 0 {
		t.Fatalf("downloader called %d times on cache hit", dl.calls.Load())
	}
}

func TestAcquireDownloadsAndCommits(t *testing.T) {
	root := t.TempDir()
	cache := newFakeCache(root)
	dl := &fakeDownloader{}
	statuses := &statusRecorder{}

	coord := New(testConfig(root), dl, nil, nil, cache, statuses, nil, zerolog.Nop())

	path, err := coord.Acquire(context.Background(), "t1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if path != cache.ArtifactPath("t1") {
		t.Fatalf("path = %s, want %s", path, cache.ArtifactPath("t1"))
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if committed, ok := cache.entries["t1"]; !ok || committed != path {
		t.Fatalf("cache entry = %q, want %q", committed, path)
	}

	statuses.mu.Lock()
	defer statuses.mu.Unlock()
	want := []models.TrackStatus{models.TrackDownloading, models.TrackReady}
	if len(statuses.statuses) != 2 || statuses.statuses[0] != want[0] || statuses.statuses[1] != want[1] {
		t.Fatalf("status transitions = %v, want %v", statuses.statuses, want)
	}
}

func TestAcquireSingleFlight(t *testing.T) {
	root := t.TempDir()
	cache := newFakeCache(root)
	dl := &fakeDownloader{delay: 50 * time.Millisecond}

	coord := New(testConfig(root), dl, nil, nil, cache, nil, nil, zerolog.Nop())

	const callers = 8
	var wg sync.WaitGroup
	paths := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = coord.Acquire(context.Background(), "t1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Fatalf("caller %d got %s, caller 0 got %s", i, paths[i], paths[0])
		}
	}
	if got := dl.calls.Load(); got != 1 {
		t.Fatalf("downloader called %d times, want 1", got)
	}
}

func TestAcquireRetriesTransientFailures(t *testing.T) {
	root := t.TempDir()
	cache := newFakeCache(root)
	dl := &fakeDownloader{errs: []error{errors.New("timeout"), errors.New("reset")}}

	coord := New(testConfig(root), dl, nil, nil, cache, nil, nil, zerolog.Nop())

	if _, err := coord.Acquire(context.Background(), "t1"); err != nil {
		t.Fatalf("acquire should succeed on third attempt: %v", err)
	}
	if got := dl.calls.Load(); got != 3 {
		t.Fatalf("downloader called %d times, want 3", got)
	}
}

func TestAcquireExhaustsAttempts(t *testing.T) {
	root := t.TempDir()
	cache := newFakeCache(root)
	dl := &fakeDownloader{errs: []error{
		errors.New("fail 1"), errors.New("fail 2"), errors.New("fail 3"),
	}}

	coord := New(testConfig(root), dl, nil, nil, cache, nil, nil, zerolog.Nop())

	_, err := coord.Acquire(context.Background(), "t1")
	var terminal *Error
	if !errors.As(err, &terminal) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if terminal.Kind != KindExhausted {
		t.Fatalf("kind = %s, want %s", terminal.Kind, KindExhausted)
	}
	if got := dl.calls.Load(); got != 3 {
		t.Fatalf("downloader called %d times, want 3", got)
	}
}

func TestAcquireContentUnavailableDoesNotRetry(t *testing.T) {
	root := t.TempDir()
	cache := newFakeCache(root)
	dl := &fakeDownloader{errs: []error{ErrContentUnavailable}}

	coord := New(testConfig(root), dl, nil, nil, cache, nil, nil, zerolog.Nop())

	_, err := coord.Acquire(context.Background(), "t1")
	var terminal *Error
	if !errors.As(err, &terminal) || terminal.Kind != KindContentUnavailable {
		t.Fatalf("expected content_unavailable, got %v", err)
	}
	if got := dl.calls.Load(); got != 1 {
		t.Fatalf("downloader called %d times, want 1", got)
	}
}

type rejectAllValidator struct{}

func (rejectAllValidator) Validate(context.Context, string) error {
	return errors.New("zero duration stream")
}

// rejectNValidator fails the first n checks and accepts afterwards.
type rejectNValidator struct {
	calls atomic.Int32
	n     int32
}

func (v *rejectNValidator) Validate(context.Context, string) error {
	if v.calls.Add(1) <= v.n {
		return errors.New("corrupt container")
	}
	return nil
}

func TestAcquireValidationFailureRetries(t *testing.T) {
	root := t.TempDir()
	cache := newFakeCache(root)
	dl := &fakeDownloader{}
	validator := &rejectNValidator{n: 1}

	coord := New(testConfig(root), dl, validator, nil, cache, nil, nil, zerolog.Nop())

	path, err := coord.Acquire(context.Background(), "t1")
	if err != nil {
		t.Fatalf("acquire should succeed on second attempt: %v", err)
	}
	if got := dl.calls.Load(); got != 2 {
		t.Fatalf("downloader called %d times, want 2", got)
	}
	if committed := cache.entries["t1"]; committed != path {
		t.Fatalf("committed entry = %q, want %q", committed, path)
	}
}

func TestAcquireValidationFailureExhaustsBudget(t *testing.T) {
	root := t.TempDir()
	cache := newFakeCache(root)
	dl := &fakeDownloader{}

	coord := New(testConfig(root), dl, rejectAllValidator{}, nil, cache, nil, nil, zerolog.Nop())

	_, err := coord.Acquire(context.Background(), "t1")
	var terminal *Error
	if !errors.As(err, &terminal) || terminal.Kind != KindValidationFailed {
		t.Fatalf("expected validation_failed, got %v", err)
	}
	if got := dl.calls.Load(); got != 3 {
		t.Fatalf("downloader called %d times, want 3", got)
	}
	if _, ok := cache.entries["t1"]; ok {
		t.Fatal("rejected artifact must not be committed")
	}
}

func TestAcquireSelfHealRetriesWithoutConsumingAttempt(t *testing.T) {
	root := t.TempDir()
	cache := newFakeCache(root)
	dl := &fakeDownloader{errs: []error{ErrToolStale}}
	healer := &fakeHealer{}

	coord := New(testConfig(root), dl, nil, healer, cache, nil, nil, zerolog.Nop())

	if _, err := coord.Acquire(context.Background(), "t1"); err != nil {
		t.Fatalf("acquire after self-heal: %v", err)
	}
	if got := healer.calls.Load(); got != 1 {
		t.Fatalf("healer called %d times, want 1", got)
	}
	if got := dl.calls.Load(); got != 2 {
		t.Fatalf("downloader called %d times, want 2", got)
	}
}

// alwaysStaleDownloader never recovers, heal or not.
type alwaysStaleDownloader struct {
	calls atomic.Int32
}

func (d *alwaysStaleDownloader) Download(context.Context, string, string) error {
	d.calls.Add(1)
	return ErrToolStale
}

func TestAcquireStaleToolHealsOnceThenExhausts(t *testing.T) {
	root := t.TempDir()
	cache := newFakeCache(root)
	dl := &alwaysStaleDownloader{}
	healer := &fakeHealer{}

	coord := New(testConfig(root), dl, nil, healer, cache, nil, nil, zerolog.Nop())

	_, err := coord.Acquire(context.Background(), "t1")
	var terminal *Error
	if !errors.As(err, &terminal) || terminal.Kind != KindExhausted {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if got := healer.calls.Load(); got != 1 {
		t.Fatalf("healer called %d times, want 1", got)
	}
	// One free retry after the heal, then the normal attempt budget.
	if got := dl.calls.Load(); got != 4 {
		t.Fatalf("downloader called %d times, want 4", got)
	}
}

func TestAcquireFailedHealConsumesAttempts(t *testing.T) {
	root := t.TempDir()
	cache := newFakeCache(root)
	dl := &alwaysStaleDownloader{}
	healer := &fakeHealer{err: errors.New("install failed")}

	coord := New(testConfig(root), dl, nil, healer, cache, nil, nil, zerolog.Nop())

	_, err := coord.Acquire(context.Background(), "t1")
	var terminal *Error
	if !errors.As(err, &terminal) || terminal.Kind != KindExhausted {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if got := dl.calls.Load(); got != 3 {
		t.Fatalf("downloader called %d times, want 3", got)
	}
}

func TestSelfHealRespectsMinInterval(t *testing.T) {
	root := t.TempDir()
	healer := &fakeHealer{}
	coord := New(testConfig(root), &fakeDownloader{}, nil, healer, newFakeCache(root), nil, nil, zerolog.Nop())

	ctx := context.Background()
	if err := coord.selfHeal(ctx); err != nil {
		t.Fatalf("first heal: %v", err)
	}
	if err := coord.selfHeal(ctx); err != nil {
		t.Fatalf("second heal: %v", err)
	}
	if got := healer.calls.Load(); got != 1 {
		t.Fatalf("healer ran %d times inside min interval, want 1", got)
	}
}

func TestAcquireCleansTempFilesOnFailure(t *testing.T) {
	root := t.TempDir()
	cache := newFakeCache(root)
	dl := &fakeDownloader{errs: []error{ErrContentUnavailable}}

	coord := New(testConfig(root), dl, nil, nil, cache, nil, nil, zerolog.Nop())

	if _, err := coord.Acquire(context.Background(), "t1"); err == nil {
		t.Fatal("expected failure")
	}

	entries, err := os.ReadDir(filepath.Join(root, "tmp"))
	if err != nil {
		t.Fatalf("read tmp dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".part") {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
}

type countingValidator struct {
	calls atomic.Int32
}

func (v *countingValidator) Validate(_ context.Context, path string) error {
	v.calls.Add(1)
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return errors.New("empty artifact")
	}
	return nil
}

func TestAcquireEndToEndScenario(t *testing.T) {
	root := t.TempDir()
	cache := newFakeCache(root)
	dl := &fakeDownloader{}
	validator := &countingValidator{}

	coord := New(testConfig(root), dl, validator, nil, cache, nil, nil, zerolog.Nop())

	path, err := coord.Acquire(context.Background(), "t1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if got := dl.calls.Load(); got != 1 {
		t.Fatalf("fetches = %d, want 1", got)
	}
	if got := validator.calls.Load(); got != 1 {
		t.Fatalf("probes = %d, want 1", got)
	}
	if committed := cache.entries["t1"]; committed != path {
		t.Fatalf("committed entry = %q, want %q", committed, path)
	}

	// A second acquire is a pure cache hit.
	again, err := coord.Acquire(context.Background(), "t1")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if again != path || dl.calls.Load() != 1 {
		t.Fatal("second acquire must not re-download")
	}
}

func TestAcquireCallerCancelDoesNotAbandonDownload(t *testing.T) {
	root := t.TempDir()
	cache := newFakeCache(root)
	dl := &fakeDownloader{delay: 30 * time.Millisecond}

	coord := New(testConfig(root), dl, nil, nil, cache, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	if _, err := coord.Acquire(ctx, "t1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The detached owner keeps going and commits the artifact.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok, _ := cache.Get(context.Background(), "t1"); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("download was abandoned after caller cancel")
}
