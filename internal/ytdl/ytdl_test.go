package ytdl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_autodj/internal/acquire"
)

func TestClassify(t *testing.T) {
	base := errors.New("yt-dlp exited with status 1")

	cases := []struct {
		name   string
		stderr string
		want   error
	}{
		{"removed video", "ERROR: Video unavailable. This video has been removed by the uploader", acquire.ErrContentUnavailable},
		{"private video", "ERROR: Private video. Sign in if you've been granted access", acquire.ErrContentUnavailable},
		{"geo block", "The uploader has blocked it in your country", acquire.ErrContentUnavailable},
		{"stale signature", "ERROR: Signature extraction failed: some JS changed", acquire.ErrToolStale},
		{"stale extractor", "ERROR: Unable to extract player version; please report this issue", acquire.ErrToolStale},
		{"plain failure", "ERROR: HTTP Error 503: Service Unavailable", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(base, tc.stderr)
			if tc.want == nil {
				if errors.Is(got, acquire.ErrContentUnavailable) || errors.Is(got, acquire.ErrToolStale) {
					t.Fatalf("plain failure misclassified: %v", got)
				}
				return
			}
			if !errors.Is(got, tc.want) {
				t.Fatalf("classify = %v, want wrapping %v", got, tc.want)
			}
		})
	}

	if classify(nil, "anything") != nil {
		t.Fatal("nil error must stay nil")
	}
}

func TestProbeRejectsMissingAndEmptyFiles(t *testing.T) {
	probe := NewProbe(zerolog.Nop())
	ctx := context.Background()

	if err := probe.Validate(ctx, "/nonexistent/artifact.audio"); err == nil {
		t.Fatal("expected error for missing file")
	}

	empty := filepath.Join(t.TempDir(), "empty.audio")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write empty file: %v", err)
	}
	if err := probe.Validate(ctx, empty); err == nil {
		t.Fatal("expected error for empty file")
	}
}
