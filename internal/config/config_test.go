package config

import (
	"testing"
	"time"
)

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("BRAGI_DB_DSN", "file:bragi.db?cache=shared")
	t.Setenv("BRAGI_ENV", "development")
	t.Setenv("BRAGI_MEDIA_ROOT", "/var/lib/bragi/media")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN == "" {
		t.Fatal("expected DB DSN to be set")
	}
	if cfg.MediaRoot != "/var/lib/bragi/media" {
		t.Fatalf("unexpected media root: %q", cfg.MediaRoot)
	}
	if cfg.DownloadAttempts != 3 {
		t.Fatalf("unexpected default download attempts: %d", cfg.DownloadAttempts)
	}
}

func TestLoadRejectsMissingDSN(t *testing.T) {
	t.Setenv("BRAGI_DB_DSN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected config load to fail without a DSN")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("BRAGI_DB_DSN", "file:bragi.db")
	t.Setenv("BRAGI_DB_BACKEND", "oracle")

	if _, err := Load(); err == nil {
		t.Fatal("expected config load to fail for unknown backend")
	}
}

func TestLoadParsesDurations(t *testing.T) {
	t.Setenv("BRAGI_DB_DSN", "file:bragi.db")
	t.Setenv("BRAGI_DOWNLOAD_TIMEOUT", "45s")
	t.Setenv("BRAGI_COOLDOWN_WINDOW", "90m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DownloadTimeout != 45*time.Second {
		t.Fatalf("unexpected download timeout: %v", cfg.DownloadTimeout)
	}
	if cfg.CooldownWindow != 90*time.Minute {
		t.Fatalf("unexpected cooldown window: %v", cfg.CooldownWindow)
	}
}

func TestLoadRejectsZeroAttempts(t *testing.T) {
	t.Setenv("BRAGI_DB_DSN", "file:bragi.db")
	t.Setenv("BRAGI_DOWNLOAD_ATTEMPTS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected config load to fail for zero download attempts")
	}
}
