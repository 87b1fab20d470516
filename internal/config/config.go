/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	DBBackend   DatabaseBackend
	DBDSN       string

	// MediaRoot is the local artifact cache root. Downloads land in
	// MediaRoot/tmp and are renamed into sharded final paths.
	MediaRoot string

	// Ops HTTP surface (health, metrics, engine status).
	OpsBind string

	// Redis snapshot cache / event forwarding.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheEnabled  bool

	// NATS event forwarding. Empty URL disables the forwarder.
	NATSURL string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Acquisition policy
	DownloadTimeout     time.Duration
	DownloadAttempts    int
	SelfHealMinInterval time.Duration
	YoutubeProxy        string

	// Eligibility refresh cadence
	BlockRefreshInterval    time.Duration
	CooldownRefreshInterval time.Duration
	CooldownWindow          time.Duration

	// Autoplay pools
	SourcePoolSize     int
	AutoplayWeightFile string

	// External recommendation pool
	RecommendRefreshInterval time.Duration
	RecommendPoolSize        int

	// Prefetch
	PrefetchHorizon  int
	PrefetchInterval time.Duration
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("BRAGI_ENV", "development"),
		DBBackend:   DatabaseBackend(getEnv("BRAGI_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:       getEnv("BRAGI_DB_DSN", ""),
		MediaRoot:   getEnv("BRAGI_MEDIA_ROOT", "./media"),
		OpsBind:     getEnv("BRAGI_OPS_BIND", "127.0.0.1:9090"),

		RedisAddr:     getEnv("BRAGI_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("BRAGI_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("BRAGI_REDIS_DB", 0),
		CacheEnabled:  getEnvBool("BRAGI_CACHE_ENABLED", false),

		NATSURL: getEnv("BRAGI_NATS_URL", ""),

		TracingEnabled:    getEnvBool("BRAGI_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("BRAGI_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("BRAGI_TRACING_SAMPLE_RATE", 1.0),

		DownloadTimeout:     getEnvDuration("BRAGI_DOWNLOAD_TIMEOUT", 2*time.Minute),
		DownloadAttempts:    getEnvInt("BRAGI_DOWNLOAD_ATTEMPTS", 3),
		SelfHealMinInterval: getEnvDuration("BRAGI_SELF_HEAL_MIN_INTERVAL", 10*time.Minute),
		YoutubeProxy:        getEnv("BRAGI_YOUTUBE_PROXY", ""),

		BlockRefreshInterval:    getEnvDuration("BRAGI_BLOCK_REFRESH_INTERVAL", time.Minute),
		CooldownRefreshInterval: getEnvDuration("BRAGI_COOLDOWN_REFRESH_INTERVAL", time.Minute),
		CooldownWindow:          getEnvDuration("BRAGI_COOLDOWN_WINDOW", 3*time.Hour),

		SourcePoolSize:     getEnvInt("BRAGI_SOURCE_POOL_SIZE", 20),
		AutoplayWeightFile: getEnv("BRAGI_AUTOPLAY_WEIGHT_FILE", ""),

		RecommendRefreshInterval: getEnvDuration("BRAGI_RECOMMEND_REFRESH_INTERVAL", 10*time.Minute),
		RecommendPoolSize:        getEnvInt("BRAGI_RECOMMEND_POOL_SIZE", 25),

		PrefetchHorizon:  getEnvInt("BRAGI_PREFETCH_HORIZON", 3),
		PrefetchInterval: getEnvDuration("BRAGI_PREFETCH_INTERVAL", 15*time.Second),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("BRAGI_DB_DSN must be provided")
	}

	if cfg.MediaRoot == "" {
		return nil, fmt.Errorf("BRAGI_MEDIA_ROOT must not be empty")
	}

	if cfg.DownloadAttempts < 1 {
		return nil, fmt.Errorf("BRAGI_DOWNLOAD_ATTEMPTS must be at least 1")
	}

	if cfg.PrefetchHorizon < 0 {
		return nil, fmt.Errorf("BRAGI_PREFETCH_HORIZON must not be negative")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

// getEnvDuration parses a Go duration string (e.g. "90s", "10m").
func getEnvDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}
