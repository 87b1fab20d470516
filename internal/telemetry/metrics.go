/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry holds the engine's Prometheus metrics and tracing helpers.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

var (
	// Acquisition metrics.
	DownloadAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_download_attempts_total",
		Help: "Download attempts by outcome (success, transient, unavailable, validation, stale_tool).",
	}, []string{"outcome"})

	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bragi_download_duration_seconds",
		Help:    "Wall clock duration of completed download attempt sequences.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	SingleFlightJoinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bragi_singleflight_joins_total",
		Help: "Acquire calls that joined an already in-flight download ticket.",
	})

	SelfHealsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bragi_selfheals_total",
		Help: "Guarded external tool self-heal runs.",
	})

	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_trackcache_lookups_total",
		Help: "Track cache lookups by result (hit, miss, dangling).",
	}, []string{"result"})

	// Selection metrics.
	SelectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_autoplay_selections_total",
		Help: "Autoplay selections by winning source category.",
	}, []string{"source"})

	SelectionEmptyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bragi_autoplay_empty_total",
		Help: "Selection rounds where no source produced an eligible candidate.",
	})

	SourceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_autoplay_source_errors_total",
		Help: "Candidate source query failures by source category.",
	}, []string{"source"})

	// Eligibility refreshers.
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_eligibility_refresh_total",
		Help: "Eligibility set refreshes by component and outcome.",
	}, []string{"component", "outcome"})

	// Prefetch.
	PrefetchRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bragi_prefetch_requests_total",
		Help: "Background cache-fill requests issued by the prefetch scheduler.",
	})

	// Database metrics, observed via gorm callbacks.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bragi_db_query_duration_seconds",
		Help:    "Database operation latency by operation and table.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bragi_db_errors_total",
		Help: "Database operation errors by operation and kind.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bragi_db_connections_active",
		Help: "Open database connections.",
	})
)
