// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minichat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "minichat_http_request_duration_seconds",
			Help:    "HTTP request duration, including the whole stream for SSE",
			Buckets: []float64{.005, .025, .1, .5, 1, 5, 15, 60, 180},
		},
		[]string{"method", "path"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minichat_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	// Relay metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minichat_turns_total",
			Help: "Chat turns by mode and outcome",
		},
		[]string{"mode", "outcome"}, // mode: stream|single, outcome: success|error|invalid|aborted
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "minichat_active_streams",
			Help: "Streaming turns currently in flight",
		},
	)

	ChunksSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minichat_stream_chunks_total",
			Help: "Downstream chunk events written",
		},
	)

	UpstreamFirstFragment = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "minichat_upstream_first_fragment_seconds",
			Help:    "Time from upstream request to the first non-empty fragment",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minichat_upstream_errors_total",
			Help: "Upstream failures by kind",
		},
		[]string{"kind"},
	)

	// Store metrics
	StoreConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "minichat_store_conversations",
			Help: "Conversations held by the store",
		},
	)

	StoreEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minichat_store_evictions_total",
			Help: "Conversations evicted for capacity",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minichat_store_errors_total",
			Help: "Conversation store failures by operation",
		},
		[]string{"op"},
	)
)
