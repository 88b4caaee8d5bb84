// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

// Package metrics provides Prometheus metrics collection and export.
//
// Metrics are exposed at the /metrics endpoint in Prometheus text format:
//
//	curl http://localhost:4848/metrics
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transport metrics

	TransportAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_attempts_total",
			Help: "HTTP attempts made by the retrying transport",
		},
		[]string{"outcome"}, // response, retryable, network_error, cancelled
	)

	TransportRetryExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transport_retry_exhausted_total",
			Help: "Requests that consumed the full retry budget",
		},
	)

	// Submission metrics

	ListensSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listens_submitted_total",
			Help: "Listens submitted to ListenBrainz",
		},
		[]string{"mode", "result"}, // mode: immediate, scheduled; result: success, retryable, rate_limited, validation, cancelled
	)

	FeedbackSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_submitted_total",
			Help: "Recording feedback submissions",
		},
		[]string{"result"},
	)

	ListensDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listens_discarded_total",
			Help: "Playback sessions that did not meet submission conditions",
		},
	)

	// Listen cache metrics

	CacheQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "listen_cache_queue_depth",
			Help: "Pending listens currently held in the cache across all accounts",
		},
	)

	CacheSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listen_cache_saves_total",
			Help: "Cache persistence operations",
		},
		[]string{"result"}, // success, error
	)

	// Scheduler metrics

	SchedulerRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_run_duration_seconds",
			Help:    "Duration of resubmission scheduler runs",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	SchedulerLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_last_success_timestamp",
			Help: "Unix timestamp of the last completed scheduler run",
		},
	)

	SchedulerListensDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_listens_delivered_total",
			Help: "Cached listens delivered by the scheduler",
		},
	)

	// Circuit breaker metrics

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by outcome",
		},
		[]string{"name", "outcome"}, // success, failure, rejected
	)

	// Enrichment metrics

	EnrichmentLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_lookups_total",
			Help: "MusicBrainz recording lookups",
		},
		[]string{"result"}, // hit, miss, error
	)

	// HTTP API metrics

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Inbound HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
)
