// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

// Package api provides HTTP routing for the bridge using Chi.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/listenbridge/internal/metrics"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	// RateLimitReqs per RateLimitWindow per client IP. Zero disables.
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// NewRouter assembles the HTTP routes:
//
//	GET  /metrics                        Prometheus metrics
//	GET  /api/v1/health/live             liveness probe
//	GET  /api/v1/health/ready            readiness probe (Jellyfin reachable)
//	POST /api/v1/webhooks/playback       Jellyfin webhook plugin ingress
//	GET  /api/v1/accounts/{id}/listens   submitted listens proxy
func NewRouter(handler *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestMetrics)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitReqs > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
		}

		r.Route("/health", func(r chi.Router) {
			r.Get("/live", handler.HealthLive)
			r.Get("/ready", handler.HealthReady)
		})

		r.Post("/webhooks/playback", handler.PlaybackWebhook)
		r.Get("/accounts/{id}/listens", handler.AccountListens)
	})

	return r
}

// requestMetrics records per-route request counts. The route pattern is
// resolved after the handler runs so path parameters collapse into one
// label value.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(
			r.Method,
			endpoint,
			strconv.Itoa(ww.Status()),
		).Inc()
	})
}
