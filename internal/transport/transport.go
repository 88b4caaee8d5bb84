// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

/*
transport.go - Retrying HTTP Sender

This file implements the generic retrying transport used by all outbound
API clients. It has no domain knowledge: it takes a request descriptor,
replays it against the wire until a usable response arrives or the retry
budget is consumed, and reports the outcome as a typed error.

Retry policy:
  - Up to MaxAttempts attempts (default 6)
  - Only a fixed set of status codes is retried ({500, 502, 503, 504, 507})
  - Backoff between attempts is a deterministic geometric series:
    InitialBackoff * Multiplier^attempt, i.e. 3s, 9s, 27s, ... by default
  - Context cancellation aborts immediately, including mid-backoff
  - A network-level error yields ErrInvalidResponse without further retries

Each retry sequence is tagged with a correlation id so the individual
attempts of one logical request can be grouped in the logs.
*/
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/listenbridge/internal/logging"
	"github.com/tomtom215/listenbridge/internal/metrics"
)

var (
	// ErrRetryExhausted is returned when every allowed attempt received a
	// retryable status. The caller gets no response object in this case.
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrInvalidResponse is returned when no usable response could be
	// obtained at all (network-level failure before a status was read).
	ErrInvalidResponse = errors.New("no usable response")
)

// Request is a transport-level request descriptor. The body is carried as a
// byte slice rather than a reader so every attempt can replay it: the
// underlying client consumes request body streams.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Config holds retry policy settings.
type Config struct {
	// MaxAttempts is the total attempt budget, first try included.
	// Default: 6
	MaxAttempts int

	// InitialBackoff seeds the geometric backoff series.
	// Default: 1s (the first effective delay is InitialBackoff*Multiplier)
	InitialBackoff time.Duration

	// Multiplier is the geometric growth factor between delays.
	// Default: 3
	Multiplier float64

	// RetryableStatuses lists the HTTP status codes that trigger a retry.
	// Any other status, 2xx and 4xx included, ends the loop with that
	// response. Default: 500, 502, 503, 504, 507
	RetryableStatuses []int
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       6,
		InitialBackoff:    time.Second,
		Multiplier:        3,
		RetryableStatuses: []int{500, 502, 503, 504, 507},
	}
}

// Sender sends one logical HTTP request to completion, masking transient
// failure. It is stateless and safe for concurrent use.
type Sender struct {
	client    *http.Client
	cfg       Config
	retryable map[int]struct{}

	// sleep is swappable in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a retrying sender. A nil client uses a 30s-timeout default,
// matching the media server clients.
func New(client *http.Client, cfg Config) *Sender {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 6
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 3
	}
	if len(cfg.RetryableStatuses) == 0 {
		cfg.RetryableStatuses = DefaultConfig().RetryableStatuses
	}

	retryable := make(map[int]struct{}, len(cfg.RetryableStatuses))
	for _, code := range cfg.RetryableStatuses {
		retryable[code] = struct{}{}
	}

	return &Sender{
		client:    client,
		cfg:       cfg,
		retryable: retryable,
		sleep:     sleepContext,
	}
}

// Do executes the request until a non-retryable response arrives.
//
// Exactly one of the return values is set: either a response (whose body
// the caller must close) or an error. The error is ErrRetryExhausted,
// ErrInvalidResponse, or the context's error on cancellation.
func (s *Sender) Do(ctx context.Context, req *Request) (*http.Response, error) {
	correlationID := uuid.New().String()
	log := logging.With().
		Str("correlation_id", correlationID).
		Str("method", req.Method).
		Str("url", req.URL).
		Logger()

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		httpReq, err := s.buildRequest(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		log.Debug().Int("attempt", attempt).Msg("Sending request")

		resp, err := s.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				metrics.TransportAttempts.WithLabelValues("cancelled").Inc()
				log.Debug().Int("attempt", attempt).Msg("Request cancelled")
				return nil, ctx.Err()
			}
			metrics.TransportAttempts.WithLabelValues("network_error").Inc()
			log.Debug().Err(err).Int("attempt", attempt).Msg("Network-level failure")
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}

		if _, retry := s.retryable[resp.StatusCode]; !retry {
			metrics.TransportAttempts.WithLabelValues("response").Inc()
			log.Debug().Int("attempt", attempt).Int("status", resp.StatusCode).Msg("Response received")
			return resp, nil
		}

		// Retryable status: the body carries nothing we will use.
		drainBody(resp)
		metrics.TransportAttempts.WithLabelValues("retryable").Inc()

		if attempt == s.cfg.MaxAttempts {
			metrics.TransportRetryExhausted.Inc()
			log.Warn().Int("attempts", attempt).Int("status", resp.StatusCode).Msg("Retry budget exhausted")
			return nil, fmt.Errorf("%w after %d attempts (last status %d)", ErrRetryExhausted, attempt, resp.StatusCode)
		}

		delay := s.backoff(attempt)
		log.Debug().
			Int("attempt", attempt).
			Int("status", resp.StatusCode).
			Dur("backoff", delay).
			Msg("Retryable status, backing off")

		if err := s.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	// Unreachable: the loop always returns on its last iteration.
	return nil, ErrRetryExhausted
}

// backoff returns the delay after the given 1-based attempt number.
// With the defaults this yields 3s, 9s, 27s, 81s, 243s.
func (s *Sender) backoff(attempt int) time.Duration {
	factor := math.Pow(s.cfg.Multiplier, float64(attempt))
	d := time.Duration(float64(s.cfg.InitialBackoff) * factor)
	if d < 0 {
		// Overflowed time.Duration; clamp to something finite.
		d = time.Duration(math.MaxInt64)
	}
	return d
}

// buildRequest clones the descriptor into a fresh *http.Request. A new body
// reader is created per attempt so retries never see a consumed stream.
func (s *Sender) buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	return httpReq, nil
}

// drainBody reads and closes a response body so the connection can be
// reused by the next attempt.
func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

// sleepContext sleeps for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
