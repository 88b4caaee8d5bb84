// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

package listenbrainz

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrValidation means the remote service rejected the request (bad token,
// malformed payload) or returned a body that did not decode into the
// expected shape. Retrying the same request will not help.
var ErrValidation = errors.New("request rejected by listenbrainz")

// RateLimitedError is returned on a 429 response. It is never retried by
// the transport; the wait hint lets the caller decide whether to defer.
type RateLimitedError struct {
	// ResetIn is how long until the rate-limit window resets, taken from
	// the X-RateLimit-Reset-In response header (zero if absent).
	ResetIn time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.ResetIn > 0 {
		return fmt.Sprintf("rate limited by listenbrainz, reset in %s", e.ResetIn)
	}
	return "rate limited by listenbrainz"
}

// Outcome classifies one delivery attempt. It is consumed synchronously by
// the caller and never persisted.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeRateLimited
	OutcomeValidation
	OutcomeCancelled
)

// String returns the metric/log label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeValidation:
		return "validation"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify maps a gateway error onto a delivery outcome. Callers branch on
// the outcome kind instead of inspecting error strings.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	case errors.Is(err, ErrValidation):
		return OutcomeValidation
	default:
		var rateLimited *RateLimitedError
		if errors.As(err, &rateLimited) {
			return OutcomeRateLimited
		}
		// Transport exhaustion, invalid responses and anything else
		// network-shaped: worth retrying on a later run.
		return OutcomeRetryable
	}
}
