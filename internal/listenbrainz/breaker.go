// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

/*
breaker.go - Circuit Breaker Wrapper for the Submission Gateway

Wraps the ListenBrainz client with a circuit breaker so a down or
misbehaving remote service cannot tie up every scheduler run and playback
callback in full retry sequences.

Rate-limit and validation responses count as successes for the breaker:
the service answered, it just did not like the request. Only
network-shaped failures (retry exhaustion, no usable response) trip the
circuit.
*/

package listenbrainz

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/listenbridge/internal/logging"
	"github.com/tomtom215/listenbridge/internal/metrics"
	"github.com/tomtom215/listenbridge/internal/models"
)

const (
	// intervalWindow resets the breaker's counts while closed.
	intervalWindow = time.Minute

	// recoveryTimeout is how long an open circuit waits before half-open.
	recoveryTimeout = 2 * time.Minute
)

// Ensure CircuitBreakerClient implements ClientInterface
var _ ClientInterface = (*CircuitBreakerClient)(nil)

// CircuitBreakerClient wraps a gateway client with circuit breaker
// protection.
type CircuitBreakerClient struct {
	client ClientInterface
	cb     *gobreaker.CircuitBreaker[any]
	name   string
}

// NewCircuitBreakerClient creates a breaker-protected gateway.
// Circuit breaker configuration:
//   - Max 3 concurrent requests in half-open state
//   - 1 minute measurement window
//   - 2 minute timeout before attempting recovery
//   - Opens after 60% failure rate with minimum 10 requests
func NewCircuitBreakerClient(client ClientInterface) *CircuitBreakerClient {
	cbName := "listenbrainz-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    intervalWindow,
		Timeout:     recoveryTimeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		// Answers from the service are successes regardless of verdict;
		// only transport-shaped failures count against the circuit.
		IsSuccessful: func(err error) bool {
			switch Classify(err) {
			case OutcomeRetryable:
				return false
			default:
				return true
			}
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &CircuitBreakerClient{
		client: client,
		cb:     cb,
		name:   cbName,
	}
}

// execute wraps one gateway call with breaker accounting.
func (cbc *CircuitBreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := cbc.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
		logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
	}
	return result, err
}

// ValidateToken delegates through the breaker.
func (cbc *CircuitBreakerClient) ValidateToken(ctx context.Context, token string) (*TokenValidation, error) {
	result, err := cbc.execute(func() (any, error) {
		return cbc.client.ValidateToken(ctx, token)
	})
	if err != nil {
		return nil, err
	}
	validation, _ := result.(*TokenValidation)
	return validation, nil
}

// SubmitListens delegates through the breaker.
func (cbc *CircuitBreakerClient) SubmitListens(ctx context.Context, account *models.Account, listens []models.PendingListen) error {
	_, err := cbc.execute(func() (any, error) {
		return nil, cbc.client.SubmitListens(ctx, account, listens)
	})
	return err
}

// SubmitPlayingNow delegates through the breaker.
func (cbc *CircuitBreakerClient) SubmitPlayingNow(ctx context.Context, account *models.Account, meta *models.TrackMetadata) error {
	_, err := cbc.execute(func() (any, error) {
		return nil, cbc.client.SubmitPlayingNow(ctx, account, meta)
	})
	return err
}

// SubmitFeedback delegates through the breaker.
func (cbc *CircuitBreakerClient) SubmitFeedback(ctx context.Context, account *models.Account, recordingMBID string, score int) error {
	_, err := cbc.execute(func() (any, error) {
		return nil, cbc.client.SubmitFeedback(ctx, account, recordingMBID, score)
	})
	return err
}

// FetchUserListens delegates through the breaker.
func (cbc *CircuitBreakerClient) FetchUserListens(ctx context.Context, account *models.Account, username string, count int) (*UserListensPage, error) {
	result, err := cbc.execute(func() (any, error) {
		return cbc.client.FetchUserListens(ctx, account, username, count)
	})
	if err != nil {
		return nil, err
	}
	page, _ := result.(*UserListensPage)
	return page, nil
}

// stateToString converts a gobreaker state to its log label.
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// stateToFloat converts a gobreaker state to its gauge value.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return -1
	}
}
