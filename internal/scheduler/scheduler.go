// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

/*
scheduler.go - Resubmission Scheduler

Periodic background reconciliation between the listen cache and
ListenBrainz. Each run drains at most one batch (100 listens) per
account, so large backlogs spread across runs instead of hammering the
service.

The interval is 24 hours plus a fresh random jitter of up to 50 minutes
per run, so independently deployed bridges do not synchronize into retry
storms against the public API.

Cancellation is checked before each account's batch; a batch is either
fully delivered and removed, or left intact. One account's failure never
blocks the others.
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/tomtom215/listenbridge/internal/listenbrainz"
	"github.com/tomtom215/listenbridge/internal/listencache"
	"github.com/tomtom215/listenbridge/internal/logging"
	"github.com/tomtom215/listenbridge/internal/metrics"
	"github.com/tomtom215/listenbridge/internal/models"
)

// Gateway is the slice of the ListenBrainz client the scheduler consumes.
type Gateway interface {
	SubmitListens(ctx context.Context, account *models.Account, listens []models.PendingListen) error
}

// Config holds scheduler timing settings.
type Config struct {
	// Interval is the base delay between runs. Default: 24h
	Interval time.Duration

	// MaxJitter is the upper bound of the per-run random jitter added to
	// Interval. Default: 50m
	MaxJitter time.Duration

	// MaxListensPerRequest caps one account's batch per run.
	// Default: listenbrainz.MaxListensPerRequest
	MaxListensPerRequest int
}

// DefaultConfig returns the production schedule.
func DefaultConfig() Config {
	return Config{
		Interval:             24 * time.Hour,
		MaxJitter:            50 * time.Minute,
		MaxListensPerRequest: listenbrainz.MaxListensPerRequest,
	}
}

// Scheduler periodically retries delivery of cached listens.
type Scheduler struct {
	cache    *listencache.Cache
	gateway  Gateway
	accounts []*models.Account
	cfg      Config

	// OnProgress, when set, receives 0-100 completion per run.
	OnProgress func(percent int)

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a scheduler over the given accounts. Accounts without
// listen submission enabled are skipped at run time.
func New(cache *listencache.Cache, gateway Gateway, accounts []*models.Account, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.MaxJitter < 0 {
		cfg.MaxJitter = 0
	}
	if cfg.MaxListensPerRequest <= 0 {
		cfg.MaxListensPerRequest = listenbrainz.MaxListensPerRequest
	}
	return &Scheduler{
		cache:    cache,
		gateway:  gateway,
		accounts: accounts,
		cfg:      cfg,
	}
}

// Start begins the background loop. It returns immediately; the loop runs
// until Stop is called or the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	logging.Info().
		Dur("interval", s.cfg.Interval).
		Dur("max_jitter", s.cfg.MaxJitter).
		Msg("Resubmission scheduler started")

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop halts the loop and waits for any in-flight run to wind down.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	logging.Info().Msg("Resubmission scheduler stopped")
	return nil
}

// loop waits out the jittered interval between runs. The jitter is
// recomputed every cycle.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		timer := time.NewTimer(s.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logging.Error().Err(err).Msg("Scheduler run failed")
		}
	}
}

// nextDelay returns the base interval plus fresh jitter.
func (s *Scheduler) nextDelay() time.Duration {
	delay := s.cfg.Interval
	if s.cfg.MaxJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(s.cfg.MaxJitter)))
	}
	return delay
}

// RunOnce performs one reconciliation pass: at most one batch per account.
// The only error it returns is the context's on cancellation; per-account
// failures are logged and isolated.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.SchedulerRunDuration.Observe(time.Since(start).Seconds())
	}()

	// Merge in queue state written by a previous process. The in-memory
	// copy stays authoritative for everything it already holds.
	if err := s.cache.Restore(); err != nil {
		var corruption *listencache.CorruptionError
		if errors.As(err, &corruption) {
			return fmt.Errorf("scheduler run aborted: %w", err)
		}
		logging.Warn().Err(err).Msg("Cache restore before run failed, using in-memory state")
	}

	accounts := s.submittableAccounts()
	if len(accounts) == 0 {
		s.reportProgress(100)
		metrics.SchedulerLastSuccess.SetToCurrentTime()
		return nil
	}

	var delivered, failed int
	for i, acct := range accounts {
		// A batch either fully succeeds and is removed, or is left intact;
		// stopping between accounts can therefore never tear a batch.
		if err := ctx.Err(); err != nil {
			logging.Info().
				Int("accounts_done", i).
				Int("accounts_total", len(accounts)).
				Msg("Scheduler run cancelled")
			return err
		}

		outcome := s.drainAccount(ctx, acct)
		switch outcome {
		case listenbrainz.OutcomeSuccess:
			delivered++
		case listenbrainz.OutcomeCancelled:
			return ctx.Err()
		case listenbrainz.OutcomeRateLimited:
			// The quota is service-wide, not per account: defer the rest
			// of the run rather than burning through it.
			logging.Warn().Msg("Rate limited, deferring remaining accounts to next run")
			s.reportProgress(100)
			return nil
		default:
			failed++
		}

		s.reportProgress((i + 1) * 100 / len(accounts))
	}

	metrics.SchedulerLastSuccess.SetToCurrentTime()
	logging.Info().
		Int("accounts_delivered", delivered).
		Int("accounts_failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Scheduler run complete")
	return nil
}

// submittableAccounts returns the accounts eligible for resubmission that
// have at least one queued listen.
func (s *Scheduler) submittableAccounts() []*models.Account {
	eligible := make([]*models.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		if acct.SubmitListens && s.cache.Len(acct.ID) > 0 {
			eligible = append(eligible, acct)
		}
	}
	return eligible
}

// drainAccount attempts delivery of one batch for one account.
func (s *Scheduler) drainAccount(ctx context.Context, acct *models.Account) listenbrainz.Outcome {
	batch := s.cache.GetAll(acct.ID)
	if len(batch) == 0 {
		return listenbrainz.OutcomeSuccess
	}
	if len(batch) > s.cfg.MaxListensPerRequest {
		batch = batch[:s.cfg.MaxListensPerRequest]
	}

	err := s.gateway.SubmitListens(ctx, acct, batch)
	outcome := listenbrainz.Classify(err)
	metrics.ListensSubmitted.WithLabelValues("scheduled", outcome.String()).Add(float64(len(batch)))

	switch outcome {
	case listenbrainz.OutcomeSuccess:
		s.cache.RemoveBatch(acct.ID, batch)
		if saveErr := s.cache.Save(); saveErr != nil {
			logging.Error().Err(saveErr).
				Str("account", acct.ID).
				Msg("Failed to persist cache after batch delivery")
		}
		metrics.SchedulerListensDelivered.Add(float64(len(batch)))
		logging.Info().
			Str("account", acct.ID).
			Int("delivered", len(batch)).
			Int("remaining", s.cache.Len(acct.ID)).
			Msg("Cached listens delivered")

	case listenbrainz.OutcomeValidation:
		// Bad or expired token: keep the batch queued for the next run.
		logging.Warn().Err(err).
			Str("account", acct.ID).
			Int("batch_size", len(batch)).
			Msg("Remote rejected cached batch, leaving it queued")

	case listenbrainz.OutcomeCancelled:

	default:
		logging.Warn().Err(err).
			Str("account", acct.ID).
			Int("batch_size", len(batch)).
			Str("outcome", outcome.String()).
			Msg("Cached batch delivery failed, will retry next run")
	}

	return outcome
}

// reportProgress invokes the progress callback when one is set.
func (s *Scheduler) reportProgress(percent int) {
	if s.OnProgress != nil {
		s.OnProgress(percent)
	}
}
