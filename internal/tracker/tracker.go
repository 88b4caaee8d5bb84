// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

/*
tracker.go - Playback Eligibility Tracker

Per (account, item) state machine that turns raw playback start/stop
signals into reportable listens:

	Untracked -> Tracking -> {Eligible | Discarded} -> Untracked

A play is eligible when at least half of the track was heard OR at least
four minutes of it, whichever check passes first. Eligible plays are
submitted immediately; on any delivery failure the listen falls back into
the durable cache rather than being lost. Ineligible plays are discarded
with a log line, never an error: nothing in this pipeline may interrupt
playback.
*/

package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/listenbridge/internal/listenbrainz"
	"github.com/tomtom215/listenbridge/internal/listencache"
	"github.com/tomtom215/listenbridge/internal/logging"
	"github.com/tomtom215/listenbridge/internal/metrics"
	"github.com/tomtom215/listenbridge/internal/models"
)

const (
	// TicksPerSecond is the media server's time resolution (100ns ticks).
	TicksPerSecond int64 = 10_000_000

	// minPlayTicks is the absolute play-time floor: four minutes.
	minPlayTicks = 4 * 60 * TicksPerSecond

	// eligiblePercent is the relative play-time floor.
	eligiblePercent int64 = 50
)

// SubmissionGateway is the slice of the ListenBrainz client the tracker
// consumes.
type SubmissionGateway interface {
	SubmitListens(ctx context.Context, account *models.Account, listens []models.PendingListen) error
	SubmitPlayingNow(ctx context.Context, account *models.Account, meta *models.TrackMetadata) error
	SubmitFeedback(ctx context.Context, account *models.Account, recordingMBID string, score int) error
}

// RecordingResolver resolves a recording MBID for a track MBID. A nil
// resolver disables enrichment.
type RecordingResolver interface {
	ResolveRecordingMBID(ctx context.Context, trackMBID string) (string, error)
}

// PlaybackItem identifies the item a start/stop signal refers to, together
// with the metadata the media server knows about it.
type PlaybackItem struct {
	ItemID     string
	Metadata   models.TrackMetadata
	IsFavorite bool
}

type playbackKey struct {
	accountID string
	itemID    string
}

// Tracker is the playback eligibility state machine. Safe for concurrent
// use; playback callbacks and invalidation may arrive from any goroutine.
type Tracker struct {
	gateway  SubmissionGateway
	cache    *listencache.Cache
	resolver RecordingResolver

	mu      sync.Mutex
	tracked map[playbackKey]*models.TrackedPlayback

	// now is swappable in tests.
	now func() time.Time
}

// New creates a tracker. resolver may be nil to disable MBID enrichment.
func New(gateway SubmissionGateway, cache *listencache.Cache, resolver RecordingResolver) *Tracker {
	return &Tracker{
		gateway:  gateway,
		cache:    cache,
		resolver: resolver,
		tracked:  make(map[playbackKey]*models.TrackedPlayback),
		now:      time.Now,
	}
}

// Eligible reports whether a play of position ticks out of runtime ticks
// counts as a listen. The two thresholds are independent checks: either
// one passing is sufficient. A zero runtime is undefined input and never
// eligible.
func Eligible(positionTicks, runtimeTicks int64) bool {
	if positionTicks >= minPlayTicks {
		return true
	}
	if runtimeTicks <= 0 {
		return false
	}
	return positionTicks*100 >= runtimeTicks*eligiblePercent
}

// OnPlaybackStart begins tracking a playback session. A duplicate start
// for the same (account, item) replaces the previous record, debouncing
// repeated signals from the media server.
func (t *Tracker) OnPlaybackStart(ctx context.Context, account *models.Account, item PlaybackItem) {
	key := playbackKey{accountID: account.ID, itemID: item.ItemID}

	t.mu.Lock()
	if _, exists := t.tracked[key]; exists {
		logging.Debug().
			Str("account", account.ID).
			Str("item", item.ItemID).
			Msg("Duplicate playback start, replacing tracked record")
		delete(t.tracked, key)
	}
	t.tracked[key] = &models.TrackedPlayback{
		AccountID:  account.ID,
		ItemID:     item.ItemID,
		StartedAt:  t.now(),
		Metadata:   item.Metadata,
		IsFavorite: item.IsFavorite,
		Valid:      true,
	}
	t.mu.Unlock()

	if account.SubmitListens {
		if err := t.gateway.SubmitPlayingNow(ctx, account, &item.Metadata); err != nil {
			// Playing-now is ephemeral on the remote side; losing one is fine.
			logging.Debug().Err(err).
				Str("account", account.ID).
				Str("track", item.Metadata.TrackName).
				Msg("Playing-now notification failed")
		}
	}
}

// InvalidatePlayback clears the validity flag on a tracked session, so the
// eventual stop signal discards it without evaluating eligibility.
func (t *Tracker) InvalidatePlayback(accountID, itemID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, exists := t.tracked[playbackKey{accountID: accountID, itemID: itemID}]; exists {
		rec.Valid = false
	}
}

// TrackedCount returns the number of live tracked sessions.
func (t *Tracker) TrackedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracked)
}

// OnPlaybackStop ends a tracked session and, when the play qualifies,
// submits the listen. Whatever the outcome, the tracked record for this
// (account, item) is removed.
func (t *Tracker) OnPlaybackStop(ctx context.Context, account *models.Account, item PlaybackItem, positionTicks, runtimeTicks int64) {
	key := playbackKey{accountID: account.ID, itemID: item.ItemID}

	t.mu.Lock()
	rec, exists := t.tracked[key]
	if exists {
		delete(t.tracked, key)
	}
	t.mu.Unlock()

	if !exists {
		logging.Debug().
			Str("account", account.ID).
			Str("item", item.ItemID).
			Msg("Playback stop without tracked start, ignoring")
		return
	}

	if !rec.Valid {
		logging.Debug().
			Str("account", account.ID).
			Str("item", item.ItemID).
			Msg("Tracked playback was invalidated, discarding")
		return
	}

	if !Eligible(positionTicks, runtimeTicks) {
		metrics.ListensDiscarded.Inc()
		logging.Debug().
			Str("account", account.ID).
			Str("track", rec.Metadata.TrackName).
			Int64("position_ticks", positionTicks).
			Int64("runtime_ticks", runtimeTicks).
			Msg("Playback conditions not met, listen discarded")
		return
	}

	if !account.SubmitListens {
		return
	}

	meta := rec.Metadata
	if meta.TrackName == "" {
		meta = item.Metadata
	}
	t.enrich(ctx, &meta)

	listen := models.PendingListen{
		ID:         uuid.New().String(),
		ListenedAt: t.now().Unix(),
		Metadata:   meta,
	}

	err := t.gateway.SubmitListens(ctx, account, []models.PendingListen{listen})
	outcome := listenbrainz.Classify(err)
	metrics.ListensSubmitted.WithLabelValues("immediate", outcome.String()).Inc()

	if err != nil {
		logging.Warn().Err(err).
			Str("account", account.ID).
			Str("track", meta.TrackName).
			Str("outcome", outcome.String()).
			Msg("Immediate submission failed, queueing listen")
		if saveErr := t.cache.AddAndSave(account.ID, listen); saveErr != nil {
			logging.Error().Err(saveErr).Msg("Failed to persist listen cache after fallback enqueue")
		}
		return
	}

	logging.Info().
		Str("account", account.ID).
		Str("track", meta.TrackName).
		Msg("Listen submitted")

	t.syncFavorite(ctx, account, rec, &meta)
}

// enrich fills in a missing recording MBID from the track MBID, when an
// enrichment resolver is configured. Failure means "no enrichment".
func (t *Tracker) enrich(ctx context.Context, meta *models.TrackMetadata) {
	if t.resolver == nil || meta.RecordingMBID != "" || meta.TrackMBID == "" {
		return
	}
	mbid, err := t.resolver.ResolveRecordingMBID(ctx, meta.TrackMBID)
	if err != nil {
		logging.Debug().Err(err).Str("track_mbid", meta.TrackMBID).Msg("Recording enrichment unavailable")
		return
	}
	meta.RecordingMBID = mbid
}

// syncFavorite propagates a favorite flag as "love" feedback after a
// successful submission. Needs a recording MBID; failures are logged only.
func (t *Tracker) syncFavorite(ctx context.Context, account *models.Account, rec *models.TrackedPlayback, meta *models.TrackMetadata) {
	if !account.SyncFavorites || !rec.IsFavorite || meta.RecordingMBID == "" {
		return
	}

	err := t.gateway.SubmitFeedback(ctx, account, meta.RecordingMBID, listenbrainz.FeedbackLove)
	outcome := listenbrainz.Classify(err)
	metrics.FeedbackSubmitted.WithLabelValues(outcome.String()).Inc()
	if err != nil {
		logging.Warn().Err(err).
			Str("account", account.ID).
			Str("recording_mbid", meta.RecordingMBID).
			Msg("Favorite feedback failed")
		return
	}
	logging.Debug().
		Str("account", account.ID).
		Str("recording_mbid", meta.RecordingMBID).
		Msg("Favorite feedback submitted")
}
