// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

/*
monitor.go - Jellyfin Playback Monitor

Turns session snapshots into playback start/stop signals by diffing
consecutive snapshots. Snapshots arrive from the polling loop and, when
the WebSocket feed is enabled, from its Sessions notifications too; both
paths funnel through HandleSessions.

A session that disappears from a snapshot, or switches to a different
item, ends the previous playback at the last observed position. Jellyfin
does not report the final position after a stop, so the last observation
is the best available approximation.
*/

package jellyfin

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/listenbridge/internal/logging"
	"github.com/tomtom215/listenbridge/internal/models"
	"github.com/tomtom215/listenbridge/internal/tracker"
)

// PlaybackSink receives start/stop signals derived from session diffs.
// *tracker.Tracker satisfies this.
type PlaybackSink interface {
	OnPlaybackStart(ctx context.Context, account *models.Account, item tracker.PlaybackItem)
	OnPlaybackStop(ctx context.Context, account *models.Account, item tracker.PlaybackItem, positionTicks, runtimeTicks int64)
}

// MonitorConfig holds polling settings.
type MonitorConfig struct {
	// Interval between session polls. Default: 10s
	Interval time.Duration
}

// observedPlayback is the last known state of one (user, item) playback.
type observedPlayback struct {
	item          tracker.PlaybackItem
	positionTicks int64
	runtimeTicks  int64
}

type observedKey struct {
	userID string
	itemID string
}

// Monitor polls Jellyfin for active audio sessions and drives the sink.
type Monitor struct {
	client   ClientInterface
	sink     PlaybackSink
	accounts map[string]*models.Account // keyed by media server user ID
	interval time.Duration

	mu       sync.Mutex
	observed map[observedKey]*observedPlayback

	lifecycleMu sync.Mutex
	running     bool
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// NewMonitor creates a monitor for the given accounts. Sessions belonging
// to users with no configured account are ignored.
func NewMonitor(client ClientInterface, sink PlaybackSink, accounts []*models.Account, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}

	byUser := make(map[string]*models.Account, len(accounts))
	for _, acct := range accounts {
		if acct.MediaServerUserID != "" {
			byUser[acct.MediaServerUserID] = acct
		}
	}

	return &Monitor{
		client:   client,
		sink:     sink,
		accounts: byUser,
		interval: cfg.Interval,
		observed: make(map[observedKey]*observedPlayback),
	}
}

// Start begins the polling loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	if m.running {
		m.lifecycleMu.Unlock()
		return nil
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.lifecycleMu.Unlock()

	logging.Info().Dur("interval", m.interval).Msg("Starting playback monitor")

	m.wg.Add(1)
	go m.pollLoop(ctx)
	return nil
}

// Stop stops the polling loop and flushes tracked playbacks as stopped.
func (m *Monitor) Stop() {
	m.lifecycleMu.Lock()
	if !m.running {
		m.lifecycleMu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.lifecycleMu.Unlock()

	m.wg.Wait()

	// Treat everything still observed as stopped at its last position, so
	// eligible plays are not lost on shutdown.
	m.HandleSessions(context.Background(), nil)
	logging.Info().Msg("Playback monitor stopped")
}

func (m *Monitor) pollLoop(ctx context.Context) {
	defer m.wg.Done()

	m.poll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// poll fetches one snapshot. Fetch errors leave the observed state
// untouched so a flaky server does not fabricate stop signals.
func (m *Monitor) poll(ctx context.Context) {
	sessions, err := m.client.GetActiveAudioSessions(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to fetch sessions")
		return
	}
	m.HandleSessions(ctx, sessions)
}

// HandleSessions diffs a snapshot against the previous one and emits
// start/stop signals. Safe for concurrent use; the WebSocket feed and the
// polling loop may both deliver snapshots.
func (m *Monitor) HandleSessions(ctx context.Context, sessions []Session) {
	type startSignal struct {
		account *models.Account
		item    tracker.PlaybackItem
	}
	type stopSignal struct {
		account       *models.Account
		item          tracker.PlaybackItem
		positionTicks int64
		runtimeTicks  int64
	}
	var starts []startSignal
	var stops []stopSignal

	m.mu.Lock()
	current := make(map[observedKey]bool, len(sessions))
	for i := range sessions {
		session := &sessions[i]
		if !session.IsAudioPlayback() {
			continue
		}

		account, ok := m.accounts[session.UserID]
		if !ok {
			continue
		}

		nowPlaying := session.NowPlayingItem
		key := observedKey{userID: session.UserID, itemID: nowPlaying.ID}
		current[key] = true

		if existing, tracked := m.observed[key]; tracked {
			existing.positionTicks = session.PositionTicks()
			existing.runtimeTicks = nowPlaying.RunTimeTicks
			continue
		}

		item := tracker.PlaybackItem{
			ItemID:     nowPlaying.ID,
			Metadata:   nowPlaying.TrackMetadata(),
			IsFavorite: nowPlaying.IsFavorite(),
		}
		m.observed[key] = &observedPlayback{
			item:          item,
			positionTicks: session.PositionTicks(),
			runtimeTicks:  nowPlaying.RunTimeTicks,
		}
		starts = append(starts, startSignal{account: account, item: item})
	}

	for key, obs := range m.observed {
		if current[key] {
			continue
		}
		delete(m.observed, key)
		stops = append(stops, stopSignal{
			account:       m.accounts[key.userID],
			item:          obs.item,
			positionTicks: obs.positionTicks,
			runtimeTicks:  obs.runtimeTicks,
		})
	}
	m.mu.Unlock()

	// Signal the sink outside the lock; submission may block on the network.
	for _, s := range stops {
		logging.Debug().
			Str("account", s.account.ID).
			Str("track", s.item.Metadata.TrackName).
			Msg("Playback ended")
		m.sink.OnPlaybackStop(ctx, s.account, s.item, s.positionTicks, s.runtimeTicks)
	}
	for _, s := range starts {
		logging.Debug().
			Str("account", s.account.ID).
			Str("track", s.item.Metadata.TrackName).
			Msg("Playback started")
		m.sink.OnPlaybackStart(ctx, s.account, s.item)
	}
}

// ObservedCount returns the number of playbacks currently tracked.
func (m *Monitor) ObservedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observed)
}
