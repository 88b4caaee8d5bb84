// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

/*
handlers.go - HTTP Handlers

Health probes, the Jellyfin webhook plugin ingress and the listens proxy.

The webhook is an alternative signal path to session polling: deployments
that install the Jellyfin Webhook plugin get push-based start/stop
events. Both paths converge on the same playback sink, and the tracker's
duplicate-start debouncing makes overlap harmless.
*/

package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tomtom215/listenbridge/internal/listenbrainz"
	"github.com/tomtom215/listenbridge/internal/listencache"
	"github.com/tomtom215/listenbridge/internal/logging"
	"github.com/tomtom215/listenbridge/internal/models"
	"github.com/tomtom215/listenbridge/internal/tracker"
)

// notification types sent by the Jellyfin Webhook plugin.
const (
	notificationPlaybackStart = "PlaybackStart"
	notificationPlaybackStop  = "PlaybackStop"

	itemTypeAudio = "Audio"
)

// PlaybackSink receives playback signals from the webhook path.
// *tracker.Tracker satisfies this.
type PlaybackSink interface {
	OnPlaybackStart(ctx context.Context, account *models.Account, item tracker.PlaybackItem)
	OnPlaybackStop(ctx context.Context, account *models.Account, item tracker.PlaybackItem, positionTicks, runtimeTicks int64)
}

// ListensFetcher is the read-side slice of the ListenBrainz client.
// ValidateToken resolves the remote username the listen history is
// filed under; the local account name is only a log label.
type ListensFetcher interface {
	ValidateToken(ctx context.Context, token string) (*listenbrainz.TokenValidation, error)
	FetchUserListens(ctx context.Context, account *models.Account, username string, count int) (*listenbrainz.UserListensPage, error)
}

// Pinger reports media server reachability for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler bundles the dependencies of the HTTP surface.
type Handler struct {
	sink     PlaybackSink
	fetcher  ListensFetcher
	pinger   Pinger
	cache    *listencache.Cache
	accounts map[string]*models.Account // by account ID
	byUser   map[string]*models.Account // by media server user ID
	validate *validator.Validate
}

// NewHandler creates the handler set over the configured accounts.
func NewHandler(sink PlaybackSink, fetcher ListensFetcher, pinger Pinger, cache *listencache.Cache, accounts []*models.Account) *Handler {
	byID := make(map[string]*models.Account, len(accounts))
	byUser := make(map[string]*models.Account, len(accounts))
	for _, acct := range accounts {
		byID[acct.ID] = acct
		if acct.MediaServerUserID != "" {
			byUser[acct.MediaServerUserID] = acct
		}
	}
	return &Handler{
		sink:     sink,
		fetcher:  fetcher,
		pinger:   pinger,
		cache:    cache,
		accounts: byID,
		byUser:   byUser,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HealthLive handles GET /api/v1/health/live.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// HealthReady handles GET /api/v1/health/ready. Ready means the media
// server answers; ListenBrainz being down is a degraded state the cache
// absorbs, not an unready one.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.pinger.Ping(ctx); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"reason": "media server unreachable",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"queued_listens": h.cache.TotalLen(),
	})
}

// playbackNotification is the Jellyfin Webhook plugin payload, reduced to
// the fields the bridge consumes. Field names match the plugin's template
// output.
type playbackNotification struct {
	NotificationType string `json:"NotificationType" validate:"required,oneof=PlaybackStart PlaybackStop"`
	UserID           string `json:"UserId" validate:"required"`
	ItemID           string `json:"ItemId" validate:"required"`
	ItemType         string `json:"ItemType" validate:"required"`

	Name        string   `json:"Name"`
	Artist      string   `json:"Artist"`
	Album       string   `json:"Album"`
	AlbumArtist string   `json:"AlbumArtist"`
	Artists     []string `json:"Artists"`

	RunTimeTicks          int64 `json:"RunTimeTicks"`
	PlaybackPositionTicks int64 `json:"PlaybackPositionTicks"`
	IsFavorite            bool  `json:"IsFavorite"`

	TrackMBID   string `json:"Provider_musicbrainztrack"`
	ReleaseMBID string `json:"Provider_musicbrainzalbum"`
	ArtistMBID  string `json:"Provider_musicbrainzartist"`
}

// item maps the notification to a playback item.
func (n *playbackNotification) item() tracker.PlaybackItem {
	meta := models.TrackMetadata{
		TrackName:   n.Name,
		ReleaseName: n.Album,
		TrackMBID:   n.TrackMBID,
		ReleaseMBID: n.ReleaseMBID,
		DurationMs:  n.RunTimeTicks / 10_000,
	}
	switch {
	case n.Artist != "":
		meta.ArtistName = n.Artist
	case len(n.Artists) > 0:
		meta.ArtistName = n.Artists[0]
	default:
		meta.ArtistName = n.AlbumArtist
	}
	if n.ArtistMBID != "" {
		meta.ArtistMBIDs = []string{n.ArtistMBID}
	}

	return tracker.PlaybackItem{
		ItemID:     n.ItemID,
		Metadata:   meta,
		IsFavorite: n.IsFavorite,
	}
}

// PlaybackWebhook handles POST /api/v1/webhooks/playback.
//
// Non-audio items and unmapped users are acknowledged with 200 and
// ignored: the plugin treats non-2xx responses as delivery failures and
// retries, which would just replay events the bridge will never want.
func (h *Handler) PlaybackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "failed to read request body")
		return
	}
	defer func() { _ = r.Body.Close() }()

	var notification playbackNotification
	if err := json.Unmarshal(body, &notification); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "failed to parse webhook JSON")
		return
	}
	if err := h.validate.Struct(&notification); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	if notification.ItemType != itemTypeAudio {
		respondJSON(w, http.StatusOK, map[string]any{"received": true, "processed": false})
		return
	}

	account, ok := h.byUser[notification.UserID]
	if !ok {
		logging.Debug().
			Str("user", notification.UserID).
			Msg("Webhook for unmapped user, ignoring")
		respondJSON(w, http.StatusOK, map[string]any{"received": true, "processed": false})
		return
	}

	logging.Debug().
		Str("event", notification.NotificationType).
		Str("account", account.ID).
		Str("track", notification.Name).
		Msg("Webhook received")

	switch notification.NotificationType {
	case notificationPlaybackStart:
		h.sink.OnPlaybackStart(r.Context(), account, notification.item())
	case notificationPlaybackStop:
		h.sink.OnPlaybackStop(r.Context(), account, notification.item(),
			notification.PlaybackPositionTicks, notification.RunTimeTicks)
	}

	respondJSON(w, http.StatusOK, map[string]any{"received": true, "processed": true})
}

// AccountListens handles GET /api/v1/accounts/{id}/listens, proxying the
// account's submitted listens from ListenBrainz.
func (h *Handler) AccountListens(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	account, ok := h.accounts[accountID]
	if !ok {
		respondError(w, http.StatusNotFound, "UNKNOWN_ACCOUNT", "no such account")
		return
	}

	// The account name is a local label; the history lives under the
	// ListenBrainz username the token belongs to.
	validation, err := h.fetcher.ValidateToken(r.Context(), account.Token)
	if err != nil {
		logging.Warn().Err(err).Str("account", accountID).Msg("Token validation for listens proxy failed")
		respondError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "failed to resolve remote username")
		return
	}
	if !validation.Valid {
		respondError(w, http.StatusBadGateway, "INVALID_TOKEN", "account token rejected by ListenBrainz")
		return
	}

	count := getIntParam(r, "count", 25)
	page, err := h.fetcher.FetchUserListens(r.Context(), account, validation.UserName, count)
	if err != nil {
		logging.Warn().Err(err).Str("account", accountID).Msg("Listens proxy failed")
		respondError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "failed to fetch listens")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"account":        accountID,
		"listens":        page.Listens,
		"queued_pending": h.cache.Len(accountID),
	})
}
