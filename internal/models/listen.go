// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

// Package models defines the core data types shared across Listenbridge
// components: accounts, pending listens, and tracked playback sessions.
package models

import "time"

// Account is a local user identity bound to a ListenBrainz auth token.
// Accounts are created by configuration and are read-only to the pipeline.
type Account struct {
	// ID is the local account identifier used as the cache partition key.
	ID string `json:"id" koanf:"id"`

	// Name is a human-readable label for logs and diagnostics.
	Name string `json:"name" koanf:"name"`

	// Token is the ListenBrainz user token used for authentication.
	Token string `json:"token" koanf:"token"`

	// MediaServerUserID maps this account to a media server user, so that
	// playback sessions can be attributed to the right account.
	MediaServerUserID string `json:"media_server_user_id" koanf:"media_server_user_id"`

	// SubmitListens enables listen submission for this account.
	SubmitListens bool `json:"submit_listens" koanf:"submit_listens"`

	// SyncFavorites enables propagation of favorite tracks as
	// recording feedback ("love") after a successful listen submission.
	SyncFavorites bool `json:"sync_favorites" koanf:"sync_favorites"`
}

// TrackMetadata identifies one track. Names are always present; the
// MusicBrainz identifiers are optional and filled in when the media server
// or the enrichment lookup provides them.
type TrackMetadata struct {
	ArtistName  string `json:"artist_name"`
	TrackName   string `json:"track_name"`
	ReleaseName string `json:"release_name,omitempty"`

	TrackMBID        string   `json:"track_mbid,omitempty"`
	RecordingMBID    string   `json:"recording_mbid,omitempty"`
	ReleaseMBID      string   `json:"release_mbid,omitempty"`
	ReleaseGroupMBID string   `json:"release_group_mbid,omitempty"`
	ArtistMBIDs      []string `json:"artist_mbids,omitempty"`

	// DurationMs is the track runtime in milliseconds, if known.
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// PendingListen is one queued scrobble: a listen that has not yet been
// accepted by ListenBrainz. Instances are created by the eligibility
// tracker (or by a failed immediate submission) and destroyed when the
// resubmission scheduler confirms remote acceptance.
type PendingListen struct {
	// ID uniquely identifies this listen within the cache. RemoveBatch
	// matches on it, so batch removal stays exact under concurrent adds.
	ID string `json:"id"`

	// ListenedAt is the UNIX timestamp at which playback finished.
	ListenedAt int64 `json:"listened_at"`

	Metadata TrackMetadata `json:"metadata"`
}

// TrackedPlayback is the ephemeral per (account, item) record kept between
// a playback-start and playback-stop signal. At most one exists per
// (account, item) at any time; a duplicate start replaces it.
type TrackedPlayback struct {
	AccountID string
	ItemID    string
	StartedAt time.Time

	// Metadata captured at start time; the stop signal may not carry it.
	Metadata TrackMetadata

	// IsFavorite records whether the item was marked favorite on the media
	// server when playback started. Used for feedback sync.
	IsFavorite bool

	// Valid is cleared by explicit invalidation; an invalid record is
	// discarded at stop time without evaluating eligibility.
	Valid bool
}
