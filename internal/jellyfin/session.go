// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

/*
session.go - Jellyfin Session Models

Wire types for the subset of the Jellyfin /Sessions payload that audio
scrobbling consumes, plus the mapping from a now-playing item to track
metadata. Field names follow Jellyfin's PascalCase JSON.
*/

package jellyfin

import (
	"github.com/tomtom215/listenbridge/internal/models"
)

// mediaTypeAudio is the NowPlayingItem.MediaType value for music playback.
const mediaTypeAudio = "Audio"

// Jellyfin stores MusicBrainz identifiers under these provider keys.
const (
	providerTrackMBID        = "MusicBrainzTrack"
	providerAlbumMBID        = "MusicBrainzAlbum"
	providerArtistMBID       = "MusicBrainzArtist"
	providerReleaseGroupMBID = "MusicBrainzReleaseGroup"
)

// Session represents one active Jellyfin client session.
type Session struct {
	ID                 string `json:"Id"`
	Client             string `json:"Client"`
	DeviceID           string `json:"DeviceId"`
	DeviceName         string `json:"DeviceName"`
	ApplicationVersion string `json:"ApplicationVersion"`

	UserID   string `json:"UserId"`
	UserName string `json:"UserName"`

	RemoteEndPoint   string `json:"RemoteEndPoint"`
	LastActivityDate string `json:"LastActivityDate"`

	NowPlayingItem *NowPlayingItem `json:"NowPlayingItem,omitempty"`
	PlayState      *PlayState      `json:"PlayState,omitempty"`
}

// NowPlayingItem represents the currently playing content.
type NowPlayingItem struct {
	ID        string `json:"Id"`
	Name      string `json:"Name"`
	Type      string `json:"Type"`
	MediaType string `json:"MediaType"`

	AlbumID     string   `json:"AlbumId,omitempty"`
	AlbumArtist string   `json:"AlbumArtist,omitempty"`
	Album       string   `json:"Album,omitempty"`
	Artists     []string `json:"Artists,omitempty"`

	// RunTimeTicks is the item duration in 100ns ticks.
	RunTimeTicks int64 `json:"RunTimeTicks"`

	ProviderIDs map[string]string `json:"ProviderIds,omitempty"`
	UserData    *UserData         `json:"UserData,omitempty"`
}

// PlayState represents playback state details.
type PlayState struct {
	// PositionTicks is the current position in 100ns ticks.
	PositionTicks int64  `json:"PositionTicks"`
	CanSeek       bool   `json:"CanSeek"`
	IsPaused      bool   `json:"IsPaused"`
	IsMuted       bool   `json:"IsMuted"`
	PlayMethod    string `json:"PlayMethod,omitempty"`
}

// UserData carries the requesting user's relationship to the item.
type UserData struct {
	IsFavorite bool `json:"IsFavorite"`
	PlayCount  int  `json:"PlayCount,omitempty"`
	Played     bool `json:"Played"`
}

// IsAudioPlayback reports whether the session is playing music.
func (s *Session) IsAudioPlayback() bool {
	return s.NowPlayingItem != nil && s.NowPlayingItem.MediaType == mediaTypeAudio
}

// PositionTicks returns the current playback position, zero when the
// server sent no play state.
func (s *Session) PositionTicks() int64 {
	if s.PlayState == nil {
		return 0
	}
	return s.PlayState.PositionTicks
}

// IsFavorite reports whether the playing item is marked as a favorite by
// the session's user.
func (item *NowPlayingItem) IsFavorite() bool {
	return item.UserData != nil && item.UserData.IsFavorite
}

// TrackMetadata maps a now-playing item to submission metadata. The
// artist falls back from the track artists to the album artist, matching
// how Jellyfin itself displays the item.
func (item *NowPlayingItem) TrackMetadata() models.TrackMetadata {
	meta := models.TrackMetadata{
		TrackName:   item.Name,
		ReleaseName: item.Album,
		DurationMs:  item.RunTimeTicks / 10_000,
	}

	if len(item.Artists) > 0 {
		meta.ArtistName = item.Artists[0]
	} else {
		meta.ArtistName = item.AlbumArtist
	}

	if item.ProviderIDs != nil {
		meta.TrackMBID = item.ProviderIDs[providerTrackMBID]
		meta.ReleaseMBID = item.ProviderIDs[providerAlbumMBID]
		meta.ReleaseGroupMBID = item.ProviderIDs[providerReleaseGroupMBID]
		if artist, ok := item.ProviderIDs[providerArtistMBID]; ok && artist != "" {
			meta.ArtistMBIDs = []string{artist}
		}
	}

	return meta
}
