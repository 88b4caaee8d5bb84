// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

/*
requests.go - ListenBrainz API Request/Response Types

One typed struct per API parameter set, serialized with the API's
snake_case naming convention. Field shaping follows the documented
ListenBrainz JSON schemas.

API Reference: https://listenbrainz.readthedocs.io/en/latest/users/api/
*/

package listenbrainz

import "github.com/tomtom215/listenbridge/internal/models"

// Listen types accepted by the submit-listens endpoint.
const (
	listenTypeSingle     = "single"
	listenTypeImport     = "import"
	listenTypePlayingNow = "playing_now"
)

// submitListensRequest is the body of POST /1/submit-listens.
type submitListensRequest struct {
	ListenType string          `json:"listen_type"`
	Payload    []listenPayload `json:"payload"`
}

// listenPayload is one listen in a submission. ListenedAt is omitted for
// playing-now notifications, which carry no timestamp by definition.
type listenPayload struct {
	ListenedAt    int64         `json:"listened_at,omitempty"`
	TrackMetadata trackMetadata `json:"track_metadata"`
}

type trackMetadata struct {
	ArtistName     string          `json:"artist_name"`
	TrackName      string          `json:"track_name"`
	ReleaseName    string          `json:"release_name,omitempty"`
	AdditionalInfo *additionalInfo `json:"additional_info,omitempty"`
}

type additionalInfo struct {
	TrackMBID        string   `json:"track_mbid,omitempty"`
	RecordingMBID    string   `json:"recording_mbid,omitempty"`
	ReleaseMBID      string   `json:"release_mbid,omitempty"`
	ReleaseGroupMBID string   `json:"release_group_mbid,omitempty"`
	ArtistMBIDs      []string `json:"artist_mbids,omitempty"`
	DurationMs       int64    `json:"duration_ms,omitempty"`
	MediaPlayer      string   `json:"media_player,omitempty"`
	SubmissionClient string   `json:"submission_client,omitempty"`
}

// newListenPayload maps a queued listen onto the wire shape.
func newListenPayload(listen *models.PendingListen) listenPayload {
	return listenPayload{
		ListenedAt:    listen.ListenedAt,
		TrackMetadata: newTrackMetadata(&listen.Metadata),
	}
}

func newTrackMetadata(meta *models.TrackMetadata) trackMetadata {
	out := trackMetadata{
		ArtistName:  meta.ArtistName,
		TrackName:   meta.TrackName,
		ReleaseName: meta.ReleaseName,
	}

	info := additionalInfo{
		TrackMBID:        meta.TrackMBID,
		RecordingMBID:    meta.RecordingMBID,
		ReleaseMBID:      meta.ReleaseMBID,
		ReleaseGroupMBID: meta.ReleaseGroupMBID,
		ArtistMBIDs:      meta.ArtistMBIDs,
		DurationMs:       meta.DurationMs,
		MediaPlayer:      mediaPlayerName,
		SubmissionClient: submissionClientName,
	}
	out.AdditionalInfo = &info

	return out
}

// statusResponse is the generic acknowledgement body ({"status": "ok"}).
type statusResponse struct {
	Status string `json:"status"`
}

// TokenValidation is the decoded body of GET /1/validate-token.
type TokenValidation struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Valid    bool   `json:"valid"`
	UserName string `json:"user_name"`
}

// feedbackRequest is the body of POST /1/feedback/recording-feedback.
type feedbackRequest struct {
	RecordingMBID string `json:"recording_mbid"`
	Score         int    `json:"score"`
}

// Feedback scores defined by the API.
const (
	FeedbackLove    = 1
	FeedbackNeutral = 0
	FeedbackHate    = -1
)

// userListensResponse is the envelope of GET /1/user/{name}/listens.
type userListensResponse struct {
	Payload *UserListensPage `json:"payload"`
}

// UserListensPage is one page of a user's listen history.
type UserListensPage struct {
	Count          int          `json:"count"`
	UserID         string       `json:"user_id"`
	LatestListenTS int64        `json:"latest_listen_ts"`
	Listens        []UserListen `json:"listens"`
}

// UserListen is one accepted listen as echoed back by the service.
type UserListen struct {
	ListenedAt    int64             `json:"listened_at"`
	RecordingMSID string            `json:"recording_msid"`
	UserName      string            `json:"user_name"`
	TrackMetadata UserTrackMetadata `json:"track_metadata"`
}

// UserTrackMetadata is the track identity echoed in listen history.
type UserTrackMetadata struct {
	ArtistName  string `json:"artist_name"`
	TrackName   string `json:"track_name"`
	ReleaseName string `json:"release_name,omitempty"`
}
