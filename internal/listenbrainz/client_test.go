// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

package listenbrainz

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/listenbridge/internal/models"
)

func testAccount() *models.Account {
	return &models.Account{
		ID:            "account-a",
		Name:          "Tester",
		Token:         "secret-token",
		SubmitListens: true,
	}
}

func testPending(id string) models.PendingListen {
	return models.PendingListen{
		ID:         id,
		ListenedAt: 1700000000,
		Metadata: models.TrackMetadata{
			ArtistName:       "Artist",
			TrackName:        "Track " + id,
			ReleaseName:      "Release",
			RecordingMBID:    "rec-" + id,
			ReleaseGroupMBID: "rg-" + id,
		},
	}
}

func checkAuthHeader(t *testing.T, r *http.Request, token string) {
	t.Helper()
	want := "Token " + token
	if got := r.Header.Get("Authorization"); got != want {
		t.Errorf("Authorization: expected %q, got %q", want, got)
	}
}

func TestValidateToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1/validate-token" {
			t.Errorf("path: expected /1/validate-token, got %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("method: expected GET, got %s", r.Method)
		}
		checkAuthHeader(t, r, "secret-token")
		_, _ = w.Write([]byte(`{"code":200,"message":"Token valid.","valid":true,"user_name":"listener"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	validation, err := client.ValidateToken(context.Background(), "secret-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !validation.Valid {
		t.Error("expected token to be valid")
	}
	if validation.UserName != "listener" {
		t.Errorf("user name: expected listener, got %s", validation.UserName)
	}
}

func TestSubmitListensBody(t *testing.T) {
	var captured submitListensRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1/submit-listens" {
			t.Errorf("path: expected /1/submit-listens, got %s", r.URL.Path)
		}
		checkAuthHeader(t, r, "secret-token")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("body did not decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	listens := []models.PendingListen{testPending("1"), testPending("2")}
	if err := client.SubmitListens(context.Background(), testAccount(), listens); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured.ListenType != "import" {
		t.Errorf("listen_type: expected import, got %s", captured.ListenType)
	}
	if len(captured.Payload) != 2 {
		t.Fatalf("payload: expected 2 listens, got %d", len(captured.Payload))
	}
	first := captured.Payload[0]
	if first.ListenedAt != 1700000000 {
		t.Errorf("listened_at: expected 1700000000, got %d", first.ListenedAt)
	}
	if first.TrackMetadata.ArtistName != "Artist" {
		t.Errorf("artist_name: expected Artist, got %s", first.TrackMetadata.ArtistName)
	}
	if first.TrackMetadata.AdditionalInfo == nil || first.TrackMetadata.AdditionalInfo.RecordingMBID != "rec-1" {
		t.Error("additional_info.recording_mbid missing")
	}
	if first.TrackMetadata.AdditionalInfo.ReleaseGroupMBID != "rg-1" {
		t.Errorf("release_group_mbid: got %s", first.TrackMetadata.AdditionalInfo.ReleaseGroupMBID)
	}
	if first.TrackMetadata.AdditionalInfo.SubmissionClient != "listenbridge" {
		t.Errorf("submission_client: got %s", first.TrackMetadata.AdditionalInfo.SubmissionClient)
	}
}

func TestSubmitSingleListenUsesSingleType(t *testing.T) {
	var captured submitListensRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	if err := client.SubmitListens(context.Background(), testAccount(), []models.PendingListen{testPending("1")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.ListenType != "single" {
		t.Errorf("listen_type: expected single, got %s", captured.ListenType)
	}
}

func TestSubmitListensEmptyIsNoop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty batch")
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	if err := client.SubmitListens(context.Background(), testAccount(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSubmitListensOversizedBatchRejected(t *testing.T) {
	client := NewClient("http://unused.invalid", nil)

	batch := make([]models.PendingListen, MaxListensPerRequest+1)
	for i := range batch {
		batch[i] = testPending("x")
	}
	err := client.SubmitListens(context.Background(), testAccount(), batch)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRateLimitedCarriesResetHint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset-In", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	err := client.SubmitListens(context.Background(), testAccount(), []models.PendingListen{testPending("1")})

	var rateLimited *RateLimitedError
	if !errors.As(err, &rateLimited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rateLimited.ResetIn != 17*time.Second {
		t.Errorf("reset hint: expected 17s, got %v", rateLimited.ResetIn)
	}
	if Classify(err) != OutcomeRateLimited {
		t.Errorf("classification: expected rate_limited, got %s", Classify(err))
	}
}

func TestRejectedRequestIsValidationFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":401,"error":"Invalid authorization token."}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	err := client.SubmitListens(context.Background(), testAccount(), []models.PendingListen{testPending("1")})

	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if Classify(err) != OutcomeValidation {
		t.Errorf("classification: expected validation, got %s", Classify(err))
	}
}

func TestMissingAcknowledgementIsValidationFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`)) // Decodes, but not into the expected shape.
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	err := client.SubmitListens(context.Background(), testAccount(), []models.PendingListen{testPending("1")})

	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSubmitFeedback(t *testing.T) {
	var captured feedbackRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1/feedback/recording-feedback" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	if err := client.SubmitFeedback(context.Background(), testAccount(), "rec-mbid-1", FeedbackLove); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.RecordingMBID != "rec-mbid-1" {
		t.Errorf("recording_mbid: got %s", captured.RecordingMBID)
	}
	if captured.Score != 1 {
		t.Errorf("score: expected 1, got %d", captured.Score)
	}
}

func TestFetchUserListens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1/user/listener/listens" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("count"); got != "25" {
			t.Errorf("count param: expected 25, got %s", got)
		}
		_, _ = w.Write([]byte(`{"payload":{"count":1,"latest_listen_ts":1700000100,"listens":[
			{"listened_at":1700000100,"recording_msid":"msid-1","user_name":"listener",
			 "track_metadata":{"artist_name":"Artist","track_name":"Track"}}]}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	page, err := client.FetchUserListens(context.Background(), testAccount(), "listener", 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Count != 1 || len(page.Listens) != 1 {
		t.Fatalf("expected 1 listen, got count=%d len=%d", page.Count, len(page.Listens))
	}
	if page.Listens[0].TrackMetadata.TrackName != "Track" {
		t.Errorf("track name: got %s", page.Listens[0].TrackMetadata.TrackName)
	}
}

func TestFetchUserListensEmptyPayloadIsValidationFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	_, err := client.FetchUserListens(context.Background(), testAccount(), "listener", 10)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeSuccess},
		{"cancelled", context.Canceled, OutcomeCancelled},
		{"deadline", context.DeadlineExceeded, OutcomeCancelled},
		{"validation", ErrValidation, OutcomeValidation},
		{"rate limited", &RateLimitedError{ResetIn: time.Second}, OutcomeRateLimited},
		{"other", errors.New("connection reset"), OutcomeRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
