// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

package musicbrainz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveRecordingMBID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/2/recording" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("query"); got != "tid:track-mbid-1" {
			t.Errorf("query: expected tid:track-mbid-1, got %s", got)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("User-Agent is required by MusicBrainz")
		}
		_, _ = w.Write([]byte(`{"recordings":[{"id":"recording-mbid-1"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	mbid, err := client.ResolveRecordingMBID(context.Background(), "track-mbid-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mbid != "recording-mbid-1" {
		t.Errorf("expected recording-mbid-1, got %s", mbid)
	}
}

func TestResolveRecordingMBIDNoMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"recordings":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	mbid, err := client.ResolveRecordingMBID(context.Background(), "unknown-track")
	if err != nil {
		t.Fatalf("no match must not be an error: %v", err)
	}
	if mbid != "" {
		t.Errorf("expected empty mbid, got %s", mbid)
	}
}

func TestResolveRecordingMBIDEmptyInput(t *testing.T) {
	client := NewClient("http://unused.invalid")
	mbid, err := client.ResolveRecordingMBID(context.Background(), "")
	if err != nil || mbid != "" {
		t.Errorf("empty input: expected no-op, got %q, %v", mbid, err)
	}
}

func TestResolveRecordingMBIDServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.ResolveRecordingMBID(context.Background(), "track-mbid-1"); err == nil {
		t.Fatal("expected error on server failure")
	}
}
