// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

/*
client.go - MusicBrainz Metadata Enrichment Client

Resolves a recording MBID from a track MBID via the MusicBrainz ws/2
search API. This is an optional collaborator: a failed or empty lookup
means "no enrichment available" and is never fatal to submission.

MusicBrainz requires a meaningful User-Agent and asks clients to stay at
or below one request per second; the limiter enforces that.

API Reference: https://musicbrainz.org/doc/MusicBrainz_API
*/

package musicbrainz

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/listenbridge/internal/logging"
	"github.com/tomtom215/listenbridge/internal/metrics"
)

// DefaultBaseURL is the public MusicBrainz API root.
const DefaultBaseURL = "https://musicbrainz.org"

const userAgent = "listenbridge/1.0 ( https://github.com/tomtom215/listenbridge )"

// ResolverInterface is the single enrichment operation the pipeline
// consumes.
type ResolverInterface interface {
	ResolveRecordingMBID(ctx context.Context, trackMBID string) (string, error)
}

// Ensure Client implements ResolverInterface
var _ ResolverInterface = (*Client)(nil)

// Client provides access to the MusicBrainz ws/2 API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a MusicBrainz client. An empty baseURL uses the public
// service.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(1), 1),
	}
}

// recordingSearchResponse is the subset of the search result we consume.
type recordingSearchResponse struct {
	Recordings []struct {
		ID string `json:"id"`
	} `json:"recordings"`
}

// ResolveRecordingMBID looks up the recording MBID associated with a track
// MBID. Returns an empty string (with nil error) when no match exists.
func (c *Client) ResolveRecordingMBID(ctx context.Context, trackMBID string) (string, error) {
	if trackMBID == "" {
		return "", nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("query", "tid:"+trackMBID)
	params.Set("fmt", "json")
	params.Set("limit", "1")
	fullURL := c.baseURL + "/ws/2/recording?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.EnrichmentLookups.WithLabelValues("error").Inc()
		return "", fmt.Errorf("recording lookup failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		metrics.EnrichmentLookups.WithLabelValues("error").Inc()
		return "", fmt.Errorf("recording lookup returned status %d", resp.StatusCode)
	}

	var decoded recordingSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		metrics.EnrichmentLookups.WithLabelValues("error").Inc()
		return "", fmt.Errorf("failed to decode recording lookup: %w", err)
	}

	if len(decoded.Recordings) == 0 || decoded.Recordings[0].ID == "" {
		metrics.EnrichmentLookups.WithLabelValues("miss").Inc()
		logging.Debug().Str("track_mbid", trackMBID).Msg("No recording found for track")
		return "", nil
	}

	metrics.EnrichmentLookups.WithLabelValues("hit").Inc()
	return decoded.Recordings[0].ID, nil
}
