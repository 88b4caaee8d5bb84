// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

/*
client.go - Jellyfin REST API Client

REST client for the Jellyfin endpoints the bridge needs: session polling,
connectivity checks and the WebSocket URL for real-time notifications.

API Reference: https://api.jellyfin.org/
*/

package jellyfin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	clientName    = "Listenbridge"
	clientVersion = "1.0.0"
	deviceID      = "listenbridge"
)

// ClientInterface defines the Jellyfin API operations the bridge consumes.
type ClientInterface interface {
	Ping(ctx context.Context) error
	GetSessions(ctx context.Context) ([]Session, error)
	GetActiveAudioSessions(ctx context.Context) ([]Session, error)
	GetWebSocketURL() (string, error)
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// Client provides access to the Jellyfin REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Jellyfin API client.
//
// Parameters:
//   - baseURL: Jellyfin server URL (e.g., http://localhost:8096)
//   - apiKey: API key from Admin Dashboard > API Keys
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ping tests connectivity to the Jellyfin server.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, "/System/Ping")
	if err != nil {
		return fmt.Errorf("jellyfin ping failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jellyfin ping returned status %d", resp.StatusCode)
	}
	return nil
}

// GetSessions retrieves all active sessions from Jellyfin.
func (c *Client) GetSessions(ctx context.Context) ([]Session, error) {
	resp, err := c.doRequest(ctx, "/Sessions")
	if err != nil {
		return nil, fmt.Errorf("jellyfin sessions request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("jellyfin sessions returned status %d (failed to read body)", resp.StatusCode)
		}
		return nil, fmt.Errorf("jellyfin sessions returned status %d: %s", resp.StatusCode, string(body))
	}

	var sessions []Session
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("failed to decode jellyfin sessions: %w", err)
	}
	return sessions, nil
}

// GetActiveAudioSessions retrieves only the sessions with active music
// playback.
func (c *Client) GetActiveAudioSessions(ctx context.Context) ([]Session, error) {
	sessions, err := c.GetSessions(ctx)
	if err != nil {
		return nil, err
	}

	audio := make([]Session, 0, len(sessions))
	for i := range sessions {
		if sessions[i].IsAudioPlayback() {
			audio = append(audio, sessions[i])
		}
	}
	return audio, nil
}

// GetWebSocketURL returns the WebSocket URL for real-time notifications.
func (c *Client) GetWebSocketURL() (string, error) {
	parsedURL, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	switch parsedURL.Scheme {
	case "https":
		parsedURL.Scheme = "wss"
	default:
		parsedURL.Scheme = "ws"
	}

	parsedURL.Path = "/socket"
	query := parsedURL.Query()
	query.Set("api_key", c.apiKey)
	query.Set("deviceId", deviceID)
	parsedURL.RawQuery = query.Encode()

	return parsedURL.String(), nil
}

// doRequest performs an HTTP GET request against the Jellyfin API.
func (c *Client) doRequest(ctx context.Context, endpoint string) (*http.Response, error) {
	fullURL := c.baseURL + endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("X-Emby-Client", clientName)
	req.Header.Set("X-Emby-Device-Name", clientName)
	req.Header.Set("X-Emby-Device-Id", deviceID)
	req.Header.Set("X-Emby-Client-Version", clientVersion)
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}
