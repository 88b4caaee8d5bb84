// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

/*
client.go - ListenBrainz Submission Gateway

This file implements the authenticated client for the ListenBrainz API.
It translates domain operations (submit listens, validate token, submit
feedback, fetch user listens) into HTTP calls over the retrying transport
and decodes typed responses.

The client is stateless: every call is authenticated with the token passed
in (or the account's token) via the "Authorization: Token <value>" header.
GET operations carry URL-encoded query parameters; POST operations carry a
snake_case JSON body.

Rate limiting: 429 responses are not retried by the transport's generic
policy. The client inspects X-RateLimit-Reset-In and fails fast with a
RateLimitedError carrying the wait hint.
*/

package listenbrainz

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/listenbridge/internal/models"
	"github.com/tomtom215/listenbridge/internal/transport"
)

const (
	// DefaultBaseURL is the public ListenBrainz API root.
	DefaultBaseURL = "https://api.listenbrainz.org"

	// apiPrefix is the version prefix for every endpoint.
	apiPrefix = "/1"

	// MaxListensPerRequest caps the payload of one submit-listens call.
	MaxListensPerRequest = 100

	mediaPlayerName      = "Jellyfin"
	submissionClientName = "listenbridge"

	// rateLimitResetHeader carries the seconds until the quota resets.
	rateLimitResetHeader = "X-RateLimit-Reset-In"
)

// ClientInterface defines the gateway operations. Both Client and
// CircuitBreakerClient implement this interface.
type ClientInterface interface {
	ValidateToken(ctx context.Context, token string) (*TokenValidation, error)
	SubmitListens(ctx context.Context, account *models.Account, listens []models.PendingListen) error
	SubmitPlayingNow(ctx context.Context, account *models.Account, meta *models.TrackMetadata) error
	SubmitFeedback(ctx context.Context, account *models.Account, recordingMBID string, score int) error
	FetchUserListens(ctx context.Context, account *models.Account, username string, count int) (*UserListensPage, error)
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// Client provides access to the ListenBrainz REST API.
type Client struct {
	baseURL string
	sender  *transport.Sender
	limiter *rate.Limiter
}

// NewClient creates a ListenBrainz API client.
//
// Parameters:
//   - baseURL: API root (e.g. https://api.listenbrainz.org); trailing
//     slashes are stripped. Empty uses DefaultBaseURL.
//   - sender: retrying transport; nil uses the default retry policy.
func NewClient(baseURL string, sender *transport.Sender) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if sender == nil {
		sender = transport.New(nil, transport.DefaultConfig())
	}

	return &Client{
		baseURL: baseURL,
		sender:  sender,
		// The API asks clients to stay under ~10 requests per second.
		limiter: rate.NewLimiter(rate.Limit(10), 10),
	}
}

// ValidateToken checks a user token and returns its validity together with
// the associated ListenBrainz username.
func (c *Client) ValidateToken(ctx context.Context, token string) (*TokenValidation, error) {
	resp, err := c.get(ctx, token, "/validate-token", nil)
	if err != nil {
		return nil, fmt.Errorf("validate token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(resp); err != nil {
		return nil, fmt.Errorf("validate token: %w", err)
	}

	var validation TokenValidation
	if err := json.NewDecoder(resp.Body).Decode(&validation); err != nil {
		return nil, fmt.Errorf("validate token: %w: %v", ErrValidation, err)
	}
	return &validation, nil
}

// SubmitListens delivers up to MaxListensPerRequest queued listens for the
// account in one request. An empty slice is a no-op.
func (c *Client) SubmitListens(ctx context.Context, account *models.Account, listens []models.PendingListen) error {
	if len(listens) == 0 {
		return nil
	}
	if len(listens) > MaxListensPerRequest {
		return fmt.Errorf("%w: batch of %d exceeds %d listens per request", ErrValidation, len(listens), MaxListensPerRequest)
	}

	listenType := listenTypeImport
	if len(listens) == 1 {
		listenType = listenTypeSingle
	}

	payload := make([]listenPayload, 0, len(listens))
	for i := range listens {
		payload = append(payload, newListenPayload(&listens[i]))
	}

	req := submitListensRequest{ListenType: listenType, Payload: payload}
	if err := c.postAcknowledged(ctx, account.Token, "/submit-listens", &req); err != nil {
		return fmt.Errorf("submit listens: %w", err)
	}
	return nil
}

// SubmitPlayingNow notifies the service of a track that just started
// playing. Playing-now listens carry no timestamp and are ephemeral on the
// remote side.
func (c *Client) SubmitPlayingNow(ctx context.Context, account *models.Account, meta *models.TrackMetadata) error {
	req := submitListensRequest{
		ListenType: listenTypePlayingNow,
		Payload:    []listenPayload{{TrackMetadata: newTrackMetadata(meta)}},
	}
	if err := c.postAcknowledged(ctx, account.Token, "/submit-listens", &req); err != nil {
		return fmt.Errorf("submit playing now: %w", err)
	}
	return nil
}

// SubmitFeedback records a feedback score (love/hate/neutral) for a
// recording.
func (c *Client) SubmitFeedback(ctx context.Context, account *models.Account, recordingMBID string, score int) error {
	req := feedbackRequest{RecordingMBID: recordingMBID, Score: score}
	if err := c.postAcknowledged(ctx, account.Token, "/feedback/recording-feedback", &req); err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}
	return nil
}

// FetchUserListens retrieves a page of the user's listen history, newest
// first.
func (c *Client) FetchUserListens(ctx context.Context, account *models.Account, username string, count int) (*UserListensPage, error) {
	params := url.Values{}
	if count > 0 {
		params.Set("count", strconv.Itoa(count))
	}

	endpoint := "/user/" + url.PathEscape(username) + "/listens"
	resp, err := c.get(ctx, account.Token, endpoint, params)
	if err != nil {
		return nil, fmt.Errorf("fetch user listens: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(resp); err != nil {
		return nil, fmt.Errorf("fetch user listens: %w", err)
	}

	var decoded userListensResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("fetch user listens: %w: %v", ErrValidation, err)
	}
	if decoded.Payload == nil {
		// A successful decode still requires the expected result shape.
		return nil, fmt.Errorf("fetch user listens: %w: empty payload", ErrValidation)
	}
	return decoded.Payload, nil
}

// get performs an authenticated GET with URL-encoded parameters.
func (c *Client) get(ctx context.Context, token, endpoint string, params url.Values) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	fullURL := c.baseURL + apiPrefix + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	return c.sender.Do(ctx, &transport.Request{
		Method: http.MethodGet,
		URL:    fullURL,
		Header: c.headers(token),
	})
}

// postAcknowledged performs an authenticated JSON POST and requires the
// standard {"status": "ok"} acknowledgement in the response body.
func (c *Client) postAcknowledged(ctx context.Context, token, endpoint string, body any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := c.sender.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + apiPrefix + endpoint,
		Header: c.headers(token),
		Body:   encoded,
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(resp); err != nil {
		return err
	}

	var ack statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return fmt.Errorf("%w: undecodable acknowledgement: %v", ErrValidation, err)
	}
	if ack.Status != "ok" {
		return fmt.Errorf("%w: acknowledgement status %q", ErrValidation, ack.Status)
	}
	return nil
}

// headers builds the common request headers for a token.
func (c *Client) headers(token string) http.Header {
	header := http.Header{}
	header.Set("Authorization", "Token "+token)
	header.Set("Accept", "application/json")
	header.Set("Content-Type", "application/json")
	return header
}

// checkStatus converts non-2xx responses into typed errors. 429 carries
// the rate-limit reset hint; other failures are validation failures since
// the transport already absorbed everything transient.
func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitedError{ResetIn: parseResetHeader(resp)}
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if readErr != nil {
		return fmt.Errorf("%w: status %d (failed to read body)", ErrValidation, resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d: %s", ErrValidation, resp.StatusCode, strings.TrimSpace(string(body)))
}

// parseResetHeader reads the X-RateLimit-Reset-In header (whole seconds).
func parseResetHeader(resp *http.Response) time.Duration {
	raw := resp.Header.Get(rateLimitResetHeader)
	if raw == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
