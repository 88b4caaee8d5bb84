// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

/*
websocket.go - Jellyfin WebSocket Client

WebSocket client for real-time session notifications. Subscribing with
SessionsStart makes Jellyfin push session snapshots far faster than the
polling interval, so track changes are caught close to when they happen.
The polling loop stays on as the fallback when the socket is down.

WebSocket Endpoint: ws://{jellyfin_url}/socket?api_key={api_key}
*/

package jellyfin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/listenbridge/internal/logging"
)

// WSMessage represents a generic Jellyfin WebSocket message.
type WSMessage struct {
	MessageType string          `json:"MessageType"`
	Data        json.RawMessage `json:"Data,omitempty"`
}

// sessionsStartRequest subscribes to session updates. The Data field is
// "initial delay, update interval" in milliseconds.
type sessionsStartRequest struct {
	MessageType string `json:"MessageType"`
	Data        string `json:"Data"`
}

// WebSocketClient maintains the notification connection to Jellyfin.
type WebSocketClient struct {
	wsURL string

	conn   *websocket.Conn
	connMu sync.RWMutex

	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	callbackMu sync.RWMutex
	onSessions func([]Session)
}

// NewWebSocketClient creates a WebSocket client for the given URL, as
// returned by Client.GetWebSocketURL.
func NewWebSocketClient(wsURL string) *WebSocketClient {
	return &WebSocketClient{
		wsURL:    wsURL,
		stopChan: make(chan struct{}),
	}
}

// SetOnSessions registers the callback for session snapshot notifications.
func (c *WebSocketClient) SetOnSessions(callback func([]Session)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onSessions = callback
}

// Connect establishes the WebSocket connection and starts the listener
// and keep-alive goroutines.
func (c *WebSocketClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.conn = conn
	logging.Info().Msg("Jellyfin notification socket connected")

	if err := c.subscribeToSessions(); err != nil {
		logging.Warn().Err(err).Msg("Failed to subscribe to session updates")
	}

	c.wg.Add(2)
	go c.listen(ctx)
	go c.keepAliveLoop(ctx)

	return nil
}

// subscribeToSessions requests session pushes with a 1500ms interval.
func (c *WebSocketClient) subscribeToSessions() error {
	return c.conn.WriteJSON(sessionsStartRequest{
		MessageType: "SessionsStart",
		Data:        "0,1500",
	})
}

// listen processes incoming messages and reconnects on failure with
// capped exponential backoff.
func (c *WebSocketClient) listen(ctx context.Context) {
	defer c.wg.Done()

	reconnectDelay := 1 * time.Second
	const maxReconnectDelay = 32 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		default:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()

			if conn == nil {
				logging.Info().Dur("delay", reconnectDelay).Msg("Notification socket lost, reconnecting")
				select {
				case <-time.After(reconnectDelay):
				case <-ctx.Done():
					return
				case <-c.stopChan:
					return
				}
				reconnectDelay *= 2
				if reconnectDelay > maxReconnectDelay {
					reconnectDelay = maxReconnectDelay
				}

				if err := c.Connect(ctx); err != nil {
					logging.Warn().Err(err).Msg("Reconnection failed")
					continue
				}
				reconnectDelay = 1 * time.Second
				continue
			}

			if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
				logging.Debug().Err(err).Msg("Failed to set read deadline")
			}

			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logging.Info().Msg("Notification socket closed normally")
				} else if ctx.Err() != nil {
					return
				} else {
					logging.Warn().Err(err).Msg("Notification socket read error")
				}
				c.closeConnection()
				continue
			}

			reconnectDelay = 1 * time.Second
			c.handleMessage(message)
		}
	}
}

// handleMessage dispatches one WebSocket message.
func (c *WebSocketClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logging.Debug().Err(err).Msg("Failed to parse notification message")
		return
	}

	switch msg.MessageType {
	case "Sessions":
		var sessions []Session
		if err := json.Unmarshal(msg.Data, &sessions); err != nil {
			logging.Debug().Err(err).Msg("Failed to parse session snapshot")
			return
		}
		c.callbackMu.RLock()
		callback := c.onSessions
		c.callbackMu.RUnlock()
		if callback != nil {
			callback(sessions)
		}

	case "ForceKeepAlive", "KeepAlive":
		// Handled by the keep-alive loop.

	default:
		logging.Debug().Str("type", msg.MessageType).Msg("Ignoring notification message")
	}
}

// keepAliveLoop sends periodic keep-alive messages.
func (c *WebSocketClient) keepAliveLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			var err error
			if conn != nil {
				err = conn.WriteJSON(WSMessage{MessageType: "KeepAlive"})
			}
			c.connMu.Unlock()

			if err != nil {
				logging.Warn().Err(err).Msg("Keep-alive failed")
				c.closeConnection()
			}
		}
	}
}

// closeConnection safely closes the WebSocket connection.
func (c *WebSocketClient) closeConnection() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return
	}

	if err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(1*time.Second),
	); err != nil {
		logging.Debug().Err(err).Msg("Failed to send close message")
	}
	if err := c.conn.Close(); err != nil {
		logging.Debug().Err(err).Msg("Failed to close notification socket")
	}
	c.conn = nil
}

// Close gracefully shuts the client down. Safe to call more than once.
func (c *WebSocketClient) Close() error {
	c.closeOnce.Do(func() { close(c.stopChan) })
	c.closeConnection()
	c.wg.Wait()
	return nil
}

// IsConnected reports whether the socket is currently up.
func (c *WebSocketClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}
