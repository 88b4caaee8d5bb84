// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

package services

import (
	"context"
	"fmt"
)

// NotificationSocket matches the Jellyfin WebSocket client's lifecycle.
// The client handles reconnection internally; the service only owns
// connect and close.
type NotificationSocket interface {
	Connect(ctx context.Context) error
	Close() error
}

// WebSocketService wraps the Jellyfin notification socket as a
// supervised service.
type WebSocketService struct {
	socket NotificationSocket
	name   string
}

// NewWebSocketService creates a notification socket service wrapper.
func NewWebSocketService(socket NotificationSocket) *WebSocketService {
	return &WebSocketService{
		socket: socket,
		name:   "jellyfin-notifications",
	}
}

// Serve implements suture.Service. A failed initial connect is returned
// to suture so its backoff policy drives the retry; once connected, the
// socket reconnects on its own.
func (s *WebSocketService) Serve(ctx context.Context) error {
	if err := s.socket.Connect(ctx); err != nil {
		return fmt.Errorf("notification socket connect failed: %w", err)
	}

	<-ctx.Done()

	if err := s.socket.Close(); err != nil {
		return fmt.Errorf("notification socket close failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer; suture uses it in log messages.
func (s *WebSocketService) String() string {
	return s.name
}
