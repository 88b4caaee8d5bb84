// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

package services

import (
	"context"
	"fmt"
)

// PlaybackMonitor matches the playback monitor's lifecycle.
type PlaybackMonitor interface {
	Start(ctx context.Context) error
	Stop()
}

// MonitorService wraps the playback monitor as a supervised service:
// Start begins the polling goroutines, then the service blocks until the
// context is canceled and Stop flushes in-flight playbacks.
type MonitorService struct {
	monitor PlaybackMonitor
	name    string
}

// NewMonitorService creates a playback monitor service wrapper.
func NewMonitorService(monitor PlaybackMonitor) *MonitorService {
	return &MonitorService{
		monitor: monitor,
		name:    "playback-monitor",
	}
}

// Serve implements suture.Service.
func (s *MonitorService) Serve(ctx context.Context) error {
	if err := s.monitor.Start(ctx); err != nil {
		return fmt.Errorf("playback monitor start failed: %w", err)
	}

	<-ctx.Done()

	s.monitor.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer; suture uses it in log messages.
func (s *MonitorService) String() string {
	return s.name
}
