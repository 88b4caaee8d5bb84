// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

// mockHTTPServer implements HTTPServer.
type mockHTTPServer struct {
	listenErr   error
	shutdownErr error
	done        chan struct{}
	shutdowns   atomic.Int32
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{done: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.done
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	close(m.done)
	return m.shutdownErr
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	server := newMockHTTPServer()
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	if server.shutdowns.Load() != 1 {
		t.Errorf("expected exactly one shutdown, got %d", server.shutdowns.Load())
	}
}

func TestHTTPServerServiceListenFailure(t *testing.T) {
	server := newMockHTTPServer()
	server.listenErr = errors.New("bind: address already in use")
	svc := NewHTTPServerService(server, time.Second)

	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("expected error on listen failure")
	}
}

// mockLifecycle implements PlaybackMonitor and ResubmissionScheduler.
type mockLifecycle struct {
	startErr error
	started  atomic.Int32
	stopped  atomic.Int32
}

func (m *mockLifecycle) Start(context.Context) error {
	m.started.Add(1)
	return m.startErr
}

func (m *mockLifecycle) Stop() { m.stopped.Add(1) }

type mockSchedulerLifecycle struct {
	mockLifecycle
	stopErr error
}

func (m *mockSchedulerLifecycle) Stop() error {
	m.stopped.Add(1)
	return m.stopErr
}

func TestMonitorServiceLifecycle(t *testing.T) {
	monitor := &mockLifecycle{}
	svc := NewMonitorService(monitor)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	if monitor.started.Load() != 1 || monitor.stopped.Load() != 1 {
		t.Errorf("expected start/stop once, got %d/%d", monitor.started.Load(), monitor.stopped.Load())
	}
}

func TestMonitorServiceStartFailure(t *testing.T) {
	monitor := &mockLifecycle{startErr: errors.New("jellyfin unreachable")}
	svc := NewMonitorService(monitor)

	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("expected error when start fails")
	}
	if monitor.stopped.Load() != 0 {
		t.Error("stop must not be called when start failed")
	}
}

func TestSchedulerServiceLifecycle(t *testing.T) {
	scheduler := &mockSchedulerLifecycle{}
	svc := NewSchedulerService(scheduler)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	if scheduler.started.Load() != 1 || scheduler.stopped.Load() != 1 {
		t.Errorf("expected start/stop once, got %d/%d", scheduler.started.Load(), scheduler.stopped.Load())
	}
}

// mockSocket implements NotificationSocket.
type mockSocket struct {
	connectErr error
	closed     atomic.Int32
}

func (m *mockSocket) Connect(context.Context) error { return m.connectErr }
func (m *mockSocket) Close() error {
	m.closed.Add(1)
	return nil
}

func TestWebSocketServiceLifecycle(t *testing.T) {
	socket := &mockSocket{}
	svc := NewWebSocketService(socket)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	if socket.closed.Load() != 1 {
		t.Errorf("expected one close, got %d", socket.closed.Load())
	}
}

func TestWebSocketServiceConnectFailure(t *testing.T) {
	socket := &mockSocket{connectErr: errors.New("dial refused")}
	svc := NewWebSocketService(socket)

	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("expected error when connect fails")
	}
}

func TestServiceNames(t *testing.T) {
	if got := NewHTTPServerService(newMockHTTPServer(), 0).String(); got != "http-server" {
		t.Errorf("http service name: got %s", got)
	}
	if got := NewMonitorService(&mockLifecycle{}).String(); got != "playback-monitor" {
		t.Errorf("monitor service name: got %s", got)
	}
	if got := NewSchedulerService(&mockSchedulerLifecycle{}).String(); got != "resubmission-scheduler" {
		t.Errorf("scheduler service name: got %s", got)
	}
	if got := NewWebSocketService(&mockSocket{}).String(); got != "jellyfin-notifications" {
		t.Errorf("websocket service name: got %s", got)
	}
}
