// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

package jellyfin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// mockNotificationServer simulates the Jellyfin /socket endpoint.
type mockNotificationServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	connChan chan *websocket.Conn
}

func newMockNotificationServer() *mockNotificationServer {
	mock := &mockNotificationServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		connChan: make(chan *websocket.Conn, 1),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "test-api-key" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := mock.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mock.connChan <- conn
	}))

	return mock
}

func (m *mockNotificationServer) close() {
	m.server.Close()
}

func (m *mockNotificationServer) wsURL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http") + "/socket?api_key=test-api-key&deviceId=listenbridge"
}

func (m *mockNotificationServer) send(conn *websocket.Conn, msgType string, data interface{}) error {
	msg := WSMessage{MessageType: msgType}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return err
		}
		msg.Data = payload
	}
	return conn.WriteJSON(msg)
}

func TestWebSocketClientConnect(t *testing.T) {
	mock := newMockNotificationServer()
	defer mock.close()

	client := NewWebSocketClient(mock.wsURL())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = client.Close() }()

	if !client.IsConnected() {
		t.Error("expected connected state after Connect")
	}

	// The client subscribes immediately on connect.
	conn := <-mock.connChan
	var sub sessionsStartRequest
	if err := conn.ReadJSON(&sub); err != nil {
		t.Fatalf("read subscription: %v", err)
	}
	if sub.MessageType != "SessionsStart" {
		t.Errorf("expected SessionsStart subscription, got %s", sub.MessageType)
	}
}

func TestWebSocketClientDeliversSessions(t *testing.T) {
	mock := newMockNotificationServer()
	defer mock.close()

	client := NewWebSocketClient(mock.wsURL())

	var mu sync.Mutex
	var received []Session
	done := make(chan struct{})
	client.SetOnSessions(func(sessions []Session) {
		mu.Lock()
		received = sessions
		mu.Unlock()
		close(done)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = client.Close() }()

	conn := <-mock.connChan
	sessions := []Session{audioSession("user-1", "item-1", 500, 1000)}
	if err := mock.send(conn, "Sessions", sessions); err != nil {
		t.Fatalf("send sessions: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for sessions callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].NowPlayingItem.ID != "item-1" {
		t.Errorf("unexpected sessions payload: %+v", received)
	}
}

func TestWebSocketClientIgnoresUnknownMessages(t *testing.T) {
	mock := newMockNotificationServer()
	defer mock.close()

	client := NewWebSocketClient(mock.wsURL())

	called := make(chan struct{}, 1)
	client.SetOnSessions(func([]Session) { called <- struct{}{} })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = client.Close() }()

	conn := <-mock.connChan
	if err := mock.send(conn, "LibraryChanged", map[string]string{"Foo": "Bar"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-called:
		t.Error("non-session message must not invoke the sessions callback")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWebSocketClientClose(t *testing.T) {
	mock := newMockNotificationServer()
	defer mock.close()

	client := NewWebSocketClient(mock.wsURL())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	<-mock.connChan

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected disconnected state after Close")
	}
}
