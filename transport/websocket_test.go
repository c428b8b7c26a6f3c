/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/callconsole-go/consolesdk"
)

// callServer accepts sockets, answers the authorization frame and then
// echoes application frames back.
type callServer struct {
	*httptest.Server

	reject      bool
	connections atomic.Int32

	mu      sync.Mutex
	conns   []*websocket.Conn
	headers []http.Header
}

func newCallServer(t *testing.T, reject bool) *callServer {
	t.Helper()
	cs := &callServer{reject: reject}
	upgrader := websocket.Upgrader{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cs.connections.Add(1)
		cs.mu.Lock()
		cs.conns = append(cs.conns, ws)
		cs.headers = append(cs.headers, r.Header.Clone())
		cs.mu.Unlock()

		var auth Message
		if err := ws.ReadJSON(&auth); err != nil || auth.Type != TypeAuthorization {
			_ = ws.Close()
			return
		}
		if cs.reject {
			_ = ws.WriteJSON(Message{Type: TypeError, Data: json.RawMessage(`"invalid token"`)})
			_ = ws.Close()
			return
		}
		_ = ws.WriteJSON(Message{Type: TypeAuthorized})

		for {
			var msg Message
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			_ = ws.WriteJSON(msg)
		}
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *callServer) wsURL() string {
	return "ws" + strings.TrimPrefix(cs.URL, "http")
}

// dropLatest closes the most recent server-side socket.
func (cs *callServer) dropLatest() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if n := len(cs.conns); n > 0 {
		_ = cs.conns[n-1].Close()
	}
}

func newTestWebSocket(t *testing.T, cs *callServer) *WebSocketTransport {
	t.Helper()
	core, err := consolesdk.NewClient("", &consolesdk.Config{Logger: consolesdk.DiscardLogger()})
	require.NoError(t, err)
	tr := NewWebSocket(core, &Config{URL: cs.wsURL(), AuthTimeout: 2 * time.Second})
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestWebSocketOpen(t *testing.T) {
	cs := newCallServer(t, false)
	tr := newTestWebSocket(t, cs)

	var connects atomic.Int32
	tr.OnConnect(func() { connects.Add(1) })

	require.NoError(t, tr.Open(context.Background(), "tok"))
	assert.True(t, tr.IsConnected())
	assert.EqualValues(t, 1, connects.Load())

	// Opening an open transport is a no-op.
	require.NoError(t, tr.Open(context.Background(), "tok"))
	assert.EqualValues(t, 1, cs.connections.Load())

	cs.mu.Lock()
	h := cs.headers[0]
	cs.mu.Unlock()
	assert.Equal(t, "Bearer tok", h.Get("Authorization"))
	assert.True(t, strings.HasPrefix(h.Get("TrackingID"), "callconsole_"))
}

func TestWebSocketAuthorizationRejected(t *testing.T) {
	cs := newCallServer(t, true)
	tr := newTestWebSocket(t, cs)

	err := tr.Open(context.Background(), "bad")
	require.Error(t, err)
	assert.True(t, consolesdk.IsKind(err, consolesdk.KindPermission))
	assert.False(t, tr.IsConnected())
}

func TestWebSocketInvalidURL(t *testing.T) {
	tr := NewWebSocket(nil, &Config{URL: "http://example.invalid"})
	assert.Error(t, tr.Open(context.Background(), "tok"))
	assert.False(t, tr.IsConnected())
}

func TestWebSocketServerDropIsNotRepaired(t *testing.T) {
	cs := newCallServer(t, false)
	tr := newTestWebSocket(t, cs)

	lost := make(chan error, 4)
	tr.OnDisconnect(func(err error) { lost <- err })

	require.NoError(t, tr.Open(context.Background(), "tok"))
	cs.dropLatest()

	select {
	case err := <-lost:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a disconnect notification")
	}
	assert.False(t, tr.IsConnected())

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, cs.connections.Load(), "transport must not reconnect on its own")
	assert.Empty(t, lost)
}

func TestWebSocketReconnect(t *testing.T) {
	cs := newCallServer(t, false)
	tr := newTestWebSocket(t, cs)

	require.NoError(t, tr.Open(context.Background(), "tok"))
	require.NoError(t, tr.Reconnect(context.Background()))
	assert.True(t, tr.IsConnected())
	assert.EqualValues(t, 2, cs.connections.Load())
}

func TestWebSocketReconnectUsesLatestToken(t *testing.T) {
	cs := newCallServer(t, false)
	tr := newTestWebSocket(t, cs)

	lost := make(chan error, 1)
	tr.OnDisconnect(func(err error) { lost <- err })

	require.NoError(t, tr.Open(context.Background(), "token-a"))
	require.NoError(t, tr.Open(context.Background(), "token-b"))
	assert.EqualValues(t, 1, cs.connections.Load())

	cs.dropLatest()
	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a disconnect notification")
	}

	require.NoError(t, tr.Reconnect(context.Background()))
	cs.mu.Lock()
	defer cs.mu.Unlock()
	require.Len(t, cs.headers, 2)
	assert.Equal(t, "Bearer token-a", cs.headers[0].Get("Authorization"))
	assert.Equal(t, "Bearer token-b", cs.headers[1].Get("Authorization"))
}

func TestWebSocketReconnectWithoutToken(t *testing.T) {
	tr := NewWebSocket(nil, &Config{URL: "ws://127.0.0.1:1"})
	assert.Error(t, tr.Reconnect(context.Background()))
}

func TestWebSocketCloseReportsCleanDisconnect(t *testing.T) {
	cs := newCallServer(t, false)
	tr := newTestWebSocket(t, cs)

	var (
		mu   sync.Mutex
		errs []error
	)
	tr.OnDisconnect(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	require.NoError(t, tr.Open(context.Background(), "tok"))
	require.NoError(t, tr.Close())
	assert.False(t, tr.IsConnected())

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1)
	assert.NoError(t, errs[0])

	assert.NoError(t, tr.Close(), "closing twice is harmless")
}

func TestWebSocketSendAndReceive(t *testing.T) {
	cs := newCallServer(t, false)
	tr := newTestWebSocket(t, cs)

	got := make(chan Message, 1)
	tr.OnMessage(func(m Message) { got <- m })

	assert.ErrorIs(t, tr.Send(Message{Type: "ping"}), consolesdk.ErrNotConnected)

	require.NoError(t, tr.Open(context.Background(), "tok"))
	require.NoError(t, tr.Send(Message{ID: "1", Type: "presence"}))

	select {
	case m := <-got:
		assert.Equal(t, "presence", m.Type)
		assert.Equal(t, "1", m.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected echoed frame")
	}
}
