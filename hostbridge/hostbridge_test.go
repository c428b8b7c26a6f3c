/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package hostbridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/callconsole-go/calling"
	"github.com/tejzpr/callconsole-go/consolesdk"
	"github.com/tejzpr/callconsole-go/session"
)

type recordingShell struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingShell) record(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
	return r.err
}

func (r *recordingShell) OutgoingCall(_ context.Context, id, name string) error {
	return r.record("OutgoingCall " + id + " " + name)
}

func (r *recordingShell) AcceptCall(_ context.Context, id string) error {
	return r.record("AcceptCall " + id)
}

func (r *recordingShell) HangupCall(_ context.Context, id string) error {
	return r.record("HangupCall " + id)
}

func (r *recordingShell) StopRingtone(context.Context) error {
	return r.record("StopRingtone")
}

func (r *recordingShell) WebViewToFlutter(_ context.Context, event, id, name string) error {
	return r.record("WebViewToFlutter " + event + " " + id + " " + name)
}

func (r *recordingShell) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func apply(store *session.Store, kind session.EventKind, s session.CallSession, offset time.Duration) {
	store.Apply(session.Event{Kind: kind, Session: s, At: t0.Add(offset)})
}

func TestBridgeOutgoingCall(t *testing.T) {
	shell := &recordingShell{}
	store := session.NewStore(consolesdk.DiscardLogger())
	detach := New(shell, consolesdk.DiscardLogger()).Attach(store)
	defer detach()

	s := session.CallSession{
		ID:            "c-1",
		Direction:     session.DirectionOutgoing,
		RemoteHeaders: map[string]string{"X-Callee-Name": "Ada Lovelace"},
	}
	apply(store, session.EventCreated, s, 0)
	apply(store, session.EventAnswered, s, 5*time.Second)
	apply(store, session.EventHungUp, s, 65*time.Second)

	assert.Equal(t, []string{
		"OutgoingCall c-1 Ada Lovelace",
		"AcceptCall c-1",
		"StopRingtone",
		"StopRingtone",
		"HangupCall c-1",
	}, shell.got())
}

func TestBridgeIncomingCall(t *testing.T) {
	shell := &recordingShell{}
	store := session.NewStore(consolesdk.DiscardLogger())
	detach := New(shell, consolesdk.DiscardLogger()).Attach(store)

	s := session.CallSession{ID: "c-2", Direction: session.DirectionIncoming}
	apply(store, session.EventReceived, s, 0)
	store.SetActive("c-2")
	assert.Equal(t, []string{"WebViewToFlutter IncomingCall c-2 c-2"}, shell.got(), "activation is not forwarded")

	detach()
	apply(store, session.EventHungUp, s, time.Second)
	assert.Len(t, shell.got(), 1, "detached bridge is silent")
}

func TestBridgeIncomingCreatedIsSilent(t *testing.T) {
	shell := &recordingShell{}
	b := New(shell, consolesdk.DiscardLogger())
	b.Handle(session.Change{Kind: session.EventCreated, Session: session.CallSession{ID: "c-3", Direction: session.DirectionIncoming}})
	assert.Empty(t, shell.got())
}

func TestBridgeShellErrorsAreSwallowed(t *testing.T) {
	shell := &recordingShell{err: errors.New("bridge gone")}
	b := New(shell, consolesdk.DiscardLogger())
	b.Handle(session.Change{Kind: session.EventHungUp, Session: session.CallSession{ID: "c-4"}})
	assert.Equal(t, []string{"StopRingtone", "HangupCall c-4"}, shell.got())

	New(nil, nil).Handle(session.Change{Kind: session.EventHungUp})
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		headers map[string]string
		want    string
	}{
		{map[string]string{calling.HeaderCalleeName: "Ada", calling.HeaderClientName: "Bob"}, "Ada"},
		{map[string]string{calling.HeaderClientName: "Bob"}, "Bob"},
		{map[string]string{"X-Client-Name": "Bob"}, "Bob"},
		{map[string]string{calling.HeaderCalleeNumber: "+15550002"}, "+15550002"},
		{map[string]string{calling.HeaderCalleeID: "crm-7"}, "c-9"},
		{nil, "c-9"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, displayName(session.CallSession{ID: "c-9", RemoteHeaders: tt.headers}))
	}
}

func TestWebSocketShell(t *testing.T) {
	frames := make(chan Frame, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var f Frame
			if err := ws.ReadJSON(&f); err != nil {
				return
			}
			frames <- f
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	shell, err := DialShell(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	require.NoError(t, shell.OutgoingCall(ctx, "c-1", "Ada"))
	require.NoError(t, shell.WebViewToFlutter(ctx, EventIncomingCall, "c-2", "Bob"))
	require.NoError(t, shell.StopRingtone(ctx))

	want := []Frame{
		{Method: MethodOutgoingCall, Args: []string{"c-1", "Ada"}},
		{Method: MethodWebViewToFlutter, Args: []string{EventIncomingCall, "c-2", "Bob"}},
		{Method: MethodStopRingtone},
	}
	for _, w := range want {
		select {
		case f := <-frames:
			assert.Equal(t, w, f)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", w.Method)
		}
	}

	require.NoError(t, shell.Close())
	require.NoError(t, shell.Close())
	assert.Error(t, shell.AcceptCall(ctx, "c-1"))
}

func TestDialShellFails(t *testing.T) {
	_, err := DialShell(context.Background(), "ws://127.0.0.1:1/shell", nil)
	assert.Error(t, err)
}
