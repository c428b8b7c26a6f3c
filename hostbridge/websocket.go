/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package hostbridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one JSON message posted to the host shell.
type Frame struct {
	Method string   `json:"method"`
	Args   []string `json:"args,omitempty"`
}

// WebSocketShell posts frames to a host shell listening on a WebSocket.
type WebSocketShell struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// DialShell connects to the host shell at url.
func DialShell(ctx context.Context, url string, header http.Header) (*WebSocketShell, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial host shell: %w", err)
	}
	return &WebSocketShell{conn: conn}, nil
}

// OutgoingCall implements Shell.
func (s *WebSocketShell) OutgoingCall(ctx context.Context, id, name string) error {
	return s.send(ctx, Frame{Method: MethodOutgoingCall, Args: []string{id, name}})
}

// AcceptCall implements Shell.
func (s *WebSocketShell) AcceptCall(ctx context.Context, id string) error {
	return s.send(ctx, Frame{Method: MethodAcceptCall, Args: []string{id}})
}

// HangupCall implements Shell.
func (s *WebSocketShell) HangupCall(ctx context.Context, id string) error {
	return s.send(ctx, Frame{Method: MethodHangupCall, Args: []string{id}})
}

// StopRingtone implements Shell.
func (s *WebSocketShell) StopRingtone(ctx context.Context) error {
	return s.send(ctx, Frame{Method: MethodStopRingtone})
}

// WebViewToFlutter implements Shell.
func (s *WebSocketShell) WebViewToFlutter(ctx context.Context, event, id, name string) error {
	return s.send(ctx, Frame{Method: MethodWebViewToFlutter, Args: []string{event, id, name}})
}

func (s *WebSocketShell) send(ctx context.Context, f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("host shell connection closed")
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("failed to send %s: %w", f.Method, err)
	}
	return nil
}

// Close closes the connection.
func (s *WebSocketShell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
