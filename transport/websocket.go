/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"k8s.io/utils/clock"

	"github.com/tejzpr/callconsole-go/consolesdk"
)

// Message types used by the authorization handshake.
const (
	TypeAuthorization = "authorization"
	TypeAuthorized    = "authorized"
	TypeError         = "error"
)

// Config holds the configuration for the WebSocket transport
type Config struct {
	URL              string        // wss:// endpoint of the call server
	PingInterval     time.Duration // Interval between ping messages
	PongTimeout      time.Duration // Timeout for receiving a pong response
	HandshakeTimeout time.Duration // Timeout for the WebSocket upgrade
	AuthTimeout      time.Duration // Timeout for the authorization reply
	Header           http.Header   // Extra headers sent with the upgrade request
}

// DefaultConfig returns the default configuration for the WebSocket transport
func DefaultConfig() *Config {
	return &Config{
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		AuthTimeout:      30 * time.Second,
	}
}

// connection is one live socket with its own stop signal.
type connection struct {
	ws   *websocket.Conn
	stop chan struct{}
	once sync.Once
}

func (c *connection) shutdown() {
	c.once.Do(func() {
		close(c.stop)
		_ = c.ws.Close()
	})
}

// WebSocketTransport is a Transport over gorilla/websocket. A lost
// connection is reported through OnDisconnect and is not re-established
// until Reconnect or Open is called.
type WebSocketTransport struct {
	config *Config
	logger *slog.Logger
	clock  clock.WithTicker
	dialer *websocket.Dialer

	mu         sync.Mutex
	cur        *connection
	token      string
	connected  bool
	connecting bool

	writeMu sync.Mutex

	hmu          sync.RWMutex
	onConnect    []func()
	onDisconnect []func(error)
	onMessage    []func(Message)
}

// NewWebSocket creates a WebSocket transport
func NewWebSocket(core *consolesdk.Client, config *Config) *WebSocketTransport {
	if config == nil {
		config = DefaultConfig()
	}
	def := DefaultConfig()
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = def.PongTimeout
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = def.HandshakeTimeout
	}
	if config.AuthTimeout <= 0 {
		config.AuthTimeout = def.AuthTimeout
	}

	var clk clock.WithTicker = clock.RealClock{}
	logger := slog.Default()
	if core != nil {
		clk = core.GetClock()
		logger = core.GetLogger()
	}

	return &WebSocketTransport{
		config: config,
		logger: logger.With("component", "transport"),
		clock:  clk,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
	}
}

// Open implements Transport. The token is kept for Reconnect even when the
// transport is already open.
func (t *WebSocketTransport) Open(ctx context.Context, token string) error {
	t.mu.Lock()
	t.token = token
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	if t.connecting {
		t.mu.Unlock()
		return errors.New("connection attempt already in progress")
	}
	t.connecting = true
	t.mu.Unlock()

	ws, err := t.dial(ctx, token)
	if err == nil {
		if err = t.authenticate(ctx, ws, token); err != nil {
			_ = ws.Close()
		}
	}
	if err != nil {
		t.mu.Lock()
		t.connecting = false
		t.mu.Unlock()
		return err
	}

	c := &connection{ws: ws, stop: make(chan struct{})}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Time{})
	})

	t.mu.Lock()
	t.cur = c
	t.connected = true
	t.connecting = false
	t.mu.Unlock()

	go t.pingLoop(c)
	go t.listen(c)

	t.logger.Info("Transport connected", "url", t.config.URL)
	t.emitConnect()
	return nil
}

// Reconnect implements Transport.
func (t *WebSocketTransport) Reconnect(ctx context.Context) error {
	t.mu.Lock()
	token := t.token
	t.mu.Unlock()
	if token == "" {
		return errors.New("no token to reconnect with")
	}

	_ = t.Close()
	return t.Open(ctx, token)
}

// Close implements Transport.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	c := t.cur
	wasConnected := t.connected
	t.cur = nil
	t.connected = false
	t.mu.Unlock()

	if c == nil {
		return nil
	}

	t.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Disconnected by client"),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	c.shutdown()

	if wasConnected {
		t.emitDisconnect(nil)
	}
	return nil
}

// IsConnected implements Transport.
func (t *WebSocketTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Send writes one JSON frame.
func (t *WebSocketTransport) Send(msg Message) error {
	t.mu.Lock()
	c := t.cur
	t.mu.Unlock()
	if c == nil {
		return consolesdk.ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s message: %w", msg.Type, err)
	}
	return nil
}

// OnConnect implements Transport.
func (t *WebSocketTransport) OnConnect(fn func()) {
	if fn == nil {
		return
	}
	t.hmu.Lock()
	t.onConnect = append(t.onConnect, fn)
	t.hmu.Unlock()
}

// OnDisconnect implements Transport.
func (t *WebSocketTransport) OnDisconnect(fn func(error)) {
	if fn == nil {
		return
	}
	t.hmu.Lock()
	t.onDisconnect = append(t.onDisconnect, fn)
	t.hmu.Unlock()
}

// OnMessage registers a handler for frames other than the handshake.
func (t *WebSocketTransport) OnMessage(fn func(Message)) {
	if fn == nil {
		return
	}
	t.hmu.Lock()
	t.onMessage = append(t.onMessage, fn)
	t.hmu.Unlock()
}

// prepareURL adds the client timestamp query parameter
func (t *WebSocketTransport) prepareURL() (string, error) {
	u, err := url.Parse(t.config.URL)
	if err != nil {
		return "", fmt.Errorf("invalid WebSocket URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid WebSocket URL scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("clientTimestamp", strconv.FormatInt(t.clock.Now().UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dial establishes a WebSocket connection with the bearer token
func (t *WebSocketTransport) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	target, err := t.prepareURL()
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	for k, v := range t.config.Header {
		headers[k] = append([]string(nil), v...)
	}
	headers.Set("Authorization", "Bearer "+token)
	headers.Set("TrackingID", "callconsole_"+uuid.New().String())

	ws, resp, err := t.dialer.DialContext(ctx, target, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to WebSocket (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	return ws, nil
}

// authenticate sends the authorization frame and waits for the reply
func (t *WebSocketTransport) authenticate(ctx context.Context, ws *websocket.Conn, token string) error {
	data, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return fmt.Errorf("failed to marshal auth message: %w", err)
	}
	if err := ws.WriteJSON(Message{ID: uuid.New().String(), Type: TypeAuthorization, Data: data}); err != nil {
		return fmt.Errorf("failed to send auth message: %w", err)
	}

	deadline := time.Now().Add(t.config.AuthTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ws.SetReadDeadline(deadline); err != nil {
		return err
	}
	defer ws.SetReadDeadline(time.Time{})

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				continue
			}
			return fmt.Errorf("error reading auth response: %w", err)
		}
		switch msg.Type {
		case TypeAuthorized:
			return nil
		case TypeError:
			return consolesdk.Permission("authorize", fmt.Errorf("authorization failed: %s", string(msg.Data)))
		}
	}
}

// listen reads frames until the connection fails or is closed
func (t *WebSocketTransport) listen(c *connection) {
	var err error
	for {
		var raw []byte
		_, raw, err = c.ws.ReadMessage()
		if err != nil {
			break
		}
		var msg Message
		if jsonErr := json.Unmarshal(raw, &msg); jsonErr != nil {
			t.logger.Debug("Ignoring malformed frame", "error", jsonErr)
			continue
		}
		t.dispatch(msg)
	}

	t.mu.Lock()
	current := t.cur == c
	if current {
		t.cur = nil
		t.connected = false
	}
	t.mu.Unlock()
	c.shutdown()

	if current {
		t.logger.Warn("Transport connection lost", "error", err)
		t.emitDisconnect(err)
	}
}

// pingLoop keeps the connection alive; a failed ping tears the socket down
// and listen reports the loss.
func (t *WebSocketTransport) pingLoop(c *connection) {
	ticker := t.clock.NewTicker(t.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			if err := t.ping(c); err != nil {
				t.logger.Warn("Ping failed", "error", err)
				c.shutdown()
				return
			}
		case <-c.stop:
			return
		}
	}
}

func (t *WebSocketTransport) ping(c *connection) error {
	if err := c.ws.SetReadDeadline(time.Now().Add(t.config.PongTimeout)); err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	payload := []byte(strconv.FormatInt(t.clock.Now().UnixMilli(), 10))
	return c.ws.WriteControl(websocket.PingMessage, payload, time.Now().Add(t.config.PongTimeout))
}

func (t *WebSocketTransport) dispatch(msg Message) {
	t.hmu.RLock()
	handlers := make([]func(Message), len(t.onMessage))
	copy(handlers, t.onMessage)
	t.hmu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (t *WebSocketTransport) emitConnect() {
	t.hmu.RLock()
	handlers := make([]func(), len(t.onConnect))
	copy(handlers, t.onConnect)
	t.hmu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (t *WebSocketTransport) emitDisconnect(err error) {
	t.hmu.RLock()
	handlers := make([]func(error), len(t.onDisconnect))
	copy(handlers, t.onDisconnect)
	t.hmu.RUnlock()
	for _, h := range handlers {
		h(err)
	}
}
