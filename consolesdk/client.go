/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package consolesdk holds the core client shared by every console
// component: authentication state, logger, clock and notification sink.
package consolesdk

import (
	"fmt"
	"log/slog"
	"sync"

	"k8s.io/utils/clock"

	"github.com/tejzpr/callconsole-go/auth"
)

// Config holds the configuration for the core client
type Config struct {
	// Logger is the structured logger for console operations. If nil,
	// slog.Default() is used.
	Logger *slog.Logger

	// Notifier receives user-visible failures. If nil, notifications are
	// written to Logger.
	Notifier Notifier

	// Clock drives every timer in the console. If nil, the real clock is used.
	Clock clock.WithTicker

	// TokenKey verifies access token signatures. If nil, tokens are parsed
	// without verification.
	TokenKey any
}

// DefaultConfig returns a default configuration for the core client
func DefaultConfig() *Config {
	return &Config{}
}

// AuthHandler is called whenever the authentication state changes.
type AuthHandler func(authenticated bool)

// Client is the core console client
type Client struct {
	mu sync.RWMutex

	accessToken string
	identity    *auth.Identity
	credentials auth.Credentials

	logger   *slog.Logger
	notifier Notifier
	clock    clock.WithTicker
	tokenKey any

	authHandlers []AuthHandler
}

// NewClient creates a core client. An empty access token creates an
// unauthenticated client; call SetAccessToken after login.
func NewClient(accessToken string, config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := config.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	c := &Client{
		logger:   logger,
		notifier: notifier,
		clock:    clk,
		tokenKey: config.TokenKey,
	}

	if accessToken != "" {
		id, err := auth.ParseToken(accessToken, c.tokenKey)
		if err != nil {
			return nil, fmt.Errorf("invalid access token: %w", err)
		}
		c.accessToken = accessToken
		c.identity = id
	}

	return c, nil
}

// GetAccessToken returns the raw access token
func (c *Client) GetAccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// GetIdentity returns the parsed identity, or nil when logged out
func (c *Client) GetIdentity() *auth.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// GetCredentials returns the SIP credentials
func (c *Client) GetCredentials() auth.Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credentials
}

// SetCredentials replaces the SIP credentials
func (c *Client) SetCredentials(creds auth.Credentials) {
	c.mu.Lock()
	c.credentials = creds
	c.mu.Unlock()
}

// GetLogger returns the logger used by the console.
func (c *Client) GetLogger() *slog.Logger {
	return c.logger
}

// GetNotifier returns the user notification sink.
func (c *Client) GetNotifier() Notifier {
	return c.notifier
}

// GetClock returns the console clock.
func (c *Client) GetClock() clock.WithTicker {
	return c.clock
}

// IsAuthenticated reports whether a non-expired identity is present.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	id := c.identity
	c.mu.RUnlock()
	return id.Authenticated(c.clock.Now())
}

// IsWebRTCEnabled reports whether the identity carries the WebRTC privilege.
func (c *Client) IsWebRTCEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity.WebRTCEnabled()
}

// SetAccessToken replaces the token and notifies auth handlers.
func (c *Client) SetAccessToken(token string) error {
	id, err := auth.ParseToken(token, c.tokenKey)
	if err != nil {
		return fmt.Errorf("invalid access token: %w", err)
	}

	c.mu.Lock()
	c.accessToken = token
	c.identity = id
	c.mu.Unlock()

	c.emitAuth()
	return nil
}

// Logout clears the token and identity and notifies auth handlers.
func (c *Client) Logout() {
	c.mu.Lock()
	c.accessToken = ""
	c.identity = nil
	c.mu.Unlock()

	c.emitAuth()
}

// OnAuthChange registers a handler for authentication changes.
func (c *Client) OnAuthChange(handler AuthHandler) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	c.authHandlers = append(c.authHandlers, handler)
	c.mu.Unlock()
}

func (c *Client) emitAuth() {
	c.mu.RLock()
	handlers := make([]AuthHandler, len(c.authHandlers))
	copy(handlers, c.authHandlers)
	c.mu.RUnlock()

	authenticated := c.IsAuthenticated()
	for _, h := range handlers {
		h(authenticated)
	}
}
