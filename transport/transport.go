/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package transport maintains the console's signaling connection to the
// call server. Transports never reconnect on their own; the Supervisor
// decides when to reconnect.
package transport

import (
	"context"
	"encoding/json"
)

// ConnectionState is the supervisor's view of the transport
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)

// Message is one JSON frame exchanged with the call server.
type Message struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Transport is a signaling connection authenticated with a bearer token.
type Transport interface {
	// Open connects and authenticates with token.
	Open(ctx context.Context, token string) error
	// Reconnect drops any current connection and opens a new one with the
	// last token.
	Reconnect(ctx context.Context) error
	// Close disconnects deliberately.
	Close() error
	// IsConnected reports whether the connection is up.
	IsConnected() bool
	// OnConnect registers a handler for successful connections.
	OnConnect(fn func())
	// OnDisconnect registers a handler for lost or closed connections. err
	// is nil after a deliberate Close.
	OnDisconnect(fn func(err error))
}
