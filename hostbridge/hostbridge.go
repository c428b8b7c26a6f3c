/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package hostbridge tells an embedding host shell (a mobile wrapper around
// the console) about call lifecycle changes. Notifications are one-way; the
// console never waits on the shell.
package hostbridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/tejzpr/callconsole-go/calling"
	"github.com/tejzpr/callconsole-go/session"
)

// Method names understood by host shells.
const (
	MethodOutgoingCall     = "OutgoingCall"
	MethodAcceptCall       = "AcceptCall"
	MethodHangupCall       = "HangupCall"
	MethodStopRingtone     = "StopRingtone"
	MethodWebViewToFlutter = "WebViewToFlutter"

	// EventIncomingCall is the event name passed through WebViewToFlutter.
	EventIncomingCall = "IncomingCall"
)

// Shell is the host side of the bridge.
type Shell interface {
	OutgoingCall(ctx context.Context, id, name string) error
	AcceptCall(ctx context.Context, id string) error
	HangupCall(ctx context.Context, id string) error
	StopRingtone(ctx context.Context) error
	WebViewToFlutter(ctx context.Context, event, id, name string) error
}

// nameHeaders are tried in order for the display name shown by the host.
var nameHeaders = []string{calling.HeaderCalleeName, calling.HeaderClientName, calling.HeaderCalleeNumber}

// Bridge forwards session store changes to a Shell.
type Bridge struct {
	shell   Shell
	logger  *slog.Logger
	timeout time.Duration
}

// New creates a Bridge. A nil logger uses slog.Default().
func New(shell Shell, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{shell: shell, logger: logger.With("component", "hostbridge"), timeout: 2 * time.Second}
}

// Attach subscribes the bridge to store and returns the unsubscribe func.
func (b *Bridge) Attach(store *session.Store) func() {
	return store.Subscribe(b.Handle)
}

// Handle forwards one change.
func (b *Bridge) Handle(c session.Change) {
	if b.shell == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	id, name := c.Session.ID, displayName(c.Session)
	switch c.Kind {
	case session.EventCreated:
		if c.Session.Direction == session.DirectionOutgoing {
			b.call(MethodOutgoingCall, id, b.shell.OutgoingCall(ctx, id, name))
		}
	case session.EventReceived:
		b.call(MethodWebViewToFlutter, id, b.shell.WebViewToFlutter(ctx, EventIncomingCall, id, name))
	case session.EventAnswered:
		b.call(MethodAcceptCall, id, b.shell.AcceptCall(ctx, id))
		b.call(MethodStopRingtone, id, b.shell.StopRingtone(ctx))
	case session.EventHungUp:
		b.call(MethodStopRingtone, id, b.shell.StopRingtone(ctx))
		b.call(MethodHangupCall, id, b.shell.HangupCall(ctx, id))
	}
}

func (b *Bridge) call(method, id string, err error) {
	if err != nil {
		b.logger.Warn("Host shell call failed", "method", method, "call", id, "error", err)
		return
	}
	b.logger.Debug("Host shell notified", "method", method, "call", id)
}

func displayName(s session.CallSession) string {
	for _, h := range nameHeaders {
		if v := s.Header(h); v != "" {
			return v
		}
	}
	return s.ID
}
