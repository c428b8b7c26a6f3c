/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package consolesdk

import (
	"log/slog"
	"sync"
)

// Severity of a user notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is a transient, user-visible message.
type Notification struct {
	Severity Severity
	Message  string
	Err      error
}

// Notifier delivers user-visible notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(n Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the notification at a level matching its severity.
func (l LogNotifier) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"notification", true}
	if n.Err != nil {
		attrs = append(attrs, "error", n.Err)
	}
	switch n.Severity {
	case SeverityError:
		logger.Error(n.Message, attrs...)
	case SeverityWarning:
		logger.Warn(n.Message, attrs...)
	default:
		logger.Info(n.Message, attrs...)
	}
}

// ChannelNotifier buffers notifications for a UI to drain. When the buffer is
// full new notifications are dropped.
type ChannelNotifier struct {
	mu     sync.Mutex
	ch     chan Notification
	closed bool
}

// NewChannelNotifier creates a ChannelNotifier with the given buffer size.
func NewChannelNotifier(size int) *ChannelNotifier {
	if size <= 0 {
		size = 16
	}
	return &ChannelNotifier{ch: make(chan Notification, size)}
}

// Notify enqueues n without blocking.
func (c *ChannelNotifier) Notify(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- n:
	default:
	}
}

// C returns the notification channel.
func (c *ChannelNotifier) C() <-chan Notification {
	return c.ch
}

// Close closes the channel. Later notifications are dropped.
func (c *ChannelNotifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
