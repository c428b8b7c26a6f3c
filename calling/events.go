/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"sync"
	"time"

	"github.com/tejzpr/callconsole-go/session"
)

// ---- Event union ----

// Event is a callback from the signaling layer, queued for the orchestrator.
// It is one of DialogEvent, RegistrationEvent or ServerEvent.
type Event interface {
	isEvent()
}

// DialogEvent is a call lifecycle transition.
type DialogEvent struct {
	Kind    session.EventKind
	Session session.CallSession
	At      time.Time
}

// RegistrationEvent reports a REGISTER outcome from the server.
type RegistrationEvent struct {
	Registered bool

	generation uint64
}

// ServerEvent reports signaling connection changes.
type ServerEvent struct {
	Connected bool
	Err       error
}

func (DialogEvent) isEvent()       {}
func (RegistrationEvent) isEvent() {}
func (ServerEvent) isEvent()       {}

// ---- Event Emitter ----

// emitter is a typed pub/sub list. Handlers run on the emitting goroutine.
type emitter[T any] struct {
	mu       sync.RWMutex
	handlers []func(T)
}

// On registers a handler
func (e *emitter[T]) On(handler func(T)) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
}

// Emit calls all registered handlers
func (e *emitter[T]) Emit(v T) {
	e.mu.RLock()
	handlers := make([]func(T), len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(v)
	}
}

// ---- Delegate ----

// queue is the Delegate handed to each SessionManager. It stamps events
// with the console clock and pushes them onto the orchestrator's channel.
// Registration callbacks carry the session generation so that a torn-down
// session cannot flip the state of its replacement.
type queue struct {
	o          *Orchestrator
	generation uint64
}

func (q *queue) dialog(kind session.EventKind, s session.CallSession) {
	q.o.enqueue(DialogEvent{Kind: kind, Session: s, At: q.o.clock.Now()})
}

func (q *queue) OnCallCreated(s session.CallSession)  { q.dialog(session.EventCreated, s) }
func (q *queue) OnCallReceived(s session.CallSession) { q.dialog(session.EventReceived, s) }
func (q *queue) OnCallAnswered(s session.CallSession) { q.dialog(session.EventAnswered, s) }
func (q *queue) OnCallHangup(s session.CallSession)   { q.dialog(session.EventHungUp, s) }

func (q *queue) OnRegistered() {
	q.o.enqueue(RegistrationEvent{Registered: true, generation: q.generation})
}

func (q *queue) OnUnregistered() {
	q.o.enqueue(RegistrationEvent{Registered: false, generation: q.generation})
}

func (q *queue) OnServerConnect() {
	q.o.enqueue(ServerEvent{Connected: true})
}

func (q *queue) OnServerDisconnect(err error) {
	q.o.enqueue(ServerEvent{Connected: false, Err: err})
}
