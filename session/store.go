/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package session tracks call sessions, their lifecycle timers and the
// active session.
//
// Events may arrive out of order. A session never moves to a lower-ranked
// state, events for a session that already hung up are dropped, and timer
// fields are merged: each is set once and never moves before an earlier
// field.
package session

import (
	"log/slog"
	"sort"
	"sync"
)

// ChangeHandler receives store changes.
type ChangeHandler func(Change)

// Store holds the live sessions, every timer seen since start, and the
// active session id.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]CallSession
	timers   map[string]Timer
	activeID string

	subMu  sync.RWMutex
	nextID int
	subs   map[int]ChangeHandler

	logger *slog.Logger
}

// NewStore creates an empty store. A nil logger uses slog.Default().
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]CallSession),
		timers:   make(map[string]Timer),
		subs:     make(map[int]ChangeHandler),
		logger:   logger.With("component", "session"),
	}
}

// Apply records a dialog event and reports whether it changed the store.
//
//   - created/received/answered replace the session object and make it active
//   - hungup removes the session from the live set, keeps its timer, and
//     clears the active id if it pointed at that session
//   - the matching timer field is set only if it is still unset
func (s *Store) Apply(ev Event) bool {
	sess := ev.Session.clone()
	if sess.ID == "" {
		s.logger.Warn("Dropping dialog event without session id", "kind", ev.Kind)
		return false
	}
	if implied := ev.Kind.impliedState(); sess.State.rank() < implied.rank() {
		sess.State = implied
	}

	s.mu.Lock()
	timer, seen := s.timers[sess.ID]

	if seen && timer.HangupAt != nil {
		s.mu.Unlock()
		s.logger.Debug("Ignoring event for ended session", "kind", ev.Kind, "session", sess.ID)
		return false
	}
	if cur, ok := s.sessions[sess.ID]; ok && sess.State.rank() < cur.State.rank() {
		s.mu.Unlock()
		s.logger.Debug("Ignoring stale transition", "kind", ev.Kind, "session", sess.ID,
			"from", cur.State, "to", sess.State)
		return false
	}

	if !seen {
		timer = Timer{CreatedAt: ev.At}
	}
	at := ev.At
	switch ev.Kind {
	case EventAnswered:
		if timer.AnsweredAt == nil {
			if at.Before(timer.CreatedAt) {
				at = timer.CreatedAt
			}
			timer.AnsweredAt = &at
		}
	case EventHungUp:
		floor := timer.CreatedAt
		if timer.AnsweredAt != nil {
			floor = *timer.AnsweredAt
		}
		if at.Before(floor) {
			at = floor
		}
		timer.HangupAt = &at
	}
	s.timers[sess.ID] = timer

	if ev.Kind == EventHungUp {
		delete(s.sessions, sess.ID)
		if s.activeID == sess.ID {
			s.activeID = ""
		}
	} else {
		s.sessions[sess.ID] = sess
		s.activeID = sess.ID
	}

	change := Change{Kind: ev.Kind, Session: sess.clone(), Timer: timer.clone(), ActiveID: s.activeID}
	s.mu.Unlock()

	s.publish(change)
	return true
}

// SetActive marks a live session as active. It reports false when id is
// not a live session.
func (s *Store) SetActive(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.activeID = id
	change := Change{Kind: EventActivated, Session: sess.clone(), Timer: s.timers[id].clone(), ActiveID: id}
	s.mu.Unlock()

	s.publish(change)
	return true
}

// Active returns the active session.
func (s *Store) Active() (CallSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeID == "" {
		return CallSession{}, false
	}
	sess, ok := s.sessions[s.activeID]
	return sess.clone(), ok
}

// ActiveID returns the active session id, or "".
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// HasActive reports whether a session is active.
func (s *Store) HasActive() bool {
	_, ok := s.Active()
	return ok
}

// Session returns a live session by id.
func (s *Store) Session(id string) (CallSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess.clone(), ok
}

// Sessions returns the live sessions ordered by creation time.
func (s *Store) Sessions() []CallSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CallSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := s.timers[out[i].ID].CreatedAt, s.timers[out[j].ID].CreatedAt
		if ti.Equal(tj) {
			return out[i].ID < out[j].ID
		}
		return ti.Before(tj)
	})
	return out
}

// Timer returns the timer for a session, including ended ones.
func (s *Store) Timer(id string) (Timer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timers[id]
	return t.clone(), ok
}

// Timers returns a copy of every timer.
func (s *Store) Timers() map[string]Timer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Timer, len(s.timers))
	for id, t := range s.timers {
		out[id] = t.clone()
	}
	return out
}

// Subscribe registers fn for every change and returns a function that
// unregisters it. Handlers run synchronously after the store lock is
// released.
func (s *Store) Subscribe(fn ChangeHandler) func() {
	if fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(c Change) {
	s.subMu.RLock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]ChangeHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, s.subs[id])
	}
	s.subMu.RUnlock()

	for _, h := range handlers {
		h(c)
	}
}
