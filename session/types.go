/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import (
	"strings"
	"time"
)

// Direction of a call relative to the agent
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// State is the signaling state of a call session
type State string

const (
	StateInitial     State = "initial"
	StateRinging     State = "ringing"
	StateEstablished State = "established"
	StateTerminated  State = "terminated"
)

// rank orders states so that a session never moves backwards.
func (s State) rank() int {
	switch s {
	case StateInitial:
		return 0
	case StateRinging:
		return 1
	case StateEstablished:
		return 2
	case StateTerminated:
		return 3
	default:
		return -1
	}
}

// CallSession is one SIP dialog as seen by the console.
type CallSession struct {
	ID            string
	Direction     Direction
	State         State
	RemoteHeaders map[string]string
}

// Header returns a remote header value, matching the name case-insensitively.
func (c CallSession) Header(name string) string {
	if v, ok := c.RemoteHeaders[name]; ok {
		return v
	}
	for k, v := range c.RemoteHeaders {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (c CallSession) clone() CallSession {
	if c.RemoteHeaders != nil {
		h := make(map[string]string, len(c.RemoteHeaders))
		for k, v := range c.RemoteHeaders {
			h[k] = v
		}
		c.RemoteHeaders = h
	}
	return c
}

// Timer records the lifecycle timestamps of a session. Fields are only ever
// set once.
type Timer struct {
	CreatedAt  time.Time
	AnsweredAt *time.Time
	HangupAt   *time.Time
}

// Answered reports whether the call was answered.
func (t Timer) Answered() bool { return t.AnsweredAt != nil }

// Ended reports whether the call hung up.
func (t Timer) Ended() bool { return t.HangupAt != nil }

// TalkTime returns the answered duration up to hangup, or up to now for a
// live call. Unanswered calls have no talk time.
func (t Timer) TalkTime(now time.Time) time.Duration {
	if t.AnsweredAt == nil {
		return 0
	}
	end := now
	if t.HangupAt != nil {
		end = *t.HangupAt
	}
	return end.Sub(*t.AnsweredAt)
}

func (t Timer) clone() Timer {
	if t.AnsweredAt != nil {
		v := *t.AnsweredAt
		t.AnsweredAt = &v
	}
	if t.HangupAt != nil {
		v := *t.HangupAt
		t.HangupAt = &v
	}
	return t
}

// EventKind identifies a dialog lifecycle event
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventReceived EventKind = "received"
	EventAnswered EventKind = "answered"
	EventHungUp   EventKind = "hungup"

	// EventActivated is only emitted as a Change by SetActive.
	EventActivated EventKind = "activated"
)

// impliedState is the minimum state a session has reached once the event
// has happened.
func (k EventKind) impliedState() State {
	switch k {
	case EventReceived:
		return StateRinging
	case EventAnswered:
		return StateEstablished
	case EventHungUp:
		return StateTerminated
	default:
		return StateInitial
	}
}

// Event is a dialog lifecycle event delivered by the signaling layer.
type Event struct {
	Kind    EventKind
	Session CallSession
	At      time.Time
}

// Change is published to subscribers after every applied mutation.
type Change struct {
	Kind     EventKind
	Session  CallSession
	Timer    Timer
	ActiveID string
}
