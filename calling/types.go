/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"

	"github.com/tejzpr/callconsole-go/auth"
	"github.com/tejzpr/callconsole-go/session"
)

// ---- Enums / Constants ----

// RegistrationState is the SIP registration state of the console
type RegistrationState string

const (
	RegistrationUnregistered RegistrationState = "unregistered"
	RegistrationRegistered   RegistrationState = "registered"
)

// Custom SIP headers. The agent and callee headers are attached to every
// outbound call; downstream systems parse these names verbatim.
const (
	HeaderAgentID      = "X-Agent-Id"
	HeaderAgentMobile  = "X-Agent-Mobile"
	HeaderCalleeNumber = "X-Callee-Number"
	HeaderCalleeID     = "X-Callee-Id"
	HeaderCalleeName   = "X-Callee-Name"
	HeaderDialer       = "X-Dialer"

	// HeaderClientName carries the caller's name on inbound calls.
	HeaderClientName = "X-Client-Name"
)

// Outcome describes what a ConnectAndRegister invocation did
type Outcome string

const (
	OutcomeStarted   Outcome = "started"
	OutcomeGated     Outcome = "gated"
	OutcomeThrottled Outcome = "throttled"
	OutcomeInFlight  Outcome = "in_flight"
	OutcomeFailed    Outcome = "failed"
)

// CallRequest describes an outbound call.
type CallRequest struct {
	Number     string // Dialed number or SIP user
	CalleeID   string // CRM identifier of the callee
	CalleeName string // Display name of the callee
	FromDialer bool   // Placed from the dialer rather than click-to-call
}

// ---- Signaling collaborator ----

// SessionManager is one signaling session with the call server. Every method
// may block on the network and may fail.
type SessionManager interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Register(ctx context.Context) error
	Unregister(ctx context.Context) error
	Call(ctx context.Context, target string, headers map[string]string) error
	Answer(ctx context.Context, id string) error
	Decline(ctx context.Context, id string) error
	Hangup(ctx context.Context, id string) error
	Mute(ctx context.Context, id string) error
	Unmute(ctx context.Context, id string) error
}

// Delegate receives callbacks from a SessionManager. Implementations must
// not block for long; the orchestrator's delegate only queues events.
type Delegate interface {
	OnCallCreated(s session.CallSession)
	OnCallReceived(s session.CallSession)
	OnCallAnswered(s session.CallSession)
	OnCallHangup(s session.CallSession)
	OnRegistered()
	OnUnregistered()
	OnServerConnect()
	OnServerDisconnect(err error)
}

// SessionFactory opens signaling sessions scoped to one identity.
type SessionFactory interface {
	NewSession(ctx context.Context, creds auth.Credentials, delegate Delegate) (SessionManager, error)
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func(ctx context.Context, creds auth.Credentials, delegate Delegate) (SessionManager, error)

// NewSession calls f.
func (f SessionFactoryFunc) NewSession(ctx context.Context, creds auth.Credentials, delegate Delegate) (SessionManager, error) {
	return f(ctx, creds, delegate)
}

// ---- Gate inputs ----

// Connectivity reports whether the signaling transport is up.
type Connectivity interface {
	Connected() bool
}

// Mastership reports whether this instance holds the tab lock.
type Mastership interface {
	IsMaster() bool
}
