/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package calling owns the SIP registration lifecycle and the call actions
// of the console. Registration is gated on mastership, connectivity,
// authentication and call activity; dialog callbacks from the signaling
// layer are queued as typed events and applied to the session store.
package calling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"k8s.io/utils/clock"

	"github.com/tejzpr/callconsole-go/auth"
	"github.com/tejzpr/callconsole-go/consolesdk"
	"github.com/tejzpr/callconsole-go/metrics"
	"github.com/tejzpr/callconsole-go/retry"
	"github.com/tejzpr/callconsole-go/session"
)

// Config holds the configuration for the orchestrator
type Config struct {
	// Throttle is the minimum time between two registration attempts.
	Throttle time.Duration
	// RegistrationPoll re-attempts registration while unregistered.
	RegistrationPoll retry.Policy
	// EventBuffer is the capacity of the delegate event queue.
	EventBuffer int
	// Metrics records registration activity. May be nil.
	Metrics *metrics.Recorder
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() *Config {
	return &Config{
		Throttle:         3 * time.Second,
		RegistrationPoll: retry.Constant(5*time.Second, time.Hour),
		EventBuffer:      64,
	}
}

// Orchestrator drives registration and exposes call actions on the active
// session.
type Orchestrator struct {
	core    *consolesdk.Client
	factory SessionFactory
	store   *session.Store
	conn    Connectivity
	master  Mastership
	config  *Config
	clock   clock.WithTicker
	logger  *slog.Logger

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	ctx         context.Context
	manager     SessionManager
	generation  uint64
	state       RegistrationState
	server      bool
	tabActive   bool
	inFlight    bool
	lastAttempt time.Time
	poll        *retry.Handle

	registration emitter[RegistrationState]
	serverChange emitter[bool]
}

// New creates an Orchestrator. conn and master may be nil, in which case the
// corresponding gate condition always holds.
func New(core *consolesdk.Client, factory SessionFactory, store *session.Store, conn Connectivity, master Mastership, config *Config) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	def := DefaultConfig()
	if config.Throttle <= 0 {
		config.Throttle = def.Throttle
	}
	if config.RegistrationPoll.Interval <= 0 {
		config.RegistrationPoll = def.RegistrationPoll
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = def.EventBuffer
	}

	var clk clock.WithTicker = clock.RealClock{}
	logger := slog.Default()
	if core != nil {
		clk = core.GetClock()
		logger = core.GetLogger()
	}
	if store == nil {
		store = session.NewStore(logger)
	}

	return &Orchestrator{
		core:      core,
		factory:   factory,
		store:     store,
		conn:      conn,
		master:    master,
		config:    config,
		clock:     clk,
		logger:    logger.With("component", "orchestrator"),
		events:    make(chan Event, config.EventBuffer),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		state:     RegistrationUnregistered,
		tabActive: true,
	}
}

// Start records ctx for background work and begins the registration poll if
// the agent is WebRTC-enabled.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	o.ctx = ctx
	o.mu.Unlock()
	o.startPoll()
}

// Run applies queued events until ctx is cancelled or the orchestrator is
// closed.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.done:
			return
		case ev := <-o.events:
			o.HandleEvent(ev)
		}
	}
}

// Events returns the delegate event queue. Run is the usual consumer.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// HandleEvent applies one event synchronously.
func (o *Orchestrator) HandleEvent(ev Event) {
	switch e := ev.(type) {
	case DialogEvent:
		o.handleDialog(e)
	case RegistrationEvent:
		o.handleRegistration(e)
	case ServerEvent:
		o.handleServer(e)
	default:
		o.logger.Debug("Ignoring unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

// Delegate returns a delegate bound to the current signaling session, for
// managers created outside ConnectAndRegister.
func (o *Orchestrator) Delegate() Delegate {
	o.mu.Lock()
	defer o.mu.Unlock()
	return &queue{o: o, generation: o.generation}
}

// ---- Registration ----

// ConnectAndRegister tears down any signaling session, opens a new one for
// creds and starts registration. Unmet preconditions, the throttle and an
// attempt already in flight all make it a no-op. Failures are logged; the
// registration state only changes through delegate callbacks.
func (o *Orchestrator) ConnectAndRegister(ctx context.Context, creds auth.Credentials) Outcome {
	if reason := o.gate(creds); reason != "" {
		o.logger.Debug("Registration skipped", "reason", reason)
		o.config.Metrics.RegisterAttempt(metrics.OutcomeGated)
		return OutcomeGated
	}

	o.mu.Lock()
	now := o.clock.Now()
	if o.inFlight {
		o.mu.Unlock()
		o.logger.Debug("Registration skipped", "reason", "attempt in flight")
		o.config.Metrics.RegisterAttempt(metrics.OutcomeInFlight)
		return OutcomeInFlight
	}
	if !o.lastAttempt.IsZero() && now.Sub(o.lastAttempt) < o.config.Throttle {
		o.mu.Unlock()
		o.logger.Debug("Registration skipped", "reason", "throttled")
		o.config.Metrics.RegisterAttempt(metrics.OutcomeThrottled)
		return OutcomeThrottled
	}
	o.inFlight = true
	o.lastAttempt = now
	old := o.manager
	o.manager = nil
	o.generation++
	delegate := &queue{o: o, generation: o.generation}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
	}()

	if err := teardown(ctx, old); err != nil {
		o.logger.Warn("Failed to tear down previous session", "error", err)
	}

	mgr, err := o.factory.NewSession(ctx, creds, delegate)
	if err != nil {
		o.logger.Warn("Failed to create signaling session", "error", consolesdk.Transient("new session", err))
		o.config.Metrics.RegisterAttempt(metrics.OutcomeFailed)
		return OutcomeFailed
	}
	if !o.adopt(delegate.generation, mgr) {
		o.logger.Debug("Discarded signaling session released during setup")
		_ = teardown(ctx, mgr)
		o.config.Metrics.RegisterAttempt(metrics.OutcomeFailed)
		return OutcomeFailed
	}

	if err := mgr.Connect(ctx); err != nil {
		o.logger.Warn("Failed to connect signaling session", "error", consolesdk.Transient("connect", err))
		o.config.Metrics.RegisterAttempt(metrics.OutcomeFailed)
		return OutcomeFailed
	}
	if err := mgr.Register(ctx); err != nil {
		o.logger.Warn("Failed to register", "error", consolesdk.Transient("register", err))
		o.config.Metrics.RegisterAttempt(metrics.OutcomeFailed)
		return OutcomeFailed
	}

	o.config.Metrics.RegisterAttempt(metrics.OutcomeStarted)
	o.logger.Info("Registration requested", "aor", creds.AOR())
	return OutcomeStarted
}

// adopt installs mgr as the current session unless the attempt that created
// it has since been superseded by Release or Close.
func (o *Orchestrator) adopt(generation uint64, mgr SessionManager) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != generation {
		return false
	}
	o.manager = mgr
	return true
}

// Reconcile runs ConnectAndRegister with the client's stored credentials.
func (o *Orchestrator) Reconcile(ctx context.Context) Outcome {
	var creds auth.Credentials
	if o.core != nil {
		creds = o.core.GetCredentials()
	}
	return o.ConnectAndRegister(ctx, creds)
}

// gate returns the first unmet precondition, or "" when registration may
// proceed.
func (o *Orchestrator) gate(creds auth.Credentials) string {
	switch {
	case o.core == nil || !o.core.IsAuthenticated():
		return "not authenticated"
	case !o.core.IsWebRTCEnabled():
		return "webrtc not enabled"
	case !creds.Valid():
		return "missing credentials"
	case o.conn != nil && !o.conn.Connected():
		return "transport disconnected"
	case o.store.HasActive():
		return "active session present"
	}

	o.mu.Lock()
	tabActive, state := o.tabActive, o.state
	o.mu.Unlock()

	switch {
	case !tabActive:
		return "tab inactive"
	case state != RegistrationUnregistered:
		return "already registered"
	case o.master != nil && !o.master.IsMaster():
		return "not master"
	}
	return ""
}

// SetTabActive records whether the console is focused or visible.
func (o *Orchestrator) SetTabActive(active bool) {
	o.mu.Lock()
	o.tabActive = active
	o.mu.Unlock()
}

// RegistrationState returns the current registration state
func (o *Orchestrator) RegistrationState() RegistrationState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ServerConnected reports whether the signaling session reported a live
// server connection.
func (o *Orchestrator) ServerConnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.server
}

// OnRegistrationChange registers a handler for registration state changes.
func (o *Orchestrator) OnRegistrationChange(handler func(RegistrationState)) {
	o.registration.On(handler)
}

// OnServerChange registers a handler for server connection changes.
func (o *Orchestrator) OnServerChange(handler func(connected bool)) {
	o.serverChange.On(handler)
}

// Polling reports whether the registration poll is running.
func (o *Orchestrator) Polling() bool {
	o.mu.Lock()
	h := o.poll
	o.mu.Unlock()
	if h == nil {
		return false
	}
	select {
	case <-h.Done():
		return false
	default:
		return true
	}
}

func (o *Orchestrator) startPoll() {
	if o.core == nil || !o.core.IsWebRTCEnabled() {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == RegistrationRegistered {
		return
	}
	if o.poll != nil {
		select {
		case <-o.poll.Done():
		default:
			return
		}
	}
	poller := retry.NewPoller(o.clock, o.config.RegistrationPoll, func(ctx context.Context) bool {
		if o.RegistrationState() == RegistrationRegistered {
			return true
		}
		if !o.core.IsWebRTCEnabled() {
			return false
		}
		o.Reconcile(ctx)
		return false
	})
	o.poll = poller.Go(o.ctx)
}

func (o *Orchestrator) stopPoll() {
	o.mu.Lock()
	h := o.poll
	o.poll = nil
	o.mu.Unlock()
	h.Stop()
}

// ---- Event handling ----

func (o *Orchestrator) enqueue(ev Event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

func (o *Orchestrator) handleDialog(e DialogEvent) {
	if e.At.IsZero() {
		e.At = o.clock.Now()
	}
	applied := o.store.Apply(session.Event{Kind: e.Kind, Session: e.Session, At: e.At})
	if !applied {
		o.logger.Debug("Ignored stale dialog event", "kind", e.Kind, "session", e.Session.ID)
		return
	}
	o.config.Metrics.DialogEvent(string(e.Kind))
	o.config.Metrics.SetLiveSessions(len(o.store.Sessions()))
}

func (o *Orchestrator) handleRegistration(e RegistrationEvent) {
	o.mu.Lock()
	if e.generation != 0 && e.generation != o.generation {
		o.mu.Unlock()
		o.logger.Debug("Ignored registration callback from replaced session")
		return
	}
	state, changed := o.swapState(e.Registered)
	o.mu.Unlock()

	if changed {
		o.stateChanged(state, true)
	}
}

// swapState records the registration state and reports whether it changed.
// o.mu must be held.
func (o *Orchestrator) swapState(registered bool) (RegistrationState, bool) {
	state := RegistrationUnregistered
	if registered {
		state = RegistrationRegistered
	}
	changed := o.state != state
	o.state = state
	return state, changed
}

// stateChanged updates the poll and notifies subscribers. A lost
// registration restarts the poll only when poll is set.
func (o *Orchestrator) stateChanged(state RegistrationState, poll bool) {
	registered := state == RegistrationRegistered
	o.logger.Info("Registration state changed", "state", state)
	o.config.Metrics.SetRegistered(registered)
	if registered {
		o.stopPoll()
	} else if poll {
		o.startPoll()
	}
	o.registration.Emit(state)
}

func (o *Orchestrator) handleServer(e ServerEvent) {
	o.mu.Lock()
	changed := o.server != e.Connected
	o.server = e.Connected
	o.mu.Unlock()

	if e.Err != nil {
		o.logger.Warn("Signaling server disconnected", "error", e.Err)
	}
	if changed {
		o.serverChange.Emit(e.Connected)
	}
}

// ---- Sessions ----

// SetActiveCall makes id the active session.
func (o *Orchestrator) SetActiveCall(id string) bool {
	return o.store.SetActive(id)
}

// ActiveSession returns the active session, if any.
func (o *Orchestrator) ActiveSession() (session.CallSession, bool) {
	return o.store.Active()
}

// Sessions returns the live sessions.
func (o *Orchestrator) Sessions() []session.CallSession {
	return o.store.Sessions()
}

// Timers returns every session timer, including ended calls.
func (o *Orchestrator) Timers() map[string]session.Timer {
	return o.store.Timers()
}

// Store returns the session store.
func (o *Orchestrator) Store() *session.Store {
	return o.store
}

// ---- Call actions ----

// Call dials req on the current signaling session with the agent and callee
// headers attached.
func (o *Orchestrator) Call(ctx context.Context, req CallRequest) {
	mgr := o.currentManager()
	if mgr == nil {
		o.logger.Debug("Call skipped", "reason", "no signaling session")
		return
	}
	if req.Number == "" {
		o.logger.Debug("Call skipped", "reason", "empty number")
		return
	}

	var creds auth.Credentials
	var identity *auth.Identity
	if o.core != nil {
		creds = o.core.GetCredentials()
		identity = o.core.GetIdentity()
	}

	headers := map[string]string{
		HeaderCalleeNumber: req.Number,
		HeaderCalleeID:     req.CalleeID,
		HeaderCalleeName:   req.CalleeName,
		HeaderDialer:       strconv.FormatBool(req.FromDialer),
	}
	if identity != nil {
		headers[HeaderAgentID] = identity.AgentID
		headers[HeaderAgentMobile] = identity.AgentNumber
	}

	target := "sip:" + req.Number
	if creds.Domain != "" {
		target += "@" + creds.Domain
	}
	err := mgr.Call(ctx, target, headers)
	o.finish("call", err)
}

// Answer answers the active session.
func (o *Orchestrator) Answer(ctx context.Context) {
	o.act(ctx, "answer", SessionManager.Answer)
}

// Decline rejects the active session.
func (o *Orchestrator) Decline(ctx context.Context) {
	o.act(ctx, "decline", SessionManager.Decline)
}

// Hangup ends the active session.
func (o *Orchestrator) Hangup(ctx context.Context) {
	o.act(ctx, "hangup", SessionManager.Hangup)
}

// Mute mutes the microphone on the active session.
func (o *Orchestrator) Mute(ctx context.Context) {
	o.act(ctx, "mute", SessionManager.Mute)
}

// Unmute unmutes the microphone on the active session.
func (o *Orchestrator) Unmute(ctx context.Context) {
	o.act(ctx, "unmute", SessionManager.Unmute)
}

func (o *Orchestrator) act(ctx context.Context, action string, fn func(SessionManager, context.Context, string) error) {
	id := o.store.ActiveID()
	mgr := o.currentManager()
	if id == "" || mgr == nil {
		o.logger.Debug("Call action skipped", "action", action, "error", consolesdk.ErrNoActiveSession)
		return
	}
	o.finish(action, fn(mgr, ctx, id))
}

// finish records a call action and reports its failure: permission and
// protocol errors notify the agent once, anything else is only logged.
func (o *Orchestrator) finish(action string, err error) {
	o.config.Metrics.CallAction(action, err)
	if err == nil {
		return
	}

	switch consolesdk.KindOf(err) {
	case consolesdk.KindPermission:
		o.logger.Warn("Call action not permitted", "action", action, "error", err)
		if errors.Is(err, consolesdk.ErrAuthRejected) {
			o.notify(consolesdk.SeverityError, "The call server rejected the agent's SIP credentials", err)
		} else {
			o.notify(consolesdk.SeverityError, "Microphone access is required to "+actionPhrase(action), err)
		}
	case consolesdk.KindProtocol:
		o.logger.Warn("Call action rejected", "action", action, "error", err)
		o.notify(consolesdk.SeverityError, "The call server rejected the request to "+actionPhrase(action), err)
	case consolesdk.KindPrecondition:
		o.logger.Debug("Call action skipped", "action", action, "error", err)
	default:
		o.logger.Warn("Call action failed", "action", action, "error", err)
	}
}

func actionPhrase(action string) string {
	switch action {
	case "call":
		return "place a call"
	case "hangup":
		return "hang up the call"
	case "answer", "decline", "mute", "unmute":
		return action + " the call"
	default:
		return action
	}
}

func (o *Orchestrator) notify(severity consolesdk.Severity, message string, err error) {
	if o.core == nil {
		return
	}
	if n := o.core.GetNotifier(); n != nil {
		n.Notify(consolesdk.Notification{Severity: severity, Message: message, Err: err})
	}
}

func (o *Orchestrator) currentManager() SessionManager {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.manager
}

// ---- Teardown ----

// Release unregisters and disconnects the current session and reports the
// registration as lost. Callbacks from the released session are ignored.
// The registration poll keeps running; it stays gated until the
// preconditions hold again.
func (o *Orchestrator) Release(ctx context.Context) {
	mgr := o.detach()
	if err := teardown(ctx, mgr); err != nil {
		o.logger.Warn("Failed to release signaling session", "error", err)
	}
	o.unregistered(true)
}

// Close stops the registration poll and always attempts unregister then
// disconnect on the current session. Errors are logged and swallowed.
func (o *Orchestrator) Close(ctx context.Context) {
	o.stopPoll()

	mgr := o.detach()
	if err := teardown(ctx, mgr); err != nil {
		o.logger.Debug("Teardown errors ignored", "error", err)
	}
	o.unregistered(false)
	o.closeOnce.Do(func() { close(o.done) })
}

// detach takes the current session and invalidates its delegate.
func (o *Orchestrator) detach() SessionManager {
	o.mu.Lock()
	defer o.mu.Unlock()
	mgr := o.manager
	o.manager = nil
	o.generation++
	return mgr
}

func (o *Orchestrator) unregistered(poll bool) {
	o.mu.Lock()
	state, changed := o.swapState(false)
	o.mu.Unlock()
	if changed {
		o.stateChanged(state, poll)
	}
}

// teardown unregisters then disconnects mgr, collecting both errors.
func teardown(ctx context.Context, mgr SessionManager) error {
	if mgr == nil {
		return nil
	}
	var result *multierror.Error
	if err := mgr.Unregister(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("unregister: %w", err))
	}
	if err := mgr.Disconnect(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("disconnect: %w", err))
	}
	return result.ErrorOrNil()
}
