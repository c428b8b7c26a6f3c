/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package callconsole wires the call console components into one Console:
// tab arbitration, audio devices, the signaling transport and its
// supervisor, SIP registration and the call session store.
package callconsole

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/tejzpr/callconsole-go/auth"
	"github.com/tejzpr/callconsole-go/calling"
	"github.com/tejzpr/callconsole-go/consolesdk"
	"github.com/tejzpr/callconsole-go/devices"
	"github.com/tejzpr/callconsole-go/hostbridge"
	"github.com/tejzpr/callconsole-go/metrics"
	"github.com/tejzpr/callconsole-go/session"
	"github.com/tejzpr/callconsole-go/sipua"
	"github.com/tejzpr/callconsole-go/storage"
	"github.com/tejzpr/callconsole-go/tablock"
	"github.com/tejzpr/callconsole-go/transport"
)

// Config holds the configuration of every console component. Nil fields
// use each package's defaults.
type Config struct {
	Core *consolesdk.Config

	// Credentials are the agent's SIP account.
	Credentials auth.Credentials

	// Store is the persisted key/value store shared with other console
	// instances. Defaults to a process-local MemoryStore.
	Store storage.Store

	TabLock *tablock.Config

	// Platform is the audio device API. Defaults to an embedded platform,
	// which disables device handling.
	Platform devices.Platform

	// Transport is the signaling connection. Defaults to a WebSocket
	// transport configured by TransportConfig.
	Transport       transport.Transport
	TransportConfig *transport.Config
	Supervisor      *transport.SupervisorConfig

	Calling *calling.Config

	// Sessions opens SIP sessions. Defaults to a sipua.Factory configured
	// by SIP, playing remote audio on AudioOut.
	Sessions calling.SessionFactory
	SIP      *sipua.Config
	AudioOut sipua.PacketWriter

	// Shell receives call lifecycle notifications for an embedding host.
	Shell hostbridge.Shell

	// Metrics records component state. May be nil.
	Metrics *metrics.Recorder
}

// DefaultConfig returns the default console configuration
func DefaultConfig() *Config {
	return &Config{}
}

// Status is a snapshot of the console's connectivity.
type Status struct {
	Authenticated bool                      `json:"authenticated"`
	WebRTC        bool                      `json:"webrtc"`
	Master        bool                      `json:"master"`
	Transport     transport.ConnectionState `json:"transport"`
	Registration  calling.RegistrationState `json:"registration"`
	ServerUp      bool                      `json:"serverConnected"`
	ActiveCallID  string                    `json:"activeCallId,omitempty"`
	LiveSessions  int                       `json:"liveSessions"`
}

// Console is one call console instance.
type Console struct {
	core         *consolesdk.Client
	store        storage.Store
	ownsStore    bool
	lock         *tablock.Arbitrator
	devices      *devices.Registry
	transport    transport.Transport
	supervisor   *transport.Supervisor
	sessions     *session.Store
	orchestrator *calling.Orchestrator
	bridge       *hostbridge.Bridge
	metrics      *metrics.Recorder
	logger       *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	detach  []func()
	closed  bool

	// driveMu serializes drive; driving is true while this console holds
	// the transport.
	driveMu sync.Mutex
	driving bool
}

// New creates a Console for accessToken. An empty token creates a logged
// out console.
func New(accessToken string, config *Config) (*Console, error) {
	if config == nil {
		config = DefaultConfig()
	}

	core, err := consolesdk.NewClient(accessToken, config.Core)
	if err != nil {
		return nil, err
	}
	core.SetCredentials(config.Credentials)
	logger := core.GetLogger()

	c := &Console{
		core:    core,
		store:   config.Store,
		metrics: config.Metrics,
		logger:  logger.With("component", "console"),
		ctx:     context.Background(),
	}
	if c.store == nil {
		c.store = storage.NewMemoryStore()
		c.ownsStore = true
	}

	c.lock, err = tablock.New(core, c.store, config.TabLock)
	if err != nil {
		return nil, fmt.Errorf("creating tab arbitrator: %w", err)
	}

	platform := config.Platform
	if platform == nil {
		platform = devices.NewStaticPlatform(nil, devices.WithEmbedded())
	}
	c.devices = devices.New(core, platform, c.store)

	c.transport = config.Transport
	if c.transport == nil {
		c.transport = transport.NewWebSocket(core, config.TransportConfig)
	}
	supCfg := config.Supervisor
	if supCfg == nil {
		supCfg = transport.DefaultSupervisorConfig()
	}
	if supCfg.Metrics == nil {
		supCfg.Metrics = config.Metrics
	}
	c.supervisor = transport.NewSupervisor(core, c.transport, supCfg)

	factory := config.Sessions
	if factory == nil {
		factory = sipua.NewFactory(core, config.SIP, sipua.NewRemoteAudio(config.AudioOut, logger))
	}
	if f, ok := factory.(*sipua.Factory); ok {
		c.devices.AttachSink(context.Background(), f.Audio())
		f.UseInput(c.devices)
	}

	callCfg := config.Calling
	if callCfg == nil {
		callCfg = calling.DefaultConfig()
	}
	if callCfg.Metrics == nil {
		callCfg.Metrics = config.Metrics
	}
	c.sessions = session.NewStore(logger)
	c.orchestrator = calling.New(core, factory, c.sessions, c.supervisor, c.lock, callCfg)

	if config.Shell != nil {
		c.bridge = hostbridge.New(config.Shell, logger)
	}

	c.wire()
	return c, nil
}

// wire forwards every gate-relevant change to the orchestrator.
func (c *Console) wire() {
	c.core.OnAuthChange(func(bool) {
		c.drive(c.context(), "auth changed", true)
	})
	c.lock.OnChange(func(master bool) {
		c.metrics.SetMaster(master)
		c.drive(c.context(), "mastership changed", false)
	})
	c.supervisor.OnStateChange(func(state transport.ConnectionState) {
		if state == transport.StateConnected {
			c.reconcile(c.context(), "transport connected")
		}
	})

	// Store changes are published from the orchestrator's event loop, so
	// re-evaluation runs on its own goroutine.
	c.detach = append(c.detach, c.sessions.Subscribe(func(ch session.Change) {
		if ch.Kind == session.EventHungUp && ch.ActiveID == "" {
			go c.reconcile(c.context(), "session ended")
		}
	}))
	if c.bridge != nil {
		c.detach = append(c.detach, c.bridge.Attach(c.sessions))
	}
}

func (c *Console) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// drive keeps the transport and the registration with the authenticated
// master only. A console that stops being master or logs out releases its
// registration and closes the transport, even with a call in progress.
// refresh hands a replaced token to an already open transport.
func (c *Console) drive(ctx context.Context, reason string, refresh bool) {
	c.driveMu.Lock()
	defer c.driveMu.Unlock()

	c.mu.Lock()
	live := c.started && !c.closed
	c.mu.Unlock()
	if !live {
		return
	}

	want := c.core.IsAuthenticated() && c.lock.IsMaster()
	switch {
	case want && (!c.driving || refresh):
		c.driving = true
		c.supervisor.SetAuth(ctx, true)
	case !want && c.driving:
		c.driving = false
		c.logger.Info("Releasing registration and transport", "reason", reason)
		c.orchestrator.Release(ctx)
		c.supervisor.SetAuth(ctx, false)
	}
	c.reconcile(ctx, reason)
}

func (c *Console) reconcile(ctx context.Context, reason string) calling.Outcome {
	out := c.orchestrator.Reconcile(ctx)
	c.logger.Debug("Registration re-evaluated", "reason", reason, "outcome", out)
	return out
}

// Start runs the console until Close: the event loop, device handling,
// tab election, the connectivity poll and the first registration attempt.
func (c *Console) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("console is closed")
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.ctx, c.cancel, c.started = ctx, cancel, true
	c.mu.Unlock()

	c.orchestrator.Start(ctx)
	go c.orchestrator.Run(ctx)
	go c.devices.Run(ctx)

	if err := c.lock.Start(ctx); err != nil {
		return fmt.Errorf("starting tab arbitrator: %w", err)
	}
	c.metrics.SetMaster(c.lock.IsMaster())

	c.drive(ctx, "start", false)
	c.logger.Info("Console started", "owner", c.lock.OwnerID(), "master", c.lock.IsMaster())
	return nil
}

// SetActive records whether the console is in the foreground.
func (c *Console) SetActive(active bool) {
	c.orchestrator.SetTabActive(active)
	if active {
		c.reconcile(c.context(), "became active")
	}
}

// Login replaces the access token.
func (c *Console) Login(token string) error {
	return c.core.SetAccessToken(token)
}

// Logout clears the access token; the registration is released, the
// transport closes and registration stops being attempted.
func (c *Console) Logout() {
	c.core.Logout()
}

// Status returns a connectivity snapshot.
func (c *Console) Status() Status {
	return Status{
		Authenticated: c.core.IsAuthenticated(),
		WebRTC:        c.core.IsWebRTCEnabled(),
		Master:        c.lock.IsMaster(),
		Transport:     c.supervisor.State(),
		Registration:  c.orchestrator.RegistrationState(),
		ServerUp:      c.orchestrator.ServerConnected(),
		ActiveCallID:  c.sessions.ActiveID(),
		LiveSessions:  len(c.sessions.Sessions()),
	}
}

// Core returns the core client.
func (c *Console) Core() *consolesdk.Client { return c.core }

// Calls returns the registration and call orchestrator.
func (c *Console) Calls() *calling.Orchestrator { return c.orchestrator }

// Sessions returns the call session store.
func (c *Console) Sessions() *session.Store { return c.sessions }

// Devices returns the audio device registry.
func (c *Console) Devices() *devices.Registry { return c.devices }

// TabLock returns the tab arbitrator.
func (c *Console) TabLock() *tablock.Arbitrator { return c.lock }

// Supervisor returns the connectivity supervisor.
func (c *Console) Supervisor() *transport.Supervisor { return c.supervisor }

// Close unregisters, disconnects, releases the tab lock and stops all
// background work.
func (c *Console) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	detach := c.detach
	c.detach = nil
	c.mu.Unlock()

	for _, d := range detach {
		d()
	}
	c.orchestrator.Close(ctx)

	var result *multierror.Error
	if err := c.supervisor.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing transport: %w", err))
	}
	if err := c.lock.Close(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("releasing tab lock: %w", err))
	}
	if cancel != nil {
		cancel()
	}
	if c.ownsStore {
		if err := c.store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing store: %w", err))
		}
	}
	return result.ErrorOrNil()
}
