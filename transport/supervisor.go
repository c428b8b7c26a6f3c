/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/tejzpr/callconsole-go/consolesdk"
	"github.com/tejzpr/callconsole-go/metrics"
	"github.com/tejzpr/callconsole-go/retry"
)

// SupervisorConfig holds the configuration for the connectivity supervisor
type SupervisorConfig struct {
	// Poll is the connectivity check schedule. Each tick confirms the
	// connection or requests a reconnect.
	Poll retry.Policy
	// Metrics records transport state. May be nil.
	Metrics *metrics.Recorder
}

// DefaultSupervisorConfig polls every 5 seconds for at most an hour.
func DefaultSupervisorConfig() *SupervisorConfig {
	return &SupervisorConfig{
		Poll: retry.Constant(5*time.Second, time.Hour),
	}
}

// StateHandler is called when the connection state changes.
type StateHandler func(ConnectionState)

// Supervisor owns the transport lifecycle: it opens the transport once the
// agent is authenticated, confirms or repairs it on a bounded poll, and
// tears it down on logout.
type Supervisor struct {
	mu sync.RWMutex

	core      *consolesdk.Client
	transport Transport
	config    *SupervisorConfig
	clock     clock.WithTicker
	logger    *slog.Logger

	state    ConnectionState
	poll     *retry.Handle
	handlers []StateHandler
}

// NewSupervisor creates a Supervisor for transport.
func NewSupervisor(core *consolesdk.Client, transport Transport, config *SupervisorConfig) *Supervisor {
	if config == nil {
		config = DefaultSupervisorConfig()
	}
	if config.Poll.Interval <= 0 {
		config.Poll = DefaultSupervisorConfig().Poll
	}

	var clk clock.WithTicker = clock.RealClock{}
	logger := slog.Default()
	if core != nil {
		clk = core.GetClock()
		logger = core.GetLogger()
	}

	s := &Supervisor{
		core:      core,
		transport: transport,
		config:    config,
		clock:     clk,
		logger:    logger.With("component", "supervisor"),
		state:     StateDisconnected,
	}
	transport.OnConnect(func() { s.setState(StateConnected) })
	transport.OnDisconnect(func(err error) {
		if err != nil {
			s.logger.Warn("Transport disconnected", "error", err)
		}
		s.setState(StateDisconnected)
	})
	return s
}

// SetAuth reacts to authentication changes. When authenticated the
// transport is opened with auto-reconnect disabled and the poll starts;
// otherwise the transport is closed and the poll stopped.
func (s *Supervisor) SetAuth(ctx context.Context, authenticated bool) {
	if !authenticated {
		s.stopPoll()
		if err := s.transport.Close(); err != nil {
			s.logger.Warn("Failed to close transport", "error", err)
		}
		s.setState(StateDisconnected)
		return
	}

	token := ""
	if s.core != nil {
		token = s.core.GetAccessToken()
	}
	if err := s.transport.Open(ctx, token); err != nil {
		s.logger.Warn("Failed to open transport", "error", consolesdk.Transient("open", err))
	}
	s.startPoll(ctx)
}

// Poll runs one connectivity check.
func (s *Supervisor) Poll(ctx context.Context) {
	if s.transport.IsConnected() {
		s.setState(StateConnected)
		return
	}

	s.setState(StateDisconnected)
	s.config.Metrics.Reconnect()
	if err := s.transport.Reconnect(ctx); err != nil {
		s.logger.Warn("Reconnect failed", "error", consolesdk.Transient("reconnect", err))
	}
}

// State returns the current connection state.
func (s *Supervisor) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connected reports whether the transport is connected.
func (s *Supervisor) Connected() bool {
	return s.State() == StateConnected
}

// Polling reports whether the connectivity poll is running.
func (s *Supervisor) Polling() bool {
	s.mu.RLock()
	h := s.poll
	s.mu.RUnlock()
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

// OnStateChange registers a handler for connection state changes.
func (s *Supervisor) OnStateChange(handler StateHandler) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()
}

// Close stops the poll and closes the transport.
func (s *Supervisor) Close() error {
	s.stopPoll()
	err := s.transport.Close()
	s.setState(StateDisconnected)
	return err
}

func (s *Supervisor) startPoll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poll != nil {
		select {
		case <-s.poll.Done():
		default:
			return
		}
	}
	poller := retry.NewPoller(s.clock, s.config.Poll, func(ctx context.Context) bool {
		s.Poll(ctx)
		return false
	})
	s.poll = poller.Go(ctx)
}

func (s *Supervisor) stopPoll() {
	s.mu.Lock()
	h := s.poll
	s.poll = nil
	s.mu.Unlock()
	if h != nil {
		h.Stop()
		h.Wait()
	}
}

func (s *Supervisor) setState(state ConnectionState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	handlers := make([]StateHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	if !changed {
		return
	}
	s.config.Metrics.SetTransportConnected(state == StateConnected)
	s.logger.Info("Transport state changed", "state", state)
	for _, h := range handlers {
		h(state)
	}
}
