/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package metrics exposes console state as Prometheus collectors. A nil
// *Recorder is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "callconsole"

// Registration attempt outcomes. Each ConnectAndRegister call is counted
// once, under its final outcome: an attempt that fails after starting is
// "failed" only.
const (
	OutcomeStarted   = "started"
	OutcomeGated     = "gated"
	OutcomeThrottled = "throttled"
	OutcomeInFlight  = "in_flight"
	OutcomeFailed    = "failed"
)

// Recorder holds the console collectors.
type Recorder struct {
	registered       prometheus.Gauge
	transportUp      prometheus.Gauge
	master           prometheus.Gauge
	liveSessions     prometheus.Gauge
	registerAttempts *prometheus.CounterVec
	reconnects       prometheus.Counter
	dialogEvents     *prometheus.CounterVec
	callActions      *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors with reg. A nil reg
// leaves the collectors unregistered.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sip_registered",
			Help: "1 when the SIP user agent is registered.",
		}),
		transportUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "transport_connected",
			Help: "1 when the signaling transport is connected.",
		}),
		master: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tab_master",
			Help: "1 when this instance holds the tab lock.",
		}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "live_sessions",
			Help: "Number of call sessions that have not hung up.",
		}),
		registerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "register_attempts_total",
			Help: "ConnectAndRegister invocations by outcome.",
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "transport_reconnects_total",
			Help: "Explicit transport reconnect attempts.",
		}),
		dialogEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dialog_events_total",
			Help: "Dialog lifecycle events applied to the session store.",
		}, []string{"kind"}),
		callActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "call_actions_total",
			Help: "Call control actions by action and result.",
		}, []string{"action", "result"}),
	}

	if reg != nil {
		for _, c := range r.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.registered, r.transportUp, r.master, r.liveSessions,
		r.registerAttempts, r.reconnects, r.dialogEvents, r.callActions,
	}
}

func boolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

// SetRegistered records the registration state.
func (r *Recorder) SetRegistered(v bool) {
	if r != nil {
		boolGauge(r.registered, v)
	}
}

// SetTransportConnected records the transport state.
func (r *Recorder) SetTransportConnected(v bool) {
	if r != nil {
		boolGauge(r.transportUp, v)
	}
}

// SetMaster records tab mastership.
func (r *Recorder) SetMaster(v bool) {
	if r != nil {
		boolGauge(r.master, v)
	}
}

// SetLiveSessions records the number of live sessions.
func (r *Recorder) SetLiveSessions(n int) {
	if r != nil {
		r.liveSessions.Set(float64(n))
	}
}

// RegisterAttempt counts one ConnectAndRegister call under outcome.
func (r *Recorder) RegisterAttempt(outcome string) {
	if r != nil {
		r.registerAttempts.WithLabelValues(outcome).Inc()
	}
}

// Reconnect counts an explicit reconnect.
func (r *Recorder) Reconnect() {
	if r != nil {
		r.reconnects.Inc()
	}
}

// DialogEvent counts an applied dialog event.
func (r *Recorder) DialogEvent(kind string) {
	if r != nil {
		r.dialogEvents.WithLabelValues(kind).Inc()
	}
}

// CallAction counts a call control action.
func (r *Recorder) CallAction(action string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.callActions.WithLabelValues(action, result).Inc()
}
