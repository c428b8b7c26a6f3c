/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package retry

import (
	"context"

	"k8s.io/utils/clock"
)

// Attempt runs one poll. Returning true stops the poller.
type Attempt func(ctx context.Context) (done bool)

// Outcome describes why a poller stopped.
type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeCancelled Outcome = "cancelled"
)

// Poller runs an attempt on every tick of a policy until the attempt reports
// done, the budget is spent, or the context is cancelled.
type Poller struct {
	clock   clock.Clock
	policy  Policy
	attempt Attempt
}

// NewPoller creates a Poller. A nil clock uses the real clock.
func NewPoller(clk clock.Clock, policy Policy, attempt Attempt) *Poller {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Poller{clock: clk, policy: policy, attempt: attempt}
}

// Run blocks until the poller stops. The first attempt happens one interval
// after Run is called.
func (p *Poller) Run(ctx context.Context) Outcome {
	schedule := p.policy.Start(p.clock.Now())
	for {
		delay, ok := schedule.Next(p.clock.Now())
		if !ok {
			return OutcomeExhausted
		}

		timer := p.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return OutcomeCancelled
		case <-timer.C():
		}

		if ctx.Err() != nil {
			return OutcomeCancelled
		}
		if p.attempt(ctx) {
			return OutcomeDone
		}
	}
}

// Handle controls a poller running in its own goroutine.
type Handle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
}

// Go starts p in a goroutine.
func (p *Poller) Go(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		h.outcome = p.Run(ctx)
	}()
	return h
}

// Stop cancels the poller without waiting, so it is safe to call from inside
// an attempt.
func (h *Handle) Stop() {
	if h != nil {
		h.cancel()
	}
}

// Wait blocks until the poller has stopped and returns its outcome.
func (h *Handle) Wait() Outcome {
	<-h.done
	return h.outcome
}

// Done is closed once the poller has stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
