/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package retry schedules bounded polling: a backoff interval sequence
// together with a total time budget after which attempts stop.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes a polling schedule.
type Policy struct {
	// Interval is the delay before the first attempt and, for constant
	// policies, between every attempt.
	Interval time.Duration
	// Multiplier grows the interval after each attempt. Values <= 1 keep the
	// interval constant.
	Multiplier float64
	// MaxInterval caps a growing interval. Zero means no cap.
	MaxInterval time.Duration
	// Budget is the total time after which no further attempt is scheduled.
	// Zero means unbounded.
	Budget time.Duration
}

// Constant returns a fixed-interval policy with a budget.
func Constant(interval, budget time.Duration) Policy {
	return Policy{Interval: interval, Budget: budget}
}

// Exponential returns a growing policy with a budget.
func Exponential(initial, maxInterval time.Duration, multiplier float64, budget time.Duration) Policy {
	return Policy{Interval: initial, Multiplier: multiplier, MaxInterval: maxInterval, Budget: budget}
}

// NewBackOff returns the interval generator for the policy.
func (p Policy) NewBackOff() backoff.BackOff {
	if p.Multiplier <= 1 {
		return &backoff.ConstantBackOff{Interval: p.Interval}
	}
	maxInterval := p.MaxInterval
	if maxInterval <= 0 {
		maxInterval = time.Duration(1<<63 - 1)
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Interval,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         maxInterval,
	}
	b.Reset()
	return b
}

// Schedule is one run of a policy, anchored at its start time.
type Schedule struct {
	policy Policy
	b      backoff.BackOff
	start  time.Time
}

// Start begins a schedule at now.
func (p Policy) Start(now time.Time) *Schedule {
	return &Schedule{policy: p, b: p.NewBackOff(), start: now}
}

// Next returns the delay before the next attempt. It reports false when the
// attempt would fall outside the budget.
func (s *Schedule) Next(now time.Time) (time.Duration, bool) {
	d := s.b.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	if s.policy.Budget > 0 && now.Sub(s.start)+d > s.policy.Budget {
		return 0, false
	}
	return d, true
}

// Elapsed returns the time since the schedule started.
func (s *Schedule) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.start)
}
