/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package retry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func TestScheduleConstantBudget(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Constant(5*time.Second, time.Minute).Start(start)

	now := start
	attempts := 0
	for {
		d, ok := s.Next(now)
		if !ok {
			break
		}
		assert.Equal(t, 5*time.Second, d)
		now = now.Add(d)
		attempts++
	}
	assert.Equal(t, 12, attempts)
	assert.Equal(t, time.Minute, s.Elapsed(now))
}

func TestScheduleUnbounded(t *testing.T) {
	start := time.Now()
	s := Constant(time.Second, 0).Start(start)
	d, ok := s.Next(start.Add(1000 * time.Hour))
	assert.True(t, ok)
	assert.Equal(t, time.Second, d)
}

func TestScheduleExponential(t *testing.T) {
	start := time.Now()
	s := Exponential(time.Second, 4*time.Second, 2, 0).Start(start)
	var got []time.Duration
	for i := 0; i < 5; i++ {
		d, ok := s.Next(start)
		require.True(t, ok)
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second}, got)
}

// step advances the fake clock once the poller is parked on its timer.
func step(t *testing.T, fc *testingclock.FakeClock, d time.Duration) {
	t.Helper()
	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
	fc.Step(d)
}

func TestPollerStopsAfterBudget(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var attempts atomic.Int32

	p := NewPoller(fc, Constant(5*time.Second, time.Minute), func(context.Context) bool {
		attempts.Add(1)
		return false
	})
	h := p.Go(context.Background())

	for i := 0; i < 12; i++ {
		step(t, fc, 5*time.Second)
	}
	assert.Equal(t, OutcomeExhausted, h.Wait())
	assert.EqualValues(t, 12, attempts.Load())

	fc.Step(time.Hour)
	assert.EqualValues(t, 12, attempts.Load())
}

func TestPollerDone(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	var attempts atomic.Int32

	p := NewPoller(fc, Constant(time.Second, 0), func(context.Context) bool {
		return attempts.Add(1) == 3
	})
	h := p.Go(context.Background())
	for i := 0; i < 3; i++ {
		step(t, fc, time.Second)
	}
	assert.Equal(t, OutcomeDone, h.Wait())
	assert.EqualValues(t, 3, attempts.Load())
}

func TestPollerStop(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	p := NewPoller(fc, Constant(time.Second, 0), func(context.Context) bool { return false })
	h := p.Go(context.Background())
	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)

	h.Stop()
	<-h.Done()
	assert.Equal(t, OutcomeCancelled, h.Wait())
	assert.False(t, fc.HasWaiters())

	var nilHandle *Handle
	nilHandle.Stop()
}

func TestPollerStopFromAttempt(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	var h *Handle
	ready := make(chan struct{})
	p := NewPoller(fc, Constant(time.Second, 0), func(context.Context) bool {
		<-ready
		h.Stop()
		return false
	})
	h = p.Go(context.Background())
	close(ready)
	step(t, fc, time.Second)
	assert.Equal(t, OutcomeCancelled, h.Wait())
}
