/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package tablock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/tejzpr/callconsole-go/consolesdk"
	"github.com/tejzpr/callconsole-go/storage"
)

type harness struct {
	clock *testingclock.FakeClock
	core  *consolesdk.Client
	store *storage.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fc := testingclock.NewFakeClock(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	core, err := consolesdk.NewClient("", &consolesdk.Config{Clock: fc, Logger: consolesdk.DiscardLogger()})
	require.NoError(t, err)
	return &harness{clock: fc, core: core, store: storage.NewMemoryStore()}
}

// instance creates an arbitrator subscribed to storage changes but without a
// background heartbeat, so tests can drive ticks by hand.
func (h *harness) instance(t *testing.T, owner string) *Arbitrator {
	t.Helper()
	a, err := New(h.core, h.store, &Config{OwnerID: owner})
	require.NoError(t, err)
	require.True(t, a.watch(context.Background()))
	return a
}

func masters(arbs ...*Arbitrator) []string {
	var out []string
	for _, a := range arbs {
		if a.IsMaster() {
			out = append(out, a.OwnerID())
		}
	}
	return out
}

func TestNewValidatesConfig(t *testing.T) {
	h := newHarness(t)

	_, err := New(h.core, nil, nil)
	assert.Error(t, err)

	_, err = New(h.core, h.store, &Config{HeartbeatInterval: 10 * time.Second, ExpiryWindow: time.Second})
	assert.Error(t, err)

	a, err := New(nil, h.store, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, a.OwnerID())
	assert.Equal(t, DefaultKey, a.config.Key)
}

func TestFirstInstanceBecomesMaster(t *testing.T) {
	h := newHarness(t)
	a := h.instance(t, "a")
	b := h.instance(t, "b")

	ok, err := a.TryAcquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"a"}, masters(a, b))

	var lock Lock
	found, err := storage.GetJSON(context.Background(), h.store, DefaultKey, &lock)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a", lock.OwnerID)
	assert.Equal(t, h.clock.Now().UnixMilli(), lock.Timestamp)
}

// With heartbeats arriving inside the expiry window, exactly one instance is
// master at every observation point.
func TestSingleMasterWhileHeartbeating(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	arbs := []*Arbitrator{h.instance(t, "a"), h.instance(t, "b"), h.instance(t, "c")}
	for _, a := range arbs {
		_, err := a.TryAcquire(ctx)
		require.NoError(t, err)
	}

	for i := 0; i < 50; i++ {
		h.clock.Step(4 * time.Second)
		for _, a := range arbs {
			a.tick(ctx)
		}
		require.Equal(t, []string{"a"}, masters(arbs...), "iteration %d", i)
	}
}

// Once the master stops heartbeating for longer than the expiry window,
// another instance takes over and the old one steps down.
func TestExpiredLockIsTakenOver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.instance(t, "a")
	b := h.instance(t, "b")

	_, _ = a.TryAcquire(ctx)
	_, _ = b.TryAcquire(ctx)
	require.Equal(t, []string{"a"}, masters(a, b))

	h.clock.Step(11 * time.Second)
	b.tick(ctx)
	assert.True(t, b.IsMaster())
	// a learns through the storage change event.
	assert.False(t, a.IsMaster())

	// a's next heartbeat must not steal the fresh lock back.
	a.tick(ctx)
	assert.Equal(t, []string{"b"}, masters(a, b))
}

func TestReleaseOnlyByOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.instance(t, "a")
	b := h.instance(t, "b")

	_, _ = a.TryAcquire(ctx)
	h.clock.Step(11 * time.Second)
	_, _ = b.TryAcquire(ctx)
	require.True(t, b.IsMaster())

	// a was superseded; its release must leave b's lock alone.
	require.NoError(t, a.Release(ctx))
	var lock Lock
	found, _ := storage.GetJSON(ctx, h.store, DefaultKey, &lock)
	require.True(t, found)
	assert.Equal(t, "b", lock.OwnerID)
	assert.True(t, b.IsMaster())

	// A released instance stays out of the election.
	h.clock.Step(11 * time.Second)
	a.tick(ctx)
	assert.False(t, a.IsMaster())
}

func TestReleaseHandsOverImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.instance(t, "a")
	b := h.instance(t, "b")

	_, _ = a.TryAcquire(ctx)
	_, _ = b.TryAcquire(ctx)

	require.NoError(t, a.Release(ctx))
	assert.False(t, a.IsMaster())
	// b re-evaluated on the removal event and acquired.
	assert.True(t, b.IsMaster())
}

func TestOnChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.instance(t, "a")

	var got []bool
	a.OnChange(func(master bool) { got = append(got, master) })
	a.OnChange(nil)

	_, _ = a.TryAcquire(ctx)
	_, _ = a.TryAcquire(ctx)
	require.NoError(t, a.Release(ctx))
	assert.Equal(t, []bool{true, false}, got)
}

func TestStartAndCloseWithHeartbeat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := New(h.core, h.store, &Config{OwnerID: "a"})
	require.NoError(t, err)
	b, err := New(h.core, h.store, &Config{OwnerID: "b"})
	require.NoError(t, err)

	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	require.True(t, a.IsMaster())
	require.False(t, b.IsMaster())

	// The background heartbeat keeps a's lock fresh well past the expiry window.
	for i := 0; i < 10; i++ {
		require.Eventually(t, h.clock.HasWaiters, time.Second, time.Millisecond)
		h.clock.Step(4 * time.Second)
	}
	require.Eventually(t, func() bool {
		var lock Lock
		_, _ = storage.GetJSON(ctx, h.store, DefaultKey, &lock)
		return h.clock.Now().UnixMilli()-lock.Timestamp <= (10 * time.Second).Milliseconds()
	}, time.Second, time.Millisecond)
	assert.True(t, a.IsMaster())
	assert.False(t, b.IsMaster())

	require.NoError(t, a.Close(ctx))
	assert.False(t, a.IsMaster())
	assert.True(t, b.IsMaster())
	require.NoError(t, b.Close(ctx))

	_, found, _ := h.store.Get(ctx, DefaultKey)
	assert.False(t, found)
}
