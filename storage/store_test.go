/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

type recorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *recorder) watch(key string) {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func testStoreContract(t *testing.T, s Store) {
	ctx := context.Background()
	rec := &recorder{}
	cancel := s.Watch(rec.watch)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "a", []byte("1")))
	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, s.Set(ctx, "a", []byte("2")))
	v, _, _ = s.Get(ctx, "a")
	assert.Equal(t, []byte("2"), v)

	require.NoError(t, s.Remove(ctx, "a"))
	require.NoError(t, s.Remove(ctx, "a"))
	_, ok, _ = s.Get(ctx, "a")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "a", "a"}, rec.get())

	cancel()
	cancel()
	require.NoError(t, s.Set(ctx, "b", []byte("x")))
	assert.Len(t, rec.get(), 3)

	type pref struct {
		ID string `json:"id"`
	}
	require.NoError(t, SetJSON(ctx, s, "pref", pref{ID: "mic-1"}))
	var got pref
	ok, err = GetJSON(ctx, s, "pref", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "mic-1", got.ID)

	require.NoError(t, s.Set(ctx, "bad", []byte("{")))
	_, err = GetJSON(ctx, s, "bad", &got)
	assert.Error(t, err)

	ok, err = GetJSON(ctx, s, "nope", &got)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	testStoreContract(t, s)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, s.Set(context.Background(), "k", buf))
	buf[0] = 'z'
	v, _, _ := s.Get(context.Background(), "k")
	assert.Equal(t, []byte("abc"), v)
}

func TestSQLiteStore(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "console.db"), &SQLiteConfig{Clock: fc, PollInterval: time.Second})
	require.NoError(t, err)
	defer s.Close()
	testStoreContract(t, s)
}

func TestSQLiteStoreSeesOtherProcessWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "console.db")
	fc := testingclock.NewFakeClock(time.Now())

	a, err := OpenSQLite(path, &SQLiteConfig{Clock: fc, PollInterval: time.Second})
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSQLite(path, &SQLiteConfig{Clock: fc, PollInterval: time.Second})
	require.NoError(t, err)
	defer b.Close()

	rec := &recorder{}
	b.Watch(rec.watch)

	require.NoError(t, a.Set(ctx, "lock", []byte(`{"id":"a"}`)))
	require.NoError(t, b.Poll(ctx))
	assert.Equal(t, []string{"lock"}, rec.get())

	// No change, no notification.
	require.NoError(t, b.Poll(ctx))
	assert.Len(t, rec.get(), 1)

	require.NoError(t, a.Remove(ctx, "lock"))
	require.NoError(t, b.Poll(ctx))
	assert.Equal(t, []string{"lock", "lock"}, rec.get())

	// The background loop delivers the same notifications.
	require.NoError(t, a.Set(ctx, "pref", []byte(`"x"`)))
	require.Eventually(t, func() bool {
		fc.Step(time.Second)
		return len(rec.get()) == 3
	}, 5*time.Second, 10*time.Millisecond)
}
