/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package storage provides the persisted key/value store shared by console
// instances. It is the only concurrency boundary between instances:
// writes are last-writer-wins and every change is announced to watchers.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// WatchFunc is called with the key of every changed or removed entry.
type WatchFunc func(key string)

// Store is a persisted key/value store.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key.
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Watch registers fn for change notifications and returns a function
	// that unregisters it.
	Watch(fn WatchFunc) (cancel func())
	// Close releases the store.
	Close() error
}

// GetJSON decodes the JSON value stored under key into v. It reports false
// when the key does not exist.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("error decoding %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v as JSON under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// watchers is the watcher registry shared by the store implementations.
type watchers struct {
	mu     sync.RWMutex
	nextID int
	fns    map[int]WatchFunc
}

func (w *watchers) add(fn WatchFunc) func() {
	if fn == nil {
		return func() {}
	}
	w.mu.Lock()
	if w.fns == nil {
		w.fns = make(map[int]WatchFunc)
	}
	id := w.nextID
	w.nextID++
	w.fns[id] = fn
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.fns, id)
			w.mu.Unlock()
		})
	}
}

func (w *watchers) notify(key string) {
	w.mu.RLock()
	fns := make([]WatchFunc, 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.RUnlock()

	for _, fn := range fns {
		fn(key)
	}
}
