/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package storage

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. Several console instances sharing one
// MemoryStore behave like tabs sharing local storage.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers watchers
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)

	m.mu.Lock()
	m.data[key] = v
	m.mu.Unlock()

	m.watchers.notify(key)
	return nil
}

// Remove implements Store.
func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	_, existed := m.data[key]
	delete(m.data, key)
	m.mu.Unlock()

	if existed {
		m.watchers.notify(key)
	}
	return nil
}

// Watch implements Store.
func (m *MemoryStore) Watch(fn WatchFunc) func() {
	return m.watchers.add(fn)
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
