/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package tablock elects one console instance as master among instances
// that share a storage.Store. The master holds a lock record that it
// refreshes on a heartbeat; a record older than the expiry window is free
// for anyone to take.
//
// Acquisition is read-then-write without compare-and-swap. Two instances
// acquiring at the same instant can both believe they are master until the
// next storage change settles it; last writer wins.
package tablock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/tejzpr/callconsole-go/consolesdk"
	"github.com/tejzpr/callconsole-go/retry"
	"github.com/tejzpr/callconsole-go/storage"
)

// DefaultKey is the storage key of the lock record.
const DefaultKey = "callconsole.tabLock"

// Lock is the persisted lock record.
type Lock struct {
	OwnerID   string `json:"id"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// Config holds configuration for the arbitrator
type Config struct {
	// Key is the storage key of the lock record.
	Key string
	// HeartbeatInterval is how often the master refreshes the lock and
	// non-masters check for an expired lock.
	HeartbeatInterval time.Duration
	// ExpiryWindow is the age after which a lock is considered abandoned.
	// It must be longer than HeartbeatInterval.
	ExpiryWindow time.Duration
	// OwnerID identifies this instance. Generated when empty.
	OwnerID string
}

// DefaultConfig returns the default arbitrator configuration
func DefaultConfig() *Config {
	return &Config{
		Key:               DefaultKey,
		HeartbeatInterval: 4 * time.Second,
		ExpiryWindow:      10 * time.Second,
	}
}

// ChangeHandler is called when mastership flips.
type ChangeHandler func(master bool)

// Arbitrator decides whether this instance is master.
type Arbitrator struct {
	mu sync.RWMutex

	store  storage.Store
	config *Config
	clock  clock.WithTicker
	logger *slog.Logger

	ownerID  string
	master   bool
	released bool
	handlers []ChangeHandler

	cancelWatch func()
	heartbeat   *retry.Handle
}

// New creates an Arbitrator. It does not touch the store until Start.
func New(core *consolesdk.Client, store storage.Store, config *Config) (*Arbitrator, error) {
	if store == nil {
		return nil, errors.New("tablock: store is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	def := DefaultConfig()
	if config.Key == "" {
		config.Key = def.Key
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = def.HeartbeatInterval
	}
	if config.ExpiryWindow <= 0 {
		config.ExpiryWindow = def.ExpiryWindow
	}
	if config.HeartbeatInterval >= config.ExpiryWindow {
		return nil, fmt.Errorf("tablock: heartbeat interval %v must be shorter than expiry window %v",
			config.HeartbeatInterval, config.ExpiryWindow)
	}

	ownerID := config.OwnerID
	if ownerID == "" {
		ownerID = uuid.New().String()
	}

	var clk clock.WithTicker = clock.RealClock{}
	logger := slog.Default()
	if core != nil {
		clk = core.GetClock()
		logger = core.GetLogger()
	}

	return &Arbitrator{
		store:   store,
		config:  config,
		clock:   clk,
		logger:  logger.With("component", "tablock", "owner", ownerID),
		ownerID: ownerID,
	}, nil
}

// OwnerID returns this instance's lock owner id.
func (a *Arbitrator) OwnerID() string {
	return a.ownerID
}

// IsMaster reports whether this instance currently holds the lock.
func (a *Arbitrator) IsMaster() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.master
}

// OnChange registers a mastership change handler.
func (a *Arbitrator) OnChange(handler ChangeHandler) {
	if handler == nil {
		return
	}
	a.mu.Lock()
	a.handlers = append(a.handlers, handler)
	a.mu.Unlock()
}

// Start attempts acquisition, subscribes to storage changes and starts the
// heartbeat.
func (a *Arbitrator) Start(ctx context.Context) error {
	if !a.watch(ctx) {
		return nil
	}

	if _, err := a.TryAcquire(ctx); err != nil {
		a.logger.Warn("Initial lock acquisition failed", "error", err)
	}

	poller := retry.NewPoller(a.clock, retry.Constant(a.config.HeartbeatInterval, 0), func(ctx context.Context) bool {
		a.tick(ctx)
		return false
	})
	a.mu.Lock()
	a.heartbeat = poller.Go(ctx)
	a.mu.Unlock()
	return nil
}

// watch subscribes to lock changes. It reports false if already watching.
func (a *Arbitrator) watch(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancelWatch != nil {
		return false
	}
	a.released = false
	a.cancelWatch = a.store.Watch(func(key string) {
		if key == a.config.Key {
			a.Evaluate(ctx)
		}
	})
	return true
}

// TryAcquire takes the lock if it is absent, expired or already ours.
func (a *Arbitrator) TryAcquire(ctx context.Context) (bool, error) {
	lock, ok, err := a.read(ctx)
	if err != nil {
		return a.IsMaster(), err
	}
	if ok && lock.OwnerID != a.ownerID && !a.expired(lock) {
		a.setMaster(false)
		return false, nil
	}
	if err := a.write(ctx); err != nil {
		return a.IsMaster(), err
	}
	a.setMaster(true)
	return true, nil
}

// Evaluate re-checks mastership after the lock record changed.
func (a *Arbitrator) Evaluate(ctx context.Context) {
	if a.isReleased() {
		return
	}
	lock, ok, err := a.read(ctx)
	if err != nil {
		a.logger.Warn("Failed to read lock", "error", err)
		return
	}
	switch {
	case !ok || a.expired(lock):
		if _, err := a.TryAcquire(ctx); err != nil {
			a.logger.Warn("Lock acquisition failed", "error", err)
		}
	case lock.OwnerID == a.ownerID:
		a.setMaster(true)
	default:
		a.setMaster(false)
	}
}

// Release removes the lock, but only if this instance is still recorded as
// its owner. The instance stays out of the election until Start is called
// again.
func (a *Arbitrator) Release(ctx context.Context) error {
	a.mu.Lock()
	a.released = true
	a.mu.Unlock()
	defer a.setMaster(false)

	lock, ok, err := a.read(ctx)
	if err != nil {
		return err
	}
	if !ok || lock.OwnerID != a.ownerID {
		return nil
	}
	return a.store.Remove(ctx, a.config.Key)
}

// Close stops the heartbeat and watch, then releases the lock.
func (a *Arbitrator) Close(ctx context.Context) error {
	a.mu.Lock()
	hb := a.heartbeat
	cancel := a.cancelWatch
	a.heartbeat = nil
	a.cancelWatch = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if hb != nil {
		hb.Stop()
		hb.Wait()
	}
	return a.Release(ctx)
}

// tick is one heartbeat: the master refreshes its record unless someone else
// has taken it; non-masters take over an abandoned lock.
func (a *Arbitrator) tick(ctx context.Context) {
	if a.isReleased() {
		return
	}
	if !a.IsMaster() {
		if _, err := a.TryAcquire(ctx); err != nil {
			a.logger.Warn("Lock acquisition failed", "error", err)
		}
		return
	}

	lock, ok, err := a.read(ctx)
	if err != nil {
		a.logger.Warn("Heartbeat read failed", "error", err)
		return
	}
	if ok && lock.OwnerID != a.ownerID && !a.expired(lock) {
		a.logger.Info("Lock taken by another instance", "new_owner", lock.OwnerID)
		a.setMaster(false)
		return
	}
	if err := a.write(ctx); err != nil {
		a.logger.Warn("Heartbeat write failed", "error", err)
	}
}

func (a *Arbitrator) isReleased() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.released
}

func (a *Arbitrator) expired(lock Lock) bool {
	age := a.clock.Now().UnixMilli() - lock.Timestamp
	return age > a.config.ExpiryWindow.Milliseconds()
}

func (a *Arbitrator) read(ctx context.Context) (Lock, bool, error) {
	var lock Lock
	ok, err := storage.GetJSON(ctx, a.store, a.config.Key, &lock)
	if err != nil {
		return Lock{}, false, fmt.Errorf("reading lock: %w", err)
	}
	return lock, ok, nil
}

func (a *Arbitrator) write(ctx context.Context) error {
	lock := Lock{OwnerID: a.ownerID, Timestamp: a.clock.Now().UnixMilli()}
	if err := storage.SetJSON(ctx, a.store, a.config.Key, lock); err != nil {
		return fmt.Errorf("writing lock: %w", err)
	}
	return nil
}

func (a *Arbitrator) setMaster(master bool) {
	a.mu.Lock()
	changed := a.master != master
	a.master = master
	handlers := make([]ChangeHandler, len(a.handlers))
	copy(handlers, a.handlers)
	a.mu.Unlock()

	if !changed {
		return
	}
	a.logger.Info("Mastership changed", "master", master)
	for _, h := range handlers {
		h(master)
	}
}
