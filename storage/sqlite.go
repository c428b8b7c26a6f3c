/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"k8s.io/utils/clock"
	_ "modernc.org/sqlite"
)

const schemaKV = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	version    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteConfig holds the configuration for a SQLiteStore
type SQLiteConfig struct {
	// PollInterval is how often the store checks for writes made by other
	// processes.
	PollInterval time.Duration
	// Clock drives the poll loop. Defaults to the real clock.
	Clock clock.WithTicker
	// Logger receives poll errors. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultSQLiteConfig returns the default SQLite store configuration
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		PollInterval: 500 * time.Millisecond,
	}
}

// SQLiteStore is a Store persisted in a SQLite database. Console processes
// sharing the same database file observe each other's writes through a
// version poll.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger

	mu       sync.Mutex
	versions map[string]int64
	watchers watchers

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// OpenSQLite opens (creating if needed) the database at path and starts the
// change poll.
func OpenSQLite(path string, config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultSQLiteConfig().PollInterval
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent directories: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaKV); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating kv table: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		config:   config,
		logger:   logger.With("component", "storage"),
		versions: make(map[string]int64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	snapshot, err := s.snapshot(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.versions = snapshot

	go s.pollLoop()
	return s, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", key, err)
	}
	return value, true, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	var version int64
	err := s.db.QueryRowContext(ctx, `INSERT INTO kv (key, value, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = kv.version + 1,
			updated_at = excluded.updated_at
		RETURNING version`,
		key, value, s.config.Clock.Now().UnixMilli(),
	).Scan(&version)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}

	s.mu.Lock()
	s.versions[key] = version
	s.mu.Unlock()

	s.watchers.notify(key)
	return nil
}

// Remove implements Store.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("removing %s: %w", key, err)
	}

	s.mu.Lock()
	delete(s.versions, key)
	s.mu.Unlock()

	if n, _ := res.RowsAffected(); n > 0 {
		s.watchers.notify(key)
	}
	return nil
}

// Watch implements Store.
func (s *SQLiteStore) Watch(fn WatchFunc) func() {
	return s.watchers.add(fn)
}

// Poll compares the stored versions with the last seen snapshot and
// notifies watchers of every key another process changed or removed.
// It runs every PollInterval; tests may call it directly.
func (s *SQLiteStore) Poll(ctx context.Context) error {
	current, err := s.snapshot(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	var changed []string
	for key, v := range current {
		if old, ok := s.versions[key]; !ok || old != v {
			changed = append(changed, key)
		}
	}
	for key := range s.versions {
		if _, ok := current[key]; !ok {
			changed = append(changed, key)
		}
	}
	s.versions = current
	s.mu.Unlock()

	for _, key := range changed {
		s.watchers.notify(key)
	}
	return nil
}

// Close stops the poll loop and closes the database.
func (s *SQLiteStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return s.db.Close()
}

func (s *SQLiteStore) snapshot(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, version FROM kv")
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var version int64
		if err := rows.Scan(&key, &version); err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		out[key] = version
	}
	return out, rows.Err()
}

func (s *SQLiteStore) pollLoop() {
	defer close(s.done)

	ticker := s.config.Clock.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			if err := s.Poll(context.Background()); err != nil {
				s.logger.Warn("Storage poll failed", "error", err)
			}
		case <-s.stop:
			return
		}
	}
}
