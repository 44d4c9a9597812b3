// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package store provides SQLite persistence for channels, episodes and the
// download queue. It is the single owner of all three entities and enforces
// their invariants at write time: episode video_id uniqueness, one queue
// entry per episode, and lockstep episode/queue status transitions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// Store provides SQLite persistence for the podcast library.
type Store struct {
	db *sql.DB

	// onFeedChange is called after any committed write that can alter feed
	// output for a channel. Write happens-before invalidation.
	onFeedChange func(channelID string)
}

// Open initializes the SQLite store and runs migrations.
// Pragmas ride in the DSN so they apply to every connection in the pool;
// busy_timeout avoids "database is locked" under concurrent workers and
// _txlock=immediate makes every write transaction take the write lock up
// front, which keeps claim-next linearizable.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// OnFeedChange registers the feed-cache invalidation hook. Must be called
// before any writer runs; the store does not lock around the field.
func (s *Store) OnFeedChange(fn func(channelID string)) {
	s.onFeedChange = fn
}

func (s *Store) notifyFeedChange(channelID string) {
	if s.onFeedChange != nil {
		s.onFeedChange(channelID)
	}
}

// schemaVersion is recorded in PRAGMA user_version. Bump it together
// with a migration step when the schema changes shape.
const schemaVersion = 1

// SchemaVersion reports the schema version stamped on the database file.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// migrate runs database schema migrations. The applied version rides in
// PRAGMA user_version; a database stamped with a newer version than this
// build understands is refused rather than half-read.
func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, schemaVersion)
	}
	if current == schemaVersion {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		thumbnail TEXT NOT NULL DEFAULT '',
		slug TEXT NOT NULL UNIQUE,
		window_size INTEGER NOT NULL DEFAULT 50 CHECK(window_size BETWEEN 1 AND 1000),
		feed_type TEXT NOT NULL DEFAULT 'audio' CHECK(feed_type IN ('audio', 'video', 'both')),
		enabled INTEGER NOT NULL DEFAULT 1,
		transcode_overrides TEXT,
		last_refresh_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		video_id TEXT NOT NULL UNIQUE,
		channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		thumbnail TEXT NOT NULL DEFAULT '',
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		published_at TEXT,
		downloaded_at TEXT,
		file_path_audio TEXT,
		file_path_video TEXT,
		file_size_audio INTEGER,
		file_size_video INTEGER,
		status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'downloading', 'processing', 'completed', 'failed', 'deleted')),
		retry_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_episodes_channel_status ON episodes(channel_id, status);
	CREATE INDEX IF NOT EXISTS idx_episodes_channel_published ON episodes(channel_id, published_at DESC);
	CREATE INDEX IF NOT EXISTS idx_episodes_status ON episodes(status);

	CREATE TABLE IF NOT EXISTS queue (
		id TEXT PRIMARY KEY,
		episode_id TEXT NOT NULL UNIQUE REFERENCES episodes(id) ON DELETE CASCADE,
		priority INTEGER NOT NULL DEFAULT 5 CHECK(priority BETWEEN 1 AND 10),
		status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'in_progress', 'completed', 'failed', 'cancelled')),
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		last_error TEXT,
		next_retry_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_claim ON queue(status, priority, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON queue(status);
	`

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// fmtTime renders a timestamp as UTC RFC3339 for storage. Lexicographic
// order of stored values matches chronological order.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
