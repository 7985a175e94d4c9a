// Package sqlstore is the one persistence backend: a pure-Go SQLite
// database (modernc.org/sqlite, no CGO) in WAL mode, migrated with
// idempotent CREATE TABLE IF NOT EXISTS statements and accessed through a
// single serialized connection.
package sqlstore

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the single SQLite connection used by the whole gateway.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the database file under dir and runs
// migrations. SetMaxOpenConns(1) avoids SQLITE_BUSY under modernc.org's
// single-writer model; WAL mode lets readers proceed without blocking.
func Open(dir string) (*DB, error) {
	path := filepath.Join(dir, "gateway.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

// migrate runs every versioned migration in order, idempotently.
func (db *DB) migrate() error {
	for i, stmt := range migrations {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// migrations are additive; once shipped a statement is never edited, only
// appended to, per the versioned-migration design note.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS models (
		model_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT,
		modality TEXT NOT NULL,
		provider TEXT NOT NULL,
		status TEXT NOT NULL,
		local_path TEXT,
		size_bytes INTEGER,
		capabilities_json TEXT,
		source_json TEXT,
		fallback_model_id TEXT,
		created_at INTEGER,
		last_used_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_models_modality ON models(modality)`,

	`CREATE TABLE IF NOT EXISTS default_models (
		modality TEXT PRIMARY KEY,
		model_id TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		title TEXT,
		created_at INTEGER,
		last_used_at INTEGER,
		state_tokens_json TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS session_messages (
		session_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		id TEXT NOT NULL,
		modality TEXT NOT NULL,
		input_json TEXT,
		output_json TEXT,
		state_tokens_json TEXT,
		created_at INTEGER,
		PRIMARY KEY (session_id, sequence)
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at INTEGER
	)`,

	`CREATE TABLE IF NOT EXISTS user_tokens (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at INTEGER
	)`,

	`CREATE TABLE IF NOT EXISTS invite_tokens (
		token TEXT PRIMARY KEY,
		created_at INTEGER,
		redeemed_at INTEGER,
		redeemed_by TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS provider_keys (
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		ciphertext BLOB NOT NULL,
		nonce BLOB NOT NULL,
		updated_at INTEGER,
		PRIMARY KEY (user_id, provider)
	)`,

	`CREATE TABLE IF NOT EXISTS requests (
		request_id TEXT PRIMARY KEY,
		model_id TEXT NOT NULL,
		modality TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER,
		completed_at INTEGER,
		error TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS download_jobs (
		job_id TEXT PRIMARY KEY,
		model_id TEXT NOT NULL,
		status TEXT NOT NULL,
		progress_pct REAL,
		error TEXT,
		created_at INTEGER
	)`,

	`CREATE TABLE IF NOT EXISTS provider_discovery (
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		models_json TEXT,
		credits_status TEXT,
		remaining REAL,
		cached_at INTEGER,
		ttl_seconds INTEGER,
		PRIMARY KEY (user_id, provider)
	)`,

	`CREATE TABLE IF NOT EXISTS artifacts (
		artifact_id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		bytes_on_disk INTEGER,
		mime_type TEXT,
		created_at INTEGER,
		expires_at INTEGER
	)`,
}

func unixOrZero(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timeFromUnix(n sql.NullInt64) time.Time {
	if !n.Valid || n.Int64 == 0 {
		return time.Time{}
	}
	return time.Unix(n.Int64, 0).UTC()
}
