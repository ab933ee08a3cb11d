// Package store persists files, versioned chunks, folders and user
// memories in a single SQLite database. Keyword retrieval runs on
// FTS5 with BM25 scoring. Writes are serialized by a mutex; reads go
// straight to the pool.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite database holding all relational state.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the database at path and applies the
// schema. Use ":memory:" for an in-memory store in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection keeps the in-memory DSN coherent and avoids
	// writer lock contention on disk.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS folders (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		name TEXT NOT NULL,
		extension TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'other',
		size INTEGER NOT NULL DEFAULT 0,
		modified_at TEXT NOT NULL DEFAULT '',
		folder_id TEXT NOT NULL DEFAULT '',
		privacy_level TEXT NOT NULL DEFAULT 'private',
		page_count INTEGER NOT NULL DEFAULT 0,
		preview_image BLOB,
		metadata TEXT,
		fast_stage INTEGER NOT NULL DEFAULT 0,
		deep_stage INTEGER NOT NULL DEFAULT 0,
		fast_text_at TEXT,
		fast_embed_at TEXT,
		deep_text_at TEXT,
		deep_embed_at TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_files_name ON files(name);
	CREATE INDEX IF NOT EXISTS idx_files_folder ON files(folder_id);
	CREATE INDEX IF NOT EXISTS idx_files_stages ON files(fast_stage, deep_stage);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT NOT NULL,
		file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		version TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		text TEXT NOT NULL,
		snippet TEXT NOT NULL DEFAULT '',
		token_count INTEGER NOT NULL DEFAULT 0,
		char_count INTEGER NOT NULL DEFAULT 0,
		section_path TEXT,
		metadata TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (id, version)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file_version ON chunks(file_id, version, ordinal);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		text,
		chunk_id UNINDEXED,
		file_id UNINDEXED,
		version UNINDEXED,
		tokenize='porter unicode61'
	);

	CREATE TABLE IF NOT EXISTS memory_episodes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		summary TEXT NOT NULL,
		episode TEXT,
		subject TEXT,
		timestamp TEXT NOT NULL,
		metadata TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_episodes_user ON memory_episodes(user_id);
	CREATE INDEX IF NOT EXISTS idx_memory_episodes_timestamp ON memory_episodes(timestamp DESC);

	CREATE TABLE IF NOT EXISTS memory_event_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		atomic_fact TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		parent_episode_id TEXT REFERENCES memory_episodes(id) ON DELETE SET NULL,
		metadata TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_event_logs_user ON memory_event_logs(user_id);
	CREATE INDEX IF NOT EXISTS idx_memory_event_logs_episode ON memory_event_logs(parent_episode_id);

	CREATE TABLE IF NOT EXISTS memory_foresights (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		evidence TEXT,
		parent_episode_id TEXT REFERENCES memory_episodes(id) ON DELETE SET NULL,
		metadata TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_foresights_user ON memory_foresights(user_id);

	CREATE TABLE IF NOT EXISTS memory_profiles (
		user_id TEXT PRIMARY KEY,
		user_name TEXT,
		personality TEXT,
		interests TEXT,
		hard_skills TEXT,
		soft_skills TEXT,
		updated_at TEXT NOT NULL,
		metadata TEXT
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
		content,
		user_id UNINDEXED,
		memory_type UNINDEXED,
		memory_id UNINDEXED,
		tokenize='porter unicode61'
	);
	`

	_, err := s.db.Exec(schema)
	return err
}
