package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the persistence collaborator for follower configs, copy
// sessions, replicated operations, follower balances, and master
// aliases.
type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`
CREATE TABLE IF NOT EXISTS follower_configs (
  follower_id TEXT PRIMARY KEY,
  master_id TEXT NOT NULL,
  allocation_type TEXT NOT NULL,
  allocation_value REAL NOT NULL DEFAULT 0,
  allocation_percentage REAL NOT NULL DEFAULT 0,
  leverage TEXT NOT NULL DEFAULT '',
  stop_loss REAL NOT NULL DEFAULT 0,
  take_profit REAL NOT NULL DEFAULT 0,
  active INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_follower_configs_master ON follower_configs(master_id, active);`,
		`
CREATE TABLE IF NOT EXISTS follower_balances (
  follower_id TEXT PRIMARY KEY,
  balance REAL NOT NULL DEFAULT 0,
  currency TEXT NOT NULL DEFAULT 'USD',
  updated_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS master_aliases (
  alias_id TEXT PRIMARY KEY,
  master_id TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_master_aliases_master ON master_aliases(master_id);`,
		`
CREATE TABLE IF NOT EXISTS copy_sessions (
  id TEXT PRIMARY KEY,
  follower_id TEXT NOT NULL,
  master_id TEXT NOT NULL,
  status TEXT NOT NULL,
  initial_balance REAL NOT NULL DEFAULT 0,
  current_balance REAL NOT NULL DEFAULT 0,
  operations INTEGER NOT NULL DEFAULT 0,
  wins INTEGER NOT NULL DEFAULT 0,
  losses INTEGER NOT NULL DEFAULT 0,
  profit REAL NOT NULL DEFAULT 0,
  end_reason TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  ended_at TEXT
);`,
		// At most one non-ended session per follower at any time.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_copy_sessions_live ON copy_sessions(follower_id) WHERE status != 'ended';`,
		`CREATE INDEX IF NOT EXISTS idx_copy_sessions_follower ON copy_sessions(follower_id, created_at DESC);`,
		`
CREATE TABLE IF NOT EXISTS replicated_operations (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL REFERENCES copy_sessions(id),
  follower_id TEXT NOT NULL,
  master_operation_id TEXT NOT NULL,
  external_order_id TEXT NOT NULL DEFAULT '',
  instrument TEXT NOT NULL,
  contract_type TEXT NOT NULL DEFAULT '',
  stake REAL NOT NULL,
  result TEXT NOT NULL DEFAULT 'pending',
  profit REAL NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  settled_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_replicated_ops_master ON replicated_operations(master_operation_id, result);`,
		`CREATE INDEX IF NOT EXISTS idx_replicated_ops_session ON replicated_operations(session_id);`,
	}

	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}
	return nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
