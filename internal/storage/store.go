// Package storage provides SQLite-backed persistence for deal records,
// thread roots, and the exchange-rate snapshot.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var (
	// ErrDuplicateRecord indicates the (source, game_id, bucket) key already exists.
	ErrDuplicateRecord = errors.New("storage: duplicate deal record")
	// ErrNotConfigured indicates the store was not initialised.
	ErrNotConfigured = errors.New("storage: database not configured")
)

// Store aggregates access to deal records, thread roots, and rate snapshots
// in a single local database file.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at path and applies the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, ErrNotConfigured
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer; WAL allows concurrent readers. Keeps the
	// exists-then-insert sequence serialized across source cycles.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS deal_records (
			source      TEXT NOT NULL,
			game_id     TEXT NOT NULL,
			bucket_ts   INTEGER NOT NULL,
			title       TEXT NOT NULL,
			observed_at INTEGER NOT NULL,
			PRIMARY KEY (source, game_id, bucket_ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deal_records_observed_at
			ON deal_records(observed_at)`,
		`CREATE TABLE IF NOT EXISTS thread_roots (
			category   TEXT PRIMARY KEY,
			event_id   TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS exchange_rates (
			base       TEXT NOT NULL,
			quote      TEXT NOT NULL,
			rate       TEXT NOT NULL,
			fetched_at INTEGER NOT NULL,
			PRIMARY KEY (base, quote)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
