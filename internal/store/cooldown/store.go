// Package cooldown persists the re-entry gate's timestamps. The schema is a
// flat key/value table ("BTCUSDT", "BTCUSDT_long", "BTCUSDT_long_loss" ->
// unix seconds) so the gate survives process restarts.
package cooldown

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// Store is a durable KV for cooldown timestamps. A single mutex guards all
// writers in-process; WAL plus a busy timeout covers the file itself.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("cooldown store path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS cooldowns (
		key TEXT PRIMARY KEY,
		ts  INTEGER NOT NULL
	)`)
	return err
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the stored timestamp for key.
func (s *Store) Get(ctx context.Context, key string) (int64, bool, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT ts FROM cooldowns WHERE key = ?`, key).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return ts, true, nil
}

// Put upserts the timestamp for key. The write is committed before return.
func (s *Store) Put(ctx context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cooldowns (key, ts) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET ts = excluded.ts`, key, value)
	return err
}

// CompareAndSwap writes value only when the stored value still equals old;
// old=0 matches a missing key.
func (s *Store) CompareAndSwap(ctx context.Context, key string, old, value int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT ts FROM cooldowns WHERE key = ?`, key).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		return false, err
	}
	if current != old {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cooldowns (key, ts) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET ts = excluded.ts`, key, value); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Keys lists all stored keys, mainly for inspection endpoints and tests.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM cooldowns ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
