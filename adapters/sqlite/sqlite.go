// Package sqlite provides a kv.Store backed by SQLite through the pure Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codewandler/fanout/ports/kv"
)

// Store keeps all entries in one table. Expired rows are skipped on read and
// removed on the next write of the same key or by Vacuum.
type Store struct {
	db    *sql.DB
	table string
}

// Open opens the database at path, ":memory:" included, and prepares the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// one connection keeps ":memory:" a single database and serializes writers
	db.SetMaxOpenConns(1)
	s, err := New(ctx, db, "")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New uses an existing database. table defaults to "fanout_kv".
func New(ctx context.Context, db *sql.DB, table string) (*Store, error) {
	if table == "" {
		table = "fanout_kv"
	}
	s := &Store{db: db, table: table}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			key TEXT PRIMARY KEY,
			data BLOB,
			meta TEXT,
			expires_at INTEGER NOT NULL DEFAULT 0
		);`,
	)
	if err != nil {
		return fmt.Errorf("sqlite: init schema: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	var meta []byte
	if entry.Meta != nil {
		var err error
		if meta, err = json.Marshal(entry.Meta); err != nil {
			return fmt.Errorf("sqlite: encode meta of %s: %w", key, err)
		}
	}
	var expiresAt int64
	if opts.TTL > 0 {
		expiresAt = time.Now().Add(opts.TTL).UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+s.table+` (key, data, meta, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, meta = excluded.meta, expires_at = excluded.expires_at`,
		key, entry.Data, string(meta), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (kv.Entry, error) {
	var (
		entry     kv.Entry
		meta      string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, meta, expires_at FROM `+s.table+` WHERE key = ?`, key,
	).Scan(&entry.Data, &meta, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return kv.Entry{}, kv.ErrNotFound
	case err != nil:
		return kv.Entry{}, fmt.Errorf("sqlite: get %s: %w", key, err)
	}
	if expiresAt > 0 && time.Now().UnixMilli() >= expiresAt {
		return kv.Entry{}, kv.ErrNotFound
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &entry.Meta); err != nil {
			return kv.Entry{}, fmt.Errorf("sqlite: decode meta of %s: %w", key, err)
		}
	}
	return entry, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", key, err)
	}
	return nil
}

// Vacuum deletes expired entries and reports how many were removed.
func (s *Store) Vacuum(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+s.table+` WHERE expires_at > 0 AND expires_at <= ?`, time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: vacuum: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error { return s.db.Close() }

var _ kv.Store = (*Store)(nil)
