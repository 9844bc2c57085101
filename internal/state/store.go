// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package state is the firewall core's only source of cross-process truth
// (§5/§6): a small bucketed key-value store, backed by SQLite, holding the
// persisted state keys (firewall_enabled, firewall_mode,
// privileged_backend_type, ...) that survive a process restart.
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrBucketExists is returned by CreateBucket when the bucket is already
// present; callers typically ignore it.
var ErrBucketExists = errors.New("state: bucket already exists")

// ErrKeyNotFound is returned by Get/GetJSON when the key is absent.
var ErrKeyNotFound = errors.New("state: key not found")

// Store is the narrow persistence surface the firewall core depends on.
// Buckets are independent namespaces of string keys to opaque byte values.
type Store interface {
	CreateBucket(bucket string) error
	List(bucket string) (map[string][]byte, error)
	Get(bucket, key string) ([]byte, error)
	Set(bucket, key string, value []byte) error
	GetJSON(bucket, key string, out any) error
	SetJSON(bucket, key string, value any) error
	Delete(bucket, key string) error
	Close() error
}

// SQLiteStore is the reference Store backed by modernc.org/sqlite. Buckets
// map onto a single table keyed by (bucket, key); there is no replication
// layer (see DESIGN.md — the teacher's internal/state/replication*.go is not
// carried forward, there being nothing in this core resembling a
// primary/replica deployment).
type SQLiteStore struct {
	db *sql.DB
}

// Options configures SQLiteStore construction. Path may be ":memory:" for
// tests.
type Options struct {
	Path string
}

// DefaultOptions returns Options pointing at path.
func DefaultOptions(path string) Options {
	return Options{Path: path}
}

// NewSQLiteStore opens (creating if necessary) the SQLite database at
// opts.Path and ensures the bucket-entry table exists.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS buckets (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS entries (
	bucket TEXT NOT NULL,
	key    TEXT NOT NULL,
	value  BLOB NOT NULL,
	PRIMARY KEY (bucket, key)
);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateBucket(bucket string) error {
	res, err := s.db.Exec(`INSERT OR IGNORE INTO buckets (name) VALUES (?)`, bucket)
	if err != nil {
		return fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	if n == 0 {
		return ErrBucketExists
	}
	return nil
}

func (s *SQLiteStore) List(bucket string) (map[string][]byte, error) {
	rows, err := s.db.Query(`SELECT key, value FROM entries WHERE bucket = ?`, bucket)
	if err != nil {
		return nil, fmt.Errorf("list bucket %q: %w", bucket, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("list bucket %q: %w", bucket, err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(bucket, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM entries WHERE bucket = ? AND key = ?`, bucket, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return value, nil
}

func (s *SQLiteStore) Set(bucket, key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO entries (bucket, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(bucket, key) DO UPDATE SET value = excluded.value`,
		bucket, key, value,
	)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *SQLiteStore) GetJSON(bucket, key string, out any) error {
	raw, err := s.Get(bucket, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *SQLiteStore) SetJSON(bucket, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", bucket, key, err)
	}
	return s.Set(bucket, key, raw)
}

func (s *SQLiteStore) Delete(bucket, key string) error {
	_, err := s.db.Exec(`DELETE FROM entries WHERE bucket = ? AND key = ?`, bucket, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
