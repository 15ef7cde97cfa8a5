// Package store implements the client's local durable store: a
// transactional SQLite database holding the invoices, users and
// settings collections plus the pending-operation queue. Entities are
// kept as JSON blobs keyed by id, with the LWW timestamp (and the
// username, for uniqueness) mirrored into indexed columns.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaVersion tracks the local schema. A mismatch destructively
// recreates every collection: local data is a cache of server state
// plus an operation queue, and the server remains authoritative.
const schemaVersion = 4

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when a user write collides with
	// another user's username.
	ErrDuplicateKey = errors.New("duplicate key")
)

const schema = `
CREATE TABLE IF NOT EXISTS invoices (
    id TEXT PRIMARY KEY,
    last_modified INTEGER NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    last_modified INTEGER NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
    id TEXT PRIMARY KEY,
    last_modified INTEGER NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    op_type TEXT NOT NULL,
    entity TEXT NOT NULL,
    data TEXT NOT NULL,
    ts INTEGER NOT NULL,
    retries INTEGER NOT NULL DEFAULT 0
);
`

// Store is the local durable store. All access goes through its atomic
// per-key operations; compound read-then-write sequences are not
// isolated across calls.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at path. Use ":memory:" for an
// ephemeral store in tests. A schema version mismatch drops and
// recreates all collections.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The sqlite driver serializes writes on a single connection;
	// keeping one connection also makes :memory: stores behave.
	db.SetMaxOpenConns(1)

	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("read schema version: %w", err)
	}

	if version != 0 && version != schemaVersion {
		for _, table := range []string{"invoices", "users", "settings", "sync_queue"} {
			if _, err := db.Exec(`DROP TABLE IF EXISTS ` + table); err != nil {
				db.Close()
				return nil, fmt.Errorf("drop %s: %w", table, err)
			}
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set schema version: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
