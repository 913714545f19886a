// Package store defines the durable persistence boundary of the board:
// schemaless rows grouped into named tables, with upsert, unique-insert,
// delete, and predicate queries.
//
// Two backends implement the contract: sqlite (production, WAL mode,
// survives restarts) and memory (tests and ephemeral boards).
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("surgibot: row not found")

	// ErrConstraint is returned by Insert when the key already exists.
	ErrConstraint = errors.New("surgibot: constraint violation")

	// ErrIO wraps backend failures: disk errors, corrupt files, a
	// database handle that went away.
	ErrIO = errors.New("surgibot: store io failure")
)

// Row is one persisted record. Fields is an opaque document; the server
// layer owns its schema. UpdatedAt is stamped by the store on every write.
type Row struct {
	Key       string
	Fields    map[string]any
	UpdatedAt time.Time
}

// Predicate filters Query results. A nil Predicate matches every row.
// Predicates must not mutate or retain the row they are handed.
type Predicate func(Row) bool

// Store is the durable persistence contract. Writes are serialized by
// the backend; reads may run concurrently with writes and observe the
// state before or after a write, never a torn row.
type Store interface {
	// Get returns the row at table/key, or ErrNotFound.
	Get(ctx context.Context, table, key string) (Row, error)

	// Put writes the row, replacing any existing row at the same key.
	Put(ctx context.Context, table string, row Row) error

	// Insert writes the row only if the key is absent. A duplicate key
	// returns ErrConstraint and leaves the stored row untouched.
	Insert(ctx context.Context, table string, row Row) error

	// Delete removes the row at table/key, or returns ErrNotFound.
	Delete(ctx context.Context, table, key string) error

	// Query returns the rows of table matching pred, ordered by key.
	Query(ctx context.Context, table string, pred Predicate) ([]Row, error)

	// Migrate creates or upgrades the backing schema. Idempotent.
	Migrate(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
