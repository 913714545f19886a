// Package sqlite implements store.Store on a local SQLite file.
//
// The database runs in WAL mode, so readers proceed concurrently while a
// single writer holds the write lock. All mutations additionally pass
// through a process-local mutex: SQLite serializes writers with locks and
// busy timeouts anyway, and queueing in-process keeps those timeouts out
// of the hot path.
//
// Every table the board knows (status rows, surgery events, settings) is
// stored in one physical table keyed by (tbl, key), with the row document
// msgpack-encoded in a BLOB column. The server layer owns the document
// schema; the store never looks inside it.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite" // registers the pure-Go "sqlite" driver

	"github.com/opdacuont2563-hash/surgibot/store"
)

var _ store.Store = (*Store)(nil)

// Store is a database/sql implementation of store.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	ownsDB bool

	// writeMu serializes mutations; WAL readers are unaffected.
	writeMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for store diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New wraps an existing database handle. The caller owns the handle's
// lifecycle; Close is a no-op for stores built this way.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens (creating if needed) the database file at path, applies the
// WAL pragmas, and runs migrations. Close releases the handle.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?"+pragmaParams)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", store.ErrIO, path, err)
	}

	s := New(db, opts...)
	s.ownsDB = true

	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.Debug("sqlite store opened", "path", path)
	return s, nil
}

// pragmaParams tune every pooled connection, not just the first one the
// pool hands out: WAL for concurrent reads, NORMAL sync (safe under WAL),
// and a busy timeout so a blocked writer waits instead of failing.
const pragmaParams = "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

const schema = `
CREATE TABLE IF NOT EXISTS board_rows (
	tbl        TEXT NOT NULL,
	key        TEXT NOT NULL,
	fields     BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (tbl, key)
)`

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: migrate: %v", store.ErrIO, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, table, key string) (store.Row, error) {
	const q = `SELECT fields, updated_at FROM board_rows WHERE tbl = ? AND key = ?`

	var (
		blob    []byte
		updated string
	)
	err := s.db.QueryRowContext(ctx, q, table, key).Scan(&blob, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Row{}, store.ErrNotFound
	}
	if err != nil {
		return store.Row{}, fmt.Errorf("%w: get %s/%s: %v", store.ErrIO, table, key, err)
	}
	return decodeRow(key, blob, updated)
}

func (s *Store) Put(ctx context.Context, table string, row store.Row) error {
	const q = `INSERT INTO board_rows (tbl, key, fields, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (tbl, key) DO UPDATE SET fields = excluded.fields, updated_at = excluded.updated_at`

	blob, err := msgpack.Marshal(row.Fields)
	if err != nil {
		return fmt.Errorf("%w: encode %s/%s: %v", store.ErrIO, table, row.Key, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, q, table, row.Key, blob, timestamp()); err != nil {
		return fmt.Errorf("%w: put %s/%s: %v", store.ErrIO, table, row.Key, err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, table string, row store.Row) error {
	const q = `INSERT INTO board_rows (tbl, key, fields, updated_at) VALUES (?, ?, ?, ?)`

	blob, err := msgpack.Marshal(row.Fields)
	if err != nil {
		return fmt.Errorf("%w: encode %s/%s: %v", store.ErrIO, table, row.Key, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, q, table, row.Key, blob, timestamp()); err != nil {
		if isDuplicateKey(err) {
			return store.ErrConstraint
		}
		return fmt.Errorf("%w: insert %s/%s: %v", store.ErrIO, table, row.Key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table, key string) error {
	const q = `DELETE FROM board_rows WHERE tbl = ? AND key = ?`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, q, table, key)
	if err != nil {
		return fmt.Errorf("%w: delete %s/%s: %v", store.ErrIO, table, key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Query(ctx context.Context, table string, pred store.Predicate) ([]store.Row, error) {
	const q = `SELECT key, fields, updated_at FROM board_rows WHERE tbl = ? ORDER BY key`

	rows, err := s.db.QueryContext(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", store.ErrIO, table, err)
	}
	defer rows.Close()

	var out []store.Row
	for rows.Next() {
		var (
			key     string
			blob    []byte
			updated string
		)
		if err := rows.Scan(&key, &blob, &updated); err != nil {
			return nil, fmt.Errorf("%w: query %s: %v", store.ErrIO, table, err)
		}
		row, err := decodeRow(key, blob, updated)
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(row) {
			out = append(out, row)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", store.ErrIO, table, err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", store.ErrIO, err)
	}
	return nil
}

func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func decodeRow(key string, blob []byte, updated string) (store.Row, error) {
	var fields map[string]any
	if err := msgpack.Unmarshal(blob, &fields); err != nil {
		return store.Row{}, fmt.Errorf("%w: decode %s: %v", store.ErrIO, key, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return store.Row{}, fmt.Errorf("%w: decode %s: %v", store.ErrIO, key, err)
	}
	return store.Row{Key: key, Fields: fields, UpdatedAt: ts}, nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// isDuplicateKey detects primary-key violations without depending on
// driver-specific error types.
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
