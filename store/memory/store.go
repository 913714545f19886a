// Package memory provides a fully in-memory store.Store. State is lost
// on restart; intended for unit tests and ephemeral development boards.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/opdacuont2563-hash/surgibot/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps every table in a map guarded by a RWMutex. Rows are copied
// on the way in and out, so callers can never alias internal state.
type Store struct {
	mu     sync.RWMutex
	tables map[string]map[string]store.Row
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{tables: make(map[string]map[string]store.Row)}
}

func (m *Store) Get(_ context.Context, table, key string) (store.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.tables[table][key]
	if !ok {
		return store.Row{}, store.ErrNotFound
	}
	return copyRow(row), nil
}

func (m *Store) Put(_ context.Context, table string, row store.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.putLocked(table, row)
	return nil
}

func (m *Store) Insert(_ context.Context, table string, row store.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tables[table][row.Key]; exists {
		return store.ErrConstraint
	}
	m.putLocked(table, row)
	return nil
}

func (m *Store) Delete(_ context.Context, table, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[table][key]; !ok {
		return store.ErrNotFound
	}
	delete(m.tables[table], key)
	return nil
}

func (m *Store) Query(_ context.Context, table string, pred store.Predicate) ([]store.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := make([]store.Row, 0, len(m.tables[table]))
	for _, row := range m.tables[table] {
		cp := copyRow(row)
		if pred == nil || pred(cp) {
			rows = append(rows, cp)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows, nil
}

func (m *Store) Migrate(_ context.Context) error { return nil }

func (m *Store) Ping(_ context.Context) error { return nil }

func (m *Store) Close() error { return nil }

func (m *Store) putLocked(table string, row store.Row) {
	t := m.tables[table]
	if t == nil {
		t = make(map[string]store.Row)
		m.tables[table] = t
	}
	cp := copyRow(row)
	cp.UpdatedAt = time.Now().UTC()
	t[row.Key] = cp
}

func copyRow(r store.Row) store.Row {
	cp := r
	cp.Fields = maps.Clone(r.Fields)
	return cp
}
