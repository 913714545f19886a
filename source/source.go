// Package source provides the remote data source boundary. The board
// treats the source as unreliable and possibly absent: fetches carry
// deadlines, retry transient failures with backoff, and report
// ErrUnavailable when the source cannot be reached at all. A missing
// source disables the features that depend on it, never the board.
package source

import (
	"context"
	"errors"
)

// ErrUnavailable means the source could not be reached. Callers treat it
// as "feature off right now", not as a fault to surface.
var ErrUnavailable = errors.New("surgibot: source unavailable")

// Row is one fetched record, shape owned by the remote end.
type Row map[string]any

// Query names a remote resource and its parameters.
type Query struct {
	// Resource selects what to fetch, e.g. "list" or "icd10".
	Resource string
	Params   map[string]string
}

// Source fetches rows from a remote endpoint.
type Source interface {
	Fetch(ctx context.Context, q Query) ([]Row, error)
}

var _ Source = Nop{}

// Nop is the absent source: every fetch reports ErrUnavailable. Boards
// run with it when no remote endpoint is configured.
type Nop struct{}

func (Nop) Fetch(context.Context, Query) ([]Row, error) {
	return nil, ErrUnavailable
}
