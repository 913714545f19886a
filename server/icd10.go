package server

import (
	"context"
	"sort"
	"strings"

	"github.com/opdacuont2563-hash/surgibot/store"
)

// ICD10Entry is one diagnosis or operation catalog row.
type ICD10Entry struct {
	Code string `json:"code"`
	Term string `json:"term"`
}

// LookupICD10 matches catalog entries whose code starts with the query
// or whose term contains it, case-insensitively. Results are memoized in
// the lookup cache, so repeated queries skip the store entirely.
func (s *Server) LookupICD10(ctx context.Context, query string) ([]ICD10Entry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if s.store == nil {
		return nil, nil
	}

	needle := strings.ToLower(query)

	load := func(ctx context.Context) (any, error) {
		rows, err := s.store.Query(ctx, TableICD10, func(row store.Row) bool {
			code, _ := row.Fields["code"].(string)
			term, _ := row.Fields["term"].(string)
			if code == "" {
				code = row.Key
			}
			return strings.HasPrefix(strings.ToLower(code), needle) ||
				strings.Contains(strings.ToLower(term), needle)
		})
		if err != nil {
			return nil, err
		}

		entries := make([]ICD10Entry, 0, len(rows))
		for _, row := range rows {
			e := ICD10Entry{Code: row.Key}
			if code, ok := row.Fields["code"].(string); ok && code != "" {
				e.Code = code
			}
			e.Term, _ = row.Fields["term"].(string)
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Code < entries[j].Code })
		return entries, nil
	}

	if s.lookup == nil {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return v.([]ICD10Entry), nil
	}

	v, err := s.lookup.GetOrLoad(ctx, "icd10:"+needle, load)
	if err != nil {
		return nil, err
	}
	return v.([]ICD10Entry), nil
}

// SeedICD10 loads catalog entries into st, replacing rows that share a
// code. Run at install time or whenever the catalog refreshes.
func SeedICD10(ctx context.Context, st store.Store, entries []ICD10Entry) error {
	for _, e := range entries {
		if e.Code == "" {
			continue
		}
		row := store.Row{
			Key:    e.Code,
			Fields: map[string]any{"code": e.Code, "term": e.Term},
		}
		if err := st.Put(ctx, TableICD10, row); err != nil {
			return err
		}
	}
	return nil
}
