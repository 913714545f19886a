package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opdacuont2563-hash/surgibot/store"
)

// Store table names. The server owns patients, surgery_events, and
// announcements; icd10 holds the lookup catalog and schedule the cached
// remote schedule rows.
const (
	TablePatients      = "patients"
	TableSurgeryEvents = "surgery_events"
	TableICD10         = "icd10"
	TableAnnouncements = "announcements"
	TableSchedule      = "schedule"
)

// patientFields flattens a patient row for the store. Optional fields
// are written only when set, so restored rows round-trip exactly.
func patientFields(p Patient) map[string]any {
	fields := map[string]any{
		"seq":        p.Seq,
		"status":     string(p.Status),
		"updated_at": p.UpdatedAt.Format(time.RFC3339Nano),
	}
	if p.HN != "" {
		fields["hn"] = p.HN
	}
	if p.HasETA {
		fields["eta_minutes"] = p.ETAMinutes
	}
	if !p.DischargeAt.IsZero() {
		fields["discharge_at"] = p.DischargeAt.Format(time.RFC3339Nano)
	}
	if !p.DeleteAt.IsZero() {
		fields["delete_at"] = p.DeleteAt.Format(time.RFC3339Nano)
	}
	return fields
}

// patientFromRow rebuilds a patient from a persisted row. Unparseable
// fields degrade to their zero values rather than failing the restore.
func patientFromRow(row store.Row) Patient {
	p := Patient{ID: row.Key}

	if v, ok := fieldInt(row.Fields, "seq"); ok {
		p.Seq = v
	}
	if v, ok := row.Fields["hn"].(string); ok {
		p.HN = v
	}
	if v, ok := row.Fields["status"].(string); ok {
		p.Status = Status(v)
	}
	if v, ok := fieldTime(row.Fields, "updated_at"); ok {
		p.UpdatedAt = v
	}
	if v, ok := fieldInt(row.Fields, "eta_minutes"); ok {
		p.ETAMinutes = v
		p.HasETA = true
	}
	if v, ok := fieldTime(row.Fields, "discharge_at"); ok {
		p.DischargeAt = v
	}
	if v, ok := fieldTime(row.Fields, "delete_at"); ok {
		p.DeleteAt = v
	}
	return p
}

// fieldInt coerces the msgpack integer widths a decoded row can carry.
func fieldInt(fields map[string]any, key string) (int, bool) {
	switch v := fields[key].(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func fieldTime(fields map[string]any, key string) (time.Time, bool) {
	s, ok := fields[key].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Restore loads the persisted board into memory. Call once before Run.
func (s *Server) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	rows, err := s.store.Query(ctx, TablePatients, nil)
	if err != nil {
		return fmt.Errorf("surgibot: restore board: %w", err)
	}

	patients := make([]Patient, 0, len(rows))
	for _, row := range rows {
		patients = append(patients, patientFromRow(row))
	}
	s.state.Load(patients)

	if len(patients) > 0 {
		s.logger.Info("board restored", slog.Int("patients", len(patients)))
	}
	return nil
}
