package server

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnknownPatient is returned when an edit or delete names a
	// patient that is not on the board.
	ErrUnknownPatient = errors.New("surgibot: unknown patient")

	// ErrInvalidUpdate is returned for updates with a missing action or
	// patient id.
	ErrInvalidUpdate = errors.New("surgibot: invalid update")
)

// Action is what an update asks the board to do.
type Action string

const (
	ActionAdd    Action = "add"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Patient is one row on the board. UpdatedAt tracks the last status
// change, not the last field edit; the countdown surfaces derive from it.
type Patient struct {
	// Seq is the display counter shown when no hospital number is known.
	Seq    int
	ID     string
	HN     string
	Status Status

	UpdatedAt  time.Time
	ETAMinutes int
	HasETA     bool

	// DischargeAt is when a recovery-complete patient moves to
	// transfer-back automatically. Zero means unarmed.
	DischargeAt time.Time
	// DeleteAt is when a transfer-back row leaves the board. Zero means
	// unarmed.
	DeleteAt time.Time
}

// Update is one requested mutation. A nil ETAMinutes leaves the stored
// value alone; an empty HN never clears a known one.
type Update struct {
	Action     Action
	PatientID  string
	Status     Status
	ETAMinutes *int
	HN         string
}

// Change describes what an applied update or sweep transition did.
// StatusChanged means a new status was entered (timestamp reset, event
// recorded); Announce means the change warrants a spoken announcement.
type Change struct {
	Action        Action
	Patient       Patient
	StatusChanged bool
	Announce      bool
}

// Empty reports whether the update turned out to be a no-op.
func (c Change) Empty() bool { return c.Action == "" }

// StateOption configures a State.
type StateOption func(*State)

// WithRecoveryWindow sets how long in-recovery lasts before the board
// flips the row to recovery-complete on its own.
func WithRecoveryWindow(d time.Duration) StateOption {
	return func(s *State) { s.recoveryWindow = d }
}

// WithDischargeDelay sets the pause between recovery-complete and the
// automatic move to transfer-back.
func WithDischargeDelay(d time.Duration) StateOption {
	return func(s *State) { s.dischargeDelay = d }
}

// WithDeleteAfter sets how long a transfer-back row stays on the board
// before it is removed.
func WithDeleteAfter(d time.Duration) StateOption {
	return func(s *State) { s.deleteAfter = d }
}

// WithAutoDelete toggles automatic removal of transfer-back rows.
func WithAutoDelete(enabled bool) StateOption {
	return func(s *State) { s.autoDelete = enabled }
}

// WithClock injects the time source. Tests use this; production code
// never needs it.
func WithClock(clock func() time.Time) StateOption {
	return func(s *State) { s.clock = clock }
}

// State holds the live board: every patient row plus the lifecycle
// clocks the janitor sweeps. Safe for concurrent use.
type State struct {
	mu       sync.RWMutex
	patients map[string]*Patient
	seq      int

	recoveryWindow time.Duration
	dischargeDelay time.Duration
	deleteAfter    time.Duration
	autoDelete     bool
	clock          func() time.Time
}

// NewState builds an empty board. Defaults: one hour of recovery, three
// minutes from recovery-complete to transfer-back, three minutes from
// transfer-back to removal, auto-delete on.
func NewState(opts ...StateOption) *State {
	s := &State{
		patients:       make(map[string]*Patient),
		seq:            1,
		recoveryWindow: time.Hour,
		dischargeDelay: 3 * time.Minute,
		deleteAfter:    3 * time.Minute,
		autoDelete:     true,
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply runs one update against the board. An add for a patient already
// on the board degrades to an edit. Edits and deletes of unknown
// patients return ErrUnknownPatient.
func (s *State) Apply(u Update) (Change, error) {
	if u.PatientID == "" || u.PatientID == "-" {
		return Change{}, ErrInvalidUpdate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch u.Action {
	case ActionAdd:
		if _, ok := s.patients[u.PatientID]; ok {
			return s.editLocked(u), nil
		}
		return s.addLocked(u), nil
	case ActionEdit:
		if _, ok := s.patients[u.PatientID]; !ok {
			return Change{}, ErrUnknownPatient
		}
		return s.editLocked(u), nil
	case ActionDelete:
		p, ok := s.patients[u.PatientID]
		if !ok {
			return Change{}, ErrUnknownPatient
		}
		removed := *p
		delete(s.patients, u.PatientID)
		return Change{Action: ActionDelete, Patient: removed}, nil
	default:
		return Change{}, ErrInvalidUpdate
	}
}

func (s *State) addLocked(u Update) Change {
	now := s.clock()

	p := &Patient{
		Seq:       s.seq,
		ID:        u.PatientID,
		Status:    u.Status,
		UpdatedAt: now,
	}
	s.seq++

	if p.Status == "" {
		p.Status = StatusWaiting
	}
	// A row born in transfer-back starts its removal clock immediately.
	if p.Status == StatusTransfer && s.autoDelete {
		p.DeleteAt = now.Add(s.deleteAfter)
	}
	if hn := strings.TrimSpace(u.HN); hn != "" {
		p.HN = hn
	}
	if u.ETAMinutes != nil {
		p.ETAMinutes = *u.ETAMinutes
		p.HasETA = true
	}

	s.patients[p.ID] = p
	return Change{Action: ActionAdd, Patient: *p, StatusChanged: true, Announce: true}
}

func (s *State) editLocked(u Update) Change {
	p := s.patients[u.PatientID]

	if u.Status == "" && u.ETAMinutes == nil && strings.TrimSpace(u.HN) == "" {
		return Change{}
	}

	if u.Status != "" && u.Status != p.Status {
		s.transitionLocked(p, u.Status)
		if u.ETAMinutes != nil {
			p.ETAMinutes = *u.ETAMinutes
			p.HasETA = true
		}
		if hn := strings.TrimSpace(u.HN); hn != "" {
			p.HN = hn
		}
		return Change{Action: ActionEdit, Patient: *p, StatusChanged: true, Announce: true}
	}

	// Same status: field edits only, no timestamp reset. Repeating the
	// status still announces; the throttler drops duplicates.
	if u.ETAMinutes != nil {
		p.ETAMinutes = *u.ETAMinutes
		p.HasETA = true
	}
	if hn := strings.TrimSpace(u.HN); hn != "" {
		p.HN = hn
	}
	if p.Status == StatusTransfer && s.autoDelete && p.DeleteAt.IsZero() {
		base := p.UpdatedAt
		if base.IsZero() {
			base = s.clock()
		}
		p.DeleteAt = base.Add(s.deleteAfter)
	}

	return Change{Action: ActionEdit, Patient: *p, Announce: u.Status != ""}
}

// transitionLocked moves a patient into a new status, resetting the
// timestamp and arming or clearing the lifecycle clocks.
func (s *State) transitionLocked(p *Patient, status Status) {
	now := s.clock()
	p.Status = status
	p.UpdatedAt = now

	switch status {
	case StatusRecovered:
		p.DischargeAt = now.Add(s.dischargeDelay)
		p.DeleteAt = time.Time{}
	case StatusTransfer:
		p.DischargeAt = time.Time{}
		if s.autoDelete {
			p.DeleteAt = now.Add(s.deleteAfter)
		} else {
			p.DeleteAt = time.Time{}
		}
	default:
		p.DischargeAt = time.Time{}
		p.DeleteAt = time.Time{}
	}
}

// Sweep advances every row's lifecycle clocks once: in-recovery rows
// past the window become recovery-complete, recovery-complete rows past
// the discharge delay move to transfer-back, and transfer-back rows past
// the removal clock leave the board. Each transition is reported in
// board order.
func (s *State) Sweep() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()

	ids := make([]string, 0, len(s.patients))
	for pid := range s.patients {
		ids = append(ids, pid)
	}
	sort.Strings(ids)

	var changes []Change
	for _, pid := range ids {
		p := s.patients[pid]

		if p.Status == StatusInRecovery && !p.UpdatedAt.IsZero() && !now.Before(p.UpdatedAt.Add(s.recoveryWindow)) {
			s.transitionLocked(p, StatusRecovered)
			changes = append(changes, Change{Action: ActionEdit, Patient: *p, StatusChanged: true, Announce: true})
		}

		if p.Status == StatusRecovered && !p.DischargeAt.IsZero() && !now.Before(p.DischargeAt) {
			s.transitionLocked(p, StatusTransfer)
			changes = append(changes, Change{Action: ActionEdit, Patient: *p, StatusChanged: true, Announce: true})
		}

		if p.Status == StatusTransfer && s.autoDelete {
			if p.DeleteAt.IsZero() {
				base := p.UpdatedAt
				if base.IsZero() {
					base = now
				}
				p.DeleteAt = base.Add(s.deleteAfter)
			}
			if !now.Before(p.DeleteAt) {
				removed := *p
				delete(s.patients, pid)
				changes = append(changes, Change{Action: ActionDelete, Patient: removed})
			}
		}
	}
	return changes
}

// Get returns a copy of the patient row, if present.
func (s *State) Get(pid string) (Patient, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patients[pid]
	if !ok {
		return Patient{}, false
	}
	return *p, true
}

// Len counts the rows on the board.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patients)
}

// Load seeds the board from persisted rows, advancing the display
// counter past the highest restored one. Meant for startup; it replaces
// nothing that is already present.
func (s *State) Load(patients []Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range patients {
		if p.ID == "" {
			continue
		}
		if _, ok := s.patients[p.ID]; ok {
			continue
		}
		row := p
		s.patients[p.ID] = &row
		if p.Seq >= s.seq {
			s.seq = p.Seq + 1
		}
	}
}

// Snapshot renders the board as outward rows, sorted by patient id.
// Hospital numbers are always masked in the id column; the full number
// rides along only when includeHN is set.
func (s *State) Snapshot(includeHN bool) []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	rows := make([]map[string]any, 0, len(s.patients))
	for _, p := range s.patients {
		rows = append(rows, snapshotRow(p, includeHN, now))
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i]["patient_id"].(string) < rows[j]["patient_id"].(string)
	})
	return rows
}

// Row renders one patient as an outward row, or nil if absent.
func (s *State) Row(pid string, includeHN bool) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patients[pid]
	if !ok {
		return nil
	}
	return snapshotRow(p, includeHN, s.clock())
}

func snapshotRow(p *Patient, includeHN bool, now time.Time) map[string]any {
	var shown any
	if p.HN != "" {
		shown = MaskHN(p.HN)
	} else {
		shown = p.Seq
	}

	row := map[string]any{
		"id":                    shown,
		"patient_id":            p.ID,
		"status":                string(p.Status),
		"timestamp":             nil,
		"eta_minutes":           nil,
		"eta_time":              nil,
		"eta_remaining_seconds": nil,
	}
	if includeHN {
		if p.HN != "" {
			row["hn_full"] = p.HN
		} else {
			row["hn_full"] = nil
		}
	}
	if !p.UpdatedAt.IsZero() {
		row["timestamp"] = p.UpdatedAt.Format(time.RFC3339)
	}
	if p.HasETA {
		row["eta_minutes"] = p.ETAMinutes
		if !p.UpdatedAt.IsZero() {
			eta := p.UpdatedAt.Add(time.Duration(p.ETAMinutes) * time.Minute)
			row["eta_time"] = eta.Format(time.RFC3339)
			row["eta_remaining_seconds"] = int(eta.Sub(now).Seconds())
		}
	}
	return row
}
