package server_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opdacuont2563-hash/surgibot/server"
)

// fakeClock is a hand-advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newBoard(clk *fakeClock, opts ...server.StateOption) *server.State {
	all := append([]server.StateOption{server.WithClock(clk.Now)}, opts...)
	return server.NewState(all...)
}

func intp(v int) *int { return &v }

func TestApplyAddDefaultsToWaiting(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	st := newBoard(clk)

	ch, err := st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ch.Action != server.ActionAdd || !ch.StatusChanged || !ch.Announce {
		t.Errorf("change = %+v, want announced add with status change", ch)
	}
	if ch.Patient.Status != server.StatusWaiting {
		t.Errorf("status = %q, want waiting", ch.Patient.Status)
	}
	if !ch.Patient.UpdatedAt.Equal(clk.Now()) {
		t.Errorf("timestamp = %v, want %v", ch.Patient.UpdatedAt, clk.Now())
	}
	if ch.Patient.Seq != 1 {
		t.Errorf("seq = %d, want 1", ch.Patient.Seq)
	}
}

func TestApplyAddCarriesHNAndETA(t *testing.T) {
	t.Parallel()

	st := newBoard(newFakeClock())

	ch, err := st.Apply(server.Update{
		Action:     server.ActionAdd,
		PatientID:  "OR1-0-2",
		Status:     server.StatusInSurgery,
		HN:         " 590166994 ",
		ETAMinutes: intp(90),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ch.Patient.HN != "590166994" {
		t.Errorf("hn = %q, want trimmed 590166994", ch.Patient.HN)
	}
	if !ch.Patient.HasETA || ch.Patient.ETAMinutes != 90 {
		t.Errorf("eta = %d (set=%v), want 90", ch.Patient.ETAMinutes, ch.Patient.HasETA)
	}
}

func TestApplyAddExistingBehavesAsEdit(t *testing.T) {
	t.Parallel()

	st := newBoard(newFakeClock())
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2"})

	ch, err := st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2", Status: server.StatusInSurgery})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ch.Action != server.ActionEdit {
		t.Errorf("action = %q, want edit", ch.Action)
	}
	if st.Len() != 1 {
		t.Errorf("len = %d, want 1", st.Len())
	}
	got, _ := st.Get("OR1-0-2")
	if got.Status != server.StatusInSurgery {
		t.Errorf("status = %q, want in surgery", got.Status)
	}
	if got.Seq != 1 {
		t.Errorf("seq = %d, want original 1", got.Seq)
	}
}

func TestApplyEditStatusChangeResetsTimestamp(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	st := newBoard(clk)
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2"})

	clk.Advance(10 * time.Minute)
	ch, err := st.Apply(server.Update{Action: server.ActionEdit, PatientID: "OR1-0-2", Status: server.StatusInSurgery})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !ch.StatusChanged || !ch.Announce {
		t.Errorf("change = %+v, want status change with announcement", ch)
	}
	if !ch.Patient.UpdatedAt.Equal(clk.Now()) {
		t.Errorf("timestamp not reset: %v", ch.Patient.UpdatedAt)
	}
}

func TestApplyEditSameStatusKeepsTimestamp(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	st := newBoard(clk)
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2", Status: server.StatusInSurgery})
	created := clk.Now()

	clk.Advance(5 * time.Minute)
	ch, err := st.Apply(server.Update{
		Action:     server.ActionEdit,
		PatientID:  "OR1-0-2",
		Status:     server.StatusInSurgery,
		ETAMinutes: intp(45),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ch.StatusChanged {
		t.Error("same-status edit reported a status change")
	}
	if !ch.Announce {
		t.Error("explicit status should still announce; duplicates die in the throttler")
	}
	if !ch.Patient.UpdatedAt.Equal(created) {
		t.Errorf("timestamp moved on a field edit: %v", ch.Patient.UpdatedAt)
	}
	if ch.Patient.ETAMinutes != 45 {
		t.Errorf("eta = %d, want 45", ch.Patient.ETAMinutes)
	}
}

func TestApplyEditWithoutStatusStaysSilent(t *testing.T) {
	t.Parallel()

	st := newBoard(newFakeClock())
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2"})

	ch, err := st.Apply(server.Update{Action: server.ActionEdit, PatientID: "OR1-0-2", ETAMinutes: intp(30)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ch.Announce {
		t.Error("eta-only edit must not announce")
	}
}

func TestApplyEmptyEditIsNoop(t *testing.T) {
	t.Parallel()

	st := newBoard(newFakeClock())
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2"})

	ch, err := st.Apply(server.Update{Action: server.ActionEdit, PatientID: "OR1-0-2"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !ch.Empty() {
		t.Errorf("change = %+v, want empty", ch)
	}
}

func TestApplyUnknownPatient(t *testing.T) {
	t.Parallel()

	st := newBoard(newFakeClock())

	if _, err := st.Apply(server.Update{Action: server.ActionEdit, PatientID: "OR9-9", Status: server.StatusInSurgery}); !errors.Is(err, server.ErrUnknownPatient) {
		t.Errorf("edit err = %v, want ErrUnknownPatient", err)
	}
	if _, err := st.Apply(server.Update{Action: server.ActionDelete, PatientID: "OR9-9"}); !errors.Is(err, server.ErrUnknownPatient) {
		t.Errorf("delete err = %v, want ErrUnknownPatient", err)
	}
}

func TestApplyInvalidUpdate(t *testing.T) {
	t.Parallel()

	st := newBoard(newFakeClock())

	if _, err := st.Apply(server.Update{Action: "promote", PatientID: "OR1-0-2"}); !errors.Is(err, server.ErrInvalidUpdate) {
		t.Errorf("bad action err = %v, want ErrInvalidUpdate", err)
	}
	if _, err := st.Apply(server.Update{Action: server.ActionAdd, PatientID: "-"}); !errors.Is(err, server.ErrInvalidUpdate) {
		t.Errorf("dash pid err = %v, want ErrInvalidUpdate", err)
	}
}

func TestApplyDeleteRemovesRow(t *testing.T) {
	t.Parallel()

	st := newBoard(newFakeClock())
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2", HN: "590166994"})

	ch, err := st.Apply(server.Update{Action: server.ActionDelete, PatientID: "OR1-0-2"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ch.Action != server.ActionDelete {
		t.Errorf("action = %q, want delete", ch.Action)
	}
	if ch.Patient.HN != "590166994" {
		t.Errorf("removed row lost its fields: %+v", ch.Patient)
	}
	if st.Len() != 0 {
		t.Errorf("len = %d after delete", st.Len())
	}
}

func TestTransitionRecoveredArmsDischarge(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	st := newBoard(clk)
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2", Status: server.StatusInRecovery})

	clk.Advance(time.Minute)
	ch, _ := st.Apply(server.Update{Action: server.ActionEdit, PatientID: "OR1-0-2", Status: server.StatusRecovered})

	want := clk.Now().Add(3 * time.Minute)
	if !ch.Patient.DischargeAt.Equal(want) {
		t.Errorf("discharge clock = %v, want %v", ch.Patient.DischargeAt, want)
	}
	if !ch.Patient.DeleteAt.IsZero() {
		t.Errorf("delete clock armed early: %v", ch.Patient.DeleteAt)
	}
}

func TestTransitionTransferArmsDelete(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	st := newBoard(clk)
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2", Status: server.StatusRecovered})

	ch, _ := st.Apply(server.Update{Action: server.ActionEdit, PatientID: "OR1-0-2", Status: server.StatusTransfer})
	if !ch.Patient.DischargeAt.IsZero() {
		t.Errorf("discharge clock survived transfer: %v", ch.Patient.DischargeAt)
	}
	if want := clk.Now().Add(3 * time.Minute); !ch.Patient.DeleteAt.Equal(want) {
		t.Errorf("delete clock = %v, want %v", ch.Patient.DeleteAt, want)
	}
}

func TestTransitionBackToWaitingClearsClocks(t *testing.T) {
	t.Parallel()

	st := newBoard(newFakeClock())
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2", Status: server.StatusTransfer})

	ch, _ := st.Apply(server.Update{Action: server.ActionEdit, PatientID: "OR1-0-2", Status: server.StatusWaiting})
	if !ch.Patient.DischargeAt.IsZero() || !ch.Patient.DeleteAt.IsZero() {
		t.Errorf("clocks survived a reset to waiting: %+v", ch.Patient)
	}
}

func TestAddInTransferStartsDeleteClock(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	st := newBoard(clk)

	ch, _ := st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2", Status: server.StatusTransfer})
	if want := clk.Now().Add(3 * time.Minute); !ch.Patient.DeleteAt.Equal(want) {
		t.Errorf("delete clock = %v, want %v", ch.Patient.DeleteAt, want)
	}
}

func TestAutoDeleteDisabled(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	st := newBoard(clk, server.WithAutoDelete(false))
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2", Status: server.StatusTransfer})

	got, _ := st.Get("OR1-0-2")
	if !got.DeleteAt.IsZero() {
		t.Errorf("delete clock armed with auto-delete off: %v", got.DeleteAt)
	}

	clk.Advance(time.Hour)
	if changes := st.Sweep(); len(changes) != 0 {
		t.Errorf("sweep produced %d changes with auto-delete off", len(changes))
	}
	if st.Len() != 1 {
		t.Error("row removed with auto-delete off")
	}
}

func TestSweepRecoveryCascade(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	st := newBoard(clk)
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2", Status: server.StatusInRecovery})

	// Not due yet.
	clk.Advance(59 * time.Minute)
	if changes := st.Sweep(); len(changes) != 0 {
		t.Fatalf("early sweep produced %d changes", len(changes))
	}

	// Recovery window elapses: in-recovery becomes recovery-complete.
	clk.Advance(time.Minute)
	changes := st.Sweep()
	if len(changes) != 1 {
		t.Fatalf("sweep changes = %d, want 1", len(changes))
	}
	if changes[0].Patient.Status != server.StatusRecovered || !changes[0].Announce {
		t.Errorf("change = %+v, want announced recovery-complete", changes[0])
	}

	// Discharge delay elapses: recovery-complete moves to transfer-back.
	clk.Advance(3 * time.Minute)
	changes = st.Sweep()
	if len(changes) != 1 || changes[0].Patient.Status != server.StatusTransfer {
		t.Fatalf("changes = %+v, want transfer-back", changes)
	}

	// Removal clock elapses: the row leaves the board.
	clk.Advance(3 * time.Minute)
	changes = st.Sweep()
	if len(changes) != 1 || changes[0].Action != server.ActionDelete {
		t.Fatalf("changes = %+v, want delete", changes)
	}
	if st.Len() != 0 {
		t.Errorf("len = %d after cascade", st.Len())
	}
}

func TestSweepDoesNotCascadeInOneTick(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	st := newBoard(clk)
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2", Status: server.StatusInRecovery})

	// Even far past the window, one sweep advances one step: the fresh
	// discharge clock starts from the transition, not from the backlog.
	clk.Advance(5 * time.Hour)
	changes := st.Sweep()
	if len(changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(changes))
	}
	got, _ := st.Get("OR1-0-2")
	if got.Status != server.StatusRecovered {
		t.Errorf("status = %q, want recovery-complete", got.Status)
	}
}

func TestSweepBackfillsDeleteClock(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	st := newBoard(clk, server.WithAutoDelete(false))
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2", Status: server.StatusTransfer})

	// Rows that entered transfer-back while auto-delete was off pick up
	// a clock, measured from the status timestamp, once it is on.
	st2 := restateWithAutoDelete(st, clk)
	clk.Advance(time.Second)
	st2.Sweep()

	got, ok := st2.Get("OR1-0-2")
	if !ok {
		t.Fatal("row vanished on the arming sweep")
	}
	if got.DeleteAt.IsZero() {
		t.Error("delete clock not backfilled")
	}

	clk.Advance(3 * time.Minute)
	st2.Sweep()
	if st2.Len() != 0 {
		t.Error("row not removed after the backfilled clock expired")
	}
}

// restateWithAutoDelete rebuilds the board with auto-delete on but the
// same rows, mimicking a restart with changed settings.
func restateWithAutoDelete(st *server.State, clk *fakeClock) *server.State {
	rows := st.Snapshot(true)
	next := server.NewState(server.WithClock(clk.Now))

	var patients []server.Patient
	for _, row := range rows {
		p := server.Patient{ID: row["patient_id"].(string), Status: server.Status(row["status"].(string))}
		if ts, ok := row["timestamp"].(string); ok {
			p.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
		}
		patients = append(patients, p)
	}
	next.Load(patients)
	return next
}

func TestSnapshotSortsByPatientID(t *testing.T) {
	t.Parallel()

	st := newBoard(newFakeClock())
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR3-0-1"})
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2"})
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR2-0-9"})

	rows := st.Snapshot(false)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	order := []string{rows[0]["patient_id"].(string), rows[1]["patient_id"].(string), rows[2]["patient_id"].(string)}
	if order[0] != "OR1-0-2" || order[1] != "OR2-0-9" || order[2] != "OR3-0-1" {
		t.Errorf("order = %v", order)
	}
}

func TestSnapshotMasksHospitalNumbers(t *testing.T) {
	t.Parallel()

	st := newBoard(newFakeClock())
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2", HN: "590166994"})

	public := st.Snapshot(false)[0]
	if public["id"] != "590166XXX" {
		t.Errorf("public id = %v, want masked hn", public["id"])
	}
	if _, leaked := public["hn_full"]; leaked {
		t.Error("public row carries hn_full")
	}

	full := st.Snapshot(true)[0]
	if full["id"] != "590166XXX" {
		t.Errorf("authed id = %v, still masked by contract", full["id"])
	}
	if full["hn_full"] != "590166994" {
		t.Errorf("hn_full = %v", full["hn_full"])
	}
}

func TestSnapshotFallsBackToSeqWithoutHN(t *testing.T) {
	t.Parallel()

	st := newBoard(newFakeClock())
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2"})

	row := st.Snapshot(false)[0]
	if row["id"] != 1 {
		t.Errorf("id = %v (%T), want display counter 1", row["id"], row["id"])
	}
}

func TestSnapshotComputesETA(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	st := newBoard(clk)
	st.Apply(server.Update{
		Action:     server.ActionAdd,
		PatientID:  "OR1-0-2",
		Status:     server.StatusInSurgery,
		ETAMinutes: intp(90),
	})
	start := clk.Now()

	clk.Advance(30 * time.Minute)
	row := st.Snapshot(false)[0]

	if row["eta_minutes"] != 90 {
		t.Errorf("eta_minutes = %v", row["eta_minutes"])
	}
	wantETA := start.Add(90 * time.Minute).Format(time.RFC3339)
	if row["eta_time"] != wantETA {
		t.Errorf("eta_time = %v, want %v", row["eta_time"], wantETA)
	}
	if row["eta_remaining_seconds"] != 3600 {
		t.Errorf("eta_remaining_seconds = %v, want 3600", row["eta_remaining_seconds"])
	}
}

func TestSnapshotNullsUnsetFields(t *testing.T) {
	t.Parallel()

	st := newBoard(newFakeClock())
	st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR1-0-2"})

	row := st.Snapshot(false)[0]
	for _, key := range []string{"eta_minutes", "eta_time", "eta_remaining_seconds"} {
		v, present := row[key]
		if !present {
			t.Errorf("key %s absent, want explicit null", key)
			continue
		}
		if v != nil {
			t.Errorf("%s = %v, want nil", key, v)
		}
	}
}

func TestLoadRestoresSeqCounter(t *testing.T) {
	t.Parallel()

	st := newBoard(newFakeClock())
	st.Load([]server.Patient{
		{ID: "OR1-0-1", Seq: 4, Status: server.StatusWaiting},
		{ID: "OR1-0-2", Seq: 7, Status: server.StatusInSurgery},
	})

	ch, err := st.Apply(server.Update{Action: server.ActionAdd, PatientID: "OR2-0-1"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if ch.Patient.Seq != 8 {
		t.Errorf("seq = %d, want 8 (past the restored rows)", ch.Patient.Seq)
	}
}
