package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/opdacuont2563-hash/surgibot/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return New(db), mock
}

func encodeFields(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	blob, err := msgpack.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal fields: %v", err)
	}
	return blob
}

func TestGet_Success(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	ctx := context.Background()
	blob := encodeFields(t, map[string]any{"status": "in-surgery"})
	updated := time.Date(2026, 2, 11, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT fields, updated_at FROM board_rows`).
		WithArgs("status", "room-3").
		WillReturnRows(sqlmock.NewRows([]string{"fields", "updated_at"}).
			AddRow(blob, updated.Format(time.RFC3339Nano)))

	row, err := st.Get(ctx, "status", "room-3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if row.Key != "room-3" {
		t.Errorf("got key %q, want %q", row.Key, "room-3")
	}
	if row.Fields["status"] != "in-surgery" {
		t.Errorf("got status %v, want %q", row.Fields["status"], "in-surgery")
	}
	if !row.UpdatedAt.Equal(updated) {
		t.Errorf("got UpdatedAt %v, want %v", row.UpdatedAt, updated)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	mock.ExpectQuery(`SELECT fields, updated_at FROM board_rows`).
		WithArgs("status", "room-9").
		WillReturnError(sql.ErrNoRows)

	_, err := st.Get(context.Background(), "status", "room-9")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_BackendFailure(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	mock.ExpectQuery(`SELECT fields, updated_at FROM board_rows`).
		WillReturnError(errors.New("disk I/O error"))

	_, err := st.Get(context.Background(), "status", "room-3")
	if !errors.Is(err, store.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestPut_Upsert(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	blob := encodeFields(t, map[string]any{"status": "waiting"})

	mock.ExpectExec(`INSERT INTO board_rows`).
		WithArgs("status", "room-1", blob, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	row := store.Row{Key: "room-1", Fields: map[string]any{"status": "waiting"}}
	if err := st.Put(context.Background(), "status", row); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPut_BackendFailure(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	mock.ExpectExec(`INSERT INTO board_rows`).
		WillReturnError(errors.New("database is locked"))

	row := store.Row{Key: "room-1", Fields: map[string]any{"status": "waiting"}}
	err := st.Put(context.Background(), "status", row)
	if !errors.Is(err, store.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestInsert_DuplicateKey(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	mock.ExpectExec(`INSERT INTO board_rows`).
		WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: board_rows.tbl, board_rows.key"))

	row := store.Row{Key: "evt-1", Fields: map[string]any{"type": "start"}}
	err := st.Insert(context.Background(), "events", row)
	if !errors.Is(err, store.ErrConstraint) {
		t.Fatalf("expected ErrConstraint, got %v", err)
	}
}

func TestInsert_Success(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	blob := encodeFields(t, map[string]any{"type": "start"})

	mock.ExpectExec(`INSERT INTO board_rows`).
		WithArgs("events", "evt-1", blob, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	row := store.Row{Key: "evt-1", Fields: map[string]any{"type": "start"}}
	if err := st.Insert(context.Background(), "events", row); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDelete_Success(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	mock.ExpectExec(`DELETE FROM board_rows`).
		WithArgs("status", "room-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.Delete(context.Background(), "status", "room-2"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
}

func TestDelete_NotFound(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	mock.ExpectExec(`DELETE FROM board_rows`).
		WithArgs("status", "room-9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.Delete(context.Background(), "status", "room-9")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQuery_FiltersAndOrders(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	ts := time.Now().UTC().Format(time.RFC3339Nano)
	rows := sqlmock.NewRows([]string{"key", "fields", "updated_at"}).
		AddRow("room-1", encodeFields(t, map[string]any{"status": "waiting"}), ts).
		AddRow("room-2", encodeFields(t, map[string]any{"status": "in-surgery"}), ts).
		AddRow("room-3", encodeFields(t, map[string]any{"status": "in-surgery"}), ts)

	mock.ExpectQuery(`SELECT key, fields, updated_at FROM board_rows.*ORDER BY key`).
		WithArgs("status").
		WillReturnRows(rows)

	got, err := st.Query(context.Background(), "status", func(r store.Row) bool {
		return r.Fields["status"] == "in-surgery"
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if got[0].Key != "room-2" || got[1].Key != "room-3" {
		t.Errorf("unexpected keys: %q, %q", got[0].Key, got[1].Key)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestQuery_CorruptRow(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	rows := sqlmock.NewRows([]string{"key", "fields", "updated_at"}).
		AddRow("room-1", []byte{0xc1}, time.Now().UTC().Format(time.RFC3339Nano))

	mock.ExpectQuery(`SELECT key, fields, updated_at FROM board_rows`).
		WithArgs("status").
		WillReturnRows(rows)

	_, err := st.Query(context.Background(), "status", nil)
	if !errors.Is(err, store.ErrIO) {
		t.Fatalf("expected ErrIO for corrupt row, got %v", err)
	}
}

func TestMigrate(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS board_rows`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestClose_DoesNotCloseCallerHandle(t *testing.T) {
	st, mock := newMockStore(t)
	defer st.db.Close()

	// New wraps a caller-owned handle, so Close must leave it usable.
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	blob := encodeFields(t, map[string]any{"status": "waiting"})
	mock.ExpectQuery(`SELECT fields, updated_at FROM board_rows`).
		WithArgs("status", "room-1").
		WillReturnRows(sqlmock.NewRows([]string{"fields", "updated_at"}).
			AddRow(blob, time.Now().UTC().Format(time.RFC3339Nano)))

	if _, err := st.Get(context.Background(), "status", "room-1"); err != nil {
		t.Fatalf("Get after Close failed: %v", err)
	}
}
