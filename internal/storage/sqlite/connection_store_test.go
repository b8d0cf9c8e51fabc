package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConnectionStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewConnectionStore(openTestDB(t))

	if err := store.Register(ctx, "main", "postgres", "postgres://app@db:5432/app"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	rec, err := store.Get(ctx, "main")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil || rec.Status != StatusUnknown {
		t.Fatalf("initial record = %+v, want status unknown", rec)
	}

	if err := store.Observe(ctx, CommandRecord{RequestID: "r1", Connection: "main", Operation: "getTablesFromDB", Duration: 3 * time.Millisecond}); err != nil {
		t.Fatalf("Observe ok: %v", err)
	}
	if err := store.Observe(ctx, CommandRecord{RequestID: "r2", Connection: "main", Operation: "getRowsFromTable", Table: "users", ErrorMessage: "relation does not exist"}); err != nil {
		t.Fatalf("Observe failure: %v", err)
	}

	rec, err = store.Get(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Commands != 2 || rec.Failures != 1 {
		t.Errorf("counters = %d/%d, want 2/1", rec.Commands, rec.Failures)
	}
	if rec.Status != StatusError || rec.ErrorMessage != "relation does not exist" {
		t.Errorf("status = %s (%q), want error", rec.Status, rec.ErrorMessage)
	}
	if rec.LastSeen == nil {
		t.Error("last_seen not set after a successful command")
	}

	// Re-registering keeps counters.
	if err := store.Register(ctx, "main", "postgres", "postgres://app@db2:5432/app"); err != nil {
		t.Fatal(err)
	}
	rec, _ = store.Get(ctx, "main")
	if rec.Commands != 2 || rec.Target != "postgres://app@db2:5432/app" {
		t.Errorf("after re-register = %+v", rec)
	}

	if err := store.MarkDisconnected(ctx, "main", "tunnel closed"); err != nil {
		t.Fatal(err)
	}
	rec, _ = store.Get(ctx, "main")
	if rec.Status != StatusDisconnected {
		t.Errorf("status = %s, want disconnected", rec.Status)
	}

	if err := store.Remove(ctx, "main"); err != nil {
		t.Fatal(err)
	}
	if rec, _ := store.Get(ctx, "main"); rec != nil {
		t.Errorf("record still present after Remove: %+v", rec)
	}
}

func TestConnectionStore_TrimCommands(t *testing.T) {
	ctx := context.Background()
	store := NewConnectionStore(openTestDB(t))
	if err := store.Register(ctx, "main", "mysql", "mysql://app@db:3306/app"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if err := store.Observe(ctx, CommandRecord{RequestID: "r", Connection: "main", Operation: "testConnect"}); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := store.TrimCommands(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 6 {
		t.Errorf("removed = %d, want 6", removed)
	}
	n, err := store.CountCommands(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("remaining = %d, want 4", n)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "main" {
		t.Errorf("List = %+v", list)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var mode string
	if err := db.Conn().QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	var fk int
	if err := db.Conn().QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestOpen_MigratesOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "agent.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if v, err := db.SchemaVersion(ctx); err != nil || v != len(migrations) {
		t.Fatalf("SchemaVersion = %d, %v; want %d", v, err, len(migrations))
	}
	if err := NewConnectionStore(db).Register(ctx, "main", "redis", "redis://cache:6379/0"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	if v, _ := db.SchemaVersion(ctx); v != len(migrations) {
		t.Errorf("SchemaVersion after reopen = %d, want %d", v, len(migrations))
	}
	rec, err := NewConnectionStore(db).Get(ctx, "main")
	if err != nil || rec == nil {
		t.Fatalf("record lost across reopen: %+v, %v", rec, err)
	}
}

func TestOpen_RefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Conn().Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	_, err = Open(path)
	if !errors.Is(err, ErrSchemaTooNew) {
		t.Fatalf("Open = %v, want ErrSchemaTooNew", err)
	}
}
