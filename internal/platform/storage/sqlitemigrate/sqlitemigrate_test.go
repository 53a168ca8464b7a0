package sqlitemigrate

import (
	"database/sql"
	"errors"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func migrationFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	return fsys
}

func TestApplyRecordsEachFileOnce(t *testing.T) {
	db := openMemoryDB(t)

	fsys := migrationFS(map[string]string{
		"0001_init.sql": "-- +migrate Up\nCREATE TABLE ledger_rows(id INTEGER PRIMARY KEY);\n-- +migrate Down\nDROP TABLE ledger_rows;",
	})
	if err := Apply(db, fsys); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !tableExists(t, db, "ledger_rows") {
		t.Fatal("expected migrated table to exist")
	}
	if got := countMigrations(t, db); got != 1 {
		t.Fatalf("expected one ledger row, got %d", got)
	}

	if err := Apply(db, fsys); err != nil {
		t.Fatalf("replay must be a no-op: %v", err)
	}
	if got := countMigrations(t, db); got != 1 {
		t.Fatalf("expected replay to record nothing, got %d rows", got)
	}
}

func TestApplyRunsFilesInLexicalOrder(t *testing.T) {
	db := openMemoryDB(t)

	fsys := migrationFS(map[string]string{
		"0002_alter.sql": "-- +migrate Up\nALTER TABLE ledger_rows ADD COLUMN value TEXT;",
		"0001_init.sql":  "-- +migrate Up\nCREATE TABLE ledger_rows(id INTEGER PRIMARY KEY);",
	})
	if err := Apply(db, fsys); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := countMigrations(t, db); got != 2 {
		t.Fatalf("expected two ledger rows, got %d", got)
	}
}

func TestApplyDoesNotRecordFailures(t *testing.T) {
	db := openMemoryDB(t)

	broken := migrationFS(map[string]string{
		"0001_init.sql": "-- +migrate Up\nCREAT TABLE ledger_rows(id INTEGER PRIMARY KEY);",
	})
	if err := Apply(db, broken); err == nil {
		t.Fatal("expected a syntax error to fail the migration")
	}
	if got := countMigrations(t, db); got != 0 {
		t.Fatalf("expected failed migration to stay unrecorded, got %d rows", got)
	}

	fixed := migrationFS(map[string]string{
		"0001_init.sql": "-- +migrate Up\nCREATE TABLE ledger_rows(id INTEGER PRIMARY KEY);",
	})
	if err := Apply(db, fixed); err != nil {
		t.Fatalf("apply fixed migration: %v", err)
	}
	if got := countMigrations(t, db); got != 1 {
		t.Fatalf("expected fixed migration recorded, got %d rows", got)
	}
}

func TestApplySkipsEmptyUpSections(t *testing.T) {
	db := openMemoryDB(t)

	fsys := migrationFS(map[string]string{
		"0001_noop.sql": "-- +migrate Up\n\n-- +migrate Down\nDROP TABLE nothing;",
	})
	if err := Apply(db, fsys); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := countMigrations(t, db); got != 0 {
		t.Fatalf("expected empty migration to be skipped, got %d rows", got)
	}
}

func TestUpSection(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"both markers", "-- +migrate Up\nSELECT 1;\n-- +migrate Down\nSELECT 2;", "\nSELECT 1;\n"},
		{"up only", "-- +migrate Up\nSELECT 1;", "\nSELECT 1;"},
		{"no markers", "SELECT 1;", "SELECT 1;"},
	}
	for _, tc := range cases {
		if got := UpSection(tc.content); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestApplyRequiresDB(t *testing.T) {
	if err := Apply(nil, migrationFS(nil)); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
	})
	return db
}

func countMigrations(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	var count int64
	if err := db.QueryRow("SELECT COUNT(*) FROM " + ledgerTable).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	return count
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		t.Fatalf("check table: %v", err)
	}
	return name == table
}
