package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	path := filepath.Join(nested, "test.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	// On Linux, files can't be created under /proc.
	_, err := Open("/proc/nonexistent/test.db")
	if err == nil {
		t.Error("expected error opening db at invalid path")
	}
}

func TestClose(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	// Subsequent operations should fail
	_, err = db.Query("SELECT 1")
	if err == nil {
		t.Error("expected error after close, got nil")
	}
}

func TestMigrate(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	tables := []string{"schema_version", "tasks", "registry", "handoffs", "runs"}
	for _, table := range tables {
		var count int
		row := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		if err := row.Scan(&count); err != nil {
			t.Errorf("failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate (iteration %d) failed: %v", i, err)
		}
	}

	var version int
	row := db.QueryRow("SELECT MAX(version) FROM schema_version")
	if err := row.Scan(&version); err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != 3 {
		t.Errorf("schema version = %d, want 3", version)
	}
}

func TestMigrate_SchemaVersionTracking(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	rows, err := db.Query("SELECT version FROM schema_version ORDER BY version")
	if err != nil {
		t.Fatalf("failed to query schema_version: %v", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			t.Fatalf("failed to scan version: %v", err)
		}
		versions = append(versions, v)
	}

	expected := []int{1, 2, 3}
	if len(versions) != len(expected) {
		t.Errorf("versions = %v, want %v", versions, expected)
	}
	for i, v := range expected {
		if i >= len(versions) || versions[i] != v {
			t.Errorf("version[%d] = %d, want %d", i, versions[i], v)
		}
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	db := setupTestDB(t)

	// A handoff row without its task must be rejected on every pooled
	// connection, which is the point of stacking the pragma in the DSN.
	_, err := db.Exec(`
		INSERT INTO handoffs (task_id, seq, from_role, to_role, timestamp, state_at_handoff, notes)
		VALUES ('task_404', 0, 'architect', 'coder', '2026-01-01T00:00:00Z', 'analyzing', '')
	`)
	if err == nil {
		t.Error("expected foreign key violation inserting orphan handoff")
	}
}

func TestTransaction_Success(t *testing.T) {
	db := setupTestDB(t)

	err := db.Transaction(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO registry (key, value) VALUES (?, ?)", "next_id", 7)
		return err
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	var value int
	row := db.QueryRow("SELECT value FROM registry WHERE key = ?", "next_id")
	if err := row.Scan(&value); err != nil {
		t.Fatalf("failed to verify: %v", err)
	}
	if value != 7 {
		t.Errorf("value = %d, want 7", value)
	}
}

func TestTransaction_Rollback(t *testing.T) {
	db := setupTestDB(t)

	err := db.Transaction(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO registry (key, value) VALUES (?, ?)", "next_id", 7)
		if err != nil {
			return err
		}
		return fmt.Errorf("simulated error")
	})
	if err == nil {
		t.Error("expected error from Transaction")
	}

	var count int
	row := db.QueryRow("SELECT COUNT(*) FROM registry")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("failed to verify: %v", err)
	}
	if count != 0 {
		t.Error("transaction was not rolled back")
	}
}

func TestDefaultDBPath(t *testing.T) {
	original := os.Getenv("XDG_DATA_HOME")
	defer os.Setenv("XDG_DATA_HOME", original)

	os.Setenv("XDG_DATA_HOME", "/custom/data")
	path := DefaultDBPath()
	expected := "/custom/data/crew/crew.db"
	if path != expected {
		t.Errorf("DefaultDBPath() = %q, want %q", path, expected)
	}

	os.Unsetenv("XDG_DATA_HOME")
	path = DefaultDBPath()
	home, _ := os.UserHomeDir()
	expected = filepath.Join(home, ".local", "share", "crew", "crew.db")
	if path != expected {
		t.Errorf("DefaultDBPath() = %q, want %q", path, expected)
	}
}

func TestProjectDBPath(t *testing.T) {
	path := ProjectDBPath("/my/project")
	expected := "/my/project/.crew/state.db"
	if path != expected {
		t.Errorf("ProjectDBPath() = %q, want %q", path, expected)
	}
}

func TestFormatAndParseTime(t *testing.T) {
	now := time.Now()
	formatted := formatTime(now)
	parsed, err := parseTime(formatted)
	if err != nil {
		t.Fatalf("parseTime failed: %v", err)
	}

	// Times should be equal when truncated to second precision in UTC
	if !now.UTC().Truncate(time.Second).Equal(parsed.Truncate(time.Second)) {
		t.Errorf("time round-trip failed: got %v, want %v", parsed, now.UTC())
	}
}

func TestParseNullableTime(t *testing.T) {
	validTime := sql.NullString{String: "2024-01-01T12:00:00Z", Valid: true}
	result := parseNullableTime(validTime)
	if result == nil {
		t.Error("expected non-nil time for valid input")
	}

	nullTime := sql.NullString{Valid: false}
	result = parseNullableTime(nullTime)
	if result != nil {
		t.Error("expected nil time for invalid input")
	}

	badFormat := sql.NullString{String: "not a time", Valid: true}
	result = parseNullableTime(badFormat)
	if result != nil {
		t.Error("expected nil time for invalid format")
	}
}
