package state

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// nullableString wraps a string as a valid sql.NullString for decode helpers.
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
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

func TestMigrateFreshDatabase(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate on fresh database failed: %v", err)
	}

	// Every table the migrations declare must be usable immediately.
	for _, table := range []string{
		"workflows", "phases", "tasks", "agents", "worktrees",
		"tickets", "agent_logs", "guardian_analyses", "conductor_analyses",
	} {
		var n int
		row := db.QueryRow("SELECT COUNT(*) FROM " + table)
		if err := row.Scan(&n); err != nil {
			t.Errorf("table %s unusable after migration: %v", table, err)
		}
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := setupTestDB(t)

	// Migrating again must be a no-op.
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	var version int
	row := db.QueryRow("SELECT MAX(version) FROM schema_version")
	if err := row.Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version < 7 {
		t.Errorf("schema version = %d, want >= 7", version)
	}
}

func TestTimeHelpers(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	s := formatTime(now)
	parsed, err := parseTime(s)
	if err != nil {
		t.Fatalf("parseTime failed: %v", err)
	}
	if !parsed.Equal(now) {
		t.Errorf("round trip mismatch: got %v, want %v", parsed, now)
	}
}

func TestEncodeDecodeStrings(t *testing.T) {
	tests := []struct {
		name string
		in   []string
	}{
		{"nil", nil},
		{"empty", []string{}},
		{"values", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := encodeStrings(tt.in)
			if len(tt.in) == 0 {
				if enc != nil {
					t.Errorf("expected nil encoding for empty slice, got %v", enc)
				}
				return
			}
			s, ok := enc.(string)
			if !ok {
				t.Fatalf("expected string encoding, got %T", enc)
			}
			got := decodeStrings(nullableString(s))
			if len(got) != len(tt.in) {
				t.Fatalf("decoded length = %d, want %d", len(got), len(tt.in))
			}
			for i := range got {
				if got[i] != tt.in[i] {
					t.Errorf("decoded[%d] = %q, want %q", i, got[i], tt.in[i])
				}
			}
		})
	}
}

func TestEncodeDecodeVector(t *testing.T) {
	v := []float32{0.1, -0.5, 1.0}
	enc := encodeVector(v)
	s, ok := enc.(string)
	if !ok {
		t.Fatalf("expected string encoding, got %T", enc)
	}
	got := decodeVector(nullableString(s))
	if len(got) != len(v) {
		t.Fatalf("decoded length = %d, want %d", len(got), len(v))
	}
	for i := range got {
		if got[i] != v[i] {
			t.Errorf("decoded[%d] = %f, want %f", i, got[i], v[i])
		}
	}
	if encodeVector(nil) != nil {
		t.Error("expected nil encoding for nil vector")
	}
}
