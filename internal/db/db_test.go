package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func tableExists(t *testing.T, db *sql.DB, kind, name string) bool {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?", kind, name).Scan(&n); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return n == 1
}

func TestInit(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "nested", ".quotedesk")

	db, err := Init(baseDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(baseDir, FileName)); err != nil {
		t.Errorf("store file not created: %v", err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}

	if !tableExists(t, db, "table", "message_records") {
		t.Fatal("message_records table not found")
	}
	for _, idx := range []string{
		"idx_message_records_fingerprint",
		"idx_message_records_state_updated",
		"idx_message_records_created",
		"idx_message_records_category",
	} {
		if !tableExists(t, db, "index", idx) {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		db, err := Init(dir)
		if err != nil {
			t.Fatalf("Init() #%d error = %v", i+1, err)
		}
		version, err := GetUserVersion(db)
		db.Close()
		if err != nil {
			t.Fatalf("GetUserVersion() error = %v", err)
		}
		if version != CurrentSchemaVersion {
			t.Errorf("user_version after Init #%d = %d, want %d", i+1, version, CurrentSchemaVersion)
		}
	}
}

func TestMigrate_SkipsAppliedVersions(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	// A store written by a newer binary is left alone.
	if err := SetUserVersion(db, 99); err != nil {
		t.Fatalf("SetUserVersion() error = %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if v, _ := GetUserVersion(db); v != 99 {
		t.Errorf("user_version = %d, want 99", v)
	}
}

func TestDropSchema_MigrateRebuilds(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	if err := DropSchema(db); err != nil {
		t.Fatalf("DropSchema() error = %v", err)
	}
	if tableExists(t, db, "table", "message_records") {
		t.Fatal("message_records should be gone after DropSchema")
	}
	if v, _ := GetUserVersion(db); v != 0 {
		t.Errorf("user_version after DropSchema = %d, want 0", v)
	}

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "table", "message_records") {
		t.Error("Migrate should recreate message_records")
	}
}

func TestProcessedRequiresPayload(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`INSERT INTO message_records
		(id, fingerprint, category, state, sender, subject, received_at, created_at, updated_at)
		VALUES ('01J', 'fp', 'Ladder-Call', 'processed', 'a@b', 's', 1, 1, 1)`)
	if err == nil {
		t.Error("a processed record without payload should violate the CHECK constraint")
	}
}
