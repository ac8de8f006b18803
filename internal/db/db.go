package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/hpungsan/quotedesk/internal/config"
)

// FileName is the store file created under the base directory.
const FileName = "quotedesk.db"

// migrations are applied in order; migration i moves user_version from i to i+1.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS message_records (
	  id               TEXT PRIMARY KEY,
	  fingerprint      TEXT NOT NULL,
	  category         TEXT NOT NULL,
	  state            TEXT NOT NULL DEFAULT 'unprocessed'
	                   CHECK (state IN ('unprocessed', 'processed', 'manual')),
	  sender           TEXT NOT NULL,
	  subject          TEXT NOT NULL,
	  received_at      INTEGER NOT NULL,
	  created_at       INTEGER NOT NULL,
	  updated_at       INTEGER NOT NULL,
	  raw_payload      BLOB,
	  extracted_fields TEXT,
	  quote_value      REAL,
	  rendered_html    TEXT,
	  slot_column      TEXT,
	  CHECK (state != 'processed' OR raw_payload IS NOT NULL)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_message_records_fingerprint
	ON message_records(fingerprint);

	CREATE INDEX IF NOT EXISTS idx_message_records_state_updated
	ON message_records(state, updated_at DESC);

	CREATE INDEX IF NOT EXISTS idx_message_records_created
	ON message_records(created_at);

	CREATE INDEX IF NOT EXISTS idx_message_records_category
	ON message_records(category, state);
	`,
}

// CurrentSchemaVersion is the user_version after every migration has run.
var CurrentSchemaVersion = len(migrations)

// Init opens (creating if needed) the record store at baseDir/quotedesk.db and
// brings its schema up to date. Tests pass t.TempDir() as baseDir.
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, eris.Wrap(err, "create base directory")
	}
	_ = os.Chmod(baseDir, 0700)

	// Pragmas in the DSN apply to every pooled connection.
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "open record store")
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "read journal mode")
	}
	if journalMode != "wal" {
		db.Close()
		return nil, eris.Errorf("record store is in %s journal mode, want wal", journalMode)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)
	return db, nil
}

// ConfigurePool applies the configured pool limits; zero leaves the driver default.
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// Migrate runs every migration above the stored user_version, each in its own
// transaction. Safe to call repeatedly; after DropSchema it rebuilds from scratch.
func Migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}
	for v := version; v < len(migrations); v++ {
		tx, err := db.Begin()
		if err != nil {
			return eris.Wrapf(err, "migration %d", v+1)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return eris.Wrapf(err, "migration %d", v+1)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version=%d", v+1)); err != nil {
			tx.Rollback()
			return eris.Wrapf(err, "migration %d version bump", v+1)
		}
		if err := tx.Commit(); err != nil {
			return eris.Wrapf(err, "migration %d commit", v+1)
		}
	}
	return nil
}

// DropSchema removes the record table and resets user_version so Migrate rebuilds it.
func DropSchema(db *sql.DB) error {
	if _, err := db.Exec(`DROP TABLE IF EXISTS message_records`); err != nil {
		return eris.Wrap(err, "drop schema")
	}
	return SetUserVersion(db, 0)
}

// GetUserVersion returns the schema version kept in the user_version pragma.
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, eris.Wrap(err, "read user_version")
	}
	return version, nil
}

// SetUserVersion overwrites the user_version pragma.
func SetUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return eris.Wrap(err, "set user_version")
	}
	return nil
}
