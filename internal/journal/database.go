package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Database manages the SQLite database holding the journal
type Database struct {
	db     *sql.DB
	dbPath string
}

// NewDatabase opens (creating if needed) the database at dbPath
func NewDatabase(dbPath string) (*Database, error) {
	if err := ensureDir(filepath.Dir(dbPath)); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	database := &Database{db: db, dbPath: dbPath}
	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// DB returns the underlying connection
func (d *Database) DB() *sql.DB {
	return d.db
}

// Path returns the database file path
func (d *Database) Path() string {
	return d.dbPath
}

func (d *Database) initSchema() error {
	schema := `
	-- timestamps are unix nanoseconds
	CREATE TABLE IF NOT EXISTS detections (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		score REAL NOT NULL,
		box_left REAL,
		box_top REAL,
		box_right REAL,
		box_bottom REAL,
		frame_seq INTEGER,
		latency_ms REAL,
		detected_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS motion_changes (
		id TEXT PRIMARY KEY,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		label TEXT NOT NULL,
		sensor_ts INTEGER NOT NULL,
		changed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_detections_at ON detections(detected_at);
	CREATE INDEX IF NOT EXISTS idx_detections_label ON detections(label, detected_at);
	CREATE INDEX IF NOT EXISTS idx_motion_changes_at ON motion_changes(changed_at);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
