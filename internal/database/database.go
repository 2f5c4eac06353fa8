package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Actions recorded in the history
const (
	ActionRecompress = "RECOMPRESS" // JPEG rewritten in place
	ActionConvert    = "CONVERT"    // mislabeled PNG written to <path>.jpg
	ActionDelete     = "DELETE"     // original removed after a conversion
	ActionSkip       = "SKIP"
	ActionError      = "ERROR"
	ActionDryRun     = "DRY_RUN"
)

// HistoryDB manages the SQLite database of processed files
type HistoryDB struct {
	db *sql.DB
}

// ActionRecord represents a single processed-file event
type ActionRecord struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Action         string    `json:"action"`
	Operation      string    `json:"operation"` // jpeg or png
	Path           string    `json:"path"`
	FileName       string    `json:"file_name"`
	OutputPath     string    `json:"output_path,omitempty"`
	DetectedFormat string    `json:"detected_format,omitempty"`
	SizeBefore     int64     `json:"size_before"`
	SizeAfter      int64     `json:"size_after"`
	Reason         string    `json:"reason,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// BytesSaved is how much smaller the output is than the input
func (r ActionRecord) BytesSaved() int64 {
	if r.SizeAfter == 0 {
		return 0
	}
	return r.SizeBefore - r.SizeAfter
}

// NewHistoryDB opens (creating if needed) the database at dbPath and initializes schema
func NewHistoryDB(dbPath string) (*HistoryDB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// _loc=auto enables automatic DATETIME parsing
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_loc=auto")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	// a real statement creates the file, Ping does not
	if _, err = db.Exec("SELECT 1"); err != nil {
		return nil, fmt.Errorf("failed to initialize database (check permissions on %s): %w", dbPath, err)
	}

	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err = db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	hdb := &HistoryDB{db: db}
	if err = hdb.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return hdb, nil
}

func (d *HistoryDB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		action TEXT NOT NULL,
		operation TEXT NOT NULL,
		path TEXT NOT NULL,
		file_name TEXT,
		output_path TEXT,
		detected_format TEXT,
		size_before INTEGER NOT NULL DEFAULT 0,
		size_after INTEGER NOT NULL DEFAULT 0,
		reason TEXT,
		error_message TEXT,

		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_actions_timestamp ON actions(timestamp);
	CREATE INDEX IF NOT EXISTS idx_actions_action ON actions(action);
	CREATE INDEX IF NOT EXISTS idx_actions_path ON actions(path);
	CREATE INDEX IF NOT EXISTS idx_actions_operation ON actions(operation);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := d.db.Exec(schema)
	return err
}

// RecordAction inserts one event. A zero Timestamp is replaced with the current time.
func (d *HistoryDB) RecordAction(rec ActionRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.FileName == "" {
		rec.FileName = filepath.Base(rec.Path)
	}

	query := `
	INSERT INTO actions (
		timestamp, action, operation, path, file_name, output_path,
		detected_format, size_before, size_after, reason, error_message
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := d.db.Exec(
		query,
		rec.Timestamp,
		rec.Action,
		rec.Operation,
		rec.Path,
		rec.FileName,
		rec.OutputPath,
		rec.DetectedFormat,
		rec.SizeBefore,
		rec.SizeAfter,
		rec.Reason,
		rec.ErrorMessage,
	)
	return err
}

// Close closes the database connection
func (d *HistoryDB) Close() error {
	return d.db.Close()
}

// Vacuum optimizes the database after large prunes
func (d *HistoryDB) Vacuum() error {
	_, err := d.db.Exec("VACUUM")
	return err
}
