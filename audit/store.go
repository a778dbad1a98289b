// Package audit persists a trail of command executions and plugin
// lifecycle transitions in SQLite. Recording is best-effort everywhere:
// an audit failure is logged and never fails the audited operation.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/GoCodeAlone/hostboard/command"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	subject    TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	succeeded  INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
`

// Record kinds.
const (
	KindExecution = "execution"
	KindLifecycle = "lifecycle"
)

// Record is one audit trail row.
type Record struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Subject   string    `json:"subject"`
	Detail    string    `json:"detail,omitempty"`
	Succeeded bool      `json:"succeeded"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists audit records in a SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the audit database at dbPath. The caller is
// responsible for calling Close.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) insert(kind, subject, detail string, succeeded bool) {
	_, err := s.db.Exec(`
		INSERT INTO audit_log (id, kind, subject, detail, succeeded, created_at)
		VALUES (?,?,?,?,?,?)`,
		uuid.NewString(), kind, subject, detail, succeeded, time.Now().UTC(),
	)
	if err != nil {
		s.logger.Warn("audit insert failed", slog.Any("err", err))
	}
}

// RecordExecution implements command.Recorder.
func (s *Store) RecordExecution(key string, args []string, res command.Result) {
	detail, _ := json.Marshal(map[string]any{
		"args":      args,
		"exit_code": res.ExitCode,
	})
	s.insert(KindExecution, key, string(detail), res.Succeeded)
}

// RecordLifecycle implements plugin.LifecycleRecorder.
func (s *Store) RecordLifecycle(pluginID, event, detail string) {
	s.insert(KindLifecycle, pluginID+":"+event, detail, true)
}

// Recent returns the most recent records, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, kind, subject, detail, succeeded, created_at
		FROM audit_log ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Kind, &r.Subject, &r.Detail, &r.Succeeded, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
