// Package audit persists a durable record of every ssh_connect/ssh_run/
// transfer decision to a local SQLite database, grounded on
// tranhoangtu-it-openbot's SQLiteStore (single-connection WAL-mode
// modernc.org/sqlite, migrate-on-open schema). Command output is
// optionally captured zstd-compressed, per the teacher's own use of
// klauspost/compress/zstd for its shell log storage in
// internal/remote/shell.go.
package audit

import (
	"bytes"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"
)

// Trail is the audit sink. A nil *Trail is valid and makes every method a
// no-op, so audit can be wired unconditionally the same way eventbus.Bus
// is.
type Trail struct {
	db            *sql.DB
	log           *slog.Logger
	captureOutput bool

	// encoderMu serializes access to encoder: spec.md §5 runs one worker
	// per in-flight tool call, so two concurrent ssh_run calls with
	// audit_capture_output enabled can otherwise both Reset/Write/Close
	// the same *zstd.Encoder at once.
	encoderMu sync.Mutex
	encoder   *zstd.Encoder
}

// Open creates (or reuses) the SQLite database at path and runs its
// migration. An empty path yields a nil Trail, meaning audit is disabled.
func Open(log *slog.Logger, path string, captureOutput bool) (*Trail, error) {
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	t := &Trail{db: db, log: log, captureOutput: captureOutput}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if captureOutput {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init zstd encoder: %w", err)
		}
		t.encoder = enc
	}
	return t, nil
}

func (t *Trail) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS connect_events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		host        TEXT,
		username    TEXT,
		success     INTEGER NOT NULL,
		error       TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS run_events (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id   TEXT NOT NULL,
		command      TEXT NOT NULL,
		allowed      INTEGER NOT NULL,
		exit_status  INTEGER,
		output_blob  BLOB,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_run_events_session ON run_events(session_id, created_at);

	CREATE TABLE IF NOT EXISTS transfer_events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		direction   TEXT NOT NULL,
		remote_path TEXT NOT NULL,
		success     INTEGER NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := t.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (t *Trail) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	if t.encoder != nil {
		t.encoder.Close()
	}
	return t.db.Close()
}

// RecordConnect logs a single ssh_connect attempt.
func (t *Trail) RecordConnect(sessionID, host, username string, success bool, err error) {
	if t == nil || t.db == nil {
		return
	}
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	if _, execErr := t.db.Exec(
		`INSERT INTO connect_events (session_id, host, username, success, error) VALUES (?, ?, ?, ?, ?)`,
		sessionID, host, username, boolToInt(success), errText,
	); execErr != nil && t.log != nil {
		t.log.Warn("audit: failed to record connect event", "error", execErr)
	}
}

// RecordRun logs a single ssh_run outcome and returns the new row's ID so
// a caller holding output (when audit_capture_output is enabled) can pass
// it to RecordRunOutput. The returned ID is 0 when audit is disabled or
// the insert fails.
func (t *Trail) RecordRun(sessionID, command string, allowed bool, exitStatus *int) int64 {
	if t == nil || t.db == nil {
		return 0
	}
	res, err := t.db.Exec(
		`INSERT INTO run_events (session_id, command, allowed, exit_status) VALUES (?, ?, ?, ?)`,
		sessionID, command, boolToInt(allowed), exitStatus,
	)
	if err != nil {
		if t.log != nil {
			t.log.Warn("audit: failed to record run event", "error", err)
		}
		return 0
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0
	}
	return id
}

// RecordRunOutput persists a zstd-compressed copy of a command's combined
// output, when audit_capture_output is enabled. Called separately from
// RecordRun so callers not carrying output at hand (e.g. cap-triggered
// early returns) can skip it cheaply. A runID of 0 (audit disabled, or
// the RecordRun insert failed) is a no-op.
func (t *Trail) RecordRunOutput(runID int64, output string) {
	if t == nil || t.db == nil || !t.captureOutput || t.encoder == nil || runID == 0 {
		return
	}
	t.encoderMu.Lock()
	var buf bytes.Buffer
	w := t.encoder
	w.Reset(&buf)
	_, writeErr := w.Write([]byte(output))
	closeErr := w.Close()
	t.encoderMu.Unlock()
	if writeErr != nil || closeErr != nil {
		return
	}
	if _, err := t.db.Exec(`UPDATE run_events SET output_blob = ? WHERE id = ?`, buf.Bytes(), runID); err != nil && t.log != nil {
		t.log.Warn("audit: failed to store run output blob", "error", err)
	}
}

// RecordTransfer logs an upload/download attempt.
func (t *Trail) RecordTransfer(sessionID, direction, remotePath string, success bool) {
	if t == nil || t.db == nil {
		return
	}
	if _, err := t.db.Exec(
		`INSERT INTO transfer_events (session_id, direction, remote_path, success) VALUES (?, ?, ?, ?)`,
		sessionID, direction, remotePath, boolToInt(success),
	); err != nil && t.log != nil {
		t.log.Warn("audit: failed to record transfer event", "error", err)
	}
}

// RecentRuns returns the most recent n run_events rows, newest first, for
// use by sshmcpctl doctor/inspection commands.
func (t *Trail) RecentRuns(n int) ([]RunRecord, error) {
	if t == nil || t.db == nil {
		return nil, nil
	}
	rows, err := t.db.Query(
		`SELECT session_id, command, allowed, exit_status, created_at FROM run_events ORDER BY id DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var allowed int
		var exitStatus sql.NullInt64
		var createdAt time.Time
		if err := rows.Scan(&rec.SessionID, &rec.Command, &allowed, &exitStatus, &createdAt); err != nil {
			return nil, err
		}
		rec.Allowed = allowed != 0
		if exitStatus.Valid {
			v := int(exitStatus.Int64)
			rec.ExitStatus = &v
		}
		rec.CreatedAt = createdAt
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RunRecord is a single row of run_events, for display by sshmcpctl.
type RunRecord struct {
	SessionID  string
	Command    string
	Allowed    bool
	ExitStatus *int
	CreatedAt  time.Time
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
