// Package db persists run history in SQLite so finished runs survive a
// server restart and stay queryable from the CLI.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/raidx545/mend/internal/model"
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// DefaultDBPath returns ~/.mend/mend.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".mend")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "mend.db"), nil
}

// Open opens or creates the database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    repo_url     TEXT NOT NULL,
    phase        TEXT NOT NULL,
    language     TEXT,
    framework    TEXT,
    branch       TEXT,
    pr_url       TEXT,
    ci_status    TEXT,
    iterations   INTEGER NOT NULL DEFAULT 0,
    total_fixes  INTEGER NOT NULL DEFAULT 0,
    score        INTEGER,
    started_at   TEXT NOT NULL,
    finished_at  TEXT,
    summary_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS iterations (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id         TEXT NOT NULL REFERENCES runs(id),
    number         INTEGER NOT NULL,
    failures_before INTEGER NOT NULL,
    failures_after  INTEGER NOT NULL,
    fixes_applied  INTEGER NOT NULL,
    status         TEXT NOT NULL,
    timestamp      TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_iterations_run ON iterations(run_id, number);

CREATE TABLE IF NOT EXISTS changes (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL REFERENCES runs(id),
    iteration  INTEGER NOT NULL,
    file_path  TEXT NOT NULL,
    bug_type   TEXT NOT NULL,
    message    TEXT,
    diff       TEXT,
    timestamp  TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_changes_run ON changes(run_id, iteration);

CREATE TABLE IF NOT EXISTS run_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL REFERENCES runs(id),
    event_type TEXT NOT NULL,
    phase      TEXT,
    message    TEXT,
    timestamp  TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_run_events ON run_events(run_id, timestamp);
`

// Migrate applies the database schema.
func (d *DB) Migrate() error {
	var count int
	err := d.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	tables := []string{"run_events", "changes", "iterations", "runs", "schema_version"}
	for _, t := range tables {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}

// CreateRun records a new run in its initial phase.
func (d *DB) CreateRun(id, repoURL string, startedAt time.Time) error {
	_, err := d.conn.Exec(
		`INSERT INTO runs (id, repo_url, phase, started_at) VALUES (?, ?, ?, ?)`,
		id, repoURL, string(model.PhaseIdle), startedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdatePhase moves a run to a new phase.
func (d *DB) UpdatePhase(runID string, phase model.RunPhase) error {
	_, err := d.conn.Exec(`UPDATE runs SET phase = ? WHERE id = ?`, string(phase), runID)
	if err != nil {
		return fmt.Errorf("update phase: %w", err)
	}
	return nil
}

// FinishRun stores the terminal state and the full summary document.
func (d *DB) FinishRun(runID string, summary *model.RunSummary) error {
	doc, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = d.conn.Exec(`UPDATE runs SET
	       phase = ?, language = ?, framework = ?, branch = ?, pr_url = ?,
	       ci_status = ?, iterations = ?, total_fixes = ?, score = ?,
	       finished_at = ?, summary_json = ?
	   WHERE id = ?`,
		string(summary.Phase), summary.Language, summary.Framework,
		summary.Branch, summary.PRURL, string(summary.CIStatus),
		len(summary.Iterations), summary.TotalFixesApplied, summary.Score.FinalScore,
		time.Now().UTC().Format(time.RFC3339), string(doc), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// LogIteration records the outcome of one repair iteration.
func (d *DB) LogIteration(runID string, it *model.IterationResult) error {
	_, err := d.conn.Exec(
		`INSERT INTO iterations (run_id, number, failures_before, failures_after, fixes_applied, status)
	     VALUES (?, ?, ?, ?, ?, ?)`,
		runID, it.Iteration, it.FailuresBefore, it.FailuresAfter,
		len(it.FixesApplied), it.Status)
	if err != nil {
		return fmt.Errorf("insert iteration: %w", err)
	}
	return nil
}

// LogChange records one applied file change.
func (d *DB) LogChange(runID string, iteration int, change *model.FileChange) error {
	_, err := d.conn.Exec(
		`INSERT INTO changes (run_id, iteration, file_path, bug_type, message, diff)
	     VALUES (?, ?, ?, ?, ?, ?)`,
		runID, iteration, change.FilePath, string(change.BugType),
		change.CommitMessage, change.Diff)
	if err != nil {
		return fmt.Errorf("insert change: %w", err)
	}
	return nil
}

// LogEvent records one run event for later inspection.
func (d *DB) LogEvent(runID string, ev model.Event) error {
	_, err := d.conn.Exec(
		`INSERT INTO run_events (run_id, event_type, phase, message) VALUES (?, ?, ?, ?)`,
		runID, ev.Type, string(ev.Phase), ev.Message)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// RunRecord is one row of the runs table, as listed by the CLI and API.
type RunRecord struct {
	ID         string    `json:"id"`
	RepoURL    string    `json:"repo_url"`
	Phase      string    `json:"phase"`
	Language   string    `json:"language,omitempty"`
	Branch     string    `json:"branch,omitempty"`
	PRURL      string    `json:"pr_url,omitempty"`
	CIStatus   string    `json:"ci_status,omitempty"`
	Iterations int       `json:"iterations"`
	TotalFixes int       `json:"total_fixes"`
	Score      int       `json:"score"`
	StartedAt  time.Time `json:"started_at"`
}

// ListRuns returns up to limit runs, most recent first.
func (d *DB) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.Query(
		`SELECT id, repo_url, phase,
	            COALESCE(language, ''), COALESCE(branch, ''), COALESCE(pr_url, ''),
	            COALESCE(ci_status, ''), iterations, total_fixes, COALESCE(score, 0),
	            started_at
	     FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		var started string
		if err := rows.Scan(&r.ID, &r.RepoURL, &r.Phase, &r.Language, &r.Branch,
			&r.PRURL, &r.CIStatus, &r.Iterations, &r.TotalFixes, &r.Score, &started); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetSummary loads the stored summary document for a finished run, or nil
// when the run is still in flight.
func (d *DB) GetSummary(runID string) (*model.RunSummary, error) {
	var doc sql.NullString
	err := d.conn.QueryRow(`SELECT summary_json FROM runs WHERE id = ?`, runID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}
	if !doc.Valid || doc.String == "" {
		return nil, nil
	}
	var summary model.RunSummary
	if err := json.Unmarshal([]byte(doc.String), &summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &summary, nil
}
