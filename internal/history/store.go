// Package history persists a ledger of hydra runs and their per-job
// outcomes in SQLite. The ledger is append-only from the orchestrator's
// point of view: a run row is opened before scheduling, job rows accumulate
// as results arrive, and the run row is closed with final counts.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer for the run ledger.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the ledger tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
  id              TEXT PRIMARY KEY,
  started_at      TIMESTAMP NOT NULL,
  finished_at     TIMESTAMP,
  output_format   TEXT NOT NULL,
  output_path     TEXT,
  queries_run     INTEGER DEFAULT 0,
  total_findings  INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS job_results (
  id              INTEGER PRIMARY KEY,
  run_id          TEXT NOT NULL REFERENCES runs(id),
  query_path      TEXT NOT NULL,
  language        TEXT NOT NULL,
  status          TEXT NOT NULL,
  findings        INTEGER DEFAULT 0,
  error_text      TEXT
);

CREATE INDEX IF NOT EXISTS idx_job_results_run ON job_results(run_id);
`

// Run is one recorded orchestrator run.
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    *time.Time
	OutputFormat  string
	OutputPath    string
	QueriesRun    int
	TotalFindings int
}

// JobRecord is one recorded job outcome within a run.
type JobRecord struct {
	ID        int64
	RunID     string
	QueryPath string
	Language  string
	Status    string
	Findings  int
	ErrorText string
}

// BeginRun opens a run row before any job is dispatched.
func (s *Store) BeginRun(id, outputFormat string, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, started_at, output_format) VALUES (?, ?, ?)`,
		id, startedAt, outputFormat,
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// RecordJob appends one job outcome to the run.
func (s *Store) RecordJob(rec *JobRecord) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO job_results (run_id, query_path, language, status, findings, error_text)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.QueryPath, rec.Language, rec.Status, rec.Findings, rec.ErrorText,
	)
	if err != nil {
		return 0, fmt.Errorf("record job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record job: last id: %w", err)
	}
	rec.ID = id
	return id, nil
}

// FinishRun closes the run row with final counts and the artifact path.
func (s *Store) FinishRun(id, outputPath string, queriesRun, totalFindings int, finishedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, output_path = ?, queries_run = ?, total_findings = ?
		 WHERE id = ?`,
		finishedAt, outputPath, queriesRun, totalFindings, id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RunByID loads a single run row.
func (s *Store) RunByID(id string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT id, started_at, finished_at, output_format,
		        COALESCE(output_path, ''), queries_run, total_findings
		 FROM runs WHERE id = ?`, id,
	)
	var r Run
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.StartedAt, &finished, &r.OutputFormat,
		&r.OutputPath, &r.QueriesRun, &r.TotalFindings)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("run by id: %w", err)
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, output_format,
		        COALESCE(output_path, ''), queries_run, total_findings
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.OutputFormat,
			&r.OutputPath, &r.QueriesRun, &r.TotalFindings); err != nil {
			return nil, fmt.Errorf("recent runs: scan: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent runs: rows: %w", err)
	}
	return runs, nil
}

// JobsForRun returns every job outcome recorded for a run, insertion order.
func (s *Store) JobsForRun(runID string) ([]JobRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, query_path, language, status, findings, COALESCE(error_text, '')
		 FROM job_results WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("jobs for run: %w", err)
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.QueryPath, &rec.Language,
			&rec.Status, &rec.Findings, &rec.ErrorText); err != nil {
			return nil, fmt.Errorf("jobs for run: scan: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs for run: rows: %w", err)
	}
	return recs, nil
}
