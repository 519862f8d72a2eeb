// Package journal records pipeline runs and submitted matching jobs in a
// local SQLite database.
//
// The journal exists for two reasons:
//   - operators get a durable record of what each invocation did, without
//     grepping logs
//   - it is the only guard against double-submitting a matching job: two
//     concurrent invocations over the same workflow and input are otherwise
//     uncoordinated
//
// The journal is optional; a Service with no path configured is skipped by
// the pipeline entirely.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrJobInFlight is returned by GuardSubmission when an earlier matching job
// for the same workflow and input has not reached a terminal state.
var ErrJobInFlight = errors.New("a matching job for this workflow and input is already in flight")

// Timestamps are stored as RFC3339Nano strings: SQLite has no native
// timestamp type and strings round-trip reliably and stay grep-able.
const timeLayout = time.RFC3339Nano

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
    run_id      TEXT PRIMARY KEY,
    stage       TEXT NOT NULL,
    status      TEXT NOT NULL,
    detail      TEXT,
    started_at  TEXT NOT NULL,
    finished_at TEXT
);
CREATE TABLE IF NOT EXISTS matching_jobs (
    job_id        TEXT PRIMARY KEY,
    run_id        TEXT NOT NULL,
    workflow      TEXT NOT NULL,
    input_uri     TEXT NOT NULL,
    output_prefix TEXT NOT NULL,
    status        TEXT NOT NULL,
    submitted_at  TEXT NOT NULL,
    finished_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_matching_jobs_workflow_input
    ON matching_jobs (workflow, input_uri, status);
`

// Journal is a handle to one journal database.
type Journal struct {
	db *sql.DB

	// now is a test seam; production uses time.Now.
	now func() time.Time
}

// Open creates or opens the journal at path and ensures its schema.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal open %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema %s: %w", path, err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// BeginRun records the start of one stage invocation.
func (j *Journal) BeginRun(ctx context.Context, runID, stage string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (run_id, stage, status, started_at) VALUES (?, ?, 'running', ?)`,
		runID, stage, j.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("journal begin run %s: %w", runID, err)
	}
	return nil
}

// FinishRun records the outcome of a run started with BeginRun.
func (j *Journal) FinishRun(ctx context.Context, runID, status, detail string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, detail = ?, finished_at = ? WHERE run_id = ?`,
		status, detail, j.now().UTC().Format(timeLayout), runID)
	if err != nil {
		return fmt.Errorf("journal finish run %s: %w", runID, err)
	}
	return nil
}

// GuardSubmission checks for an in-flight job on the same workflow and input
// before the caller submits a new one.
//
// Returns ErrJobInFlight (with the blocking job id available via InFlightJob)
// when a non-terminal job exists. This is a best-effort guard: two processes
// racing between check and submit can still double-submit, but sequential
// re-invocations, the failure mode that actually occurs with cron and
// retries, are caught.
//
// A row can be stale when no process waited the job out (no-wait submissions,
// a crash mid-wait). The journal never talks to the matching service, so
// callers re-verify the blocking job's real status before honoring the
// refusal.
func (j *Journal) GuardSubmission(ctx context.Context, workflow, inputURI string) error {
	jobID, err := j.InFlightJob(ctx, workflow, inputURI)
	if err != nil {
		return err
	}
	if jobID != "" {
		return fmt.Errorf("%w (job %s)", ErrJobInFlight, jobID)
	}
	return nil
}

// InFlightJob returns the id of a non-terminal job for workflow+inputURI, or
// "" when none exists.
func (j *Journal) InFlightJob(ctx context.Context, workflow, inputURI string) (string, error) {
	var jobID string
	err := j.db.QueryRowContext(ctx,
		`SELECT job_id FROM matching_jobs
		 WHERE workflow = ? AND input_uri = ? AND status IN ('SUBMITTED', 'RUNNING')
		 ORDER BY submitted_at DESC LIMIT 1`,
		workflow, inputURI).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("journal in-flight lookup: %w", err)
	}
	return jobID, nil
}

// RecordSubmission stores a freshly submitted job in SUBMITTED state.
func (j *Journal) RecordSubmission(ctx context.Context, runID, jobID, workflow, inputURI, outputPrefix string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO matching_jobs (job_id, run_id, workflow, input_uri, output_prefix, status, submitted_at)
		 VALUES (?, ?, ?, ?, ?, 'SUBMITTED', ?)`,
		jobID, runID, workflow, inputURI, outputPrefix, j.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("journal record job %s: %w", jobID, err)
	}
	return nil
}

// MarkJobStatus updates a job's status; terminal statuses also stamp
// finished_at.
func (j *Journal) MarkJobStatus(ctx context.Context, jobID, status string, terminal bool) error {
	var err error
	if terminal {
		_, err = j.db.ExecContext(ctx,
			`UPDATE matching_jobs SET status = ?, finished_at = ? WHERE job_id = ?`,
			status, j.now().UTC().Format(timeLayout), jobID)
	} else {
		_, err = j.db.ExecContext(ctx,
			`UPDATE matching_jobs SET status = ? WHERE job_id = ?`, status, jobID)
	}
	if err != nil {
		return fmt.Errorf("journal mark job %s: %w", jobID, err)
	}
	return nil
}
