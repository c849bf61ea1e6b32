// Package history persists job snapshots in SQLite so that finished jobs
// remain queryable after the server restarts.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"copper/internal/jobs"
)

const timeLayout = time.RFC3339Nano

// Store is a SQLite-backed job archive.
type Store struct {
	database *sql.DB
}

// Open creates or opens the archive at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	database, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	database.SetMaxOpenConns(1)

	store := &Store{database: database}
	if err := store.migrate(context.Background()); err != nil {
		_ = database.Close()
		return nil, err
	}
	return store, nil
}

func (store *Store) Close() error {
	return store.database.Close()
}

func (store *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			progress TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			tests_json TEXT NULL,
			paths_json TEXT NULL,
			verification TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);`,
	}
	for _, statement := range statements {
		if _, err := store.database.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("migrate history db: %w", err)
		}
	}
	return nil
}

// rank orders statuses along the lifecycle. Both settled statuses share the
// top rank.
func rank(column string) string {
	return fmt.Sprintf(`CASE %s WHEN '%s' THEN 0 WHEN '%s' THEN 1 WHEN '%s' THEN 2 ELSE 3 END`,
		column, jobs.StatusQueued, jobs.StatusRunning, jobs.StatusGenerated)
}

var upsertJob = `
		INSERT INTO jobs (id, status, progress, error, tests_json, paths_json, verification, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			error = excluded.error,
			tests_json = excluded.tests_json,
			paths_json = excluded.paths_json,
			verification = excluded.verification,
			updated_at = excluded.updated_at
		WHERE ` + rank("excluded.status") + ` >= ` + rank("jobs.status")

// Record upserts the job snapshot. A snapshot whose status is behind the
// archived one is ignored.
func (store *Store) Record(job jobs.Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var testsJSON, pathsJSON sql.NullString
	verification := ""
	if job.Result != nil {
		t, _ := json.Marshal(job.Result.Tests)
		p, _ := json.Marshal(job.Result.Paths)
		testsJSON = sql.NullString{String: string(t), Valid: true}
		pathsJSON = sql.NullString{String: string(p), Valid: true}
		verification = job.Result.Verification
	}

	_, err := store.database.ExecContext(ctx, upsertJob,
		job.ID, string(job.Status), job.Progress, job.Error, testsJSON, pathsJSON, verification,
		job.CreatedAt.UTC().Format(timeLayout), job.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the archived snapshot of a job.
func (store *Store) Get(ctx context.Context, id string) (jobs.Job, error) {
	row := store.database.QueryRowContext(ctx, selectJob+` WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.Job{}, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	return job, err
}

// Recent returns up to limit jobs, newest first. status filters when non-empty.
func (store *Store) Recent(ctx context.Context, status string, limit int) ([]jobs.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := selectJob
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := store.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Counts returns the number of archived jobs per status.
func (store *Store) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := store.database.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// FailUnfinished marks jobs left queued or running by a previous process as
// failed. Their workers died with that process.
func (store *Store) FailUnfinished(ctx context.Context, reason string) (int64, error) {
	res, err := store.database.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, progress = 'failed', updated_at = ?
		WHERE status IN (?, ?)`,
		string(jobs.StatusFailed), reason, time.Now().UTC().Format(timeLayout),
		string(jobs.StatusQueued), string(jobs.StatusRunning),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const selectJob = `SELECT id, status, progress, error, tests_json, paths_json, verification, created_at, updated_at FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (jobs.Job, error) {
	var (
		job                  jobs.Job
		status               string
		testsJSON, pathsJSON sql.NullString
		verification         string
		createdAt, updatedAt string
	)
	if err := row.Scan(&job.ID, &status, &job.Progress, &job.Error, &testsJSON, &pathsJSON, &verification, &createdAt, &updatedAt); err != nil {
		return jobs.Job{}, err
	}
	job.Status = jobs.Status(status)
	job.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	job.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)

	if testsJSON.Valid {
		job.Result = &jobs.Result{Verification: verification}
		if err := json.Unmarshal([]byte(testsJSON.String), &job.Result.Tests); err != nil {
			return jobs.Job{}, fmt.Errorf("decode tests of %s: %w", job.ID, err)
		}
		if pathsJSON.Valid {
			_ = json.Unmarshal([]byte(pathsJSON.String), &job.Result.Paths)
		}
	}
	return job, nil
}
