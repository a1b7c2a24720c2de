package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Job types processed by the background worker.
const (
	JobAnalyzeFile = "analyze_file"
	JobEmbedFile   = "embed_file"
)

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

const (
	defaultMaxAttempts = 3
	maxBackoff         = 5 * time.Minute
)

const jobColumns = `id, type, file_id, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`

// EnqueueJob adds a pending job. MaxAttempts defaults to 3. A job that is
// still pending with the same type, file and payload absorbs the new one,
// so rediscovering a file twice before the worker gets to it queues the
// work once.
func (s *Store) EnqueueJob(job Job) error {
	if job.MaxAttempts == 0 {
		job.MaxAttempts = defaultMaxAttempts
	}
	now := time.Now().UTC()
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}

	if job.FileID != "" {
		var n int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs
			WHERE type = ? AND file_id = ? AND payload_json = ? AND status = ?`,
			job.Type, job.FileID, job.PayloadJSON, JobPending).Scan(&n)
		if err != nil {
			return fmt.Errorf("checking queued %s for %s: %w", job.Type, job.FileID, err)
		}
		if n > 0 {
			return nil
		}
	}

	_, err := s.db.Exec(`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, NULL)`,
		job.ID, job.Type, job.FileID, job.PayloadJSON, JobPending, job.MaxAttempts,
		job.RunAfter.UTC().Format(time.RFC3339), now.Format(time.RFC3339), now.Format(time.RFC3339))
	return err
}

func scanJob(row rowScanner) (Job, error) {
	var (
		j                          Job
		runAfter, created, updated string
		lastError                  sql.NullString
	)
	err := row.Scan(&j.ID, &j.Type, &j.FileID, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &created, &updated, &lastError)
	if err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&j.RunAfter, runAfter}, {&j.CreatedAt, created}, {&j.UpdatedAt, updated}} {
		if *f.dst, err = time.Parse(time.RFC3339, f.src); err != nil {
			return Job{}, fmt.Errorf("job %s: %w", j.ID, err)
		}
	}
	return j, nil
}

// ClaimNextJob moves the oldest runnable job of one of types to running and
// returns it, or nil when none is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	now := time.Now().UTC().Format(time.RFC3339)

	args := []any{JobPending, now}
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	defer tx.Rollback()

	j, err := scanJob(tx.QueryRow(`SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND run_after <= ? AND type IN (`+placeholders(len(types))+`)
		ORDER BY run_after, created_at
		LIMIT 1`, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		JobRunning, now, j.ID, JobPending)
	if err != nil {
		return nil, fmt.Errorf("claiming job %s: %w", j.ID, err)
	}
	if err := expectOneRow(res); err != nil {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claiming job %s: %w", j.ID, err)
	}

	j.Status = JobRunning
	j.UpdatedAt, _ = time.Parse(time.RFC3339, now)
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		JobCompleted, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// retryDelay doubles per attempt starting at two seconds, capped at maxBackoff.
func retryDelay(attempts int) time.Duration {
	if attempts > 16 {
		return maxBackoff
	}
	return min(time.Second<<attempts, maxBackoff)
}

// FailJob records a failed attempt. The job returns to pending after
// retryDelay until it has used max_attempts, then stays failed.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failing job %s: %w", id, err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++
	status, runAfter := JobFailed, now
	if attempts < maxAttempts {
		status, runAfter = JobPending, now.Add(retryDelay(attempts))
	}
	if _, err := tx.Exec(`UPDATE jobs SET status = ?, attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
		status, attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id); err != nil {
		return err
	}
	return tx.Commit()
}

// RecoverRunningJobs returns jobs left running by a previous process to
// pending. Call it before the worker starts.
func (s *Store) RecoverRunningJobs() (int, error) {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		JobPending, time.Now().UTC().Format(time.RFC3339), JobRunning)
	if err != nil {
		return 0, fmt.Errorf("recovering running jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PruneJobs deletes completed jobs last touched before cutoff.
func (s *Store) PruneJobs(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE status = ? AND updated_at < ?`,
		JobCompleted, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("pruning jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// FileJobs returns a file's jobs, newest first.
func (s *Store) FileJobs(fileID string) ([]Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE file_id = ? ORDER BY created_at DESC, id`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// JobCounts returns the number of jobs per status.
func (s *Store) JobCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
