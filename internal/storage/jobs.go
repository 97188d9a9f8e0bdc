package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultMaxAttempts = 3
	retryBaseDelay     = 30 * time.Second
	retryMaxDelay      = 30 * time.Minute
)

// retryDelay is the wait before attempt n+1 after n failed attempts.
func retryDelay(attempts int) time.Duration {
	d := retryBaseDelay
	for i := 1; i < attempts && d < retryMaxDelay; i++ {
		d *= 2
	}
	return min(d, retryMaxDelay)
}

// EnqueueJob queues job and reports whether the queue changed.
//
// Job ids are stable per unit of work, so an id already pending, running or
// completed is left alone. A job that ran out of attempts is reset to
// pending with a fresh attempt budget.
func (s *Store) EnqueueJob(job Job) (bool, error) {
	now := time.Now().UTC()
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC()
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}

	res, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = 'pending',
			attempts = 0,
			max_attempts = excluded.max_attempts,
			payload_json = excluded.payload_json,
			run_after = excluded.run_after,
			updated_at = excluded.updated_at,
			last_error = NULL
		WHERE jobs.status = 'failed'`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts,
		runAfter.Format(time.RFC3339), now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("enqueueing job %s: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PendingJobCount returns the number of jobs of the given type that are not
// yet completed or failed.
func (s *Store) PendingJobCount(jobType string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE type = ? AND status IN ('pending', 'running')`, jobType).Scan(&n)
	return n, err
}

// ClaimNextJob marks the oldest due pending job of one of types as running
// and returns it. It returns nil when nothing is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	args := []any{now, now}
	for _, t := range types {
		args = append(args, t)
	}

	var j Job
	var runAfter, createdAt string
	var lastError sql.NullString
	err := s.db.QueryRow(`
		UPDATE jobs SET status = 'running', updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND run_after <= ? AND type IN (?`+strings.Repeat(",?", len(types)-1)+`)
			ORDER BY run_after, created_at
			LIMIT 1
		)
		RETURNING id, type, payload_json, attempts, max_attempts, run_after, created_at, last_error`,
		args...,
	).Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Attempts, &j.MaxAttempts, &runAfter, &createdAt, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = parseTime(runAfter); err != nil {
		return nil, fmt.Errorf("job %s run_after: %w", j.ID, err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("job %s created_at: %w", j.ID, err)
	}
	j.UpdatedAt, _ = parseTime(now)
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. The job goes back to pending after
// retryDelay, or to failed once its attempts are used up.
func (s *Store) FailJob(id string, errMsg string) error {
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	var status string
	err = tx.QueryRow(`
		UPDATE jobs SET
			attempts = attempts + 1,
			status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
			last_error = ?,
			updated_at = ?
		WHERE id = ?
		RETURNING attempts, status`,
		errMsg, now.Format(time.RFC3339), id,
	).Scan(&attempts, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if status == "pending" {
		runAfter := now.Add(retryDelay(attempts)).Format(time.RFC3339)
		if _, err := tx.Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, runAfter, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RequeueRunningJobs moves jobs left in "running" by an interrupted process
// back to "pending". It returns the number of jobs requeued.
func (s *Store) RequeueRunningJobs() (int, error) {
	res, err := s.db.Exec(`UPDATE jobs SET status = 'pending', updated_at = ? WHERE status = 'running'`,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
