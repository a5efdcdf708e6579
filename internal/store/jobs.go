package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ErrJobNotFound is returned by lookups for unknown job or item ids.
var ErrJobNotFound = errors.New("job not found")

// Job is the durable background-work record. Rows are never deleted by
// this store; retention is an external concern.
type Job struct {
	JobID       string
	ItemID      string
	Status      JobStatus
	Priority    int
	Payload     string
	Attempts    int
	MaxAttempts int
	Result      string
	LastError   string
	CreatedAt   int64
	StartedAt   *int64
	CompletedAt *int64
	NextRetryAt *int64
}

func (m *Manager) InsertJob(ctx context.Context, job Job) error {
	_, err := m.writer.ExecContext(ctx, `
INSERT INTO jobs (job_id, item_id, status, priority, payload, attempts, max_attempts, created_at)
VALUES (?, ?, ?, ?, ?, 0, ?, ?)
`, job.JobID, job.ItemID, string(JobPending), job.Priority, job.Payload, job.MaxAttempts, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `job_id, item_id, status, priority, payload, attempts, max_attempts,
  COALESCE(result, ''), COALESCE(last_error, ''), created_at, started_at, completed_at, next_retry_at`

func scanJob(row interface {
	Scan(dest ...any) error
}) (Job, error) {
	var j Job
	err := row.Scan(
		&j.JobID, &j.ItemID, (*string)(&j.Status), &j.Priority, &j.Payload,
		&j.Attempts, &j.MaxAttempts, &j.Result, &j.LastError,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.NextRetryAt,
	)
	return j, err
}

// ClaimDueJobs atomically selects due retryable work (priority desc,
// oldest first) and flips each claimed row to processing with attempts
// incremented. Rows with completed_at set are terminal and never
// reclaimed. now and started_at are unix milliseconds.
func (m *Manager) ClaimDueJobs(ctx context.Context, limit int, now int64) ([]Job, error) {
	tx, err := m.writer.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE status IN ('pending', 'failed')
  AND attempts < max_attempts
  AND completed_at IS NULL
  AND (next_retry_at IS NULL OR next_retry_at <= ?)
ORDER BY priority DESC, created_at ASC
LIMIT ?
`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due jobs: %w", err)
	}

	var claimed []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan due job: %w", err)
		}
		claimed = append(claimed, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due jobs: %w", err)
	}

	for i := range claimed {
		if _, err := tx.ExecContext(ctx, `
UPDATE jobs SET status = 'processing', attempts = attempts + 1, started_at = ?, next_retry_at = NULL
WHERE job_id = ?
`, now, claimed[i].JobID); err != nil {
			return nil, fmt.Errorf("mark job processing: %w", err)
		}
		claimed[i].Status = JobProcessing
		claimed[i].Attempts++
		claimed[i].StartedAt = &now
		claimed[i].NextRetryAt = nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}

func (m *Manager) CompleteJob(ctx context.Context, jobID, result string, completedAt int64) error {
	_, err := m.writer.ExecContext(ctx, `
UPDATE jobs SET status = 'completed', result = ?, last_error = NULL, completed_at = ?, next_retry_at = NULL
WHERE job_id = ?
`, result, completedAt, jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// FailJob marks the job terminally failed.
func (m *Manager) FailJob(ctx context.Context, jobID, lastError string, completedAt int64) error {
	_, err := m.writer.ExecContext(ctx, `
UPDATE jobs SET status = 'failed', last_error = ?, completed_at = ?, next_retry_at = NULL
WHERE job_id = ?
`, lastError, completedAt, jobID)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// RescheduleJob returns a failed attempt to pending with a retry horizon.
func (m *Manager) RescheduleJob(ctx context.Context, jobID, lastError string, nextRetryAt int64) error {
	_, err := m.writer.ExecContext(ctx, `
UPDATE jobs SET status = 'pending', last_error = ?, next_retry_at = ?
WHERE job_id = ?
`, lastError, nextRetryAt, jobID)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	return nil
}

func (m *Manager) JobByID(ctx context.Context, jobID string) (Job, error) {
	row := m.reader.QueryRowContext(ctx, `
SELECT `+jobColumns+` FROM jobs WHERE job_id = ?
`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("job by id: %w", err)
	}
	return j, nil
}

func (m *Manager) LatestJobByItem(ctx context.Context, itemID string) (Job, error) {
	row := m.reader.QueryRowContext(ctx, `
SELECT `+jobColumns+` FROM jobs WHERE item_id = ? ORDER BY created_at DESC, id DESC LIMIT 1
`, itemID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("latest job by item: %w", err)
	}
	return j, nil
}

func (m *Manager) CountJobsByStatus(ctx context.Context) (map[JobStatus]int64, error) {
	rows, err := m.reader.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[JobStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[JobStatus(status)] = n
	}
	return counts, rows.Err()
}
