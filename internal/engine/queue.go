// Package engine runs durable jobs with retries and replay-safe timers,
// and hosts the automation pipeline that consumes published events.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulsehq/pulse/internal/db"
	"github.com/pulsehq/pulse/internal/outbox"
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// DefaultMaxAttempts bounds job retries before the terminal failed state.
const DefaultMaxAttempts = 5

// Job is one unit of durable work.
type Job struct {
	ID             string
	Name           string
	IdempotencyKey string
	Payload        json.RawMessage
	Status         JobStatus
	Attempts       int
	MaxAttempts    int
	RunAt          time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ErrJobNotFound indicates the job does not exist.
var ErrJobNotFound = errors.New("engine: job not found")

// Queue is the persistent job queue. Claiming is a conditional UPDATE on
// status, so concurrent workers never run the same job twice.
type Queue struct {
	db          *db.DB
	now         func() time.Time
	maxAttempts int
}

// NewQueue creates a queue with the default retry budget.
func NewQueue(database *db.DB) *Queue {
	return &Queue{db: database, now: time.Now, maxAttempts: DefaultMaxAttempts}
}

// Enqueue adds a job due immediately. A job with the same idempotency key
// already in the queue makes this a silent no-op, which is what lets the
// publisher deliver at-least-once without duplicating work.
func (q *Queue) Enqueue(ctx context.Context, name, idempotencyKey string, payload any) error {
	return q.EnqueueAt(ctx, name, idempotencyKey, payload, q.now())
}

// EnqueueAt adds a job that becomes due at runAt.
func (q *Queue) EnqueueAt(ctx context.Context, name, idempotencyKey string, payload any, runAt time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	now := q.now()
	_, err = q.db.Exec(ctx, `
		INSERT INTO engine_jobs (id, name, idempotency_key, payload, status, attempts, max_attempts, run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING
	`,
		uuid.NewString(),
		name,
		idempotencyKey,
		string(body),
		string(JobQueued),
		q.maxAttempts,
		formatTime(runAt),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// ClaimDue moves up to limit due jobs from queued to running and returns
// them. Each claim is an individual conditional UPDATE; a job lost to a
// concurrent worker is simply skipped.
func (q *Queue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	rows, err := q.db.Query(ctx, selectJob+`
		WHERE status = ? AND run_at <= ?
		ORDER BY run_at ASC
		LIMIT ?
	`, string(JobQueued), formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []*Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		candidates = append(candidates, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []*Job
	for _, job := range candidates {
		result, err := q.db.Exec(ctx, `
			UPDATE engine_jobs
			SET status = ?, attempts = attempts + 1, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(JobRunning), formatTime(q.now()), job.ID, string(JobQueued))
		if err != nil {
			return claimed, fmt.Errorf("claim job: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return claimed, fmt.Errorf("get rows affected: %w", err)
		}
		if n == 0 {
			continue
		}
		job.Status = JobRunning
		job.Attempts++
		claimed = append(claimed, job)
	}

	return claimed, nil
}

// Complete marks a running job done.
func (q *Queue) Complete(ctx context.Context, id string) error {
	return q.transition(ctx, id, JobDone, "", nil)
}

// Fail records a failed attempt. The job is requeued with capped
// exponential backoff until its retry budget runs out, then parked failed.
func (q *Queue) Fail(ctx context.Context, job *Job, errMsg string) error {
	if job.Attempts >= job.MaxAttempts {
		return q.transition(ctx, job.ID, JobFailed, errMsg, nil)
	}
	runAt := q.now().Add(outbox.Backoff(job.Attempts))
	return q.transition(ctx, job.ID, JobQueued, errMsg, &runAt)
}

// Suspend parks a running job until runAt without consuming a retry
// attempt. Used for durable sleeps, which are scheduling, not failure.
func (q *Queue) Suspend(ctx context.Context, id string, runAt time.Time) error {
	result, err := q.db.Exec(ctx, `
		UPDATE engine_jobs
		SET status = ?, attempts = attempts - 1, run_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(JobQueued), formatTime(runAt), formatTime(q.now()), id, string(JobRunning))
	if err != nil {
		return fmt.Errorf("suspend job: %w", err)
	}
	return checkJobRows(result)
}

// Get loads a job by ID.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	row := q.db.QueryRow(ctx, selectJob+" WHERE id = ?", id)
	job, err := scanJob(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("load job: %w", err)
	}
	return job, nil
}

func (q *Queue) transition(ctx context.Context, id string, status JobStatus, errMsg string, runAt *time.Time) error {
	query := "UPDATE engine_jobs SET status = ?, last_error = ?, updated_at = ?"
	args := []any{string(status), nullable(errMsg), formatTime(q.now())}
	if runAt != nil {
		query += ", run_at = ?"
		args = append(args, formatTime(*runAt))
	}
	query += " WHERE id = ? AND status = ?"
	args = append(args, id, string(JobRunning))

	result, err := q.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition job to %s: %w", status, err)
	}
	return checkJobRows(result)
}

func checkJobRows(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const selectJob = `
	SELECT id, name, idempotency_key, payload, status, attempts, max_attempts, run_at, last_error, created_at, updated_at
	FROM engine_jobs`

func scanJob(scan func(dest ...any) error) (*Job, error) {
	var job Job
	var statusStr, payload, runAt, createdAt, updatedAt string
	var lastError sql.NullString

	err := scan(
		&job.ID,
		&job.Name,
		&job.IdempotencyKey,
		&payload,
		&statusStr,
		&job.Attempts,
		&job.MaxAttempts,
		&runAt,
		&lastError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Payload = []byte(payload)
	job.Status = JobStatus(statusStr)
	job.RunAt = parseTime(runAt)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	if lastError.Valid {
		job.LastError = lastError.String
	}

	return &job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// SQLite datetime fallback
		t, _ = time.Parse("2006-01-02 15:04:05", s)
	}
	return t
}
