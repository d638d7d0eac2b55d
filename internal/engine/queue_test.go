package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse/internal/db"
)

func TestQueue_EnqueueAndClaim(t *testing.T) {
	t.Parallel()

	q := NewQueue(db.NewTestDB(t))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "work", "key-1", map[string]any{"n": 1}))

	jobs, err := q.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "work", jobs[0].Name)
	assert.Equal(t, JobRunning, jobs[0].Status)
	assert.Equal(t, 1, jobs[0].Attempts)

	// Already claimed: nothing left.
	jobs, err = q.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestQueue_DuplicateKeyIsNoop(t *testing.T) {
	t.Parallel()

	q := NewQueue(db.NewTestDB(t))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "work", "key-1", nil))
	require.NoError(t, q.Enqueue(ctx, "work", "key-1", nil))

	jobs, err := q.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestQueue_FutureJobNotDue(t *testing.T) {
	t.Parallel()

	q := NewQueue(db.NewTestDB(t))
	ctx := context.Background()

	runAt := time.Now().Add(time.Hour)
	require.NoError(t, q.EnqueueAt(ctx, "work", "key-1", nil, runAt))

	jobs, err := q.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = q.ClaimDue(ctx, runAt.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestQueue_Complete(t *testing.T) {
	t.Parallel()

	q := NewQueue(db.NewTestDB(t))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "work", "key-1", nil))
	jobs, err := q.ClaimDue(ctx, time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, q.Complete(ctx, jobs[0].ID))

	got, err := q.Get(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, JobDone, got.Status)

	// Not running anymore: the transition has nothing to do.
	assert.ErrorIs(t, q.Complete(ctx, jobs[0].ID), ErrJobNotFound)
}

func TestQueue_FailRequeuesWithBackoff(t *testing.T) {
	t.Parallel()

	q := NewQueue(db.NewTestDB(t))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "work", "key-1", nil))
	jobs, err := q.ClaimDue(ctx, time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	before := time.Now()
	require.NoError(t, q.Fail(ctx, jobs[0], "downstream unavailable"))

	got, err := q.Get(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, JobQueued, got.Status)
	assert.Equal(t, "downstream unavailable", got.LastError)
	// First failure: 60s backoff.
	assert.True(t, got.RunAt.After(before.Add(59*time.Second)))
	assert.True(t, got.RunAt.Before(before.Add(2*time.Minute)))
}

func TestQueue_FailTerminalAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	q := NewQueue(db.NewTestDB(t))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "work", "key-1", nil))
	jobs, err := q.ClaimDue(ctx, time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	job.Attempts = job.MaxAttempts
	require.NoError(t, q.Fail(ctx, job, "still broken"))

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)

	jobs, err = q.ClaimDue(ctx, time.Now().Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestQueue_SuspendDoesNotConsumeAttempt(t *testing.T) {
	t.Parallel()

	q := NewQueue(db.NewTestDB(t))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "work", "key-1", nil))
	jobs, err := q.ClaimDue(ctx, time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, 1, jobs[0].Attempts)

	resumeAt := time.Now().Add(time.Minute)
	require.NoError(t, q.Suspend(ctx, jobs[0].ID, resumeAt))

	got, err := q.Get(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, JobQueued, got.Status)
	assert.Equal(t, 0, got.Attempts)

	// Claiming after the resume time brings attempts back to 1.
	jobs, err = q.ClaimDue(ctx, resumeAt.Add(time.Second), 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].Attempts)
}
