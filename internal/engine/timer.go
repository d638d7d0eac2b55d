package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pulsehq/pulse/internal/db"
)

// SuspendError signals that a handler cannot proceed until ResumeAt.
// The worker parks the job instead of counting a failure; on replay the
// handler reaches the same sleep, finds the timer expired, and moves on.
type SuspendError struct {
	ResumeAt time.Time
}

func (e *SuspendError) Error() string {
	return fmt.Sprintf("engine: suspended until %s", e.ResumeAt.UTC().Format(time.RFC3339))
}

// AsSuspend extracts a SuspendError from an error chain.
func AsSuspend(err error) (*SuspendError, bool) {
	var s *SuspendError
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}

// Timers provides durable, replay-safe sleeps. A timer is keyed by its
// owner; the first Sleep for a key fixes the fire time, and replays after
// that observe the original deadline rather than restarting the clock.
type Timers struct {
	db  *db.DB
	now func() time.Time
}

// NewTimers creates a timer store.
func NewTimers(database *db.DB) *Timers {
	return &Timers{db: database, now: time.Now}
}

// Sleep returns nil once the timer keyed by key has fired, or a
// SuspendError carrying the fire time while it is still pending.
// The first call for a key schedules it d from now.
func (t *Timers) Sleep(ctx context.Context, key string, d time.Duration) error {
	now := t.now()

	var fireAtStr string
	err := t.db.QueryRow(ctx, "SELECT fire_at FROM engine_timers WHERE key = ?", key).Scan(&fireAtStr)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		fireAt := now.Add(d)
		if _, err := t.db.Exec(ctx, `
			INSERT INTO engine_timers (key, fire_at, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT (key) DO NOTHING
		`, key, formatTime(fireAt), formatTime(now)); err != nil {
			return fmt.Errorf("schedule timer: %w", err)
		}
		if d <= 0 {
			return nil
		}
		return &SuspendError{ResumeAt: fireAt}
	case err != nil:
		return fmt.Errorf("load timer: %w", err)
	}

	fireAt := parseTime(fireAtStr)
	if fireAt.After(now) {
		return &SuspendError{ResumeAt: fireAt}
	}
	return nil
}

// Clear removes a fired timer. Harmless if the timer is already gone.
func (t *Timers) Clear(ctx context.Context, key string) error {
	if _, err := t.db.Exec(ctx, "DELETE FROM engine_timers WHERE key = ?", key); err != nil {
		return fmt.Errorf("clear timer: %w", err)
	}
	return nil
}
