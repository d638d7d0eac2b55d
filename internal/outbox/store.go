package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulsehq/pulse/internal/db"
)

var (
	// ErrNotFound indicates the event does not exist.
	ErrNotFound = errors.New("outbox: event not found")
	// ErrNotPending indicates a state transition was requested on an event
	// that already left the pending state. Callers treat it as a benign no-op.
	ErrNotPending = errors.New("outbox: event not pending")
)

// Store persists outbox events.
// All state transitions are conditional on status='pending', which gives
// single-writer-at-a-time semantics per record without explicit locking.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates an outbox store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database, now: time.Now}
}

// Append writes a new event in the pending state with zero attempts.
// A write failure propagates to the caller: the event is part of the unit
// of work it describes, so the triggering operation must fail loudly.
func (s *Store) Append(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now()
	}
	ev.Status = StatusPending
	ev.Attempts = 0
	ev.CreatedAt = s.now()

	payload := string(ev.Payload)
	if payload == "" {
		payload = "{}"
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO outbox_events (id, tenant_id, event_name, entity_type, entity_id, payload, occurred_at, status, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`,
		ev.ID,
		ev.TenantID,
		ev.Name,
		ev.EntityType,
		ev.EntityID,
		payload,
		formatTime(ev.OccurredAt),
		string(StatusPending),
		formatTime(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}

	return nil
}

// Get loads an event by ID.
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, event_name, entity_type, entity_id, payload, occurred_at, status, attempts, next_attempt_at, last_error, created_at
		FROM outbox_events
		WHERE id = ?
	`, id)

	ev, err := scanEvent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load outbox event: %w", err)
	}
	return ev, nil
}

// MarkPublished transitions pending→published and increments attempts.
// Calling it twice returns ErrNotPending rather than corrupting state.
func (s *Store) MarkPublished(ctx context.Context, id string) error {
	result, err := s.db.Exec(ctx, `
		UPDATE outbox_events
		SET status = ?, attempts = attempts + 1, next_attempt_at = NULL, last_error = NULL
		WHERE id = ? AND status = ?
	`, string(StatusPublished), id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}

	return s.checkTransition(ctx, result, id)
}

// MarkRetry records a failed publish attempt and schedules the next one
// with capped exponential backoff.
func (s *Store) MarkRetry(ctx context.Context, id string, attempts int, errMsg string) error {
	next := s.now().Add(Backoff(attempts))

	result, err := s.db.Exec(ctx, `
		UPDATE outbox_events
		SET attempts = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ? AND status = ?
	`, attempts, formatTime(next), errMsg, id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("mark retry: %w", err)
	}

	return s.checkTransition(ctx, result, id)
}

// MarkFailed transitions an event to the terminal failed state.
// No further attempts are scheduled; recovery requires manual intervention.
func (s *Store) MarkFailed(ctx context.Context, id string, attempts int, errMsg string) error {
	result, err := s.db.Exec(ctx, `
		UPDATE outbox_events
		SET status = ?, attempts = ?, next_attempt_at = NULL, last_error = ?
		WHERE id = ? AND status = ?
	`, string(StatusFailed), attempts, errMsg, id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	return s.checkTransition(ctx, result, id)
}

// DuePending returns pending events whose next attempt is due at or before
// now, oldest first. Events that never had an attempt scheduled (crash
// between append and publish) are included.
func (s *Store) DuePending(ctx context.Context, now time.Time, limit int) ([]*Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, event_name, entity_type, entity_id, payload, occurred_at, status, attempts, next_attempt_at, last_error, created_at
		FROM outbox_events
		WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY created_at ASC
		LIMIT ?
	`, string(StatusPending), formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("query due events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// checkTransition maps a zero-row conditional update to ErrNotFound or
// ErrNotPending.
func (s *Store) checkTransition(ctx context.Context, result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRow(ctx, "SELECT status FROM outbox_events WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check event status: %w", err)
	}
	return ErrNotPending
}

// scanEvent scans one event row via the given scan function.
func scanEvent(scan func(dest ...any) error) (*Event, error) {
	var ev Event
	var statusStr, occurredAt, createdAt string
	var payload string
	var nextAttemptAt, lastError sql.NullString

	err := scan(
		&ev.ID,
		&ev.TenantID,
		&ev.Name,
		&ev.EntityType,
		&ev.EntityID,
		&payload,
		&occurredAt,
		&statusStr,
		&ev.Attempts,
		&nextAttemptAt,
		&lastError,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	ev.Payload = []byte(payload)
	ev.Status = Status(statusStr)
	ev.OccurredAt = parseTime(occurredAt)
	ev.CreatedAt = parseTime(createdAt)
	if nextAttemptAt.Valid {
		t := parseTime(nextAttemptAt.String)
		ev.NextAttemptAt = &t
	}
	if lastError.Valid {
		ev.LastError = lastError.String
	}

	return &ev, nil
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
