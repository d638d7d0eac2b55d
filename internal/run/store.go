package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulsehq/pulse/internal/db"
)

var (
	// ErrNotFound indicates the run does not exist.
	ErrNotFound = errors.New("run: not found")
	// ErrDuplicateRun indicates a run already exists for the same rule and
	// source event. Redelivered events hit this and resume the existing run.
	ErrDuplicateRun = errors.New("run: duplicate for rule and event")
)

// Store persists runs and their action logs.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates a run store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database, now: time.Now}
}

// Create inserts a run in the running state. The unique (rule_id,
// source_event_id) constraint makes this the dedup point for redelivery:
// the second insert affects zero rows and returns ErrDuplicateRun.
func (s *Store) Create(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Status = StatusRunning
	r.StartedAt = s.now()
	if r.Result == nil {
		r.Result = []ActionLog{}
	}

	result, err := s.db.Exec(ctx, `
		INSERT INTO automation_runs (id, tenant_id, rule_id, source_event_id, trigger_event, status, started_at, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, '[]')
		ON CONFLICT (rule_id, source_event_id) DO NOTHING
	`,
		r.ID,
		r.TenantID,
		r.RuleID,
		r.SourceEventID,
		r.TriggerEvent,
		string(StatusRunning),
		formatTime(r.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrDuplicateRun
	}
	return nil
}

// Get loads a run by ID.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRow(ctx, selectRun+" WHERE id = ?", id)
	r, err := scanRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load run: %w", err)
	}
	return r, nil
}

// GetByRuleEvent loads the run for a rule/event pair, if any.
func (s *Store) GetByRuleEvent(ctx context.Context, ruleID, sourceEventID string) (*Run, error) {
	row := s.db.QueryRow(ctx, selectRun+" WHERE rule_id = ? AND source_event_id = ?", ruleID, sourceEventID)
	r, err := scanRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load run: %w", err)
	}
	return r, nil
}

// AppendActionLog adds one action outcome to the run's result list.
// Each append is a durable checkpoint: on resume, the number of persisted
// logs is the index of the next action to execute.
func (s *Store) AppendActionLog(ctx context.Context, runID string, log ActionLog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var resultJSON string
	err = tx.QueryRow(ctx, "SELECT result FROM automation_runs WHERE id = ?", runID).Scan(&resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load run result: %w", err)
	}

	var logs []ActionLog
	if err := json.Unmarshal([]byte(resultJSON), &logs); err != nil {
		return fmt.Errorf("decode run result: %w", err)
	}
	logs = append(logs, log)

	updated, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}

	if _, err := tx.Exec(ctx, "UPDATE automation_runs SET result = ? WHERE id = ?", string(updated), runID); err != nil {
		return fmt.Errorf("append action log: %w", err)
	}

	return tx.Commit()
}

// Complete transitions a running run to a terminal status.
func (s *Store) Complete(ctx context.Context, runID string, status Status, errMsg string) error {
	result, err := s.db.Exec(ctx, `
		UPDATE automation_runs
		SET status = ?, finished_at = ?, error = ?
		WHERE id = ? AND status = ?
	`, string(status), formatTime(s.now()), errMsg, runID, string(StatusRunning))
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a tenant's runs, newest first.
func (s *Store) List(ctx context.Context, tenantID string, limit int) ([]*Run, error) {
	rows, err := s.db.Query(ctx, selectRun+`
		WHERE tenant_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

const selectRun = `
	SELECT id, tenant_id, rule_id, source_event_id, trigger_event, status, started_at, finished_at, result, error
	FROM automation_runs`

func scanRun(scan func(dest ...any) error) (*Run, error) {
	var r Run
	var statusStr, startedAt, resultJSON string
	var finishedAt, errMsg sql.NullString

	err := scan(
		&r.ID,
		&r.TenantID,
		&r.RuleID,
		&r.SourceEventID,
		&r.TriggerEvent,
		&statusStr,
		&startedAt,
		&finishedAt,
		&resultJSON,
		&errMsg,
	)
	if err != nil {
		return nil, err
	}

	r.Status = Status(statusStr)
	r.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		r.FinishedAt = &t
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if err := json.Unmarshal([]byte(resultJSON), &r.Result); err != nil {
		return nil, fmt.Errorf("decode run result: %w", err)
	}

	return &r, nil
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
