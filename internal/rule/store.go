package rule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/pulsehq/pulse/internal/db"
)

// ErrNotFound indicates the rule does not exist.
var ErrNotFound = errors.New("rule: not found")

// Store persists automation rules.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates a rule store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database, now: time.Now}
}

// Save inserts or updates a rule. A missing ID is generated.
func (s *Store) Save(ctx context.Context, r *Rule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	conditionsJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("marshal rule conditions: %w", err)
	}
	actionsJSON, err := json.Marshal(r.Actions)
	if err != nil {
		return fmt.Errorf("marshal rule actions: %w", err)
	}

	now := formatTime(s.now())
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	r.UpdatedAt = s.now()

	enabled := 0
	if r.Enabled {
		enabled = 1
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO automation_rules (id, tenant_id, name, enabled, trigger_event, conditions, actions, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			name = excluded.name,
			enabled = excluded.enabled,
			trigger_event = excluded.trigger_event,
			conditions = excluded.conditions,
			actions = excluded.actions,
			created_by = excluded.created_by,
			updated_at = excluded.updated_at
	`,
		r.ID,
		r.TenantID,
		r.Name,
		enabled,
		r.TriggerEvent,
		string(conditionsJSON),
		string(actionsJSON),
		r.CreatedBy,
		formatTime(r.CreatedAt),
		now,
	)
	if err != nil {
		return fmt.Errorf("save rule: %w", err)
	}

	return nil
}

// Get loads a rule by ID.
func (s *Store) Get(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, name, enabled, trigger_event, conditions, actions, created_by, created_at, updated_at
		FROM automation_rules
		WHERE id = ?
	`, id)

	r, err := scanRule(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load rule: %w", err)
	}
	return r, nil
}

// RulesFor returns the enabled rules of a tenant whose trigger matches the
// event name exactly (case-sensitive, no wildcarding). Rules are read fresh
// per invocation: matching happens at delivery time, not at emission time.
func (s *Store) RulesFor(ctx context.Context, tenantID, eventName string) ([]*Rule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, name, enabled, trigger_event, conditions, actions, created_by, created_at, updated_at
		FROM automation_rules
		WHERE tenant_id = ? AND enabled = 1 AND trigger_event = ?
		ORDER BY created_at ASC, id ASC
	`, tenantID, eventName)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRules(rows)
}

// List returns all rules for a tenant, enabled or not.
func (s *Store) List(ctx context.Context, tenantID string) ([]*Rule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, name, enabled, trigger_event, conditions, actions, created_by, created_at, updated_at
		FROM automation_rules
		WHERE tenant_id = ?
		ORDER BY created_at ASC, id ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRules(rows)
}

// SetEnabled toggles a rule.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}

	result, err := s.db.Exec(ctx, `
		UPDATE automation_rules SET enabled = ?, updated_at = ? WHERE id = ?
	`, enabledInt, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("set rule enabled: %w", err)
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

func collectRules(rows *sql.Rows) ([]*Rule, error) {
	var rules []*Rule
	for rows.Next() {
		r, err := scanRule(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func scanRule(scan func(dest ...any) error) (*Rule, error) {
	var r Rule
	var enabled int
	var conditionsJSON, actionsJSON string
	var createdAt, updatedAt string

	err := scan(
		&r.ID,
		&r.TenantID,
		&r.Name,
		&enabled,
		&r.TriggerEvent,
		&conditionsJSON,
		&actionsJSON,
		&r.CreatedBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(conditionsJSON), &r.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal rule conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &r.Actions); err != nil {
		return nil, fmt.Errorf("unmarshal rule actions: %w", err)
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)

	return &r, nil
}

// rulesFile is the YAML shape accepted by LoadFile.
type rulesFile struct {
	Rules []*Rule `yaml:"rules"`
}

// LoadFile reads rule definitions from a YAML file.
// Used for seeding tenant rules in development and tests.
func LoadFile(path string) ([]*Rule, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	return file.Rules, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse("2006-01-02 15:04:05", s)
	}
	return t
}
