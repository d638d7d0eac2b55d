// Package rule provides automation rule storage, matching, and condition
// evaluation.
//
// A rule belongs to a tenant, reacts to exactly one trigger event, and
// carries a single-level condition tree plus an ordered action list. Rules
// are owned by tenant configuration and read-only to the engine.
package rule

import (
	"time"
)

// BoolOperator combines the conditions of a set.
type BoolOperator string

const (
	OperatorAnd BoolOperator = "and"
	OperatorOr  BoolOperator = "or"
)

// CondOperator compares a context field against a condition value.
type CondOperator string

const (
	OpEquals      CondOperator = "equals"
	OpNotEquals   CondOperator = "not_equals"
	OpContains    CondOperator = "contains"
	OpNotContains CondOperator = "not_contains"
	OpExists      CondOperator = "exists"
	OpNotExists   CondOperator = "not_exists"
	OpIsEmpty     CondOperator = "is_empty"
	OpGreaterThan CondOperator = "greater_than"
	OpLessThan    CondOperator = "less_than"
)

// Condition is one field comparison.
// Field is a dotted path into the event context; a "custom:" prefix spells
// an arbitrary path explicitly.
type Condition struct {
	Field    string       `json:"field" yaml:"field"`
	Operator CondOperator `json:"operator" yaml:"operator"`
	Value    any          `json:"value,omitempty" yaml:"value,omitempty"`
}

// ConditionSet is a single-level condition tree: one boolean operator over
// a flat condition list. Nested groups are not part of the contract.
type ConditionSet struct {
	Operator   BoolOperator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Conditions []Condition  `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Action is one step of a rule: a typed action with free-form arguments.
// Argument strings may contain {{path}} and {path} placeholders.
type Action struct {
	Type string         `json:"type" yaml:"type"`
	Args map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// Rule is a tenant's automation rule.
type Rule struct {
	ID           string       `json:"id" yaml:"id"`
	TenantID     string       `json:"tenant_id" yaml:"tenant_id"`
	Name         string       `json:"name" yaml:"name"`
	Enabled      bool         `json:"enabled" yaml:"enabled"`
	TriggerEvent string       `json:"trigger_event" yaml:"trigger_event"`
	Conditions   ConditionSet `json:"conditions" yaml:"conditions"`
	Actions      []Action     `json:"actions" yaml:"actions"`
	CreatedBy    string       `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	CreatedAt    time.Time    `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time    `json:"updated_at" yaml:"-"`
}
