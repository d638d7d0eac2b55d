// Package run records automation executions and their per-action outcomes.
package run

import (
	"time"

	"github.com/pulsehq/pulse/internal/action"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ActionLog is the recorded outcome of one action within a run.
type ActionLog struct {
	Index  int            `json:"index"`
	Type   action.Type    `json:"type"`
	Status string         `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Run is one execution of a rule against one event. The (RuleID,
// SourceEventID) pair is unique, which is what makes redelivery safe.
type Run struct {
	ID            string      `json:"id"`
	TenantID      string      `json:"tenantId"`
	RuleID        string      `json:"ruleId"`
	SourceEventID string      `json:"sourceEventId"`
	TriggerEvent  string      `json:"triggerEvent"`
	Status        Status      `json:"status"`
	Result        []ActionLog `json:"result"`
	Error         string      `json:"error,omitempty"`
	StartedAt     time.Time   `json:"startedAt"`
	FinishedAt    *time.Time  `json:"finishedAt,omitempty"`
}

// Finished reports whether the run reached a terminal state.
func (r *Run) Finished() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}
