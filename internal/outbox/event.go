// Package outbox implements the transactional outbox for domain events.
//
// Domain writes append an Event in the pending state; the Publisher hands
// pending events to the durable workflow engine and records delivery state.
// A scheduled sweep republishes events that were appended but never handed
// off, which covers process crashes between append and publish.
package outbox

import (
	"encoding/json"
	"time"
)

// Status is the delivery state of an outbox event.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// MaxAttempts is the number of publish attempts before an event is
// marked failed terminally and requires operator attention.
const MaxAttempts = 5

// Event is a durable record of a domain event with delivery state.
type Event struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	Name          string          `json:"event_name"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Status        Status          `json:"status"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Backoff returns the delay before the next publish attempt.
// attempts is the number of attempts made so far (1-based).
// The schedule is 60s * 2^(attempts-1), capped at one hour.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	shift := attempts - 1
	if shift > 6 {
		return time.Hour
	}
	d := time.Duration(60<<shift) * time.Second
	if d > time.Hour {
		return time.Hour
	}
	return d
}
