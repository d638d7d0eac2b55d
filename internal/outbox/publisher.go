package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// JobAutomationEvent is the engine job name for delivering an outbox event
// to the automation pipeline.
const JobAutomationEvent = "automation.event"

// sweepBatchSize bounds how many due events one sweep pass republishes.
const sweepBatchSize = 100

// Enqueuer hands a named job to the durable workflow engine.
// The idempotency key makes duplicate hand-offs a no-op downstream.
type Enqueuer interface {
	Enqueue(ctx context.Context, name, idempotencyKey string, payload any) error
}

// EventJob is the payload of an automation.event engine job.
type EventJob struct {
	EventID string `json:"event_id"`
}

// Publisher drains pending outbox events into the workflow engine with
// bounded retry and capped exponential backoff.
type Publisher struct {
	store  *Store
	queue  Enqueuer
	logger *slog.Logger
}

// NewPublisher creates a publisher.
func NewPublisher(store *Store, queue Enqueuer, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: store, queue: queue, logger: logger}
}

// Publish hands one event to the workflow engine and marks it published.
// Events that already left the pending state are skipped, which guards
// against duplicate delivery triggers. On enqueue failure the event is
// rescheduled, or marked failed terminally once MaxAttempts is reached.
func (p *Publisher) Publish(ctx context.Context, eventID string) error {
	ev, err := p.store.Get(ctx, eventID)
	if err != nil {
		return err
	}

	if ev.Status != StatusPending {
		p.logger.Debug("skipping non-pending event", "event", eventID, "status", ev.Status)
		return nil
	}

	if err := p.queue.Enqueue(ctx, JobAutomationEvent, ev.ID, EventJob{EventID: ev.ID}); err != nil {
		attempts := ev.Attempts + 1
		if attempts >= MaxAttempts {
			p.logger.Error("giving up on event after max publish attempts",
				"event", eventID,
				"attempts", attempts,
				"error", err)
			if dbErr := p.store.MarkFailed(ctx, ev.ID, attempts, err.Error()); dbErr != nil && !errors.Is(dbErr, ErrNotPending) {
				p.logger.Error("error marking event failed", "event", eventID, "error", dbErr)
			}
		} else {
			if dbErr := p.store.MarkRetry(ctx, ev.ID, attempts, err.Error()); dbErr != nil && !errors.Is(dbErr, ErrNotPending) {
				p.logger.Error("error scheduling event retry", "event", eventID, "error", dbErr)
			}
		}
		return fmt.Errorf("publish event %s: %w", eventID, err)
	}

	if err := p.store.MarkPublished(ctx, ev.ID); err != nil {
		if errors.Is(err, ErrNotPending) {
			// Someone else completed the transition; the enqueue was
			// idempotent so nothing was duplicated.
			return nil
		}
		return err
	}

	return nil
}

// Emit creates an outbox event for a domain write and publishes it
// immediately on a best-effort basis. The append must succeed for Emit to
// succeed; a failed immediate publish leaves the event pending for the
// sweeper.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventName, entityType, entityID string, data map[string]any) (*Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}

	ev := &Event{
		TenantID:   tenantID,
		Name:       eventName,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
	}

	if err := p.store.Append(ctx, ev); err != nil {
		return nil, err
	}

	if err := p.Publish(ctx, ev.ID); err != nil {
		p.logger.Warn("immediate publish failed, sweeper will retry",
			"event", ev.ID,
			"name", eventName,
			"error", err)
	}

	return ev, nil
}

// Sweep republishes pending events whose next attempt is due.
// Returns the number of events successfully handed off. Per-event publish
// errors are logged and do not stop the pass.
func (p *Publisher) Sweep(ctx context.Context) (int, error) {
	events, err := p.store.DuePending(ctx, time.Now(), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, ev := range events {
		if err := p.Publish(ctx, ev.ID); err != nil {
			p.logger.Warn("sweep publish failed", "event", ev.ID, "error", err)
			continue
		}
		published++
	}

	if len(events) > 0 {
		p.logger.Info("outbox sweep complete", "due", len(events), "published", published)
	}

	return published, nil
}

// RunSweeper runs Sweep on a fixed interval until the context is canceled.
// This is the safety net against process crashes between append and publish.
func (p *Publisher) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("outbox sweeper started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox sweeper stopping")
			return nil
		case <-ticker.C:
			if _, err := p.Sweep(ctx); err != nil {
				p.logger.Error("outbox sweep error", "error", err)
			}
		}
	}
}
