package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse/internal/action"
	"github.com/pulsehq/pulse/internal/db"
	"github.com/pulsehq/pulse/internal/outbox"
	"github.com/pulsehq/pulse/internal/rule"
	"github.com/pulsehq/pulse/internal/run"
)

// harness wires the full delivery path against one test database with an
// adjustable clock.
type harness struct {
	events    *outbox.Store
	rules     *rule.Store
	runs      *run.Store
	loop      *action.Loopback
	queue     *Queue
	timers    *Timers
	engine    *Engine
	pipeline  *Pipeline
	publisher *outbox.Publisher
	clock     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	database := db.NewTestDB(t)
	logger := slog.New(slog.DiscardHandler)

	h := &harness{
		events: outbox.NewStore(database),
		rules:  rule.NewStore(database),
		runs:   run.NewStore(database),
		loop:   action.NewLoopback(),
		queue:  NewQueue(database),
		timers: NewTimers(database),
		clock:  time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC),
	}

	runner := action.NewRunner(h.loop.Handlers(), logger)
	h.pipeline = NewPipeline(h.events, h.rules, h.runs, runner, h.timers, logger)
	h.engine = New(h.queue, logger, Options{Workers: 1})
	h.pipeline.Attach(h.engine)
	h.publisher = outbox.NewPublisher(h.events, h.queue, logger)

	clock := func() time.Time { return h.clock }
	h.queue.now = clock
	h.timers.now = clock
	h.pipeline.now = clock
	h.engine.now = clock

	return h
}

func (h *harness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

func (h *harness) saveRule(t *testing.T, r *rule.Rule) {
	t.Helper()
	require.NoError(t, h.rules.Save(context.Background(), r))
}

func (h *harness) emit(t *testing.T, data map[string]any) *outbox.Event {
	t.Helper()
	ev, err := h.publisher.Emit(context.Background(), "tenant-1", "appointment.created", "appointment", "appt-9", data)
	require.NoError(t, err)
	return ev
}

func (h *harness) tick(t *testing.T) int {
	t.Helper()
	n, err := h.engine.Tick(context.Background())
	require.NoError(t, err)
	return n
}

func appointmentPayload() map[string]any {
	return map[string]any{
		"appointment": map[string]any{
			"id":        "appt-9",
			"patientId": "pat-3",
			"type":      "cleaning",
			"startTime": "2026-09-01T10:00:00Z",
		},
		"patient": map[string]any{
			"name":  "Dana Fields",
			"email": "dana@example.com",
			"phone": "+15550100",
		},
	}
}

func TestPipeline_AppointmentCreatedEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	h.saveRule(t, &rule.Rule{
		TenantID:     "tenant-1",
		Name:         "Welcome new bookings",
		Enabled:      true,
		TriggerEvent: "appointment.created",
		Conditions: rule.ConditionSet{
			Operator: rule.OperatorAnd,
			Conditions: []rule.Condition{
				{Field: "appointment.type", Operator: rule.OpEquals, Value: "cleaning"},
			},
		},
		Actions: []rule.Action{
			{Type: "send_email", Args: map[string]any{
				"to":      "{{patient.email}}",
				"subject": "See you soon, {{patient.firstName}}",
				"body":    "Your {{appointment.type}} visit is booked.",
			}},
			{Type: "create_note", Args: map[string]any{
				"patientId": "{appointment.patientId}",
				"content":   "Booking confirmation sent",
			}},
		},
	})

	ev := h.emit(t, appointmentPayload())

	require.Equal(t, 1, h.tick(t))

	require.Len(t, h.loop.Emails, 1)
	assert.Equal(t, "dana@example.com", h.loop.Emails[0].To)
	assert.Equal(t, "See you soon, Dana", h.loop.Emails[0].Subject)

	require.Len(t, h.loop.Notes, 1)
	assert.Equal(t, "pat-3", h.loop.Notes[0].PatientID)
	assert.Equal(t, "general", h.loop.Notes[0].Type)

	runs, err := h.runs.List(ctx, "tenant-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.StatusSucceeded, runs[0].Status)
	assert.Equal(t, ev.ID, runs[0].SourceEventID)
	require.Len(t, runs[0].Result, 2)
	assert.Equal(t, string(action.ResultSucceeded), runs[0].Result[0].Status)

	got, err := h.events.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusPublished, got.Status)
}

func TestPipeline_ConditionsNotMet(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	h.saveRule(t, &rule.Rule{
		TenantID:     "tenant-1",
		Name:         "Surgery prep",
		Enabled:      true,
		TriggerEvent: "appointment.created",
		Conditions: rule.ConditionSet{
			Conditions: []rule.Condition{
				{Field: "appointment.type", Operator: rule.OpEquals, Value: "surgery"},
			},
		},
		Actions: []rule.Action{
			{Type: "send_email", Args: map[string]any{"to": "{{patient.email}}"}},
		},
	})

	h.emit(t, appointmentPayload())
	require.Equal(t, 1, h.tick(t))

	assert.Zero(t, h.loop.Count())

	runs, err := h.runs.List(context.Background(), "tenant-1", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPipeline_TwoRulesFaultIsolation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	h.saveRule(t, &rule.Rule{
		TenantID:     "tenant-1",
		Name:         "Broken rule",
		Enabled:      true,
		TriggerEvent: "appointment.created",
		Actions: []rule.Action{
			{Type: "summon_dragon", Args: map[string]any{}},
		},
	})
	h.saveRule(t, &rule.Rule{
		TenantID:     "tenant-1",
		Name:         "Text confirmation",
		Enabled:      true,
		TriggerEvent: "appointment.created",
		Actions: []rule.Action{
			{Type: "send_sms", Args: map[string]any{"to": "{{patient.phone}}", "body": "Booked!"}},
		},
	})

	h.emit(t, appointmentPayload())
	require.Equal(t, 1, h.tick(t))

	require.Len(t, h.loop.Texts, 1)
	assert.Equal(t, "+15550100", h.loop.Texts[0].To)

	runs, err := h.runs.List(ctx, "tenant-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, run.StatusSucceeded, r.Status, "action failure must not fail the run")
	}
}

func TestPipeline_DelaySuspendsAndResumes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	h.saveRule(t, &rule.Rule{
		TenantID:     "tenant-1",
		Name:         "Staggered follow-up",
		Enabled:      true,
		TriggerEvent: "appointment.created",
		Actions: []rule.Action{
			{Type: "send_email", Args: map[string]any{"to": "{{patient.email}}", "subject": "hi"}},
			{Type: "delay_seconds", Args: map[string]any{"seconds": float64(60)}},
			{Type: "send_sms", Args: map[string]any{"to": "{{patient.phone}}", "body": "follow-up"}},
		},
	})

	h.emit(t, appointmentPayload())
	require.Equal(t, 1, h.tick(t))

	// Before the timer fires: first action done, third not started.
	require.Len(t, h.loop.Emails, 1)
	assert.Empty(t, h.loop.Texts)

	runs, err := h.runs.List(ctx, "tenant-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.StatusRunning, runs[0].Status)

	// The job is parked until the deadline.
	require.Equal(t, 0, h.tick(t))

	h.advance(61 * time.Second)
	require.Equal(t, 1, h.tick(t))

	require.Len(t, h.loop.Emails, 1, "first action must not rerun on resume")
	require.Len(t, h.loop.Texts, 1)

	runs, err = h.runs.List(ctx, "tenant-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.StatusSucceeded, runs[0].Status)
	require.Len(t, runs[0].Result, 3)
	assert.Equal(t, action.TypeDelaySeconds, runs[0].Result[1].Type)
}

func TestPipeline_RedeliveryIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	h.saveRule(t, &rule.Rule{
		TenantID:     "tenant-1",
		Name:         "Welcome",
		Enabled:      true,
		TriggerEvent: "appointment.created",
		Actions: []rule.Action{
			{Type: "send_email", Args: map[string]any{"to": "{{patient.email}}"}},
		},
	})

	ev := h.emit(t, appointmentPayload())
	require.Equal(t, 1, h.tick(t))
	require.Len(t, h.loop.Emails, 1)

	// Simulate duplicate delivery of the same event job.
	err := h.pipeline.HandleEvent(ctx, &Job{
		Name:    outbox.JobAutomationEvent,
		Payload: []byte(`{"event_id":"` + ev.ID + `"}`),
	})
	require.NoError(t, err)

	assert.Len(t, h.loop.Emails, 1, "redelivery must not repeat completed work")
}

func TestPipeline_DisabledRuleIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	h.saveRule(t, &rule.Rule{
		TenantID:     "tenant-1",
		Name:         "Paused",
		Enabled:      false,
		TriggerEvent: "appointment.created",
		Actions: []rule.Action{
			{Type: "send_email", Args: map[string]any{"to": "{{patient.email}}"}},
		},
	})

	h.emit(t, appointmentPayload())
	require.Equal(t, 1, h.tick(t))

	assert.Zero(t, h.loop.Count())
}

func TestPipeline_RuleEditedBeforeDeliveryApplies(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	r := &rule.Rule{
		TenantID:     "tenant-1",
		Name:         "Welcome",
		Enabled:      true,
		TriggerEvent: "appointment.created",
		Actions: []rule.Action{
			{Type: "send_email", Args: map[string]any{"to": "{{patient.email}}", "subject": "old"}},
		},
	}
	h.saveRule(t, r)

	h.emit(t, appointmentPayload())

	// Edit lands between emit and delivery: the new version runs.
	r.Actions[0].Args["subject"] = "new"
	h.saveRule(t, r)

	require.Equal(t, 1, h.tick(t))
	require.Len(t, h.loop.Emails, 1)
	assert.Equal(t, "new", h.loop.Emails[0].Subject)
}

func TestDelaySeconds_ArgumentForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args map[string]any
		want int
	}{
		{"float", map[string]any{"seconds": float64(90)}, 90},
		{"int", map[string]any{"seconds": 90}, 90},
		{"string", map[string]any{"seconds": "90"}, 90},
		{"missing", map[string]any{}, 0},
		{"garbage", map[string]any{"seconds": "soon"}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, delaySeconds(tt.args))
		})
	}
}
