package evctx

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse/internal/outbox"
)

func buildContext(t *testing.T, payload map[string]any, now time.Time) Context {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	return BuildAt(&outbox.Event{
		ID:         "ev-1",
		TenantID:   "tenant-1",
		Name:       "appointment.created",
		EntityType: "appointment",
		EntityID:   "appt-1",
		Payload:    raw,
		OccurredAt: time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC),
	}, now)
}

func TestBuild_EventMetadata(t *testing.T) {
	t.Parallel()

	c := buildContext(t, map[string]any{}, time.Now())

	name, ok := c.LookupString("event.name")
	require.True(t, ok)
	assert.Equal(t, "appointment.created", name)

	tenant, ok := c.LookupString("event.tenantId")
	require.True(t, ok)
	assert.Equal(t, "tenant-1", tenant)

	entity, ok := c.LookupString("event.entityId")
	require.True(t, ok)
	assert.Equal(t, "appt-1", entity)

	occurred, ok := c.LookupString("event.occurredAt")
	require.True(t, ok)
	assert.Equal(t, "2026-08-31T09:00:00Z", occurred)
}

func TestBuild_PayloadPassthrough(t *testing.T) {
	t.Parallel()

	c := buildContext(t, map[string]any{
		"appointment": map[string]any{"id": "appt-1", "type": "cleaning"},
	}, time.Now())

	v, ok := c.Lookup("appointment.type")
	require.True(t, ok)
	assert.Equal(t, "cleaning", v)

	_, ok = c.Lookup("appointment.room")
	assert.False(t, ok)
}

func TestBuild_TimeUntilAppointment(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	c := buildContext(t, map[string]any{
		"appointment": map[string]any{"startTime": "2026-09-02T09:00:00Z"},
	}, now)

	minutes, ok := c.Lookup("minutes_until_appointment")
	require.True(t, ok)
	assert.EqualValues(t, 2880, minutes)

	hours, ok := c.Lookup("hours_until_appointment")
	require.True(t, ok)
	assert.EqualValues(t, 48, hours)

	days, ok := c.Lookup("days_until_appointment")
	require.True(t, ok)
	assert.EqualValues(t, 2, days)
}

func TestBuild_NoStartTimeNoDerivedFields(t *testing.T) {
	t.Parallel()

	c := buildContext(t, map[string]any{
		"appointment": map[string]any{"id": "appt-1"},
	}, time.Now())

	_, ok := c.Lookup("minutes_until_appointment")
	assert.False(t, ok)
}

func TestBuild_PatientNameSplit(t *testing.T) {
	t.Parallel()

	c := buildContext(t, map[string]any{
		"patient": map[string]any{"name": "Dana Q Fields"},
	}, time.Now())

	first, ok := c.LookupString("patient.firstName")
	require.True(t, ok)
	assert.Equal(t, "Dana", first)

	last, ok := c.LookupString("patient.lastName")
	require.True(t, ok)
	assert.Equal(t, "Q Fields", last)
}

func TestBuild_ExplicitNamePartsKept(t *testing.T) {
	t.Parallel()

	c := buildContext(t, map[string]any{
		"patient": map[string]any{"name": "Dana Fields", "firstName": "D."},
	}, time.Now())

	first, _ := c.LookupString("patient.firstName")
	assert.Equal(t, "D.", first)
}

func TestBuild_SingleTokenName(t *testing.T) {
	t.Parallel()

	c := buildContext(t, map[string]any{
		"patient": map[string]any{"name": "Cher"},
	}, time.Now())

	first, _ := c.LookupString("patient.firstName")
	last, _ := c.LookupString("patient.lastName")
	assert.Equal(t, "Cher", first)
	assert.Equal(t, "", last)
}

func TestBuild_DefaultLinks(t *testing.T) {
	t.Parallel()

	c := buildContext(t, map[string]any{}, time.Now())

	booking, ok := c.LookupString("booking_link")
	require.True(t, ok)
	assert.Contains(t, booking, "tenant-1")

	c = buildContext(t, map[string]any{"booking_link": "https://custom.example/book"}, time.Now())
	booking, _ = c.LookupString("booking_link")
	assert.Equal(t, "https://custom.example/book", booking)
}

func TestBuild_MalformedPayload(t *testing.T) {
	t.Parallel()

	c := BuildAt(&outbox.Event{
		ID:       "ev-1",
		TenantID: "tenant-1",
		Name:     "noise",
		Payload:  json.RawMessage(`{"broken`),
	}, time.Now())

	// Metadata survives a payload that fails to decode.
	name, ok := c.LookupString("event.name")
	require.True(t, ok)
	assert.Equal(t, "noise", name)
}

func TestLookupString_CompoundValues(t *testing.T) {
	t.Parallel()

	c := buildContext(t, map[string]any{
		"tags": []any{"vip", "recall"},
	}, time.Now())

	raw, ok := c.LookupString("tags")
	require.True(t, ok)
	assert.JSONEq(t, `["vip","recall"]`, raw)
}
