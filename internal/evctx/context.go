// Package evctx builds the path-addressable context a delivered event is
// evaluated against.
//
// The context is assembled from the original event payload plus derived
// convenience fields. It is never refreshed from the database: rules see
// the world as it was when the event was emitted.
package evctx

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pulsehq/pulse/internal/outbox"
)

// Context is a dotted-path-addressable view over an event payload.
// Both condition evaluation and variable substitution resolve against it.
type Context struct {
	doc string
}

// Build creates a context for an event using the current time for
// time-derived fields.
func Build(ev *outbox.Event) Context {
	return BuildAt(ev, time.Now())
}

// BuildAt creates a context for an event, computing time-derived fields
// relative to now.
func BuildAt(ev *outbox.Event, now time.Time) Context {
	data := map[string]any{}
	if len(ev.Payload) > 0 {
		// A malformed payload yields an empty data map; event metadata
		// below is still addressable.
		_ = json.Unmarshal(ev.Payload, &data)
	}

	data["event"] = map[string]any{
		"name":       ev.Name,
		"entityType": ev.EntityType,
		"entityId":   ev.EntityID,
		"tenantId":   ev.TenantID,
		"occurredAt": ev.OccurredAt.UTC().Format(time.RFC3339),
	}

	deriveAppointmentTimes(data, now)
	derivePatientName(data)
	deriveLinks(data, ev.TenantID)

	doc, err := json.Marshal(data)
	if err != nil {
		doc = []byte("{}")
	}

	return Context{doc: string(doc)}
}

// Lookup resolves a dotted path and returns the raw value.
// The second return is false when the path does not exist.
func (c Context) Lookup(path string) (any, bool) {
	result := gjson.Get(c.doc, path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

// LookupString resolves a dotted path to its string form.
// Arrays and objects are returned as JSON text.
func (c Context) LookupString(path string) (string, bool) {
	result := gjson.Get(c.doc, path)
	if !result.Exists() {
		return "", false
	}
	if result.IsArray() || result.IsObject() {
		return result.Raw, true
	}
	return result.String(), true
}

// JSON returns the context as a JSON document.
func (c Context) JSON() string {
	return c.doc
}

// deriveAppointmentTimes adds minutes/hours/days until the appointment
// start time when the payload carries one.
func deriveAppointmentTimes(data map[string]any, now time.Time) {
	appt, ok := data["appointment"].(map[string]any)
	if !ok {
		return
	}
	startStr, ok := appt["startTime"].(string)
	if !ok || startStr == "" {
		return
	}

	start, err := parseStartTime(startStr)
	if err != nil {
		return
	}

	until := start.Sub(now)
	data["minutes_until_appointment"] = int(until.Minutes())
	data["hours_until_appointment"] = int(until.Hours())
	data["days_until_appointment"] = int(until.Hours() / 24)
}

func parseStartTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}

// derivePatientName splits a full name into firstName/lastName when the
// payload only provides the combined form.
func derivePatientName(data map[string]any) {
	patient, ok := data["patient"].(map[string]any)
	if !ok {
		return
	}
	name, ok := patient["name"].(string)
	if !ok || name == "" {
		return
	}

	first, last := splitName(name)
	if _, ok := patient["firstName"]; !ok {
		patient["firstName"] = first
	}
	if _, ok := patient["lastName"]; !ok {
		patient["lastName"] = last
	}
}

// splitName splits a full name at the first space. A single token is
// treated as a first name.
func splitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, ' '); i >= 0 {
		return name[:i], strings.TrimSpace(name[i+1:])
	}
	return name, ""
}

// deriveLinks fills tenant-scoped defaults for the link placeholders
// templates conventionally use.
func deriveLinks(data map[string]any, tenantID string) {
	if _, ok := data["booking_link"]; !ok {
		data["booking_link"] = "https://book.pulsehq.example/" + tenantID
	}
	if _, ok := data["portal_link"]; !ok {
		data["portal_link"] = "https://portal.pulsehq.example/" + tenantID
	}
}
