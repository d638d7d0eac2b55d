package variable

import (
	"github.com/pulsehq/pulse/internal/action"
	"github.com/pulsehq/pulse/internal/evctx"
)

// patientIDSources is the priority order for filling a missing patientId.
var patientIDSources = []string{
	"appointment.patientId",
	"patient.id",
	"patientId",
	"event.entityId",
}

// ApplyDefaults fills in arguments a rule author is allowed to omit.
// It mutates args in place and returns it for chaining.
func ApplyDefaults(t action.Type, args map[string]any, c evctx.Context) map[string]any {
	if args == nil {
		args = map[string]any{}
	}

	if t.NeedsPatient() && isBlank(args["patientId"]) {
		for _, path := range patientIDSources {
			if val, ok := c.LookupString(path); ok && val != "" {
				args["patientId"] = val
				break
			}
		}
	}

	if t == action.TypeCreateNote && isBlank(args["type"]) {
		args["type"] = "general"
	}

	return args
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
