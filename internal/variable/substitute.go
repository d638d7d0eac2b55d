package variable

import (
	"regexp"

	"github.com/pulsehq/pulse/internal/evctx"
)

// doublePattern matches {{dotted.path}} placeholders.
var doublePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\[\]-]+)\s*\}\}`)

// singlePattern matches bare {dotted.path} placeholders, which some rule
// authors write instead of the double-brace form. It runs after the
// double-brace pass; a surviving {{x}} placeholder is left intact because
// its inner {x} lookup fails the same way the outer one did.
var singlePattern = regexp.MustCompile(`\{\s*([a-zA-Z0-9_.\[\]-]+)\s*\}`)

// Substitute resolves placeholders in args against the event context and
// returns a new argument map. Unresolved placeholders are left verbatim so
// a misdelivered message reads as misconfigured rather than silently blank.
func Substitute(args map[string]any, c evctx.Context) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = substituteValue(v, c)
	}
	return out
}

func substituteValue(v any, c evctx.Context) any {
	switch t := v.(type) {
	case string:
		return substituteString(t, c)
	case map[string]any:
		return Substitute(t, c)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = substituteValue(item, c)
		}
		return out
	default:
		return v
	}
}

func substituteString(s string, c evctx.Context) string {
	s = doublePattern.ReplaceAllStringFunc(s, func(match string) string {
		path := doublePattern.FindStringSubmatch(match)[1]
		if val, ok := c.LookupString(path); ok {
			return val
		}
		return match
	})
	return singlePattern.ReplaceAllStringFunc(s, func(match string) string {
		path := singlePattern.FindStringSubmatch(match)[1]
		if val, ok := c.LookupString(path); ok {
			return val
		}
		return match
	})
}

// Unresolved lists the placeholder paths that remain in s after
// substitution. Used for diagnostics only.
func Unresolved(s string) []string {
	var paths []string
	seen := map[string]bool{}
	for _, pattern := range []*regexp.Regexp{doublePattern, singlePattern} {
		for _, m := range pattern.FindAllStringSubmatch(s, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				paths = append(paths, m[1])
			}
		}
	}
	return paths
}
