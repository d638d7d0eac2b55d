package rule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pulsehq/pulse/internal/evctx"
)

// Evaluate decides whether a condition set matches the event context.
//
// An empty condition list always matches. "and" requires every condition
// to pass, "or" requires at least one. A missing field never causes an
// error: it fails value comparisons and drives the existence checks. A
// malformed set (unknown operator, missing field) returns an error so the
// caller can skip the rule without affecting other rules.
func Evaluate(set ConditionSet, c evctx.Context) (bool, error) {
	if len(set.Conditions) == 0 {
		return true, nil
	}

	op := set.Operator
	if op == "" {
		op = OperatorAnd
	}

	switch op {
	case OperatorAnd:
		for i, cond := range set.Conditions {
			ok, err := evalCondition(cond, c)
			if err != nil {
				return false, fmt.Errorf("condition %d: %w", i, err)
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case OperatorOr:
		for i, cond := range set.Conditions {
			ok, err := evalCondition(cond, c)
			if err != nil {
				return false, fmt.Errorf("condition %d: %w", i, err)
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, fmt.Errorf("unknown boolean operator: %s", op)
	}
}

// evalCondition evaluates one field comparison against the context.
func evalCondition(cond Condition, c evctx.Context) (bool, error) {
	field := strings.TrimPrefix(cond.Field, "custom:")
	if field == "" {
		return false, fmt.Errorf("condition has no field")
	}

	val, found := c.Lookup(field)
	present := found && val != nil

	switch cond.Operator {
	case OpExists:
		return present, nil

	case OpNotExists:
		return !present, nil

	case OpIsEmpty:
		if !present {
			return true, nil
		}
		switch v := val.(type) {
		case string:
			return strings.TrimSpace(v) == "", nil
		case []any:
			return len(v) == 0, nil
		case map[string]any:
			return len(v) == 0, nil
		default:
			return false, nil
		}

	case OpEquals:
		if !present {
			return false, nil
		}
		return looseEqual(val, cond.Value), nil

	case OpNotEquals:
		if !present {
			return false, nil
		}
		return !looseEqual(val, cond.Value), nil

	case OpContains:
		if !present {
			return false, nil
		}
		return containsFold(stringify(val), stringify(cond.Value)), nil

	case OpNotContains:
		if !present {
			return false, nil
		}
		return !containsFold(stringify(val), stringify(cond.Value)), nil

	case OpGreaterThan:
		a, b, ok := numericPair(val, cond.Value, present)
		return ok && a > b, nil

	case OpLessThan:
		a, b, ok := numericPair(val, cond.Value, present)
		return ok && a < b, nil

	default:
		return false, fmt.Errorf("unknown condition operator: %s", cond.Operator)
	}
}

// looseEqual compares numerically when both sides coerce to numbers,
// otherwise case-insensitively as strings.
func looseEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return strings.EqualFold(stringify(a), stringify(b))
}

// numericPair coerces both sides to numbers. A missing field or a value
// that does not coerce makes the comparison false rather than an error.
func numericPair(val, condValue any, present bool) (float64, float64, bool) {
	if !present {
		return 0, 0, false
	}
	a, aok := toFloat(val)
	b, bok := toFloat(condValue)
	return a, b, aok && bok
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// stringify renders a value the way template output would show it.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// toFloat coerces numbers and numeric strings to float64.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
