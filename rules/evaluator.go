package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/medops/ruleflow/internal/logger"
)

// EvaluateConditions reports whether every condition passes against the
// payload. Conditions are ANDed and evaluation short-circuits on the first
// miss. An empty condition list always matches.
func EvaluateConditions(conditions []Condition, payload map[string]any) bool {
	for _, cond := range conditions {
		if !evaluateCondition(cond, payload) {
			return false
		}
	}
	return true
}

// evaluateCondition evaluates one field/operator/value test. A condition that
// cannot be computed degrades to false rather than erroring: a missing field
// is a mismatch for every operator, including not_equals/not_contains, and a
// non-numeric operand under a relational operator logs a warning and fails
// the condition.
func evaluateCondition(cond Condition, payload map[string]any) bool {
	fieldVal, present := Lookup(payload, cond.Field)
	if !present {
		return false
	}

	want := ResolveValue(cond.Value, payload)

	switch cond.Operator {
	case OpEquals:
		return valuesEqual(fieldVal, want)
	case OpNotEquals:
		return !valuesEqual(fieldVal, want)
	case OpGreaterThan, OpLessThan:
		left, lok := toFloat(fieldVal)
		right, rok := toFloat(want)
		if !lok || !rok {
			lg := logger.WithComponent("evaluator")
			lg.Warn().
				Str("field", cond.Field).
				Str("operator", string(cond.Operator)).
				Msg("non-numeric operand in relational condition, evaluating to false")
			return false
		}
		if cond.Operator == OpGreaterThan {
			return left > right
		}
		return left < right
	case OpContains:
		return contains(fieldVal, want)
	case OpNotContains:
		return !contains(fieldVal, want)
	default:
		lg := logger.WithComponent("evaluator")
		lg.Warn().
			Str("operator", string(cond.Operator)).
			Msg("unknown condition operator, evaluating to false")
		return false
	}
}

// valuesEqual compares numerically when both sides are numeric-like, and by
// string form otherwise, so "10" equals 10 and 10.0 equals 10.
func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// contains matches list membership when the field value is a slice, and
// substring containment otherwise.
func contains(fieldVal, want any) bool {
	if list, ok := fieldVal.([]any); ok {
		for _, item := range list {
			if valuesEqual(item, want) {
				return true
			}
		}
		return false
	}
	return strings.Contains(fmt.Sprintf("%v", fieldVal), fmt.Sprintf("%v", want))
}

// toFloat coerces numeric-like values (native numbers and numeric strings)
// to float64 for relational comparisons.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case bool:
		return 0, false
	default:
		return 0, false
	}
}
