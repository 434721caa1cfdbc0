package rules

import "testing"

func TestEvaluateEmptyConditionsAlwaysMatch(t *testing.T) {
	payloads := []map[string]any{
		nil,
		{},
		{"anything": "goes"},
	}

	for _, payload := range payloads {
		if !EvaluateConditions(nil, payload) {
			t.Errorf("empty condition list should match payload %v", payload)
		}
		if !EvaluateConditions([]Condition{}, payload) {
			t.Errorf("empty condition slice should match payload %v", payload)
		}
	}
}

func TestEvaluateGreaterThan(t *testing.T) {
	cond := Condition{Field: "errorRate", Operator: OpGreaterThan, Value: 0.2}

	testCases := []struct {
		name    string
		payload map[string]any
		want    bool
	}{
		{"above threshold", map[string]any{"errorRate": 0.35}, true},
		{"below threshold", map[string]any{"errorRate": 0.1}, false},
		{"missing field", map[string]any{}, false},
		{"numeric string", map[string]any{"errorRate": "0.5"}, true},
		{"non-numeric field", map[string]any{"errorRate": "high"}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EvaluateConditions([]Condition{cond}, tc.payload); got != tc.want {
				t.Errorf("evaluate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluateOperators(t *testing.T) {
	payload := map[string]any{
		"status":   "pending",
		"count":    7,
		"tags":     []any{"urgent", "medical"},
		"customer": "Acme Clinics",
	}

	testCases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals match", Condition{Field: "status", Operator: OpEquals, Value: "pending"}, true},
		{"equals mismatch", Condition{Field: "status", Operator: OpEquals, Value: "shipped"}, false},
		{"equals numeric coercion", Condition{Field: "count", Operator: OpEquals, Value: "7"}, true},
		{"not_equals match", Condition{Field: "status", Operator: OpNotEquals, Value: "shipped"}, true},
		{"not_equals mismatch", Condition{Field: "status", Operator: OpNotEquals, Value: "pending"}, false},
		{"less_than", Condition{Field: "count", Operator: OpLessThan, Value: 10}, true},
		{"contains substring", Condition{Field: "customer", Operator: OpContains, Value: "Clinic"}, true},
		{"contains list member", Condition{Field: "tags", Operator: OpContains, Value: "urgent"}, true},
		{"contains list miss", Condition{Field: "tags", Operator: OpContains, Value: "routine"}, false},
		{"not_contains", Condition{Field: "customer", Operator: OpNotContains, Value: "Hospital"}, true},
		{"unknown operator degrades to false", Condition{Field: "status", Operator: "matches", Value: "pending"}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EvaluateConditions([]Condition{tc.cond}, payload); got != tc.want {
				t.Errorf("evaluate = %v, want %v", got, tc.want)
			}
		})
	}
}

// A missing field is a mismatch for every operator. In particular
// not_equals and not_contains must NOT become trivially true when the field
// is absent.
func TestEvaluateMissingFieldIsAlwaysMismatch(t *testing.T) {
	payload := map[string]any{}

	for _, op := range []Operator{OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains, OpNotContains} {
		cond := Condition{Field: "absent", Operator: op, Value: "x"}
		if EvaluateConditions([]Condition{cond}, payload) {
			t.Errorf("operator %s should not match when the field is missing", op)
		}
	}
}

func TestEvaluateTemplateValueReference(t *testing.T) {
	cond := Condition{Field: "stockQuantity", Operator: OpLessThan, Value: "{{reorderLevel}}"}

	if !EvaluateConditions([]Condition{cond}, map[string]any{"stockQuantity": 5, "reorderLevel": 10}) {
		t.Error("5 < 10 via template reference should match")
	}
	if EvaluateConditions([]Condition{cond}, map[string]any{"stockQuantity": 20, "reorderLevel": 10}) {
		t.Error("20 < 10 via template reference should not match")
	}
	if EvaluateConditions([]Condition{cond}, map[string]any{"stockQuantity": 5}) {
		t.Error("missing template reference should degrade to false")
	}
}

func TestEvaluateConditionsAreANDed(t *testing.T) {
	conds := []Condition{
		{Field: "status", Operator: OpEquals, Value: "pending"},
		{Field: "total", Operator: OpGreaterThan, Value: 100},
	}

	if !EvaluateConditions(conds, map[string]any{"status": "pending", "total": 150}) {
		t.Error("both conditions true should match")
	}
	if EvaluateConditions(conds, map[string]any{"status": "pending", "total": 50}) {
		t.Error("one false condition should fail the rule")
	}
	if EvaluateConditions(conds, map[string]any{"status": "shipped", "total": 150}) {
		t.Error("first condition false should fail the rule")
	}
}
