package rules

import (
	"fmt"
	"testing"
	"time"
)

func TestExecutionLogInterface(t *testing.T) {
	var _ ExecutionLog = (*InMemoryExecutionLog)(nil)
	var _ ExecutionLog = (*PostgresExecutionLog)(nil)
}

func recordN(t *testing.T, log ExecutionLog, ruleID, ruleName string, n int, success bool) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := log.Record(&ExecutionResult{
			RuleID:              ruleID,
			RuleName:            ruleName,
			Success:             success,
			ExecutedActionCount: 1,
			Timestamp:           time.Now(),
		})
		if err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}
}

func TestAnalyticsTotalsAddUp(t *testing.T) {
	log := NewInMemoryExecutionLog()
	recordN(t, log, "r1", "Reorder", 6, true)
	recordN(t, log, "r2", "Alert", 4, false)

	a, err := ComputeAnalytics(log, 7, 5)
	if err != nil {
		t.Fatalf("ComputeAnalytics() failed: %v", err)
	}

	if a.TotalExecutions != a.SuccessfulExecutions+a.FailedExecutions {
		t.Errorf("totals do not add up: %d != %d + %d",
			a.TotalExecutions, a.SuccessfulExecutions, a.FailedExecutions)
	}
	if a.TotalExecutions != 10 || a.SuccessfulExecutions != 6 || a.FailedExecutions != 4 {
		t.Errorf("counts = %d/%d/%d", a.TotalExecutions, a.SuccessfulExecutions, a.FailedExecutions)
	}
	if a.SuccessRate != 0.6 {
		t.Errorf("SuccessRate = %v, want 0.6", a.SuccessRate)
	}
}

func TestAnalyticsTimeSavedIsTunable(t *testing.T) {
	log := NewInMemoryExecutionLog()
	recordN(t, log, "r1", "Reorder", 12, true)
	recordN(t, log, "r1", "Reorder", 3, false)

	// 12 successful * 10 minutes = 120 minutes = 2 hours. Failures do not
	// count toward time saved.
	a, err := ComputeAnalytics(log, 7, 10)
	if err != nil {
		t.Fatal(err)
	}
	if a.EstimatedTimeSavedHours != 2 {
		t.Errorf("EstimatedTimeSavedHours = %v, want 2", a.EstimatedTimeSavedHours)
	}
}

func TestAnalyticsTopRulesOrderedByFrequency(t *testing.T) {
	log := NewInMemoryExecutionLog()
	for i := 0; i < 8; i++ {
		recordN(t, log, fmt.Sprintf("r%d", i), fmt.Sprintf("Rule %d", i), i+1, true)
	}

	a, err := ComputeAnalytics(log, 7, 5)
	if err != nil {
		t.Fatal(err)
	}

	if len(a.TopRulesByFrequency) != topRulesLimit {
		t.Fatalf("top rules length = %d, want %d", len(a.TopRulesByFrequency), topRulesLimit)
	}
	if a.TopRulesByFrequency[0].RuleID != "r7" || a.TopRulesByFrequency[0].Executions != 8 {
		t.Errorf("top rule = %+v, want r7 with 8 executions", a.TopRulesByFrequency[0])
	}
	for i := 1; i < len(a.TopRulesByFrequency); i++ {
		if a.TopRulesByFrequency[i].Executions > a.TopRulesByFrequency[i-1].Executions {
			t.Error("top rules not sorted by frequency descending")
		}
	}
}

func TestAnalyticsEmptyLog(t *testing.T) {
	a, err := ComputeAnalytics(NewInMemoryExecutionLog(), 7, 5)
	if err != nil {
		t.Fatal(err)
	}
	if a.TotalExecutions != 0 || a.SuccessRate != 0 || a.EstimatedTimeSavedHours != 0 {
		t.Errorf("empty log analytics = %+v", a)
	}
}

func TestSinceFiltersOldEntries(t *testing.T) {
	log := NewInMemoryExecutionLog()

	old := &ExecutionResult{RuleID: "r1", RuleName: "Old", Success: true,
		Timestamp: time.Now().Add(-48 * time.Hour)}
	recent := &ExecutionResult{RuleID: "r2", RuleName: "Recent", Success: true,
		Timestamp: time.Now()}
	if err := log.Record(old); err != nil {
		t.Fatal(err)
	}
	if err := log.Record(recent); err != nil {
		t.Fatal(err)
	}

	got, err := log.Since(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RuleID != "r2" {
		t.Errorf("Since() = %v, want only the recent entry", got)
	}
}

func TestRecordStoresCopy(t *testing.T) {
	log := NewInMemoryExecutionLog()

	result := &ExecutionResult{RuleID: "r1", RuleName: "X", Success: true, Timestamp: time.Now()}
	if err := log.Record(result); err != nil {
		t.Fatal(err)
	}
	result.Success = false

	got, _ := log.Since(time.Time{})
	if len(got) != 1 || !got[0].Success {
		t.Error("Record() must store a copy, caller mutation leaked in")
	}
}
