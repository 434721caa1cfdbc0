package rules

import (
	"sort"
	"sync"
	"time"
)

// ExecutionLog is the append-only record of every dispatch outcome. Records
// are never mutated after being written.
type ExecutionLog interface {
	// Record appends one execution result
	Record(result *ExecutionResult) error

	// Since returns results recorded at or after t, newest last
	Since(t time.Time) ([]*ExecutionResult, error)
}

// InMemoryExecutionLog keeps results in an in-process slice. Appends take the
// lock only long enough to grow the slice.
type InMemoryExecutionLog struct {
	entries []*ExecutionResult
	mu      sync.RWMutex
}

// NewInMemoryExecutionLog creates an empty execution log.
func NewInMemoryExecutionLog() *InMemoryExecutionLog {
	return &InMemoryExecutionLog{}
}

// Record appends a result.
func (l *InMemoryExecutionLog) Record(result *ExecutionResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := *result
	l.entries = append(l.entries, &cp)
	return nil
}

// Since returns results recorded at or after t.
func (l *InMemoryExecutionLog) Since(t time.Time) ([]*ExecutionResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*ExecutionResult
	for _, entry := range l.entries {
		if !entry.Timestamp.Before(t) {
			cp := *entry
			out = append(out, &cp)
		}
	}
	return out, nil
}

// RuleFrequency pairs a rule with its execution count for the analytics
// top-rules listing.
type RuleFrequency struct {
	RuleID     string `json:"ruleId"`
	RuleName   string `json:"ruleName"`
	Executions int    `json:"executions"`
}

// Analytics summarizes the execution log over a trailing window.
// EstimatedTimeSavedHours is a fixed per-successful-execution tunable, not a
// measured wall-clock figure.
type Analytics struct {
	TotalExecutions         int             `json:"totalExecutions"`
	SuccessfulExecutions    int             `json:"successfulExecutions"`
	FailedExecutions        int             `json:"failedExecutions"`
	SuccessRate             float64         `json:"successRate"`
	TopRulesByFrequency     []RuleFrequency `json:"topRulesByFrequency"`
	EstimatedTimeSavedHours float64         `json:"estimatedTimeSavedHours"`
}

// topRulesLimit caps the top-rules listing in analytics responses.
const topRulesLimit = 5

// ComputeAnalytics reads the log back sinceDays days and aggregates it.
// minutesSavedPerExecution is the tunable applied to each successful
// execution.
func ComputeAnalytics(log ExecutionLog, sinceDays int, minutesSavedPerExecution float64) (*Analytics, error) {
	since := time.Now().AddDate(0, 0, -sinceDays)
	entries, err := log.Since(since)
	if err != nil {
		return nil, err
	}

	a := &Analytics{}
	type freq struct {
		name  string
		count int
	}
	byRule := make(map[string]*freq)

	for _, entry := range entries {
		a.TotalExecutions++
		if entry.Success {
			a.SuccessfulExecutions++
		} else {
			a.FailedExecutions++
		}

		f, ok := byRule[entry.RuleID]
		if !ok {
			f = &freq{name: entry.RuleName}
			byRule[entry.RuleID] = f
		}
		f.count++
	}

	if a.TotalExecutions > 0 {
		a.SuccessRate = float64(a.SuccessfulExecutions) / float64(a.TotalExecutions)
	}
	a.EstimatedTimeSavedHours = float64(a.SuccessfulExecutions) * minutesSavedPerExecution / 60

	for id, f := range byRule {
		a.TopRulesByFrequency = append(a.TopRulesByFrequency, RuleFrequency{
			RuleID:     id,
			RuleName:   f.name,
			Executions: f.count,
		})
	}
	sort.Slice(a.TopRulesByFrequency, func(i, j int) bool {
		if a.TopRulesByFrequency[i].Executions != a.TopRulesByFrequency[j].Executions {
			return a.TopRulesByFrequency[i].Executions > a.TopRulesByFrequency[j].Executions
		}
		return a.TopRulesByFrequency[i].RuleID < a.TopRulesByFrequency[j].RuleID
	})
	if len(a.TopRulesByFrequency) > topRulesLimit {
		a.TopRulesByFrequency = a.TopRulesByFrequency[:topRulesLimit]
	}

	return a, nil
}
