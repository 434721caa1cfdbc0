package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/robfig/cron/v3"

	"github.com/medops/ruleflow/internal/logger"
)

// conditionsNotMet is the note recorded when a matched rule's conditions
// fail. Such results are not failures; they carry no executed actions.
const conditionsNotMet = "conditions not met"

// suppressedByWindow is the note recorded when an aggregation window caps a
// notification.
const suppressedByWindow = "suppressed by aggregation window"

// pollCostLimit bounds CEL evaluation cost for poll expressions so a
// pathological expression cannot stall the poll path.
const pollCostLimit = 1_000_000

// Dispatcher orchestrates rule activation: it receives signals, selects
// matching active rules in priority order, evaluates conditions, routes
// alert-flavored rules through aggregation, executes actions, and records
// every outcome in the execution log.
//
// A Dispatcher may be invoked concurrently for unrelated signals. Within one
// Dispatch call matched rules run sequentially, so batch ordering is exact.
type Dispatcher struct {
	store RuleStore
	cache RulesCache
	exec  *ActionExecutor
	agg   *AggregationManager
	log   ExecutionLog

	env       *cel.Env
	programs  map[string]cel.Program  // ruleID -> compiled poll expression
	schedules map[string]cron.Schedule // ruleID -> parsed cron expression
	mu        sync.RWMutex
}

// NewDispatcher creates a dispatcher over the given store, executor and
// execution log, compiling the poll expressions and parsing the cron
// schedules of every stored rule.
func NewDispatcher(store RuleStore, exec *ActionExecutor, execLog ExecutionLog) (*Dispatcher, error) {
	// Poll expressions see the polled application state under a single
	// dynamic "state" variable.
	env, err := cel.NewEnv(cel.Variable("state", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	d := &Dispatcher{
		store:     store,
		cache:     NewInMemoryRulesCache(DefaultCacheConfig()),
		exec:      exec,
		agg:       NewAggregationManager(),
		log:       execLog,
		env:       env,
		programs:  make(map[string]cel.Program),
		schedules: make(map[string]cron.Schedule),
	}

	if err := d.loadRules(); err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	return d, nil
}

// loadRules compiles poll expressions and parses cron schedules for all
// stored rules, and primes the active-rules cache.
func (d *Dispatcher) loadRules() error {
	all, err := d.store.List(false)
	if err != nil {
		return err
	}

	for _, rule := range all {
		if err := d.prepareTrigger(rule); err != nil {
			return fmt.Errorf("failed to prepare rule %s: %w", rule.ID, err)
		}
	}

	active, err := d.store.List(true)
	if err != nil {
		return err
	}
	d.cache.Set(active)
	return nil
}

// prepareTrigger compiles or parses whatever the rule's trigger variant
// needs and installs it in the dispatcher's lookup maps.
func (d *Dispatcher) prepareTrigger(rule *Rule) error {
	switch rule.Trigger.Kind {
	case TriggerCondition:
		ast, issues := d.env.Compile(rule.Trigger.PollExpression)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("poll expression compile error: %w", issues.Err())
		}
		prog, err := d.env.Program(ast, cel.CostLimit(pollCostLimit))
		if err != nil {
			return fmt.Errorf("poll expression program error: %w", err)
		}
		d.mu.Lock()
		d.programs[rule.ID] = prog
		d.mu.Unlock()
	case TriggerSchedule:
		sched, err := cron.ParseStandard(rule.Trigger.CronExpression)
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		d.mu.Lock()
		d.schedules[rule.ID] = sched
		d.mu.Unlock()
	case TriggerEvent:
		// Event triggers match by type equality, nothing to precompute.
	}
	return nil
}

func (d *Dispatcher) dropTrigger(ruleID string) {
	d.mu.Lock()
	delete(d.programs, ruleID)
	delete(d.schedules, ruleID)
	d.mu.Unlock()
}

// AddRule validates, prepares and stores a new rule. A rule that fails
// validation or whose poll expression does not compile is never stored.
func (d *Dispatcher) AddRule(rule *Rule) error {
	if _, err := d.store.Get(rule.ID); err == nil {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	if err := ValidateRule(rule); err != nil {
		return err
	}
	if err := d.prepareTrigger(rule); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	if err := d.store.Add(rule); err != nil {
		d.dropTrigger(rule.ID)
		return err
	}

	d.cache.Invalidate()
	return nil
}

// UpdateRule validates and stores a changed rule definition, re-preparing
// its trigger. ID and CreatedAt are immutable; the store preserves runtime
// counters.
func (d *Dispatcher) UpdateRule(rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if err := d.prepareTrigger(rule); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	if err := d.store.Update(rule); err != nil {
		return err
	}

	d.cache.Invalidate()
	return nil
}

// DeleteRule removes a rule. Execution history in the log is retained.
func (d *Dispatcher) DeleteRule(ruleID string) error {
	if err := d.store.Delete(ruleID); err != nil {
		return err
	}

	d.dropTrigger(ruleID)
	d.cache.Invalidate()
	return nil
}

// ToggleRule flips a rule's active flag. Deactivation takes effect for all
// future dispatch selection immediately; in-flight activations finish.
func (d *Dispatcher) ToggleRule(ruleID string) (*Rule, error) {
	rule, err := d.store.Get(ruleID)
	if err != nil {
		return nil, err
	}

	rule.Active = !rule.Active
	if err := d.store.Update(rule); err != nil {
		return nil, err
	}

	d.cache.Invalidate()
	return rule, nil
}

// Resolve explicitly closes the aggregation bucket for a rule/fingerprint
// pair, clearing any pending escalation.
func (d *Dispatcher) Resolve(ruleID, fingerprint string) {
	d.agg.Resolve(ruleID, fingerprint)
}

// Buckets exposes the aggregation manager for bucket inspection.
func (d *Dispatcher) Buckets() *AggregationManager {
	return d.agg
}

// SubmitEvent feeds one domain event into the dispatcher. Per-rule failures
// surface only through the execution log; the returned error is reserved for
// rule store unavailability.
func (d *Dispatcher) SubmitEvent(ctx context.Context, eventType string, payload map[string]any) ([]*ExecutionResult, error) {
	sig := Signal{
		Kind:      TriggerEvent,
		EventType: eventType,
		Payload:   payload,
		At:        time.Now(),
	}
	if fp, ok := payload["fingerprint"].(string); ok {
		sig.Fingerprint = fp
	}
	return d.Dispatch(ctx, sig)
}

// Tick evaluates schedule triggers due at now and sweeps aggregation buckets
// for idle expiry and due escalations. It is driven by an external scheduler
// at regular (minute or finer) intervals.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) ([]*ExecutionResult, error) {
	results, err := d.Dispatch(ctx, Signal{
		Kind:    TriggerSchedule,
		Payload: map[string]any{"now": now.Format(time.RFC3339)},
		At:      now,
	})
	if err != nil {
		return nil, err
	}

	for _, due := range d.agg.Sweep(now) {
		if res := d.dispatchEscalation(ctx, due, now); res != nil {
			results = append(results, res)
		}
	}

	return results, nil
}

// PollConditionRules evaluates every active condition-triggered rule's poll
// expression against the current application state and dispatches a signal
// for each match. The emitted signals are returned to the caller.
func (d *Dispatcher) PollConditionRules(ctx context.Context, state map[string]any) ([]Signal, error) {
	active, err := d.activeRules()
	if err != nil {
		return nil, fmt.Errorf("poll aborted, rule store unavailable: %w", err)
	}

	now := time.Now()
	var signals []Signal
	for _, rule := range active {
		if rule.Trigger.Kind != TriggerCondition {
			continue
		}

		d.mu.RLock()
		prog, compiled := d.programs[rule.ID]
		d.mu.RUnlock()
		if !compiled {
			lg := logger.WithRule(rule.ID, rule.Name)
			lg.Warn().Msg("poll expression not compiled, skipping")
			continue
		}

		out, _, err := prog.Eval(map[string]any{"state": state})
		if err != nil {
			// A broken poll expression degrades to no-match, never aborts
			// the poll pass.
			lg := logger.WithRule(rule.ID, rule.Name)
			lg.Warn().Err(err).Msg("poll expression evaluation failed")
			continue
		}

		matched, _ := out.Value().(bool)
		if !matched {
			continue
		}

		sig := Signal{
			Kind:    TriggerCondition,
			RuleID:  rule.ID,
			Payload: state,
			At:      now,
		}
		signals = append(signals, sig)
		if _, err := d.Dispatch(ctx, sig); err != nil {
			return signals, err
		}
	}

	return signals, nil
}

// Dispatch runs one signal through the matching pipeline: select active
// rules whose trigger matches, order by priority then creation time, and
// activate each in turn. A rule whose conditions or actions fail never
// prevents later rules from running; only store unavailability aborts the
// batch.
func (d *Dispatcher) Dispatch(ctx context.Context, sig Signal) ([]*ExecutionResult, error) {
	if sig.At.IsZero() {
		sig.At = time.Now()
	}

	active, err := d.activeRules()
	if err != nil {
		return nil, fmt.Errorf("dispatch aborted, rule store unavailable: %w", err)
	}

	var matched []*Rule
	for _, rule := range active {
		if d.matchesTrigger(rule, sig) {
			matched = append(matched, rule)
		}
	}

	// Priority ascending; the store lists rules in creation order, so the
	// stable sort keeps that as the tie-break.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})

	results := make([]*ExecutionResult, 0, len(matched))
	for _, rule := range matched {
		results = append(results, d.dispatchRule(ctx, rule, sig))
	}
	return results, nil
}

// matchesTrigger reports whether a rule's trigger matches the signal kind:
// type equality for events, due-time for schedules, rule identity for
// condition-poll matches.
func (d *Dispatcher) matchesTrigger(rule *Rule, sig Signal) bool {
	if rule.Trigger.Kind != sig.Kind {
		return false
	}

	switch sig.Kind {
	case TriggerEvent:
		return rule.Trigger.EventType == sig.EventType
	case TriggerSchedule:
		d.mu.RLock()
		sched, ok := d.schedules[rule.ID]
		d.mu.RUnlock()
		if !ok {
			return false
		}
		return cronDue(sched, sig.At)
	case TriggerCondition:
		return rule.ID == sig.RuleID
	}
	return false
}

// cronDue reports whether a schedule fires in the minute containing now.
func cronDue(sched cron.Schedule, now time.Time) bool {
	minute := now.Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Second)).Equal(minute)
}

// dispatchRule runs one rule activation end to end and records the result.
func (d *Dispatcher) dispatchRule(ctx context.Context, rule *Rule, sig Signal) *ExecutionResult {
	start := time.Now()

	if !EvaluateConditions(rule.Conditions, sig.Payload) {
		dispatchesTotal.WithLabelValues(string(sig.Kind), "skipped").Inc()
		return d.record(&ExecutionResult{
			RuleID:    rule.ID,
			RuleName:  rule.Name,
			Success:   true,
			Errors:    []string{conditionsNotMet},
			Timestamp: sig.At,
			Duration:  time.Since(start),
		})
	}

	if rule.Aggregates() {
		if !d.agg.Track(rule, d.fingerprint(rule, sig), sig.At) {
			d.bumpCounters(rule, sig.At)
			dispatchesTotal.WithLabelValues(string(sig.Kind), "suppressed").Inc()
			return d.record(&ExecutionResult{
				RuleID:    rule.ID,
				RuleName:  rule.Name,
				Success:   true,
				Errors:    []string{suppressedByWindow},
				Timestamp: sig.At,
				Duration:  time.Since(start),
			})
		}
	}

	outcomes := d.exec.ExecuteAll(ctx, rule, sig.Payload)
	result := &ExecutionResult{
		RuleID:              rule.ID,
		RuleName:            rule.Name,
		Success:             true,
		ExecutedActionCount: len(outcomes),
		Timestamp:           sig.At,
		Duration:            time.Since(start),
	}
	for _, outcome := range outcomes {
		if outcome.Failed() {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", outcome.Type, outcome.Target, outcome.Err))
		}
	}

	d.bumpCounters(rule, sig.At)
	if result.Success {
		dispatchesTotal.WithLabelValues(string(sig.Kind), "executed").Inc()
	} else {
		dispatchesTotal.WithLabelValues(string(sig.Kind), "failed").Inc()
	}
	dispatchDuration.Observe(time.Since(start).Seconds())

	return d.record(result)
}

// dispatchEscalation fires a rule's actions a second time for a bucket left
// unresolved past its escalation delay. A deactivated or deleted rule does
// not escalate.
func (d *Dispatcher) dispatchEscalation(ctx context.Context, due EscalationDue, now time.Time) *ExecutionResult {
	rule, err := d.store.Get(due.RuleID)
	if err != nil || !rule.Active {
		return nil
	}

	start := time.Now()
	payload := map[string]any{
		"escalation":  true,
		"fingerprint": due.Fingerprint,
		"rule":        rule.Name,
		"severity":    string(rule.Severity),
	}

	outcomes := d.exec.ExecuteAll(ctx, rule, payload)
	result := &ExecutionResult{
		RuleID:              rule.ID,
		RuleName:            rule.Name,
		Success:             true,
		ExecutedActionCount: len(outcomes),
		Escalation:          true,
		Timestamp:           now,
		Duration:            time.Since(start),
	}
	for _, outcome := range outcomes {
		if outcome.Failed() {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", outcome.Type, outcome.Target, outcome.Err))
		}
	}

	d.bumpCounters(rule, now)
	escalationsTotal.Inc()
	lg := logger.WithRule(rule.ID, rule.Name)
	lg.Warn().
		Str("fingerprint", due.Fingerprint).
		Msg("alert escalated")

	return d.record(result)
}

// fingerprint picks the grouping key for aggregation: the caller-supplied
// one when present, otherwise the event type, otherwise the rule itself.
func (d *Dispatcher) fingerprint(rule *Rule, sig Signal) string {
	if sig.Fingerprint != "" {
		return sig.Fingerprint
	}
	if sig.EventType != "" {
		return sig.EventType
	}
	return rule.ID
}

// bumpCounters records one completed activation on the rule. Failures here
// are logged, not propagated; the activation itself already happened.
func (d *Dispatcher) bumpCounters(rule *Rule, at time.Time) {
	if err := d.store.RecordExecution(rule.ID, at); err != nil {
		lg := logger.WithRule(rule.ID, rule.Name)
		lg.Warn().Err(err).Msg("failed to record execution counters")
	}
}

// record appends the result to the execution log and returns it.
func (d *Dispatcher) record(result *ExecutionResult) *ExecutionResult {
	if err := d.log.Record(result); err != nil {
		lg := logger.WithRule(result.RuleID, result.RuleName)
		lg.Warn().Err(err).Msg("failed to append execution log")
	}
	return result
}

// activeRules returns the active rule set, served from cache when valid.
func (d *Dispatcher) activeRules() ([]*Rule, error) {
	if rules := d.cache.Get(); rules != nil {
		return rules, nil
	}

	rules, err := d.store.List(true)
	if err != nil {
		return nil, err
	}
	d.cache.Set(rules)
	return rules, nil
}
