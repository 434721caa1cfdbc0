package rules

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// ValidationError marks a malformed rule definition. Malformed rules are
// rejected at create/update time and never stored.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule: %s", e.Reason)
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

const (
	maxConditionsPerRule = 50
	maxActionsPerRule    = 20
)

// ValidateRule validates a rule definition. It checks structure only; poll
// expressions additionally go through CEL compilation in the dispatcher,
// which is the authoritative check for expression validity.
func ValidateRule(rule *Rule) error {
	if rule.Name == "" {
		return validationErrorf("name cannot be empty")
	}

	if err := validateTrigger(rule.Trigger); err != nil {
		return err
	}

	if len(rule.Conditions) > maxConditionsPerRule {
		return validationErrorf("rule has %d conditions, maximum allowed is %d", len(rule.Conditions), maxConditionsPerRule)
	}
	for i, cond := range rule.Conditions {
		if cond.Field == "" {
			return validationErrorf("condition %d has empty field", i)
		}
		if !isValidOperator(cond.Operator) {
			return validationErrorf("condition %d has unknown operator %q (must be one of: equals, not_equals, greater_than, less_than, contains, not_contains)", i, cond.Operator)
		}
	}

	if len(rule.Actions) > maxActionsPerRule {
		return validationErrorf("rule has %d actions, maximum allowed is %d", len(rule.Actions), maxActionsPerRule)
	}
	for i, action := range rule.Actions {
		if !isValidActionType(action.Type) {
			return validationErrorf("action %d has unknown type %q (must be one of: create, update, notify, email, ai_analyze)", i, action.Type)
		}
		if (action.Type == ActionCreate || action.Type == ActionUpdate) && action.Target == "" {
			return validationErrorf("action %d (%s) requires a target entity", i, action.Type)
		}
	}

	return validateAggregation(rule)
}

func validateTrigger(trigger TriggerSpec) error {
	switch trigger.Kind {
	case TriggerEvent:
		if trigger.EventType == "" {
			return validationErrorf("event trigger requires an event type")
		}
		if trigger.CronExpression != "" || trigger.PollExpression != "" {
			return validationErrorf("event trigger must not carry cron or poll expressions")
		}
	case TriggerSchedule:
		if trigger.CronExpression == "" {
			return validationErrorf("schedule trigger requires a cron expression")
		}
		if trigger.EventType != "" || trigger.PollExpression != "" {
			return validationErrorf("schedule trigger must not carry event type or poll expression")
		}
		if _, err := cron.ParseStandard(trigger.CronExpression); err != nil {
			return validationErrorf("invalid cron expression %q: %v", trigger.CronExpression, err)
		}
	case TriggerCondition:
		if trigger.PollExpression == "" {
			return validationErrorf("condition trigger requires a poll expression")
		}
		if trigger.EventType != "" || trigger.CronExpression != "" {
			return validationErrorf("condition trigger must not carry event type or cron expression")
		}
	default:
		return validationErrorf("unknown trigger kind %q (must be one of: event, schedule, condition)", trigger.Kind)
	}
	return nil
}

func validateAggregation(rule *Rule) error {
	if !rule.Aggregates() {
		if rule.AggregationWindowMinutes < 0 {
			return validationErrorf("aggregation window cannot be negative")
		}
		if rule.EscalationEnabled {
			return validationErrorf("escalation requires an aggregation window")
		}
		return nil
	}

	if rule.MaxAlertsPerWindow <= 0 {
		return validationErrorf("aggregating rule requires maxAlertsPerWindow > 0")
	}
	if rule.EscalationEnabled && rule.EscalationDelayMinutes <= 0 {
		return validationErrorf("escalation requires escalationDelayMinutes > 0")
	}
	if !isValidSeverity(rule.Severity) {
		return validationErrorf("unknown severity %q (must be one of: info, warning, critical)", rule.Severity)
	}
	return nil
}

func isValidOperator(op Operator) bool {
	switch op {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains, OpNotContains:
		return true
	}
	return false
}

func isValidActionType(t ActionType) bool {
	switch t {
	case ActionCreate, ActionUpdate, ActionNotify, ActionEmail, ActionAIAnalyze:
		return true
	}
	return false
}

func isValidSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical, "":
		return true
	}
	return false
}
