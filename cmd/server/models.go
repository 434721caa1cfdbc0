package main

import "github.com/medops/ruleflow/rules"

// RuleRequest is the request body for creating or updating a rule.
type RuleRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Trigger     rules.TriggerSpec `json:"trigger"`
	Conditions  []rules.Condition `json:"conditions"`
	Actions     []rules.Action    `json:"actions"`
	Active      bool              `json:"active"`
	Priority    int               `json:"priority"`

	Severity                 rules.Severity `json:"severity,omitempty"`
	NotificationChannels     []string       `json:"notificationChannels,omitempty"`
	AggregationWindowMinutes int            `json:"aggregationWindowMinutes,omitempty"`
	MaxAlertsPerWindow       int            `json:"maxAlertsPerWindow,omitempty"`
	EscalationEnabled        bool           `json:"escalationEnabled,omitempty"`
	EscalationDelayMinutes   int            `json:"escalationDelayMinutes,omitempty"`
}

func (r RuleRequest) toRule() *rules.Rule {
	return &rules.Rule{
		Name:                     r.Name,
		Description:              r.Description,
		Trigger:                  r.Trigger,
		Conditions:               r.Conditions,
		Actions:                  r.Actions,
		Active:                   r.Active,
		Priority:                 r.Priority,
		Severity:                 r.Severity,
		NotificationChannels:     r.NotificationChannels,
		AggregationWindowMinutes: r.AggregationWindowMinutes,
		MaxAlertsPerWindow:       r.MaxAlertsPerWindow,
		EscalationEnabled:        r.EscalationEnabled,
		EscalationDelayMinutes:   r.EscalationDelayMinutes,
	}
}

// SubmitEventRequest is the request body for pushing a domain event.
type SubmitEventRequest struct {
	EventType   string         `json:"eventType"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Payload     map[string]any `json:"payload"`
}

// PollRequest carries the live application state for condition-trigger
// evaluation.
type PollRequest struct {
	State map[string]any `json:"state"`
}

// ResolveRequest closes the aggregation bucket for a fingerprint.
type ResolveRequest struct {
	Fingerprint string `json:"fingerprint"`
}
