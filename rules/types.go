package rules

import "time"

// TriggerKind identifies which variant of a TriggerSpec is in use.
type TriggerKind string

const (
	// TriggerEvent fires when a matching domain event is submitted.
	TriggerEvent TriggerKind = "event"
	// TriggerSchedule fires when the cron expression is due at a tick.
	TriggerSchedule TriggerKind = "schedule"
	// TriggerCondition fires when the poll expression evaluates to true
	// against the polled application state.
	TriggerCondition TriggerKind = "condition"
)

// TriggerSpec describes what activates a rule. Exactly one variant field is
// populated, selected by Kind.
type TriggerSpec struct {
	Kind           TriggerKind `json:"kind"`
	EventType      string      `json:"eventType,omitempty"`
	CronExpression string      `json:"cronExpression,omitempty"`
	PollExpression string      `json:"pollExpression,omitempty"`
}

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
)

// Condition is a single field/operator/value test against a signal payload.
// Field is a dot-path into the payload. Value may be a literal or a
// "{{path}}" reference resolved against the same payload.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// ActionType identifies which side effect an Action performs.
type ActionType string

const (
	ActionCreate    ActionType = "create"
	ActionUpdate    ActionType = "update"
	ActionNotify    ActionType = "notify"
	ActionEmail     ActionType = "email"
	ActionAIAnalyze ActionType = "ai_analyze"
)

// Action is one side effect dispatched when a rule activates. Target names the
// entity (for create/update), notification template (for email) or is left
// empty. Payload values may contain {{path}} templates rendered against the
// triggering signal payload.
type Action struct {
	Type    ActionType     `json:"type"`
	Target  string         `json:"target,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Severity classifies alert-flavored rules.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rule is a persisted trigger+conditions+actions definition, optionally
// carrying aggregation/escalation settings (alert-flavored rules).
type Rule struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Trigger     TriggerSpec `json:"trigger"`
	Conditions  []Condition `json:"conditions"`
	Actions     []Action    `json:"actions"`
	Active      bool        `json:"active"`
	// Priority orders execution when several rules match one signal.
	// Lower value means higher precedence.
	Priority int `json:"priority"`

	ExecutionCount int64      `json:"executionCount"`
	LastExecutedAt *time.Time `json:"lastExecutedAt,omitempty"`

	// Alert-flavored settings. A rule aggregates when
	// AggregationWindowMinutes > 0.
	Severity                 Severity `json:"severity,omitempty"`
	NotificationChannels     []string `json:"notificationChannels,omitempty"`
	AggregationWindowMinutes int      `json:"aggregationWindowMinutes,omitempty"`
	MaxAlertsPerWindow       int      `json:"maxAlertsPerWindow,omitempty"`
	EscalationEnabled        bool     `json:"escalationEnabled,omitempty"`
	EscalationDelayMinutes   int      `json:"escalationDelayMinutes,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Aggregates reports whether activations route through the aggregation
// manager instead of executing actions directly.
func (r *Rule) Aggregates() bool {
	return r.AggregationWindowMinutes > 0
}

// AggregationWindow returns the window duration for alert-flavored rules.
func (r *Rule) AggregationWindow() time.Duration {
	return time.Duration(r.AggregationWindowMinutes) * time.Minute
}

// EscalationDelay returns the delay before an unresolved bucket escalates.
func (r *Rule) EscalationDelay() time.Duration {
	return time.Duration(r.EscalationDelayMinutes) * time.Minute
}

// Signal is one discrete input to the dispatcher: a pushed domain event, a
// schedule tick, or a condition-poll match.
type Signal struct {
	Kind TriggerKind `json:"kind"`
	// EventType is set for event signals.
	EventType string `json:"eventType,omitempty"`
	// RuleID is set for condition signals, which target the rule whose poll
	// expression matched.
	RuleID string `json:"ruleId,omitempty"`
	// Fingerprint groups "the same underlying issue" for aggregation.
	// Empty fingerprints fall back to the event type at dispatch time.
	Fingerprint string         `json:"fingerprint,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	At          time.Time      `json:"at"`
}

// ExecutionResult records the outcome of one rule activation. Results are
// append-only; they are never mutated after being recorded.
type ExecutionResult struct {
	RuleID              string        `json:"ruleId"`
	RuleName            string        `json:"ruleName"`
	Success             bool          `json:"success"`
	ExecutedActionCount int           `json:"executedActionCount"`
	Errors              []string      `json:"errors,omitempty"`
	Escalation          bool          `json:"escalation,omitempty"`
	Timestamp           time.Time     `json:"timestamp"`
	Duration            time.Duration `json:"duration"`
}

// BucketState is the lifecycle state of an aggregation bucket.
type BucketState string

const (
	BucketOpen       BucketState = "open"
	BucketSuppressed BucketState = "suppressed"
	BucketEscalated  BucketState = "escalated"
	BucketClosed     BucketState = "closed"
)

// AggregationBucket tracks repeated triggers for one (rule, fingerprint)
// pair inside a fixed window anchored at the first trigger.
type AggregationBucket struct {
	RuleID        string      `json:"ruleId"`
	Fingerprint   string      `json:"fingerprint"`
	WindowStart   time.Time   `json:"windowStart"`
	LastTriggerAt time.Time   `json:"lastTriggerAt"`
	TriggerCount  int         `json:"triggerCount"`
	NotifiedCount int         `json:"notifiedCount"`
	State         BucketState `json:"state"`

	// Settings copied from the rule at bucket creation so the manager never
	// has to consult the store mid-window.
	window          time.Duration
	maxAlerts       int
	escalationDelay time.Duration
	escalate        bool
	escalated       bool
}

// ActionOutcome is the result of executing a single action.
type ActionOutcome struct {
	Type   ActionType `json:"type"`
	Target string     `json:"target,omitempty"`
	Err    error      `json:"-"`
}

// Failed reports whether the action ended in an error.
func (o ActionOutcome) Failed() bool { return o.Err != nil }
