package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/medops/ruleflow/internal/logger"
)

// DataOperation distinguishes create from update writes to the DataStore.
type DataOperation string

const (
	DataCreate DataOperation = "create"
	DataUpdate DataOperation = "update"
)

// DataStore is the business database, accessed only through generic writes.
type DataStore interface {
	Write(ctx context.Context, entity string, op DataOperation, payload map[string]any) error
}

// Notifier delivers in-app and email notifications.
type Notifier interface {
	Push(ctx context.Context, channels []string, message string) error
	SendTemplate(ctx context.Context, template, recipient string, vars map[string]any) error
}

// AIInsightGenerator wraps the generative-AI service. Analyze results are
// logged, never consumed synchronously by later actions.
type AIInsightGenerator interface {
	Analyze(ctx context.Context, payload map[string]any) (map[string]any, error)
}

// Collaborators bundles the external services actions dispatch to.
type Collaborators struct {
	Data     DataStore
	Notifier Notifier
	AI       AIInsightGenerator
}

// ExecutorConfig tunes per-action timeouts and the ai_analyze retry budget.
type ExecutorConfig struct {
	// ActionTimeout bounds each collaborator call. A timed-out action is a
	// failed outcome; it never blocks the next action past its own window.
	ActionTimeout time.Duration

	// AIMaxRetries is the number of retries (beyond the first attempt) for
	// transient ai_analyze failures. Other action types are not retried.
	AIMaxRetries uint64

	// AIRetryInitialInterval seeds the exponential backoff between retries.
	AIRetryInitialInterval time.Duration
}

// DefaultExecutorConfig returns the production defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		ActionTimeout:          10 * time.Second,
		AIMaxRetries:           2,
		AIRetryInitialInterval: 500 * time.Millisecond,
	}
}

// ActionExecutor dispatches one action at a time to the appropriate
// collaborator. It never decides whether to continue past a failure; the
// dispatcher owns that policy and simply collects outcomes.
type ActionExecutor struct {
	collab Collaborators
	cfg    ExecutorConfig
}

// NewActionExecutor creates an executor over the given collaborators.
func NewActionExecutor(collab Collaborators, cfg ExecutorConfig) *ActionExecutor {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultExecutorConfig().ActionTimeout
	}
	if cfg.AIRetryInitialInterval <= 0 {
		cfg.AIRetryInitialInterval = DefaultExecutorConfig().AIRetryInitialInterval
	}
	return &ActionExecutor{collab: collab, cfg: cfg}
}

// ExecuteAll runs a rule's actions strictly in declared order, each fully
// completing (including its timeout) before the next starts. A failed action
// is recorded in its outcome and never aborts the remaining actions.
func (e *ActionExecutor) ExecuteAll(ctx context.Context, rule *Rule, payload map[string]any) []ActionOutcome {
	outcomes := make([]ActionOutcome, 0, len(rule.Actions))
	for _, action := range rule.Actions {
		outcome := e.Execute(ctx, rule, action, payload)
		if outcome.Failed() {
			lg := logger.WithRule(rule.ID, rule.Name)
			lg.Warn().
				Err(outcome.Err).
				Str("action", string(action.Type)).
				Str("target", action.Target).
				Msg("action failed")
		}
		actionOutcomes.WithLabelValues(string(action.Type), outcomeLabel(outcome)).Inc()
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// Execute runs a single action against its collaborator under the configured
// timeout and returns its outcome.
func (e *ActionExecutor) Execute(ctx context.Context, rule *Rule, action Action, payload map[string]any) ActionOutcome {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	outcome := ActionOutcome{Type: action.Type, Target: action.Target}

	switch action.Type {
	case ActionCreate:
		outcome.Err = e.collab.Data.Write(ctx, action.Target, DataCreate, RenderPayload(action.Payload, payload))
	case ActionUpdate:
		outcome.Err = e.collab.Data.Write(ctx, action.Target, DataUpdate, RenderPayload(action.Payload, payload))
	case ActionNotify:
		outcome.Err = e.notify(ctx, rule, action, payload)
	case ActionEmail:
		outcome.Err = e.email(ctx, action, payload)
	case ActionAIAnalyze:
		outcome.Err = e.analyze(ctx, rule, action, payload)
	default:
		outcome.Err = fmt.Errorf("unknown action type %q", action.Type)
	}

	return outcome
}

// notify renders the message template and pushes it to the action's channels,
// falling back to the rule's notification channel set.
func (e *ActionExecutor) notify(ctx context.Context, rule *Rule, action Action, payload map[string]any) error {
	message := Render(stringField(action.Payload, "message"), payload)
	if message == "" {
		message = fmt.Sprintf("rule %s triggered", rule.Name)
	}

	channels := stringSliceField(action.Payload, "channels")
	if len(channels) == 0 {
		channels = rule.NotificationChannels
	}
	if len(channels) == 0 {
		return fmt.Errorf("notify action has no channels")
	}

	return e.collab.Notifier.Push(ctx, channels, message)
}

// email resolves the recipient template and sends through the notifier.
// The action target names the mail template.
func (e *ActionExecutor) email(ctx context.Context, action Action, payload map[string]any) error {
	recipient := Render(stringField(action.Payload, "recipient"), payload)
	if recipient == "" {
		return fmt.Errorf("email action has no recipient")
	}
	return e.collab.Notifier.SendTemplate(ctx, action.Target, recipient, RenderPayload(action.Payload, payload))
}

// analyze calls the AI service with bounded exponential retry. The result is
// logged for the dashboard's insight feed, not returned to later actions.
func (e *ActionExecutor) analyze(ctx context.Context, rule *Rule, action Action, payload map[string]any) error {
	rendered := RenderPayload(action.Payload, payload)
	if rendered == nil {
		rendered = payload
	}

	var result map[string]any
	operation := func() error {
		var err error
		result, err = e.collab.AI.Analyze(ctx, rendered)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.AIRetryInitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, e.cfg.AIMaxRetries), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("ai analyze failed after retries: %w", err)
	}

	lg := logger.WithRule(rule.ID, rule.Name)
	lg.Info().
		Interface("insight", result).
		Msg("ai analysis completed")
	return nil
}

func stringField(data map[string]any, key string) string {
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}

func stringSliceField(data map[string]any, key string) []string {
	switch v := data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func outcomeLabel(o ActionOutcome) string {
	if o.Failed() {
		return "failed"
	}
	return "success"
}
