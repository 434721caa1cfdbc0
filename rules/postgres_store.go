package rules

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL. Counter
// updates happen server-side so concurrent activations never lose an
// increment.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore.
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, name, description, trigger_spec, conditions, actions, active, priority,
	execution_count, last_executed_at, severity, notification_channels,
	aggregation_window_minutes, max_alerts_per_window, escalation_enabled,
	escalation_delay_minutes, created_at, updated_at`

// Add inserts a new rule.
func (s *PostgresRuleStore) Add(rule *Rule) error {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1)`, rule.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	trigger, conditions, actions, channels, err := marshalRuleFields(rule)
	if err != nil {
		return err
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, rule.ID, rule.Name, rule.Description, trigger, conditions, actions, rule.Active, rule.Priority,
		rule.ExecutionCount, rule.LastExecutedAt, rule.Severity, channels,
		rule.AggregationWindowMinutes, rule.MaxAlertsPerWindow, rule.EscalationEnabled,
		rule.EscalationDelayMinutes, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Get retrieves a rule by ID.
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	row := s.db.QueryRow(`SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// List returns rules in creation order, optionally active only.
func (s *PostgresRuleStore) List(activeOnly bool) ([]*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules ORDER BY created_at ASC`
	if activeOnly {
		query = `SELECT ` + ruleColumns + ` FROM rules WHERE active = true ORDER BY created_at ASC`
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rulesList := []*Rule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// Update modifies a rule's definition. ID, CreatedAt and the runtime
// counters are left untouched.
func (s *PostgresRuleStore) Update(rule *Rule) error {
	trigger, conditions, actions, channels, err := marshalRuleFields(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE rules
		SET name = $1, description = $2, trigger_spec = $3, conditions = $4, actions = $5,
			active = $6, priority = $7, severity = $8, notification_channels = $9,
			aggregation_window_minutes = $10, max_alerts_per_window = $11,
			escalation_enabled = $12, escalation_delay_minutes = $13, updated_at = $14
		WHERE id = $15
	`, rule.Name, rule.Description, trigger, conditions, actions,
		rule.Active, rule.Priority, rule.Severity, channels,
		rule.AggregationWindowMinutes, rule.MaxAlertsPerWindow,
		rule.EscalationEnabled, rule.EscalationDelayMinutes, rule.UpdatedAt, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleNotFound)
	}

	return nil
}

// Delete removes a rule. Execution log rows referencing it are retained.
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	return nil
}

// RecordExecution increments the counter in SQL, which serializes concurrent
// activations on the database row.
func (s *PostgresRuleStore) RecordExecution(id string, at time.Time) error {
	result, err := s.db.Exec(`
		UPDATE rules
		SET execution_count = execution_count + 1, last_executed_at = $1
		WHERE id = $2
	`, at, id)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	return nil
}

func marshalRuleFields(rule *Rule) (trigger, conditions, actions, channels []byte, err error) {
	if trigger, err = json.Marshal(rule.Trigger); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal trigger: %w", err)
	}
	if conditions, err = json.Marshal(rule.Conditions); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	if actions, err = json.Marshal(rule.Actions); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal actions: %w", err)
	}
	if channels, err = json.Marshal(rule.NotificationChannels); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal notification channels: %w", err)
	}
	return trigger, conditions, actions, channels, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var rule Rule
	var trigger, conditions, actions, channels []byte
	var lastExecutedAt sql.NullTime

	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &trigger, &conditions, &actions,
		&rule.Active, &rule.Priority, &rule.ExecutionCount, &lastExecutedAt,
		&rule.Severity, &channels, &rule.AggregationWindowMinutes,
		&rule.MaxAlertsPerWindow, &rule.EscalationEnabled,
		&rule.EscalationDelayMinutes, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastExecutedAt.Valid {
		t := lastExecutedAt.Time
		rule.LastExecutedAt = &t
	}
	if err := json.Unmarshal(trigger, &rule.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}
	if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal(actions, &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}
	if err := json.Unmarshal(channels, &rule.NotificationChannels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification channels: %w", err)
	}

	return &rule, nil
}
