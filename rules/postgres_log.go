package rules

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresExecutionLog implements ExecutionLog backed by PostgreSQL. Rows are
// insert-only; nothing ever updates or deletes them.
type PostgresExecutionLog struct {
	db *sql.DB
}

// NewPostgresExecutionLog creates a new PostgreSQL-backed execution log.
func NewPostgresExecutionLog(db *sql.DB) *PostgresExecutionLog {
	return &PostgresExecutionLog{db: db}
}

// Record appends one execution result.
func (l *PostgresExecutionLog) Record(result *ExecutionResult) error {
	_, err := l.db.Exec(`
		INSERT INTO execution_log (rule_id, rule_name, success, executed_action_count,
			errors, escalation, recorded_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, result.RuleID, result.RuleName, result.Success, result.ExecutedActionCount,
		pq.Array(result.Errors), result.Escalation, result.Timestamp,
		result.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}
	return nil
}

// Since returns results recorded at or after t, oldest first.
func (l *PostgresExecutionLog) Since(t time.Time) ([]*ExecutionResult, error) {
	rows, err := l.db.Query(`
		SELECT rule_id, rule_name, success, executed_action_count, errors,
			escalation, recorded_at, duration_ms
		FROM execution_log
		WHERE recorded_at >= $1
		ORDER BY recorded_at ASC
	`, t)
	if err != nil {
		return nil, fmt.Errorf("failed to read execution log: %w", err)
	}
	defer rows.Close()

	var results []*ExecutionResult
	for rows.Next() {
		var result ExecutionResult
		var durationMS int64
		if err := rows.Scan(&result.RuleID, &result.RuleName, &result.Success,
			&result.ExecutedActionCount, pq.Array(&result.Errors),
			&result.Escalation, &result.Timestamp, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan execution log row: %w", err)
		}
		result.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution log: %w", err)
	}

	return results, nil
}
