package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skyfeeder/skyfeeder/internal/alerts"
)

// AlertRepository persists alert rules and fire history. Implements
// alerts.Store.
type AlertRepository struct {
	db *DB
}

// NewAlertRepository creates an alert repository.
func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// ListAlertRules returns every persisted rule.
func (r *AlertRepository) ListAlertRules(ctx context.Context) ([]*alerts.Rule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, owner, visibility, enabled, priority,
		        field, operator, value, conditions, starts_at, expires_at,
		        cooldown_seconds, webhook_url, last_triggered,
		        created_at, updated_at
		 FROM alert_rules
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*alerts.Rule
	for rows.Next() {
		rule, err := scanAlertRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// CreateAlertRule inserts a rule and returns its id.
func (r *AlertRepository) CreateAlertRule(ctx context.Context, rule *alerts.Rule) (int64, error) {
	conditions, err := marshalConditions(rule)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO alert_rules (
			name, owner, visibility, enabled, priority,
			field, operator, value, conditions, starts_at, expires_at,
			cooldown_seconds, webhook_url, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		rule.Name, nullString(rule.Owner), string(rule.Visibility),
		rule.Enabled, string(rule.Priority),
		nullString(rule.Field), nullString(rule.Operator), nullString(rule.Value),
		conditions, nullTime(rule.StartsAt), nullTime(rule.ExpiresAt),
		rule.CooldownSeconds, nullString(rule.WebhookURL),
		rule.CreatedAt, rule.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert alert rule: %w", err)
	}
	return id, nil
}

// UpdateAlertRule persists a rule change.
func (r *AlertRepository) UpdateAlertRule(ctx context.Context, rule *alerts.Rule) error {
	conditions, err := marshalConditions(rule)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE alert_rules SET
			name = $2, owner = $3, visibility = $4, enabled = $5,
			priority = $6, field = $7, operator = $8, value = $9,
			conditions = $10, starts_at = $11, expires_at = $12,
			cooldown_seconds = $13, webhook_url = $14, updated_at = $15
		 WHERE id = $1`,
		rule.ID, rule.Name, nullString(rule.Owner), string(rule.Visibility),
		rule.Enabled, string(rule.Priority),
		nullString(rule.Field), nullString(rule.Operator), nullString(rule.Value),
		conditions, nullTime(rule.StartsAt), nullTime(rule.ExpiresAt),
		rule.CooldownSeconds, nullString(rule.WebhookURL), rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert rule %d: %w", rule.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("alert rule %d not found", rule.ID)
	}
	return nil
}

// DeleteAlertRule removes a rule.
func (r *AlertRepository) DeleteAlertRule(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM alert_rules WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete alert rule %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("alert rule %d not found", id)
	}
	return nil
}

// TouchAlertRule records a rule's most recent fire.
func (r *AlertRepository) TouchAlertRule(ctx context.Context, id int64, triggeredAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE alert_rules SET last_triggered = $2 WHERE id = $1`,
		id, triggeredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to touch alert rule %d: %w", id, err)
	}
	return nil
}

// AppendAlertHistory stores one fire record and returns its id.
func (r *AlertRepository) AppendAlertHistory(ctx context.Context, entry *alerts.HistoryEntry) (int64, error) {
	aircraft, err := json.Marshal(entry.Aircraft)
	if err != nil {
		return 0, fmt.Errorf("failed to encode aircraft snapshot: %w", err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO alert_history (
			rule_id, rule_name, icao, callsign, message,
			priority, aircraft, triggered_at, acknowledged
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		entry.RuleID, entry.RuleName, entry.ICAO, nullString(entry.Callsign),
		entry.Message, string(entry.Priority), aircraft,
		entry.TriggeredAt, entry.Acknowledged,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert alert history: %w", err)
	}
	return id, nil
}

// ListAlertHistory returns the most recent fires, newest first.
func (r *AlertRepository) ListAlertHistory(ctx context.Context, limit int) ([]*alerts.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, rule_id, rule_name, icao, callsign, message,
		        priority, triggered_at, acknowledged
		 FROM alert_history
		 ORDER BY triggered_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert history: %w", err)
	}
	defer rows.Close()

	var entries []*alerts.HistoryEntry
	for rows.Next() {
		var (
			entry    alerts.HistoryEntry
			callsign sql.NullString
			priority string
		)
		err := rows.Scan(&entry.ID, &entry.RuleID, &entry.RuleName,
			&entry.ICAO, &callsign, &entry.Message, &priority,
			&entry.TriggeredAt, &entry.Acknowledged)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert history row: %w", err)
		}
		entry.Callsign = callsign.String
		entry.Priority = alerts.Priority(priority)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func marshalConditions(rule *alerts.Rule) (interface{}, error) {
	if rule.Conditions == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(rule.Conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rule conditions: %w", err)
	}
	return encoded, nil
}

// scanAlertRule reads one rule row.
func scanAlertRule(rows *sql.Rows) (*alerts.Rule, error) {
	var (
		rule          alerts.Rule
		owner         sql.NullString
		visibility    string
		priority      string
		field         sql.NullString
		operator      sql.NullString
		value         sql.NullString
		conditions    []byte
		startsAt      sql.NullTime
		expiresAt     sql.NullTime
		webhookURL    sql.NullString
		lastTriggered sql.NullTime
	)

	err := rows.Scan(&rule.ID, &rule.Name, &owner, &visibility,
		&rule.Enabled, &priority, &field, &operator, &value,
		&conditions, &startsAt, &expiresAt, &rule.CooldownSeconds,
		&webhookURL, &lastTriggered, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert rule row: %w", err)
	}

	rule.Owner = owner.String
	rule.Visibility = alerts.Visibility(visibility)
	rule.Priority = alerts.Priority(priority)
	rule.Field = field.String
	rule.Operator = operator.String
	rule.Value = value.String
	rule.WebhookURL = webhookURL.String
	if startsAt.Valid {
		t := startsAt.Time
		rule.StartsAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		rule.ExpiresAt = &t
	}
	if lastTriggered.Valid {
		t := lastTriggered.Time
		rule.LastTriggered = &t
	}
	if len(conditions) > 0 {
		var tree alerts.ConditionTree
		if err := json.Unmarshal(conditions, &tree); err != nil {
			return nil, fmt.Errorf("failed to decode rule conditions: %w", err)
		}
		rule.Conditions = &tree
	}
	return &rule, nil
}
