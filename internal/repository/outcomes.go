package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveRiskSignal appends a scoring outcome.
func (r *SQLRepository) SaveRiskSignal(ctx context.Context, s *domain.RiskSignal) error {
	if s.TransactionID == "" {
		return fmt.Errorf("%w: transactionId is required", ErrInvalidInput)
	}
	if s.RiskScore < 0 || s.RiskScore > 100 {
		return fmt.Errorf("%w: risk score %d outside [0,100]", ErrInvalidInput, s.RiskScore)
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now()
	}

	query := `
		INSERT INTO risk_signals (id, transaction_id, signal_type, risk_score, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), s.ID, s.TransactionID, s.SignalType, s.RiskScore, s.CreatedAt)
	return unavailable("save risk signal", err)
}

// ListRiskSignals returns the signals of a transaction, oldest first.
func (r *SQLRepository) ListRiskSignals(ctx context.Context, txID string) ([]*domain.RiskSignal, error) {
	query := `
		SELECT id, transaction_id, signal_type, risk_score, created_at
		FROM risk_signals
		WHERE transaction_id = ?
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), txID)
	if err != nil {
		return nil, unavailable("list risk signals", err)
	}
	defer rows.Close()

	var signals []*domain.RiskSignal
	for rows.Next() {
		var s domain.RiskSignal
		if err := rows.Scan(&s.ID, &s.TransactionID, &s.SignalType, &s.RiskScore, &s.CreatedAt); err != nil {
			return nil, err
		}
		signals = append(signals, &s)
	}
	return signals, rows.Err()
}

// SaveAlert appends an alert. New alerts are open.
func (r *SQLRepository) SaveAlert(ctx context.Context, a *domain.Alert) error {
	if a.TransactionID == "" {
		return fmt.Errorf("%w: transactionId is required", ErrInvalidInput)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = domain.AlertOpen
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}

	query := `
		INSERT INTO alerts (id, transaction_id, risk_score, severity, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.TransactionID, a.RiskScore, a.Severity, a.Reason, a.Status, a.CreatedAt,
	)
	return unavailable("save alert", err)
}

// ListAlerts returns alerts newest first, optionally filtered by status.
func (r *SQLRepository) ListAlerts(ctx context.Context, status string, limit int) ([]*domain.Alert, error) {
	query := `
		SELECT id, transaction_id, risk_score, severity, reason, status, created_at
		FROM alerts
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), status, status, limitOrDefault(limit))
	if err != nil {
		return nil, unavailable("list alerts", err)
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		if err := rows.Scan(&a.ID, &a.TransactionID, &a.RiskScore, &a.Severity, &a.Reason, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// ResolveAlert moves an open alert to resolved.
func (r *SQLRepository) ResolveAlert(ctx context.Context, id string) error {
	query := `UPDATE alerts SET status = ? WHERE id = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), domain.AlertResolved, id, domain.AlertOpen)
	if err != nil {
		return unavailable("resolve alert", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveTrainingExample appends a labeled feature example.
func (r *SQLRepository) SaveTrainingExample(ctx context.Context, ex *domain.TrainingExample) error {
	if ex.Label != 0 && ex.Label != 1 {
		return fmt.Errorf("%w: label must be 0 or 1", ErrInvalidInput)
	}
	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = now()
	}

	features, err := json.Marshal(ex.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	query := `
		INSERT INTO training_examples (id, transaction_id, features, label, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		ex.ID, nullString(ex.TransactionID), string(features), ex.Label, ex.CreatedAt,
	)
	return unavailable("save training example", err)
}

// ListTrainingExamples returns up to limit examples, newest first.
func (r *SQLRepository) ListTrainingExamples(ctx context.Context, limit int) ([]*domain.TrainingExample, error) {
	query := `
		SELECT id, transaction_id, features, label, created_at
		FROM training_examples
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limitOrDefault(limit))
	if err != nil {
		return nil, unavailable("list training examples", err)
	}
	defer rows.Close()

	var examples []*domain.TrainingExample
	for rows.Next() {
		var ex domain.TrainingExample
		var txID sql.NullString
		var features string

		if err := rows.Scan(&ex.ID, &txID, &features, &ex.Label, &ex.CreatedAt); err != nil {
			return nil, err
		}
		ex.TransactionID = txID.String
		if err := json.Unmarshal([]byte(features), &ex.Features); err != nil {
			return nil, fmt.Errorf("failed to parse features for %s: %w", ex.ID, err)
		}
		examples = append(examples, &ex)
	}
	return examples, rows.Err()
}

// CountTrainingExamples counts all stored examples.
func (r *SQLRepository) CountTrainingExamples(ctx context.Context) (int64, error) {
	return r.count(ctx, "count training examples", `SELECT COUNT(*) FROM training_examples`)
}

// SaveModel appends a model version. Existing rows are never updated.
func (r *SQLRepository) SaveModel(ctx context.Context, m *domain.Model) error {
	if m.Kind == "" {
		return fmt.Errorf("%w: model kind is required", ErrInvalidInput)
	}
	if m.Accuracy != nil && (*m.Accuracy < 0 || *m.Accuracy > 1) {
		return fmt.Errorf("%w: accuracy must be in [0,1]", ErrInvalidInput)
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}

	var accuracy sql.NullFloat64
	if m.Accuracy != nil {
		accuracy = sql.NullFloat64{Float64: *m.Accuracy, Valid: true}
	}

	query := `
		INSERT INTO models (id, kind, parameters, version, revision, accuracy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		m.ID, m.Kind, string(m.Parameters), m.Version, m.Revision, accuracy, m.CreatedAt,
	)
	return unavailable("save model", err)
}

// LatestModel returns the most recent model of a kind.
func (r *SQLRepository) LatestModel(ctx context.Context, kind string) (*domain.Model, error) {
	query := `
		SELECT id, kind, parameters, version, revision, accuracy, created_at
		FROM models
		WHERE kind = ?
		ORDER BY revision DESC, created_at DESC
		LIMIT 1
	`

	var m domain.Model
	var params string
	var accuracy sql.NullFloat64

	err := r.db.QueryRowContext(ctx, r.rebind(query), kind).Scan(
		&m.ID, &m.Kind, &params, &m.Version, &m.Revision, &accuracy, &m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("latest model", err)
	}

	m.Parameters = []byte(params)
	if accuracy.Valid {
		m.Accuracy = &accuracy.Float64
	}
	return &m, nil
}

// SaveRuleConfig stores a custom rule, replacing the same id and version.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule.ID == "" || rule.Expression == "" {
		return fmt.Errorf("%w: rule id and expression are required", ErrInvalidInput)
	}
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	ts := now()

	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, reason, multiplier, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			reason = excluded.reason,
			multiplier = excluded.multiplier,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Version,
		rule.Expression, rule.Reason, rule.Multiplier, enabled,
		ts, ts,
	)
	return unavailable("save rule config", err)
}

// ListRuleConfigs retrieves all enabled custom rules.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, reason, multiplier, enabled
		FROM rule_configs
		WHERE enabled = 1
		ORDER BY name, version
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, unavailable("list rule configs", err)
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var description sql.NullString
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &description, &cfg.Version,
			&cfg.Expression, &cfg.Reason, &cfg.Multiplier, &enabled,
		); err != nil {
			return nil, err
		}
		cfg.Description = description.String
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}

// DashboardStats reads the aggregate counters in one round trip.
func (r *SQLRepository) DashboardStats(ctx context.Context, highRisk int) (*domain.DashboardStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM alerts),
			(SELECT COUNT(*) FROM alerts WHERE status = ?),
			(SELECT COUNT(*) FROM transactions),
			(SELECT COUNT(*) FROM risk_signals WHERE risk_score >= ?)
	`

	var s domain.DashboardStats
	err := r.db.QueryRowContext(ctx, r.rebind(query), domain.AlertOpen, highRisk).Scan(
		&s.TotalAlerts, &s.OpenAlerts, &s.TotalTransactions, &s.HighRiskSignals,
	)
	if err != nil {
		return nil, unavailable("dashboard stats", err)
	}
	return &s, nil
}
