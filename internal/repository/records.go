package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/payguard/internal/domain"
)

// SaveAlert stores an alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, a *domain.Alert) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: alert id is required", ErrInvalidInput)
	}

	flags, _ := json.Marshal(a.Flags)

	query := `
		INSERT INTO alerts (
			id, type, payout_id, trader_id, severity, message, flags, auto_action, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.Type, a.PayoutID, a.TraderID, string(a.Severity), a.Message,
		string(flags), string(a.AutoAction), a.CreatedAt.UTC(),
	)
	return err
}

// ListAlerts returns alerts newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, limit int) ([]*domain.Alert, error) {
	query := `
		SELECT id, type, payout_id, trader_id, severity, message, flags, auto_action, created_at
		FROM alerts
		ORDER BY created_at DESC, id DESC
	` + limitClause(limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var severity, flags string
		var action sql.NullString

		if err := rows.Scan(
			&a.ID, &a.Type, &a.PayoutID, &a.TraderID, &severity, &a.Message,
			&flags, &action, &a.CreatedAt,
		); err != nil {
			return nil, err
		}

		a.Severity = domain.Severity(severity)
		a.AutoAction = domain.AutoAction(action.String)
		if err := json.Unmarshal([]byte(flags), &a.Flags); err != nil {
			return nil, fmt.Errorf("failed to parse flags for alert %s: %w", a.ID, err)
		}
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// SaveConfirmedCase appends a reviewer verdict. Cases are never updated.
func (r *SQLRepository) SaveConfirmedCase(ctx context.Context, c *domain.ConfirmedCase) error {
	if c == nil || c.ID == "" || c.TraderID == "" {
		return fmt.Errorf("%w: case id and trader_id are required", ErrInvalidInput)
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode confirmed case: %w", err)
	}

	query := `
		INSERT INTO confirmed_cases (
			id, trader_id, payout_id, decision, risk_score, fraud_type, payload, confirmed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.TraderID, c.PayoutID, string(c.Decision), c.RiskScore,
		c.FraudType, string(payload), c.ConfirmedAt.UTC(),
	)
	return err
}

// ListConfirmedCases returns the most recent limit cases, oldest first.
func (r *SQLRepository) ListConfirmedCases(ctx context.Context, limit int) ([]*domain.ConfirmedCase, error) {
	query := `
		SELECT payload FROM confirmed_cases
		ORDER BY confirmed_at DESC, id DESC
	` + limitClause(limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.ConfirmedCase
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c domain.ConfirmedCase
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("failed to parse confirmed case: %w", err)
		}
		cases = append(cases, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(cases)
	return cases, nil
}

// SavePattern stores a learned pattern.
func (r *SQLRepository) SavePattern(ctx context.Context, p *domain.FraudPattern) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: pattern id is required", ErrInvalidInput)
	}
	if len(p.Vector) != domain.Dimensions {
		return fmt.Errorf("%w: pattern vector must have %d dimensions", ErrInvalidInput, domain.Dimensions)
	}

	vector, _ := json.Marshal(p.Vector)

	query := `
		INSERT INTO patterns (
			id, category, name, description, vector, severity, auto_action, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, p.Category, p.Name, p.Description, string(vector),
		string(p.Severity), string(p.AutoAction), p.CreatedAt.UTC(),
	)
	return err
}

// ListPatterns returns learned patterns in creation order.
func (r *SQLRepository) ListPatterns(ctx context.Context) ([]*domain.FraudPattern, error) {
	query := `
		SELECT id, category, name, description, vector, severity, auto_action, created_at
		FROM patterns
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []*domain.FraudPattern
	for rows.Next() {
		var p domain.FraudPattern
		var description sql.NullString
		var vector, severity, action string

		if err := rows.Scan(
			&p.ID, &p.Category, &p.Name, &description, &vector,
			&severity, &action, &p.CreatedAt,
		); err != nil {
			return nil, err
		}

		p.Description = description.String
		p.Severity = domain.Severity(severity)
		p.AutoAction = domain.AutoAction(action)
		p.Learned = true
		if err := json.Unmarshal([]byte(vector), &p.Vector); err != nil {
			return nil, fmt.Errorf("failed to parse vector for pattern %s: %w", p.ID, err)
		}
		patterns = append(patterns, &p)
	}

	return patterns, rows.Err()
}
