// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/payguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the configured database, sizes its pool and applies the schema.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var driverName, dsn string
	switch cfg.Driver {
	case "sqlite":
		path, err := sqliteDSN(cfg)
		if err != nil {
			return nil, err
		}
		driverName, dsn = "sqlite", path
	case "postgres":
		driverName, dsn = "postgres", postgresDSN(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.Driver, err)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTrade stores a trade. Re-saving the same trade id is a no-op.
func (r *SQLRepository) SaveTrade(ctx context.Context, t *domain.TradeEvent) error {
	if t == nil || t.TradeID == "" || t.TraderID == "" {
		return fmt.Errorf("%w: trade_id and trader_id are required", ErrInvalidInput)
	}

	var risk sql.NullString
	if t.Risk != nil {
		data, err := json.Marshal(t.Risk)
		if err != nil {
			return fmt.Errorf("failed to encode trade risk: %w", err)
		}
		risk = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO trades (
			trade_id, trader_id, trader_name, symbol, type, quantity, price,
			total_value, device_id, ip, country, timestamp, is_fraud,
			fraud_type, ring_id, risk
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		t.TradeID, t.TraderID, t.TraderName, t.Symbol, t.Type,
		t.Quantity, t.Price, t.TotalValue,
		t.DeviceID, t.IP, t.Country, t.Timestamp.UTC(), boolInt(bool(t.IsFraud)),
		nullString(t.FraudType), nullString(t.RingID), risk,
	)
	return err
}

// ListTrades returns the most recent limit trades, oldest first, so they
// can be replayed in order. limit <= 0 returns every trade.
func (r *SQLRepository) ListTrades(ctx context.Context, limit int) ([]*domain.TradeEvent, error) {
	query := `
		SELECT trade_id, trader_id, trader_name, symbol, type, quantity, price,
			   total_value, device_id, ip, country, timestamp, is_fraud,
			   fraud_type, ring_id, risk
		FROM trades
		ORDER BY timestamp DESC, trade_id DESC
	` + limitClause(limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.TradeEvent
	for rows.Next() {
		var t domain.TradeEvent
		var name, symbol, device, ip, country sql.NullString
		var fraudType, ringID, risk sql.NullString
		var isFraud int

		if err := rows.Scan(
			&t.TradeID, &t.TraderID, &name, &symbol, &t.Type,
			&t.Quantity, &t.Price, &t.TotalValue,
			&device, &ip, &country, &t.Timestamp, &isFraud,
			&fraudType, &ringID, &risk,
		); err != nil {
			return nil, err
		}

		t.TraderName = name.String
		t.Symbol = symbol.String
		t.DeviceID = device.String
		t.IP = ip.String
		t.Country = country.String
		t.IsFraud = isFraud == 1
		t.FraudType = stringPtr(fraudType)
		t.RingID = stringPtr(ringID)
		if risk.Valid && risk.String != "" {
			var tr domain.TradeRisk
			if err := json.Unmarshal([]byte(risk.String), &tr); err != nil {
				return nil, fmt.Errorf("failed to parse risk for trade %s: %w", t.TradeID, err)
			}
			t.Risk = &tr
		}

		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(trades)
	return trades, nil
}

// CountTradesSince counts a trader's trades at or after since.
func (r *SQLRepository) CountTradesSince(ctx context.Context, traderID string, since time.Time) (int64, error) {
	if traderID == "" {
		return 0, fmt.Errorf("%w: traderID is required", ErrInvalidInput)
	}

	query := `SELECT COUNT(*) FROM trades WHERE trader_id = ? AND timestamp >= ?`

	var count int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), traderID, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}

// SavePayout inserts or updates a payout.
func (r *SQLRepository) SavePayout(ctx context.Context, p *domain.Payout) error {
	if p == nil || p.ID == "" || p.TraderID == "" {
		return fmt.Errorf("%w: payout id and trader_id are required", ErrInvalidInput)
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payout: %w", err)
	}

	var score float64
	var decision string
	if p.Assessment != nil {
		score = p.Assessment.Score
		decision = string(p.Assessment.Decision)
	}

	var reviewedAt sql.NullTime
	if p.ReviewedAt != nil {
		reviewedAt = sql.NullTime{Time: p.ReviewedAt.UTC(), Valid: true}
	}

	query := `
		INSERT INTO payouts (
			id, trader_id, amount, status, score, decision, payload, created_at, reviewed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			reviewed_at = excluded.reviewed_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		p.ID, p.TraderID, p.Amount, string(p.Status), score, decision,
		string(payload), p.CreatedAt.UTC(), reviewedAt,
	)
	return err
}

// GetPayout retrieves a payout by ID.
func (r *SQLRepository) GetPayout(ctx context.Context, payoutID string) (*domain.Payout, error) {
	query := `SELECT payload FROM payouts WHERE id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), payoutID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var p domain.Payout
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("failed to parse payout %s: %w", payoutID, err)
	}
	return &p, nil
}

// ListPayouts returns payouts newest first, optionally filtered by status.
func (r *SQLRepository) ListPayouts(ctx context.Context, status domain.PayoutStatus, limit int) ([]*domain.Payout, error) {
	query := `SELECT payload FROM payouts`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC` + limitClause(limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []*domain.Payout
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p domain.Payout
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("failed to parse payout: %w", err)
		}
		payouts = append(payouts, &p)
	}

	return payouts, rows.Err()
}

// SaveRuleConfig stores a rule configuration.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil || rule.ID == "" || rule.Version == "" {
		return fmt.Errorf("%w: rule id and version are required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(rule.Bands)
	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, bands, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), rule.Weight, boolInt(rule.Enabled),
		now, now,
	)
	return err
}

// GetRuleConfig retrieves the latest enabled version of a rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, ruleID string) (*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	cfg, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cfg, err
}

// ListRuleConfigs retrieves all enabled rule configurations.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE enabled = 1
		ORDER BY name, version
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		cfg, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (*domain.RuleConfig, error) {
	var cfg domain.RuleConfig
	var description sql.NullString
	var bands string
	var enabled int

	if err := s.Scan(
		&cfg.ID, &cfg.Name, &description,
		&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
	); err != nil {
		return nil, err
	}

	cfg.Description = description.String
	cfg.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(bands), &cfg.Bands); err != nil {
		return nil, fmt.Errorf("failed to parse bands for rule %s: %w", cfg.ID, err)
	}
	return &cfg, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return " LIMIT " + strconv.Itoa(limit)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
