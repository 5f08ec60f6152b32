package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// Process memory stays authoritative for scoring; the repository makes
// trades, payouts and reviewer feedback survive restarts.
type Repository interface {
	// Trade operations
	SaveTrade(ctx context.Context, trade *TradeEvent) error
	ListTrades(ctx context.Context, limit int) ([]*TradeEvent, error)
	CountTradesSince(ctx context.Context, traderID string, since time.Time) (int64, error)

	// Payout operations
	SavePayout(ctx context.Context, payout *Payout) error
	GetPayout(ctx context.Context, payoutID string) (*Payout, error)
	ListPayouts(ctx context.Context, status PayoutStatus, limit int) ([]*Payout, error)

	// Alerts
	SaveAlert(ctx context.Context, alert *Alert) error
	ListAlerts(ctx context.Context, limit int) ([]*Alert, error)

	// Reviewer feedback
	SaveConfirmedCase(ctx context.Context, c *ConfirmedCase) error
	ListConfirmedCases(ctx context.Context, limit int) ([]*ConfirmedCase, error)

	// Learned patterns
	SavePattern(ctx context.Context, p *FraudPattern) error
	ListPatterns(ctx context.Context) ([]*FraudPattern, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
