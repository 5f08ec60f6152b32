package domain

import "time"

// Config holds the complete Payguard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server"`

	// Tier determines which backing components are used
	Tier Tier `mapstructure:"tier"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`

	// Engine
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Store    StoreConfig    `mapstructure:"store"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Feedback FeedbackConfig `mapstructure:"feedback"`

	// Ingestion
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Worker     WorkerConfig     `mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// ScoringConfig is the externally tunable scoring surface.
type ScoringConfig struct {
	AutoApproveThreshold    float64 `mapstructure:"auto_approve_threshold"`
	AutoBlockThreshold      float64 `mapstructure:"auto_block_threshold"`
	HighConfidenceThreshold float64 `mapstructure:"high_confidence_threshold"`
	NewCustomerPenalty      float64 `mapstructure:"new_customer_penalty"`
	MinTradesForConfidence  int     `mapstructure:"min_trades_for_confidence"`
	EmbeddingMatchThreshold float64 `mapstructure:"embedding_match_threshold"`
	AnomalyDetectionEnabled bool    `mapstructure:"anomaly_detection_enabled"`

	// DefaultDepositAmount stands in for a missing deposit in the no-trade check
	DefaultDepositAmount float64 `mapstructure:"default_deposit_amount"`

	// SuspiciousCountries adds per-trade risk on ingestion
	SuspiciousCountries []string `mapstructure:"suspicious_countries"`
}

// DefaultScoringConfig returns the stock thresholds.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		AutoApproveThreshold:    0.20,
		AutoBlockThreshold:      0.80,
		HighConfidenceThreshold: 0.15,
		NewCustomerPenalty:      0.15,
		MinTradesForConfidence:  5,
		EmbeddingMatchThreshold: 0.65,
		AnomalyDetectionEnabled: true,
		DefaultDepositAmount:    50000,
		SuspiciousCountries:     []string{"RU", "NG", "UA", "XX"},
	}
}

// StoreConfig bounds the in-memory trade log.
type StoreConfig struct {
	MaxTrades int  `mapstructure:"max_trades"`
	Hydrate   bool `mapstructure:"hydrate"` // reload trades from the repository at startup
}

// GraphConfig holds relationship graph settings.
type GraphConfig struct {
	MaterialityThreshold float64       `mapstructure:"materiality_threshold"`
	MaxEdgeSamples       int           `mapstructure:"max_edge_samples"`
	PruneInterval        time.Duration `mapstructure:"prune_interval"` // 0 disables pruning
	PruneMaxAge          time.Duration `mapstructure:"prune_max_age"`
}

// FeedbackConfig holds feedback memory settings.
type FeedbackConfig struct {
	RecentFraudWindow int  `mapstructure:"recent_fraud_window"`
	LearnOnConfirm    bool `mapstructure:"learn_on_confirm"`
}

// EnrichmentConfig holds trade enrichment settings.
type EnrichmentConfig struct {
	GeoIPDBPath string `mapstructure:"geoip_db_path"` // empty disables lookups
}

// RateLimitConfig throttles the HTTP surface.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// WorkerConfig controls asynchronous trade ingestion.
type WorkerConfig struct {
	Async bool `mapstructure:"async"`
	Count int  `mapstructure:"count"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"` // OTLP gRPC; empty keeps the no-op provider
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS/Kafka + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./payguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			PayoutTTL:    24 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring: DefaultScoringConfig(),
		Store: StoreConfig{
			MaxTrades: 10000,
			Hydrate:   true,
		},
		Graph: GraphConfig{
			MaterialityThreshold: 50000,
			MaxEdgeSamples:       50,
			PruneMaxAge:          24 * time.Hour,
		},
		Feedback: FeedbackConfig{
			RecentFraudWindow: 20,
		},
		RateLimit: RateLimitConfig{
			RPS:   200,
			Burst: 400,
		},
		Worker: WorkerConfig{
			Count: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "payguard",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// ProConfig returns a configuration for Pro tier.
// Set PAYGUARD_EVENT_BUS_TYPE=kafka to ingest from Kafka instead of NATS.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "payguard",
		PostgresSSLMode: "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		PayoutTTL:      24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		KafkaBrokers:      "localhost:9092",
		KafkaGroupID:      "payguard",
	}
	cfg.Worker.Async = true
	cfg.Graph.PruneInterval = 10 * time.Minute
	cfg.Tracing.Enabled = true
	return cfg
}
