package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// Keys are grouped by namespace, e.g. "payout" or "velocity".
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, namespace string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, namespace string, key string) error

	// GetPayout retrieves a cached payout. Returns nil, nil on miss.
	GetPayout(ctx context.Context, payoutID string) (*Payout, error)

	// SetPayout caches a payout for fast reads while it is under review.
	SetPayout(ctx context.Context, payout *Payout, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for velocity checks (trades per trader in a time window).
	IncrementCounter(ctx context.Context, namespace string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Cache namespaces.
const (
	CacheNamespacePayout   = "payout"
	CacheNamespaceVelocity = "velocity"
)

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	// Redis settings (Pro tier)
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `mapstructure:"enable_two_phase"` // If true, check local first, then Redis

	// PayoutTTL bounds how long scored payouts stay cached
	PayoutTTL time.Duration `mapstructure:"payout_ttl"`
}
