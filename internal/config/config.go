// Package config loads Payguard configuration from defaults, an optional
// payguard.yaml, a .env file and PAYGUARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/opensource-finance/payguard/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. PAYGUARD_SERVER_PORT.
const EnvPrefix = "PAYGUARD"

// Load reads configuration. The tier (PAYGUARD_TIER or tier in the file)
// picks the defaults, which the file and then the environment override.
func Load() (*domain.Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	return load(viper.New(), true)
}

func load(v *viper.Viper, readFile bool) (*domain.Config, error) {
	v.SetConfigName("payguard")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if readFile {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			slog.Debug("no config file found, using defaults and env vars")
		}
	}

	base := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(v.GetString("tier"))) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, "", reflect.ValueOf(*base))

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setDefaults registers every leaf of the default config so that env
// variables can override keys that appear in no config file.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		fv := val.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != durationType {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// Validate rejects configurations the engine cannot run with.
func Validate(cfg *domain.Config) error {
	s := cfg.Scoring
	for name, val := range map[string]float64{
		"scoring.auto_approve_threshold":    s.AutoApproveThreshold,
		"scoring.auto_block_threshold":      s.AutoBlockThreshold,
		"scoring.high_confidence_threshold": s.HighConfidenceThreshold,
		"scoring.new_customer_penalty":      s.NewCustomerPenalty,
		"scoring.embedding_match_threshold": s.EmbeddingMatchThreshold,
	} {
		if val < 0 || val > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, val)
		}
	}
	if s.AutoApproveThreshold >= s.AutoBlockThreshold {
		return fmt.Errorf("scoring.auto_approve_threshold (%v) must be below auto_block_threshold (%v)",
			s.AutoApproveThreshold, s.AutoBlockThreshold)
	}
	if s.MinTradesForConfidence < 0 {
		return fmt.Errorf("scoring.min_trades_for_confidence must not be negative")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", cfg.Server.Port)
	}
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		return fmt.Errorf("unknown tier %q", cfg.Tier)
	}
	return nil
}
