package patterns

import "github.com/opensource-finance/payguard/internal/domain"

// NormalBaseline is the reference vector of an ordinary trader.
var NormalBaseline = domain.FeatureVector{0.3, 0.2, 0.1, 0.05, 0.1, 0.1, 0.15, 0.4, 0.4, 0.05, 0.3, 0.6}

// Catalog returns the built-in typologies in their fixed order.
// Each call returns fresh copies.
func Catalog() []domain.FraudPattern {
	return []domain.FraudPattern{
		{
			ID:          "EMB_NO_TRADE",
			Category:    "NO_TRADE_FRAUD",
			Name:        "No Trade Fraud",
			Description: "Deposit with minimal trading activity followed by withdrawal attempt",
			Vector:      domain.FeatureVector{0.95, 0.1, 0.05, 0.9, 0.8, 0.2, 0.1, 0.9, 0.85, 0.15, 0.1, 0.95},
			Severity:    domain.SeverityCritical,
			AutoAction:  domain.ActionBlockAndNotify,
		},
		{
			ID:          "EMB_SHORT_TRADE",
			Category:    "SHORT_TRADE_ABUSE",
			Name:        "Short Trade Abuse",
			Description: "Minimal trade activity with immediate close and withdrawal",
			Vector:      domain.FeatureVector{0.8, 0.25, 0.15, 0.85, 0.7, 0.3, 0.2, 0.8, 0.75, 0.25, 0.2, 0.85},
			Severity:    domain.SeverityHigh,
			AutoAction:  domain.ActionFlagAndMonitor,
		},
		{
			ID:          "EMB_VELOCITY",
			Category:    "VELOCITY_ABUSE",
			Name:        "Velocity Abuse",
			Description: "Unusual number of transactions in short time period",
			Vector:      domain.FeatureVector{0.6, 0.9, 0.85, 0.4, 0.7, 0.5, 0.8, 0.6, 0.65, 0.7, 0.75, 0.55},
			Severity:    domain.SeverityHigh,
			AutoAction:  domain.ActionFlagAndMonitor,
		},
		{
			ID:          "EMB_GEO_FRAUD",
			Category:    "GEO_IMPOSSIBILITY",
			Name:        "Geographic Impossibility",
			Description: "Login/trades from physically impossible locations in timeframe",
			Vector:      domain.FeatureVector{0.3, 0.4, 0.2, 0.3, 0.95, 0.9, 0.85, 0.3, 0.35, 0.9, 0.85, 0.4},
			Severity:    domain.SeverityCritical,
			AutoAction:  domain.ActionLockAccount,
		},
		{
			ID:          "EMB_WASH",
			Category:    "WASH_TRADING",
			Name:        "Wash Trading Ring",
			Description: "Circular trades between connected accounts",
			Vector:      domain.FeatureVector{0.7, 0.6, 0.9, 0.5, 0.4, 0.3, 0.85, 0.7, 0.75, 0.4, 0.9, 0.65},
			Severity:    domain.SeverityCritical,
			AutoAction:  domain.ActionBlockAndNotify,
		},
		{
			ID:          "EMB_ATO",
			Category:    "ACCOUNT_TAKEOVER",
			Name:        "Account Takeover",
			Description: "Unauthorized access with behavior change",
			Vector:      domain.FeatureVector{0.4, 0.3, 0.25, 0.85, 0.9, 0.95, 0.7, 0.75, 0.6, 0.85, 0.7, 0.8},
			Severity:    domain.SeverityCritical,
			AutoAction:  domain.ActionLockAccount,
		},
		{
			ID:          "EMB_PUMP",
			Category:    "PUMP_AND_DUMP",
			Name:        "Pump and Dump",
			Description: "Coordinated buying followed by large sell-off",
			Vector:      domain.FeatureVector{0.75, 0.7, 0.6, 0.4, 0.3, 0.25, 0.65, 0.8, 0.85, 0.35, 0.7, 0.7},
			Severity:    domain.SeverityHigh,
			AutoAction:  domain.ActionFlagAndMonitor,
		},
		{
			ID:          "EMB_ML",
			Category:    "MONEY_LAUNDERING",
			Name:        "Money Laundering Pattern",
			Description: "Structuring deposits and rapid withdrawal",
			Vector:      domain.FeatureVector{0.85, 0.2, 0.1, 0.9, 0.6, 0.5, 0.3, 0.9, 0.8, 0.5, 0.25, 0.9},
			Severity:    domain.SeverityCritical,
			AutoAction:  domain.ActionLockAccount,
		},
		{
			ID:          "EMB_CARD_TEST",
			Category:    "CARD_TESTING",
			Name:        "Card Testing",
			Description: "Multiple small deposits to test card validity",
			Vector:      domain.FeatureVector{0.6, 0.85, 0.9, 0.3, 0.4, 0.35, 0.8, 0.5, 0.55, 0.45, 0.85, 0.45},
			Severity:    domain.SeverityHigh,
			AutoAction:  domain.ActionFlagAndMonitor,
		},
	}
}
