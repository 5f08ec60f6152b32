// Package domain defines the core interfaces and types for Payguard.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Known fraud type labels carried on trades.
const (
	FraudWashTrading     = "WASH_TRADING"
	FraudPumpAndDump     = "PUMP_AND_DUMP"
	FraudAccountTakeover = "ACCOUNT_TAKEOVER"
	FraudMoneyLaundering = "MONEY_LAUNDERING"
	FraudAdminConfirmed  = "ADMIN_CONFIRMED"
)

// TradeEvent is a single executed trade. Immutable once recorded.
type TradeEvent struct {
	TradeID    string    `json:"trade_id"`
	TraderID   string    `json:"trader_id"`
	TraderName string    `json:"trader_name,omitempty"`
	Symbol     string    `json:"symbol"`
	Type       string    `json:"type"` // "BUY" or "SELL"
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	TotalValue float64   `json:"total_value"`
	DeviceID   string    `json:"device_id"`
	IP         string    `json:"ip"`
	Country    string    `json:"country"`
	Timestamp  time.Time `json:"timestamp"`

	// IsFraud is serialized as 0/1.
	IsFraud   FraudFlag `json:"isFraud"`
	FraudType *string   `json:"fraud_type"`
	RingID    *string   `json:"ring_id"`

	// Risk is attached at ingestion by the per-trade assessor.
	Risk *TradeRisk `json:"risk,omitempty"`
}

// FraudFlag is a boolean that travels as 0/1 on the wire.
type FraudFlag bool

// MarshalJSON encodes the flag as 0 or 1.
func (f FraudFlag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

// UnmarshalJSON accepts 0/1, true/false and null.
func (f *FraudFlag) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "1", "true":
		*f = true
	case "0", "false", "null":
		*f = false
	default:
		return fmt.Errorf("invalid isFraud value %s", data)
	}
	return nil
}

// FraudTypeValue returns the fraud type or "" when absent.
func (t *TradeEvent) FraudTypeValue() string {
	if t.FraudType == nil {
		return ""
	}
	return *t.FraudType
}

// RingIDValue returns the ring id or "" when absent.
func (t *TradeEvent) RingIDValue() string {
	if t.RingID == nil {
		return ""
	}
	return *t.RingID
}

// RiskScore returns the recorded per-trade risk score, falling back to 0.9
// for fraud-flagged trades that were never scored.
func (t *TradeEvent) RiskScore() float64 {
	if t.Risk != nil && t.Risk.Score > 0 {
		return t.Risk.Score
	}
	if t.IsFraud {
		return 0.9
	}
	return 0
}

// IsSuspicious reports whether the trade counts toward the fraud ratio.
func (t *TradeEvent) IsSuspicious() bool {
	return bool(t.IsFraud) || (t.Risk != nil && t.Risk.Score > 0.6)
}

// Validate checks the fields required to record a trade.
func (t *TradeEvent) Validate() error {
	if t.TraderID == "" {
		return fmt.Errorf("trader_id is required")
	}
	if t.Type != SideBuy && t.Type != SideSell {
		return fmt.Errorf("type must be BUY or SELL, got %q", t.Type)
	}
	if t.TotalValue < 0 || t.Quantity < 0 || t.Price < 0 {
		return fmt.Errorf("quantity, price and total_value must not be negative")
	}
	return nil
}

// TradeRisk is the per-trade risk record produced at ingestion.
type TradeRisk struct {
	Score      float64   `json:"score"`
	RiskLevel  string    `json:"riskLevel"`
	Reasons    []string  `json:"reasons"`
	Decision   string    `json:"decision"`
	AssessedAt time.Time `json:"assessed_at"`
}

// Trade risk levels.
const (
	RiskLevelHigh   = "HIGH"
	RiskLevelMedium = "MEDIUM"
	RiskLevelLow    = "LOW"
)

// UserProfile is the requester context built per payout request.
type UserProfile struct {
	IsNewDevice    bool    `json:"is_new_device"`
	VPNDetected    bool    `json:"vpn_detected"`
	DeviceID       string  `json:"device_id"`
	IP             string  `json:"ip"`
	Country        string  `json:"country"`
	AccountAgeDays int     `json:"account_age_days"`
	DepositAmount  float64 `json:"deposit_amount"`
	KYCVerified    bool    `json:"kyc_verified"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
