package domain

import "time"

// PayoutStatus is the lifecycle state of a payout request.
type PayoutStatus string

const (
	PayoutApproved      PayoutStatus = "APPROVED"
	PayoutBlocked       PayoutStatus = "BLOCKED"
	PayoutPendingReview PayoutStatus = "PENDING_REVIEW"
)

// StatusForDecision maps an engine decision to the initial payout status.
func StatusForDecision(d Decision) PayoutStatus {
	switch d {
	case DecisionApproved:
		return PayoutApproved
	case DecisionBlocked:
		return PayoutBlocked
	default:
		return PayoutPendingReview
	}
}

// PayoutRequest is the inbound withdrawal request.
type PayoutRequest struct {
	TraderID       string  `json:"trader_id"`
	Amount         float64 `json:"amount"`
	Method         string  `json:"method,omitempty"`
	DeviceID       string  `json:"device_id,omitempty"`
	IP             string  `json:"ip,omitempty"`
	Country        string  `json:"country,omitempty"`
	IsNewDevice    bool    `json:"is_new_device"`
	VPNDetected    bool    `json:"vpn_detected"`
	AccountAgeDays int     `json:"account_age_days,omitempty"`
	DepositAmount  float64 `json:"deposit_amount,omitempty"`
}

// Payout is a scored payout request and its review state.
type Payout struct {
	ID             string          `json:"payout_id"`
	TraderID       string          `json:"trader_id"`
	Amount         float64         `json:"amount"`
	Method         string          `json:"method"`
	Status         PayoutStatus    `json:"status"`
	Profile        UserProfile     `json:"profile"`
	Assessment     *RiskAssessment `json:"assessment"`
	LinkedAccounts []string        `json:"linked_accounts,omitempty"`
	AdminDecision  string          `json:"admin_decision,omitempty"`
	AdminNotes     string          `json:"admin_notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ReviewedAt     *time.Time      `json:"reviewed_at,omitempty"`
}

// Alert types.
const (
	AlertPayoutBlocked = "PAYOUT_BLOCKED"
	AlertPayoutReview  = "PAYOUT_REVIEW"
)

// Alert is raised for every payout that is not auto-approved.
type Alert struct {
	ID         string     `json:"alert_id"`
	Type       string     `json:"type"`
	PayoutID   string     `json:"payout_id"`
	TraderID   string     `json:"trader_id"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	Flags      []string   `json:"flags"`
	AutoAction AutoAction `json:"auto_action,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
