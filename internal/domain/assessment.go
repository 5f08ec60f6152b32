package domain

import "time"

// Decision is the categorical outcome of a payout assessment.
type Decision string

const (
	DecisionApproved     Decision = "APPROVED"
	DecisionBlocked      Decision = "BLOCKED"
	DecisionManualReview Decision = "MANUAL_REVIEW"
)

// Confidence is a qualitative strength indicator, distinct from the score.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Signal is one piece of evidence behind an assessment.
type Signal struct {
	Signal        string     `json:"signal,omitempty"`
	Pattern       string     `json:"pattern,omitempty"`
	Value         float64    `json:"value,omitempty"`
	TradesPerHour int        `json:"trades_per_hour,omitempty"`
	Risk          string     `json:"risk,omitempty"`
	Severity      Severity   `json:"severity,omitempty"`
	Confidence    float64    `json:"confidence,omitempty"`
	Similarity    float64    `json:"similarity,omitempty"`
	AnomalyScore  float64    `json:"anomaly_score,omitempty"`
	AutoAction    AutoAction `json:"auto_action,omitempty"`
	Message       string     `json:"message,omitempty"`
}

// Signals groups evidence by category.
type Signals struct {
	Behavioral []Signal `json:"behavioral"`
	Technical  []Signal `json:"technical"`
	Pattern    []Signal `json:"pattern"`
	Velocity   []Signal `json:"velocity"`
}

// NewSignals returns Signals with empty, non-nil groups.
func NewSignals() Signals {
	return Signals{
		Behavioral: []Signal{},
		Technical:  []Signal{},
		Pattern:    []Signal{},
		Velocity:   []Signal{},
	}
}

// RiskAssessment is the structured result of scoring a payout request.
// It is plain data and safe to serialize.
type RiskAssessment struct {
	TraderID         string              `json:"trader_id"`
	Score            float64             `json:"score"`
	Decision         Decision            `json:"decision"`
	Confidence       Confidence          `json:"confidence"`
	AutoAction       AutoAction          `json:"auto_action,omitempty"`
	Flags            []string            `json:"flags"`
	Signals          Signals             `json:"signals"`
	IsNewCustomer    bool                `json:"is_new_customer"`
	EmbeddingMatches []PatternMatch      `json:"embedding_matches"`
	Anomaly          AnomalyResult       `json:"anomaly"`
	GraphComparison  []PatternComparison `json:"graph_comparison"`
	RuleResults      []RuleResult        `json:"rule_results,omitempty"`
	Vector           FeatureVector       `json:"vector"`
	TotalTrades      int                 `json:"total_trades"`
	SuspiciousTrades int                 `json:"suspicious_trades"`
	UniqueDevices    int                 `json:"unique_devices"`
	UniqueIPs        int                 `json:"unique_ips"`
	UniqueCountries  int                 `json:"unique_countries"`
	TotalVolume      float64             `json:"total_volume"`
	ModelStats       ModelStats          `json:"model_stats"`
	AssessedAt       time.Time           `json:"assessed_at"`
}

// DecisionTally counts engine decisions.
type DecisionTally struct {
	Approved int `json:"approved"`
	Blocked  int `json:"blocked"`
	Reviewed int `json:"reviewed"`
}

// ModelStats is the feedback bookkeeping snapshot.
type ModelStats struct {
	ConfirmedFrauds     int           `json:"confirmed_frauds"`
	ConfirmedLegitimate int           `json:"confirmed_legitimate"`
	FeedbackCount       int           `json:"feedback_count"`
	Accuracy            string        `json:"accuracy"`
	AccuracyRaw         *float64      `json:"accuracy_raw"`
	FalsePositives      int           `json:"false_positives"`
	FalseNegatives      int           `json:"false_negatives"`
	Decisions           DecisionTally `json:"decisions"`
	LearnedPatterns     int           `json:"learned_patterns"`
}

// HumanDecision is a reviewer's verdict on a payout.
type HumanDecision string

const (
	HumanApprove HumanDecision = "approve"
	HumanBlock   HumanDecision = "block"
)

// ConfirmedCase is an append-only record of reviewer feedback.
type ConfirmedCase struct {
	ID          string        `json:"id"`
	TraderID    string        `json:"trader_id"`
	PayoutID    string        `json:"payout_id,omitempty"`
	Profile     *UserProfile  `json:"profile,omitempty"`
	RiskScore   float64       `json:"risk_score"`
	Flags       []string      `json:"flags"`
	Vector      FeatureVector `json:"vector,omitempty"`
	FraudType   string        `json:"fraud_type,omitempty"`
	Decision    HumanDecision `json:"decision"`
	ConfirmedAt time.Time     `json:"confirmed_at"`
}
