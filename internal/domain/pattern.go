package domain

import "time"

// Dimensions is the fixed length of a FeatureVector.
const Dimensions = 12

// FeatureVector is a normalized trading-session summary. Every component is in [0,1].
type FeatureVector []float64

// Feature indexes in vector order.
const (
	FeatureTradeCount = iota
	FeatureVelocity
	FeatureDeviceDiversity
	FeatureFraudRatio
	FeatureNewDevice
	FeatureVPN
	FeatureIPDiversity
	FeatureAccountNewness
	FeatureSellPressure
	FeatureCountryDiversity
	FeatureVolume
	FeatureTradeSpeed
)

// FeatureKeys are the machine names of each dimension.
var FeatureKeys = [Dimensions]string{
	"trade_count", "velocity", "device_switching", "fraud_ratio",
	"new_device", "vpn_usage", "ip_switching", "account_newness",
	"sell_pressure", "country_switching", "volume", "trade_speed",
}

// FeatureLabels are the report labels of each dimension.
var FeatureLabels = [Dimensions]string{
	"Trade Count", "Velocity", "Device Changes", "Fraud Ratio",
	"New Device", "VPN", "IP Changes", "Account Age",
	"Sell Pressure", "Countries", "Volume", "Speed",
}

// Map returns the vector keyed by feature name.
func (v FeatureVector) Map() map[string]float64 {
	out := make(map[string]float64, len(v))
	for i, val := range v {
		if i < Dimensions {
			out[FeatureKeys[i]] = val
		}
	}
	return out
}

// Clone returns a copy of the vector.
func (v FeatureVector) Clone() FeatureVector {
	if v == nil {
		return nil
	}
	out := make(FeatureVector, len(v))
	copy(out, v)
	return out
}

// Severity grades a fraud pattern.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AutoAction is the recommended response to a pattern.
type AutoAction string

const (
	ActionBlockAndNotify AutoAction = "BLOCK_AND_NOTIFY"
	ActionLockAccount    AutoAction = "LOCK_ACCOUNT"
	ActionFlagAndMonitor AutoAction = "FLAG_AND_MONITOR"
)

// FraudPattern is a named typology fingerprint.
type FraudPattern struct {
	ID          string        `json:"id"`
	Category    string        `json:"category"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Vector      FeatureVector `json:"vector"`
	Severity    Severity      `json:"severity"`
	AutoAction  AutoAction    `json:"auto_action"`
	Learned     bool          `json:"learned"`
	CreatedAt   time.Time     `json:"created_at,omitempty"`
}

// PatternMatch is a catalog pattern whose similarity passed a threshold.
type PatternMatch struct {
	PatternID       string     `json:"pattern_id"`
	PatternName     string     `json:"pattern_name"`
	Category        string     `json:"category"`
	Similarity      float64    `json:"similarity"`
	Severity        Severity   `json:"severity"`
	Description     string     `json:"description"`
	AutoAction      AutoAction `json:"auto_action"`
	MatchedFeatures []string   `json:"matched_features"`
}

// PatternComparison is an unthresholded similarity against one pattern.
type PatternComparison struct {
	Pattern    string   `json:"pattern"`
	Category   string   `json:"category"`
	Similarity float64  `json:"similarity"`
	Severity   Severity `json:"severity"`
}

// AnomalyResult is the outcome of distance-from-baseline detection.
type AnomalyResult struct {
	IsAnomaly    bool          `json:"is_anomaly"`
	AnomalyScore float64       `json:"anomaly_score"`
	Distance     float64       `json:"distance"`
	Message      string        `json:"message,omitempty"`
	Vector       FeatureVector `json:"vector,omitempty"`
}

// FeatureDeviation compares one dimension of two vectors.
type FeatureDeviation struct {
	Feature     string  `json:"feature"`
	Suspect     float64 `json:"suspect"`
	Normal      float64 `json:"normal"`
	Deviation   float64 `json:"deviation"`
	IsAnomalous bool    `json:"is_anomalous"`
}

// GraphComparison contrasts a suspect trading history with a normal one.
type GraphComparison struct {
	SuspectVector     FeatureVector      `json:"suspect_vector"`
	NormalVector      FeatureVector      `json:"normal_vector"`
	OverallSimilarity float64            `json:"overall_similarity"`
	FeatureComparison []FeatureDeviation `json:"feature_comparison"`
	AnomalousFeatures []FeatureDeviation `json:"anomalous_features"`
}
