package domain

// Outcomes a custom rule band can resolve to.
const (
	RuleOutcomePass   = ".pass"
	RuleOutcomeFail   = ".fail"
	RuleOutcomeReview = ".review"
	RuleOutcomeError  = ".err"
)

// RuleConfig is an operator-supplied CEL rule evaluated against every payout.
// A failing rule adds Weight to the payout's risk score; a review outcome
// only flags the assessment.
type RuleConfig struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Version     string     `json:"version"`
	Expression  string     `json:"expression"`
	Bands       []RuleBand `json:"bands"`
	Weight      float64    `json:"weight"`
	Enabled     bool       `json:"enabled"`
}

// RuleBand maps the half-open range [LowerLimit, UpperLimit) of an
// expression's value to an outcome. A nil LowerLimit is 0 and a nil
// UpperLimit is unbounded.
type RuleBand struct {
	LowerLimit *float64 `json:"lower_limit,omitempty"`
	UpperLimit *float64 `json:"upper_limit,omitempty"`
	SubRuleRef string   `json:"outcome"`
	Reason     string   `json:"reason"`
}

// Contains reports whether score falls inside the band.
func (b RuleBand) Contains(score float64) bool {
	if b.LowerLimit != nil && score < *b.LowerLimit {
		return false
	}
	if b.LowerLimit == nil && score < 0 {
		return false
	}
	return b.UpperLimit == nil || score < *b.UpperLimit
}

// RuleResult is one rule's verdict on one payout.
type RuleResult struct {
	RuleID     string  `json:"rule_id"`
	TraderID   string  `json:"trader_id"`
	SubRuleRef string  `json:"outcome"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason"`
	Weight     float64 `json:"weight"`
	ProcessMs  int64   `json:"process_ms"`
}
