package scoring

import "github.com/opensource-finance/payguard/internal/domain"

// decide maps the final score to a decision. The first matching rule wins:
// a CRITICAL pattern at the block threshold, the block threshold alone,
// a low score for an established trader, a low score for a new trader,
// then everything else.
func (s *Scorer) decide(a *assessment, isNewCustomer bool) (domain.Decision, domain.Confidence, domain.AutoAction) {
	critical := firstCritical(a.signals.Pattern)

	switch {
	case critical != nil && a.score >= s.cfg.AutoBlockThreshold:
		action := critical.AutoAction
		if action == "" {
			action = domain.ActionBlockAndNotify
		}
		return domain.DecisionBlocked, domain.ConfidenceHigh, action

	case a.score >= s.cfg.AutoBlockThreshold:
		return domain.DecisionBlocked, domain.ConfidenceHigh, domain.ActionFlagAndMonitor

	case a.score <= s.cfg.AutoApproveThreshold && !isNewCustomer:
		if a.score <= s.cfg.HighConfidenceThreshold {
			return domain.DecisionApproved, domain.ConfidenceHigh, ""
		}
		return domain.DecisionApproved, domain.ConfidenceMedium, ""

	case a.score <= s.cfg.AutoApproveThreshold:
		a.flags = append(a.flags, "New customer - requires human verification")
		return domain.DecisionManualReview, domain.ConfidenceLow, ""

	default:
		return domain.DecisionManualReview, domain.ConfidenceMedium, ""
	}
}

func firstCritical(signals []domain.Signal) *domain.Signal {
	for i := range signals {
		if signals[i].Severity == domain.SeverityCritical {
			return &signals[i]
		}
	}
	return nil
}
