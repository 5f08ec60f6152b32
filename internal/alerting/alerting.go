// Package alerting raises alerts for payouts the engine did not auto-approve.
package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/payguard/internal/domain"
	"github.com/opensource-finance/payguard/internal/metrics"
)

const maxAlertFlags = 3

// Store persists alerts. domain.Repository satisfies it.
type Store interface {
	SaveAlert(ctx context.Context, alert *domain.Alert) error
}

// Notifier builds, stores and publishes alerts. Every dependency is optional.
type Notifier struct {
	store   Store
	bus     domain.EventBus
	metrics *metrics.Collector
	now     func() time.Time
}

// NewNotifier creates a notifier.
func NewNotifier(store Store, bus domain.EventBus, m *metrics.Collector) *Notifier {
	return &Notifier{
		store:   store,
		bus:     bus,
		metrics: m,
		now:     time.Now,
	}
}

// SeverityFor grades an alert by payout risk score.
func SeverityFor(score float64) domain.Severity {
	switch {
	case score > 0.8:
		return domain.SeverityCritical
	case score > 0.6:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}

// Build returns the alert for a payout, or nil when it was approved.
func (n *Notifier) Build(p *domain.Payout) *domain.Alert {
	if p == nil || p.Status == domain.PayoutApproved || p.Assessment == nil {
		return nil
	}
	a := p.Assessment

	typ := domain.AlertPayoutReview
	if p.Status == domain.PayoutBlocked {
		typ = domain.AlertPayoutBlocked
	}

	flags := a.Flags
	if len(flags) > maxAlertFlags {
		flags = flags[:maxAlertFlags]
	}

	return &domain.Alert{
		ID:         uuid.New().String(),
		Type:       typ,
		PayoutID:   p.ID,
		TraderID:   p.TraderID,
		Severity:   SeverityFor(a.Score),
		Message:    fmt.Sprintf("Payout $%.2f - %s (%d%% risk)", p.Amount, p.Status, int(math.Round(a.Score*100))),
		Flags:      append([]string(nil), flags...),
		AutoAction: a.AutoAction,
		CreatedAt:  n.now().UTC(),
	}
}

// Raise builds the alert for p and, if there is one, persists and publishes
// it. Delivery failures are logged; the alert is still returned.
func (n *Notifier) Raise(ctx context.Context, p *domain.Payout) *domain.Alert {
	alert := n.Build(p)
	if alert == nil {
		return nil
	}

	if n.store != nil {
		if err := n.store.SaveAlert(ctx, alert); err != nil {
			slog.Error("failed to save alert", "alert_id", alert.ID, "payout_id", p.ID, "error", err)
		}
	}

	if n.bus != nil {
		payload, err := json.Marshal(alert)
		if err == nil {
			err = n.bus.Publish(ctx, domain.TopicAlert, alert.TraderID, payload)
		}
		if err != nil {
			slog.Error("failed to publish alert", "alert_id", alert.ID, "error", err)
		}
	}

	if n.metrics != nil {
		n.metrics.AlertsRaised.WithLabelValues(string(alert.Severity)).Inc()
	}

	slog.Warn("payout alert raised",
		"alert_id", alert.ID,
		"payout_id", alert.PayoutID,
		"trader_id", alert.TraderID,
		"severity", alert.Severity,
		"type", alert.Type,
	)
	return alert
}
