// Package features turns a trader's history and request profile into a
// normalized FeatureVector.
package features

import (
	"math"
	"time"

	"github.com/opensource-finance/payguard/internal/domain"
)

// defaultGap is the inter-trade gap assumed when there is no span to measure.
const defaultGap = 24 * time.Hour

// Summary holds the raw aggregates behind a FeatureVector.
type Summary struct {
	Count           int
	TotalValue      float64
	Buys            int
	Sells           int
	Suspicious      int
	UniqueDevices   int
	UniqueIPs       int
	UniqueCountries int
	First           time.Time
	Last            time.Time
}

// Span is the time between the first and last trade, or 0 with fewer than two trades.
func (s Summary) Span() time.Duration {
	if s.Count < 2 {
		return 0
	}
	return s.Last.Sub(s.First)
}

// Summarize aggregates trades. Nil entries are skipped.
func Summarize(trades []*domain.TradeEvent) Summary {
	var s Summary
	devices := make(map[string]struct{})
	ips := make(map[string]struct{})
	countries := make(map[string]struct{})

	for _, t := range trades {
		if t == nil {
			continue
		}
		s.Count++
		s.TotalValue += t.TotalValue
		switch t.Type {
		case domain.SideBuy:
			s.Buys++
		case domain.SideSell:
			s.Sells++
		}
		if t.IsSuspicious() {
			s.Suspicious++
		}
		devices[t.DeviceID] = struct{}{}
		ips[t.IP] = struct{}{}
		countries[t.Country] = struct{}{}

		if s.First.IsZero() || t.Timestamp.Before(s.First) {
			s.First = t.Timestamp
		}
		if t.Timestamp.After(s.Last) {
			s.Last = t.Timestamp
		}
	}

	s.UniqueDevices = len(devices)
	s.UniqueIPs = len(ips)
	s.UniqueCountries = len(countries)
	return s
}

// Extract builds the 12-dimension vector for trades and profile.
// It never mutates its inputs and never yields NaN or Inf.
func Extract(trades []*domain.TradeEvent, profile domain.UserProfile) domain.FeatureVector {
	return FromSummary(Summarize(trades), profile)
}

// FromSummary builds the vector from precomputed aggregates.
func FromSummary(s Summary, profile domain.UserProfile) domain.FeatureVector {
	n := float64(max(s.Count, 1))

	spanHours := 24.0
	avgGapMs := float64(defaultGap.Milliseconds())
	if s.Count >= 2 {
		span := s.Span()
		spanHours = span.Hours()
		avgGapMs = float64(span.Milliseconds()) / n
	}

	var sellPressure float64
	if s.Sells > 2*s.Buys {
		sellPressure = 0.9
	} else {
		sellPressure = float64(s.Sells) / float64(max(s.Buys, 1)) / 2
	}

	v := domain.FeatureVector{
		n / 100,
		n / math.Max(spanHours, 1) / 10,
		float64(s.UniqueDevices) / 5,
		float64(s.Suspicious) / n,
		boolValue(profile.IsNewDevice),
		boolValue(profile.VPNDetected),
		float64(s.UniqueIPs) / 10,
		1 - math.Min(1, float64(profile.AccountAgeDays)/365),
		sellPressure,
		float64(s.UniqueCountries) / 5,
		s.TotalValue / 500000,
		avgGapMs / 60000,
	}
	for i := range v {
		v[i] = clip(v[i])
	}
	return v
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// clip bounds x to [0,1], mapping NaN to 0.
func clip(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
