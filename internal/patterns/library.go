// Package patterns holds the fraud typology catalog and the similarity
// matcher that scores feature vectors against it.
package patterns

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/payguard/internal/domain"
)

// Matching thresholds.
const (
	// DefaultMatchThreshold is the similarity a catalog match must reach.
	DefaultMatchThreshold = 0.65

	// anomalyMatchThreshold is the looser bar under which a distant vector
	// still counts as a known typology rather than an unknown anomaly.
	anomalyMatchThreshold = 0.6

	// anomalyDistance is the baseline distance beyond which a vector is unusual.
	anomalyDistance = 1.5

	// matchedFeatureTolerance bounds |v-p| for a dimension to count as matched.
	matchedFeatureTolerance = 0.3

	// deviationThreshold marks a dimension as anomalous in graph comparisons.
	deviationThreshold = 0.4

	// topComparisons is how many unthresholded comparisons are reported.
	topComparisons = 5
)

// Library is the pattern catalog plus learned patterns.
// It only grows. Safe for concurrent use.
type Library struct {
	mu       sync.RWMutex
	patterns []domain.FraudPattern
	learned  int
	now      func() time.Time
}

// NewLibrary returns a library seeded with the built-in catalog.
func NewLibrary() *Library {
	return &Library{
		patterns: Catalog(),
		now:      time.Now,
	}
}

// Patterns returns a copy of every pattern, built-ins first.
func (l *Library) Patterns() []domain.FraudPattern {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.FraudPattern, len(l.patterns))
	for i, p := range l.patterns {
		p.Vector = p.Vector.Clone()
		out[i] = p
	}
	return out
}

// LearnedCount returns how many patterns were appended at runtime.
func (l *Library) LearnedCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.learned
}

// Learn appends a pattern built from a confirmed case's vector and fraud type.
// No deduplication is attempted.
func (l *Library) Learn(vector domain.FeatureVector, fraudType string) (domain.FraudPattern, error) {
	if len(vector) != domain.Dimensions {
		return domain.FraudPattern{}, fmt.Errorf("learn pattern: vector has %d dimensions, want %d", len(vector), domain.Dimensions)
	}
	if fraudType == "" {
		fraudType = domain.FraudAdminConfirmed
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	id := fmt.Sprintf("LEARNED_%d", now.UnixMilli())
	// Two learns in the same millisecond must not collide.
	for l.hasID(id) {
		now = now.Add(time.Millisecond)
		id = fmt.Sprintf("LEARNED_%d", now.UnixMilli())
	}

	p := domain.FraudPattern{
		ID:          id,
		Category:    fraudType,
		Name:        "Learned: " + fraudType,
		Description: "Pattern learned from confirmed fraud case",
		Vector:      vector.Clone(),
		Severity:    domain.SeverityMedium,
		AutoAction:  domain.ActionFlagAndMonitor,
		Learned:     true,
		CreatedAt:   now,
	}
	l.patterns = append(l.patterns, p)
	l.learned++

	p.Vector = p.Vector.Clone()
	return p, nil
}

// Restore appends previously persisted learned patterns, skipping known ids.
func (l *Library) Restore(learned []domain.FraudPattern) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range learned {
		if len(p.Vector) != domain.Dimensions || l.hasID(p.ID) {
			continue
		}
		p.Vector = p.Vector.Clone()
		p.Learned = true
		l.patterns = append(l.patterns, p)
		l.learned++
	}
}

func (l *Library) hasID(id string) bool {
	for _, p := range l.patterns {
		if p.ID == id {
			return true
		}
	}
	return false
}

// FindMatches returns every pattern with similarity >= threshold, most similar first.
func (l *Library) FindMatches(v domain.FeatureVector, threshold float64) []domain.PatternMatch {
	l.mu.RLock()
	defer l.mu.RUnlock()

	matches := make([]domain.PatternMatch, 0)
	for _, p := range l.patterns {
		sim := Cosine(v, p.Vector)
		if sim < threshold {
			continue
		}
		matches = append(matches, domain.PatternMatch{
			PatternID:       p.ID,
			PatternName:     p.Name,
			Category:        p.Category,
			Similarity:      sim,
			Severity:        p.Severity,
			Description:     p.Description,
			AutoAction:      p.AutoAction,
			MatchedFeatures: MatchedFeatures(v, p.Vector),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches
}

// DetectAnomaly flags v only when it is far from baseline and matches no
// known pattern at the looser threshold.
func (l *Library) DetectAnomaly(v, baseline domain.FeatureVector) domain.AnomalyResult {
	dist := Euclidean(v, baseline)
	if dist <= anomalyDistance {
		return domain.AnomalyResult{Distance: dist}
	}
	if len(l.FindMatches(v, anomalyMatchThreshold)) > 0 {
		return domain.AnomalyResult{Distance: dist}
	}
	return domain.AnomalyResult{
		IsAnomaly:    true,
		AnomalyScore: min(1, dist/3),
		Distance:     dist,
		Message:      "Unknown fraud pattern - does not match known typologies",
		Vector:       v.Clone(),
	}
}

// TopComparisons returns the five most similar patterns without a threshold.
func (l *Library) TopComparisons(v domain.FeatureVector) []domain.PatternComparison {
	l.mu.RLock()
	out := make([]domain.PatternComparison, 0, len(l.patterns))
	for _, p := range l.patterns {
		out = append(out, domain.PatternComparison{
			Pattern:    p.Name,
			Category:   p.Category,
			Similarity: Cosine(v, p.Vector),
			Severity:   p.Severity,
		})
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	if len(out) > topComparisons {
		out = out[:topComparisons]
	}
	return out
}

// MatchedFeatures lists the dimensions where v is elevated and close to p.
func MatchedFeatures(v, p domain.FeatureVector) []string {
	matched := make([]string, 0)
	for i := 0; i < len(v) && i < len(p) && i < domain.Dimensions; i++ {
		d := v[i] - p[i]
		if d < 0 {
			d = -d
		}
		if d < matchedFeatureTolerance && v[i] > 0.5 {
			matched = append(matched, domain.FeatureKeys[i])
		}
	}
	return matched
}

// CompareGraphs contrasts two vectors dimension by dimension.
func CompareGraphs(suspect, normal domain.FeatureVector) domain.GraphComparison {
	cmp := domain.GraphComparison{
		SuspectVector:     suspect.Clone(),
		NormalVector:      normal.Clone(),
		OverallSimilarity: Cosine(suspect, normal),
		FeatureComparison: make([]domain.FeatureDeviation, 0, domain.Dimensions),
		AnomalousFeatures: make([]domain.FeatureDeviation, 0),
	}
	for i := 0; i < domain.Dimensions && i < len(suspect) && i < len(normal); i++ {
		d := suspect[i] - normal[i]
		if d < 0 {
			d = -d
		}
		fd := domain.FeatureDeviation{
			Feature:     domain.FeatureLabels[i],
			Suspect:     suspect[i],
			Normal:      normal[i],
			Deviation:   d,
			IsAnomalous: d > deviationThreshold,
		}
		cmp.FeatureComparison = append(cmp.FeatureComparison, fd)
		if fd.IsAnomalous {
			cmp.AnomalousFeatures = append(cmp.AnomalousFeatures, fd)
		}
	}
	return cmp
}
