package graph

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/payguard/internal/domain"
)

const (
	suspectedRingRisk    = 0.4
	suspectedRingAvgRisk = 0.6
	minSuspectedMembers  = 2
)

type accountSnapshot struct {
	id        string
	risk      float64
	ringID    string
	fraudType string
	volume    decimal.Decimal
}

func (g *Graph) accounts() []accountSnapshot {
	var out []accountSnapshot
	g.nodes.Range(func(_, v any) bool {
		n := v.(*node)
		n.mu.Lock()
		if n.typ == domain.NodeAccount {
			out = append(out, accountSnapshot{
				id:        n.id,
				risk:      n.risk,
				ringID:    n.metadata["ring_id"],
				fraudType: n.metadata["fraud_type"],
				volume:    n.volume,
			})
		}
		n.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Rings groups accounts by their explicit ring id, then clusters the
// remaining elevated-risk accounts by fraud type into suspected rings.
func (g *Graph) Rings() []domain.Ring {
	now := g.now()
	explicit := make(map[string][]accountSnapshot)
	suspected := make(map[string][]accountSnapshot)

	for _, a := range g.accounts() {
		switch {
		case a.ringID != "":
			explicit[a.ringID] = append(explicit[a.ringID], a)
		case a.risk > suspectedRingRisk:
			ft := a.fraudType
			if ft == "" {
				ft = "UNCLASSIFIED"
			}
			key := "DEV-" + ft
			suspected[key] = append(suspected[key], a)
		}
	}

	rings := make([]domain.Ring, 0, len(explicit)+len(suspected))
	for id, members := range explicit {
		r := buildRing(id, members, now)
		var sum float64
		for _, m := range members {
			sum += m.risk
		}
		r.AvgRisk = sum / float64(len(members))
		r.FraudType = members[0].fraudType
		if r.FraudType == "" {
			r.FraudType = "UNKNOWN"
		}
		rings = append(rings, r)
	}
	for key, members := range suspected {
		if len(members) < minSuspectedMembers {
			continue
		}
		r := buildRing("SUSPECTED-"+key, members, now)
		r.AvgRisk = suspectedRingAvgRisk
		r.FraudType = domain.FraudSuspectedRing
		rings = append(rings, r)
	}

	sort.Slice(rings, func(i, j int) bool { return rings[i].RingID < rings[j].RingID })
	return rings
}

func buildRing(id string, members []accountSnapshot, now time.Time) domain.Ring {
	ids := make([]string, len(members))
	total := decimal.Zero
	for i, m := range members {
		ids[i] = m.id
		total = total.Add(m.volume)
	}
	return domain.Ring{
		RingID:      id,
		Members:     ids,
		MemberCount: len(ids),
		TotalVolume: total.InexactFloat64(),
		DetectedAt:  now,
	}
}

// InfrastructureClusters returns connected groups of at least two accounts
// that are joined through shared devices or IPs.
func (g *Graph) InfrastructureClusters() []domain.Ring {
	accts := g.accounts()
	byID := make(map[string]accountSnapshot, len(accts))
	for _, a := range accts {
		byID[a.id] = a
	}

	visited := make(map[string]bool)
	var clusters [][]accountSnapshot

	for _, start := range accts {
		if visited[start.id] {
			continue
		}
		visited[start.id] = true

		var members []accountSnapshot
		queue := []string{start.id}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if a, ok := byID[id]; ok {
				members = append(members, a)
			}
			for _, nb := range g.neighbors(id) {
				if visited[nb] {
					continue
				}
				switch g.nodeType(nb) {
				case domain.NodeAccount, domain.NodeDevice, domain.NodeIP:
					visited[nb] = true
					queue = append(queue, nb)
				}
			}
		}
		if len(members) >= minSuspectedMembers {
			sort.Slice(members, func(i, j int) bool { return members[i].id < members[j].id })
			clusters = append(clusters, members)
		}
	}

	now := g.now()
	out := make([]domain.Ring, 0, len(clusters))
	for i, members := range clusters {
		r := buildRing(fmt.Sprintf("INFRA-%03d", i+1), members, now)
		var sum float64
		for _, m := range members {
			sum += m.risk
		}
		r.AvgRisk = sum / float64(len(members))
		r.FraudType = "SHARED_INFRASTRUCTURE"
		out = append(out, r)
	}
	return out
}
