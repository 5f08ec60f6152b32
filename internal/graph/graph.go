// Package graph maintains the incremental relationship graph of accounts,
// devices, IPs, assets and the security sentinel.
//
// Nodes and edges live in sync.Maps and each carries its own mutex, so
// writers only contend when they touch the same node or the same pair.
package graph

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/payguard/internal/domain"
)

// Defaults.
const (
	DefaultMaterialityThreshold = 50000
	DefaultMaxEdgeSamples       = 50

	flaggedRisk       = 0.7
	flaggedDeviceRisk = 0.8
	blockedRisk       = 0.8
	flaggedWeight     = 5
)

type node struct {
	mu sync.Mutex

	id          string
	typ         string
	risk        float64
	metadata    map[string]string
	connections int
	neighbors   map[string]struct{}
	firstSeen   time.Time
	lastSeen    time.Time

	// account volume, and the part of it traded at blocking risk
	volume        decimal.Decimal
	flaggedVolume decimal.Decimal
}

type edge struct {
	mu sync.Mutex

	source  string
	target  string
	typ     string
	weight  decimal.Decimal
	samples []domain.EdgeSample
}

// Graph is safe for concurrent use.
type Graph struct {
	nodes sync.Map // id -> *node
	edges sync.Map // pair key -> *edge

	nodeCount atomic.Int64
	edgeCount atomic.Int64

	materiality decimal.Decimal
	maxSamples  int
	now         func() time.Time
}

// New creates a graph holding only the security sentinel.
func New(cfg domain.GraphConfig) *Graph {
	materiality := cfg.MaterialityThreshold
	if materiality <= 0 {
		materiality = DefaultMaterialityThreshold
	}
	maxSamples := cfg.MaxEdgeSamples
	if maxSamples <= 0 {
		maxSamples = DefaultMaxEdgeSamples
	}

	g := &Graph{
		materiality: decimal.NewFromFloat(materiality),
		maxSamples:  maxSamples,
		now:         time.Now,
	}
	g.upsertNode(domain.SecurityNodeID, domain.NodeSecurity, map[string]string{"label": "Security AI"})
	return g
}

// ProcessTransaction folds one trade into the graph.
func (g *Graph) ProcessTransaction(t *domain.TradeEvent) {
	if t == nil || t.TraderID == "" {
		return
	}

	risk := t.RiskScore()
	value := decimal.NewFromFloat(t.TotalValue)
	sample := domain.EdgeSample{TradeID: t.TradeID, Amount: t.TotalValue, Risk: risk, Type: t.Type}

	meta := map[string]string{"last_tx": t.Timestamp.Format(time.RFC3339)}
	if t.TraderName != "" {
		meta["name"] = t.TraderName
	}
	if ring := t.RingIDValue(); ring != "" {
		meta["ring_id"] = ring
	}
	if ft := t.FraudTypeValue(); ft != "" {
		meta["fraud_type"] = ft
	}

	account := g.upsertNode(t.TraderID, domain.NodeAccount, meta)
	account.mu.Lock()
	if risk > account.risk {
		account.risk = risk
	}
	account.volume = account.volume.Add(value)
	if risk > blockedRisk {
		account.flaggedVolume = account.flaggedVolume.Add(value)
	}
	account.mu.Unlock()

	if risk > flaggedRisk {
		g.addEdge(domain.SecurityNodeID, t.TraderID, domain.EdgeFlagged, decimal.NewFromInt(flaggedWeight),
			&domain.EdgeSample{TradeID: t.TradeID, Risk: risk, Reason: "High Risk Activity"})
	}

	seen := map[string]string{"last_seen": t.Timestamp.Format(time.RFC3339)}

	if t.DeviceID != "" {
		g.raiseRisk(g.upsertNode(t.DeviceID, domain.NodeDevice, seen), risk)
		g.addEdge(t.TraderID, t.DeviceID, domain.EdgeUsesDevice, value, &sample)

		if t.IsFraud || risk > flaggedDeviceRisk {
			g.addEdge(domain.SecurityNodeID, t.DeviceID, domain.EdgeFlaggedDevice, decimal.NewFromInt(flaggedWeight), nil)
		}
	}

	if t.IP != "" {
		ipID := IPNodeID(t.IP)
		g.raiseRisk(g.upsertNode(ipID, domain.NodeIP, seen), risk)
		g.addEdge(t.TraderID, ipID, domain.EdgeFromIP, value, &sample)
	}

	if t.Symbol != "" && value.GreaterThan(g.materiality) {
		g.upsertNode(t.Symbol, domain.NodeAsset, map[string]string{"kind": "instrument"})
		g.addEdge(t.TraderID, t.Symbol, domain.EdgeTrades, value, &sample)
	}
}

// IPNodeID namespaces IP addresses so they cannot collide with other ids.
func IPNodeID(ip string) string {
	return "IP:" + ip
}

func (g *Graph) upsertNode(id, typ string, metadata map[string]string) *node {
	now := g.now()
	fresh := &node{
		id:        id,
		typ:       typ,
		metadata:  make(map[string]string, len(metadata)),
		neighbors: make(map[string]struct{}),
		firstSeen: now,
	}
	v, loaded := g.nodes.LoadOrStore(id, fresh)
	n := v.(*node)
	if !loaded {
		g.nodeCount.Add(1)
	}

	n.mu.Lock()
	for k, val := range metadata {
		n.metadata[k] = val
	}
	n.lastSeen = now
	n.mu.Unlock()
	return n
}

func (g *Graph) raiseRisk(n *node, risk float64) {
	n.mu.Lock()
	if risk > n.risk {
		n.risk = risk
	}
	n.mu.Unlock()
}

// addEdge creates or reinforces the single edge for the unordered pair.
func (g *Graph) addEdge(source, target, typ string, weight decimal.Decimal, sample *domain.EdgeSample) {
	key := pairKey(source, target)
	v, loaded := g.edges.LoadOrStore(key, &edge{source: source, target: target, typ: typ})
	e := v.(*edge)
	if !loaded {
		g.edgeCount.Add(1)
	}

	e.mu.Lock()
	e.weight = e.weight.Add(weight)
	if sample != nil {
		e.samples = append(e.samples, *sample)
		if over := len(e.samples) - g.maxSamples; over > 0 {
			e.samples = append(e.samples[:0:0], e.samples[over:]...)
		}
	}
	e.mu.Unlock()

	g.link(source, target)
	g.link(target, source)
}

func (g *Graph) link(from, to string) {
	v, ok := g.nodes.Load(from)
	if !ok {
		return
	}
	n := v.(*node)
	n.mu.Lock()
	n.neighbors[to] = struct{}{}
	n.connections++
	n.mu.Unlock()
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

// NodeCount returns the number of nodes, sentinel included.
func (g *Graph) NodeCount() int {
	return int(g.nodeCount.Load())
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return int(g.edgeCount.Load())
}

// Node returns a snapshot of one node.
func (g *Graph) Node(id string) (domain.GraphNode, bool) {
	v, ok := g.nodes.Load(id)
	if !ok {
		return domain.GraphNode{}, false
	}
	return v.(*node).snapshot(), true
}

// Edge returns a snapshot of the edge between a and b in either order.
func (g *Graph) Edge(a, b string) (domain.GraphEdge, bool) {
	v, ok := g.edges.Load(pairKey(a, b))
	if !ok {
		return domain.GraphEdge{}, false
	}
	return v.(*edge).snapshot(true), true
}

func (n *node) snapshot() domain.GraphNode {
	n.mu.Lock()
	defer n.mu.Unlock()

	meta := make(map[string]string, len(n.metadata))
	for k, v := range n.metadata {
		meta[k] = v
	}
	return domain.GraphNode{
		ID:          n.id,
		Type:        n.typ,
		Risk:        n.risk,
		Metadata:    meta,
		Connections: n.connections,
		FirstSeen:   n.firstSeen,
		LastSeen:    n.lastSeen,
	}
}

func (e *edge) snapshot(withSamples bool) domain.GraphEdge {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := domain.GraphEdge{
		Source: e.source,
		Target: e.target,
		Type:   e.typ,
		Weight: e.weight.InexactFloat64(),
	}
	if withSamples && len(e.samples) > 0 {
		out.Transactions = append([]domain.EdgeSample(nil), e.samples...)
	}
	return out
}

// Graph returns a visualization snapshot. Account nodes below minRisk are
// left out along with their edges.
func (g *Graph) Graph(minRisk float64) domain.GraphView {
	view := domain.GraphView{
		Nodes: make([]domain.GraphNode, 0, g.NodeCount()),
		Links: make([]domain.GraphEdge, 0, g.EdgeCount()),
	}
	kept := make(map[string]struct{})

	g.nodes.Range(func(_, v any) bool {
		n := v.(*node).snapshot()
		if n.Type == domain.NodeAccount && n.Risk < minRisk {
			return true
		}
		kept[n.ID] = struct{}{}
		view.Nodes = append(view.Nodes, n)
		return true
	})

	g.edges.Range(func(_, v any) bool {
		e := v.(*edge).snapshot(false)
		_, okS := kept[e.Source]
		_, okT := kept[e.Target]
		if okS && okT {
			view.Links = append(view.Links, e)
		}
		return true
	})

	sort.Slice(view.Nodes, func(i, j int) bool { return view.Nodes[i].ID < view.Nodes[j].ID })
	sort.Slice(view.Links, func(i, j int) bool {
		return pairKey(view.Links[i].Source, view.Links[i].Target) < pairKey(view.Links[j].Source, view.Links[j].Target)
	})
	return view
}

// Stats summarizes account risk and traded volume.
func (g *Graph) Stats() domain.GraphStats {
	var dist domain.RiskDistribution
	total := decimal.Zero
	blocked := decimal.Zero

	g.nodes.Range(func(_, v any) bool {
		n := v.(*node)
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.typ != domain.NodeAccount {
			return true
		}
		switch {
		case n.risk > 0.8:
			dist.High++
		case n.risk > 0.4:
			dist.Medium++
		default:
			dist.Low++
		}
		total = total.Add(n.volume)
		blocked = blocked.Add(n.flaggedVolume)
		return true
	})

	rate := 95.0
	if total.IsPositive() {
		rate = total.Sub(blocked).Div(total).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}

	return domain.GraphStats{
		TotalNodes:       g.NodeCount(),
		TotalEdges:       g.EdgeCount(),
		ActiveRings:      len(g.Rings()),
		RiskDistribution: dist,
		TotalVolume:      total.InexactFloat64(),
		BlockedVolume:    blocked.InexactFloat64(),
		AutoApprovalRate: rate,
	}
}

// Prune drops device, IP and asset nodes that have carried no risk and were
// not seen within maxAge, together with their edges. It returns how many
// nodes were removed.
func (g *Graph) Prune(maxAge time.Duration) int {
	cutoff := g.now().Add(-maxAge)
	removed := make(map[string]struct{})

	g.nodes.Range(func(k, v any) bool {
		n := v.(*node)
		n.mu.Lock()
		stale := n.risk == 0 && n.lastSeen.Before(cutoff) &&
			(n.typ == domain.NodeDevice || n.typ == domain.NodeIP || n.typ == domain.NodeAsset)
		n.mu.Unlock()
		if stale {
			g.nodes.Delete(k)
			g.nodeCount.Add(-1)
			removed[n.id] = struct{}{}
		}
		return true
	})
	if len(removed) == 0 {
		return 0
	}

	g.edges.Range(func(k, v any) bool {
		e := v.(*edge)
		_, s := removed[e.source]
		_, t := removed[e.target]
		if !s && !t {
			return true
		}
		g.edges.Delete(k)
		g.edgeCount.Add(-1)
		g.unlink(e.source, e.target)
		g.unlink(e.target, e.source)
		return true
	})
	return len(removed)
}

func (g *Graph) unlink(from, to string) {
	v, ok := g.nodes.Load(from)
	if !ok {
		return
	}
	n := v.(*node)
	n.mu.Lock()
	delete(n.neighbors, to)
	n.mu.Unlock()
}

func (g *Graph) neighbors(id string) []string {
	v, ok := g.nodes.Load(id)
	if !ok {
		return nil
	}
	n := v.(*node)
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.neighbors))
	for nb := range n.neighbors {
		out = append(out, nb)
	}
	return out
}

func (g *Graph) nodeType(id string) string {
	v, ok := g.nodes.Load(id)
	if !ok {
		return ""
	}
	n := v.(*node)
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.typ
}

// SharedInfrastructure returns the other accounts that used one of the
// trader's devices or IPs, sorted.
func (g *Graph) SharedInfrastructure(traderID string) []string {
	linked := make(map[string]struct{})
	for _, infra := range g.neighbors(traderID) {
		switch g.nodeType(infra) {
		case domain.NodeDevice, domain.NodeIP:
		default:
			continue
		}
		for _, acct := range g.neighbors(infra) {
			if acct != traderID && g.nodeType(acct) == domain.NodeAccount {
				linked[acct] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(linked))
	for id := range linked {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
