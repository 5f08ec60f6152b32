package graph

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/payguard/internal/domain"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestGraph() *Graph {
	g := New(domain.GraphConfig{})
	g.now = func() time.Time { return testNow }
	return g
}

func trade(id, trader, device string, value float64) *domain.TradeEvent {
	return &domain.TradeEvent{
		TradeID:    id,
		TraderID:   trader,
		Symbol:     "AAPL",
		Type:       domain.SideBuy,
		TotalValue: value,
		DeviceID:   device,
		Timestamp:  testNow,
	}
}

func TestNewGraphHasSentinel(t *testing.T) {
	g := newTestGraph()

	n, ok := g.Node(domain.SecurityNodeID)
	if !ok {
		t.Fatal("security node missing")
	}
	if n.Type != domain.NodeSecurity {
		t.Errorf("type = %s, want %s", n.Type, domain.NodeSecurity)
	}
	if g.NodeCount() != 1 || g.EdgeCount() != 0 {
		t.Errorf("counts = %d/%d, want 1/0", g.NodeCount(), g.EdgeCount())
	}
}

func TestEdgeWeightAccumulates(t *testing.T) {
	g := newTestGraph()

	g.ProcessTransaction(trade("t1", "A", "X", 100))
	g.ProcessTransaction(trade("t2", "A", "X", 200))

	e, ok := g.Edge("X", "A")
	if !ok {
		t.Fatal("edge A-X missing")
	}
	if e.Weight != 300 {
		t.Errorf("weight = %v, want 300", e.Weight)
	}
	if e.Type != domain.EdgeUsesDevice {
		t.Errorf("type = %s, want %s", e.Type, domain.EdgeUsesDevice)
	}
	if len(e.Transactions) != 2 {
		t.Errorf("samples = %d, want 2", len(e.Transactions))
	}
	// sentinel, A, X
	if g.EdgeCount() != 1 || g.NodeCount() != 3 {
		t.Errorf("counts = %d nodes/%d edges, want 3/1", g.NodeCount(), g.EdgeCount())
	}
}

func TestDecimalWeights(t *testing.T) {
	g := newTestGraph()
	for i := 0; i < 10; i++ {
		g.ProcessTransaction(trade(fmt.Sprintf("t%d", i), "A", "X", 0.1))
	}

	e, _ := g.Edge("A", "X")
	if e.Weight != 1 {
		t.Errorf("weight = %v, want exactly 1", e.Weight)
	}
}

func TestSamplesBounded(t *testing.T) {
	g := New(domain.GraphConfig{MaxEdgeSamples: 3})
	for i := 0; i < 10; i++ {
		g.ProcessTransaction(trade(fmt.Sprintf("t%d", i), "A", "X", 1))
	}

	e, _ := g.Edge("A", "X")
	if len(e.Transactions) != 3 {
		t.Fatalf("samples = %d, want 3", len(e.Transactions))
	}
	if e.Transactions[0].TradeID != "t7" || e.Transactions[2].TradeID != "t9" {
		t.Errorf("kept %s..%s, want t7..t9", e.Transactions[0].TradeID, e.Transactions[2].TradeID)
	}
	if e.Weight != 10 {
		t.Errorf("weight = %v, want 10", e.Weight)
	}
}

func TestIPAndAssetNodes(t *testing.T) {
	g := newTestGraph()

	small := trade("t1", "A", "", 1000)
	small.IP = "10.0.0.1"
	g.ProcessTransaction(small)

	if _, ok := g.Node("IP:10.0.0.1"); !ok {
		t.Error("IP node missing")
	}
	if _, ok := g.Node("AAPL"); ok {
		t.Error("asset node created below materiality threshold")
	}

	g.ProcessTransaction(trade("t2", "A", "", 60000))
	if _, ok := g.Node("AAPL"); !ok {
		t.Error("asset node missing above materiality threshold")
	}
	if e, ok := g.Edge("A", "AAPL"); !ok || e.Type != domain.EdgeTrades {
		t.Errorf("trades edge = %+v, %v", e, ok)
	}
}

func TestFlaggedEdges(t *testing.T) {
	g := newTestGraph()

	tr := trade("t1", "A", "X", 100)
	tr.IsFraud = true
	g.ProcessTransaction(tr)

	e, ok := g.Edge(domain.SecurityNodeID, "A")
	if !ok {
		t.Fatal("flagged edge missing")
	}
	if e.Type != domain.EdgeFlagged || e.Weight != 5 {
		t.Errorf("flagged edge = %s/%v, want flagged/5", e.Type, e.Weight)
	}
	if _, ok := g.Edge(domain.SecurityNodeID, "X"); !ok {
		t.Error("flagged_device edge missing")
	}

	n, _ := g.Node("A")
	if n.Risk != 0.9 {
		t.Errorf("account risk = %v, want 0.9", n.Risk)
	}
}

func TestModerateRiskNotFlaggedDevice(t *testing.T) {
	g := newTestGraph()

	tr := trade("t1", "A", "X", 100)
	tr.Risk = &domain.TradeRisk{Score: 0.75}
	g.ProcessTransaction(tr)

	if _, ok := g.Edge(domain.SecurityNodeID, "A"); !ok {
		t.Error("risk above 0.7 should flag the account")
	}
	if _, ok := g.Edge(domain.SecurityNodeID, "X"); ok {
		t.Error("risk 0.75 should not flag the device")
	}
}

func TestAccountRiskIsMonotonic(t *testing.T) {
	g := newTestGraph()

	high := trade("t1", "A", "X", 100)
	high.Risk = &domain.TradeRisk{Score: 0.6}
	g.ProcessTransaction(high)
	g.ProcessTransaction(trade("t2", "A", "X", 100))

	n, _ := g.Node("A")
	if n.Risk != 0.6 {
		t.Errorf("risk = %v, want 0.6", n.Risk)
	}
}

func TestGraphViewFiltersByRisk(t *testing.T) {
	g := newTestGraph()

	risky := trade("t1", "A", "X", 100)
	risky.IsFraud = true
	g.ProcessTransaction(risky)
	g.ProcessTransaction(trade("t2", "B", "Y", 100))

	view := g.Graph(0.5)
	ids := make(map[string]bool)
	for _, n := range view.Nodes {
		ids[n.ID] = true
	}
	if !ids["A"] || ids["B"] || !ids["Y"] {
		t.Errorf("nodes = %v", ids)
	}
	for _, l := range view.Links {
		if l.Source == "B" || l.Target == "B" {
			t.Errorf("edge to filtered node B: %+v", l)
		}
		if len(l.Transactions) != 0 {
			t.Error("view links should not carry samples")
		}
	}
	if len(g.Graph(0).Nodes) != g.NodeCount() {
		t.Error("minRisk 0 should keep every node")
	}
}

func TestStats(t *testing.T) {
	g := newTestGraph()

	if s := g.Stats(); s.AutoApprovalRate != 95 {
		t.Errorf("empty approval rate = %v, want 95", s.AutoApprovalRate)
	}

	bad := trade("t1", "A", "X", 250)
	bad.IsFraud = true
	g.ProcessTransaction(bad)

	mid := trade("t2", "B", "X", 250)
	mid.Risk = &domain.TradeRisk{Score: 0.5}
	g.ProcessTransaction(mid)

	g.ProcessTransaction(trade("t3", "C", "Y", 500))

	s := g.Stats()
	if s.RiskDistribution != (domain.RiskDistribution{High: 1, Medium: 1, Low: 1}) {
		t.Errorf("distribution = %+v", s.RiskDistribution)
	}
	if s.TotalVolume != 1000 || s.BlockedVolume != 250 {
		t.Errorf("volume = %v/%v, want 1000/250", s.TotalVolume, s.BlockedVolume)
	}
	if s.AutoApprovalRate != 75 {
		t.Errorf("approval rate = %v, want 75", s.AutoApprovalRate)
	}
	if s.TotalNodes != g.NodeCount() || s.TotalEdges != g.EdgeCount() {
		t.Errorf("stats counts disagree with graph")
	}
}

func TestPrune(t *testing.T) {
	g := newTestGraph()

	g.ProcessTransaction(trade("t1", "A", "CLEAN", 100))
	bad := trade("t2", "B", "DIRTY", 100)
	bad.IsFraud = true
	g.ProcessTransaction(bad)

	if n := g.Prune(time.Hour); n != 0 {
		t.Fatalf("pruned %d fresh nodes", n)
	}

	g.now = func() time.Time { return testNow.Add(2 * time.Hour) }
	if n := g.Prune(time.Hour); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if _, ok := g.Node("CLEAN"); ok {
		t.Error("stale clean device survived")
	}
	if _, ok := g.Node("DIRTY"); !ok {
		t.Error("risky device was pruned")
	}
	if _, ok := g.Node("A"); !ok {
		t.Error("accounts must never be pruned")
	}
	if _, ok := g.Edge("A", "CLEAN"); ok {
		t.Error("edge to pruned node survived")
	}
	if len(g.SharedInfrastructure("A")) != 0 {
		t.Error("pruned node still linked")
	}
}

func TestSharedInfrastructure(t *testing.T) {
	g := newTestGraph()

	g.ProcessTransaction(trade("t1", "A", "D1", 100))
	g.ProcessTransaction(trade("t2", "B", "D1", 100))

	viaIP := trade("t3", "C", "", 100)
	viaIP.IP = "1.2.3.4"
	g.ProcessTransaction(viaIP)
	ipA := trade("t4", "A", "", 100)
	ipA.IP = "1.2.3.4"
	g.ProcessTransaction(ipA)

	g.ProcessTransaction(trade("t5", "D", "D9", 100))

	got := g.SharedInfrastructure("A")
	if len(got) != 2 || got[0] != "B" || got[1] != "C" {
		t.Errorf("linked = %v, want [B C]", got)
	}
	if got := g.SharedInfrastructure("D"); len(got) != 0 {
		t.Errorf("linked = %v, want none", got)
	}
}

func TestConcurrentIngestion(t *testing.T) {
	g := New(domain.GraphConfig{})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				g.ProcessTransaction(trade(fmt.Sprintf("w%d-%d", w, i), "A", "X", 1))
			}
		}(w)
	}
	wg.Wait()

	e, _ := g.Edge("A", "X")
	if e.Weight != 800 {
		t.Errorf("weight = %v, want 800", e.Weight)
	}
	if g.EdgeCount() != 1 {
		t.Errorf("edges = %d, want 1", g.EdgeCount())
	}
}

func TestIgnoresEmptyTrade(t *testing.T) {
	g := newTestGraph()
	g.ProcessTransaction(nil)
	g.ProcessTransaction(&domain.TradeEvent{})
	if g.NodeCount() != 1 {
		t.Errorf("nodes = %d, want 1", g.NodeCount())
	}
}
