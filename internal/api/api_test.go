package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/payguard/internal/bus"
	"github.com/opensource-finance/payguard/internal/cache"
	"github.com/opensource-finance/payguard/internal/domain"
	"github.com/opensource-finance/payguard/internal/feedback"
	"github.com/opensource-finance/payguard/internal/graph"
	"github.com/opensource-finance/payguard/internal/metrics"
	"github.com/opensource-finance/payguard/internal/patterns"
	"github.com/opensource-finance/payguard/internal/payout"
	"github.com/opensource-finance/payguard/internal/repository"
	"github.com/opensource-finance/payguard/internal/rules"
	"github.com/opensource-finance/payguard/internal/scoring"
	"github.com/opensource-finance/payguard/internal/tradestore"
	"github.com/opensource-finance/payguard/internal/velocity"
)

type testEnv struct {
	server *Server
	repo   domain.Repository
	bus    *bus.ChannelBus
}

// createTestServer wires a full service over a temporary SQLite database.
func createTestServer(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	c := cache.NewLRUCache(1000)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { _ = eventBus.Close() })

	velocitySvc := velocity.NewService(repo, c)
	engine, err := rules.NewEngine(velocitySvc.TradeCount, 4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	cfg := domain.DefaultConfig()
	library := patterns.NewLibrary()
	memory := feedback.NewMemory(repo)
	m := metrics.New()

	svc := payout.NewService(payout.Deps{
		Repo:    repo,
		Cache:   c,
		Bus:     eventBus,
		Store:   tradestore.New(1000),
		Graph:   graph.New(cfg.Graph),
		Scorer:  scoring.NewScorer(cfg.Scoring, library, memory, engine, cfg.Feedback.RecentFraudWindow),
		Trades:  scoring.NewTradeAssessor(cfg.Scoring.SuspiciousCountries, velocitySvc),
		Memory:  memory,
		Library: library,
		Metrics: m,
	}, payout.Options{})

	deps := Deps{
		Service: svc,
		Repo:    repo,
		Cache:   c,
		Bus:     eventBus,
		Engine:  engine,
		Metrics: m,
		Version: "test-v1",
	}
	if mutate != nil {
		mutate(&deps)
	}

	server := NewServer(domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}, deps)
	return &testEnv{server: server, repo: repo, bus: eventBus}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func (e *testEnv) seedTrades(t *testing.T, traderID string, n int) {
	t.Helper()
	start := time.Now().UTC().Add(-time.Duration(n+1) * 24 * time.Hour)
	for i := 0; i < n; i++ {
		side := domain.SideBuy
		if i%2 == 1 {
			side = domain.SideSell
		}
		w := e.do(t, http.MethodPost, "/trades", domain.TradeEvent{
			TraderID:   traderID,
			Symbol:     "AAPL",
			Type:       side,
			TotalValue: 5000,
			DeviceID:   "dev-" + traderID,
			IP:         "10.0.0.1",
			Country:    "US",
			Timestamp:  start.Add(time.Duration(i) * 24 * time.Hour),
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("seed trade %d: expected 201, got %d: %s", i, w.Code, w.Body.String())
		}
	}
}

func (e *testEnv) requestPayout(t *testing.T, req domain.PayoutRequest) *domain.Payout {
	t.Helper()
	w := e.do(t, http.MethodPost, "/payouts", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decode[*domain.Payout](t, w)
}

func TestHealthEndpoint(t *testing.T) {
	env := createTestServer(t, nil)

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode[map[string]any](t, w)
	if resp["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", resp["status"])
	}
	if resp["version"] != "test-v1" {
		t.Errorf("expected version test-v1, got %v", resp["version"])
	}

	w = env.do(t, http.MethodGet, "/ready", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 from /ready, got %d", w.Code)
	}
}

func TestTradeEndpoints(t *testing.T) {
	env := createTestServer(t, nil)

	t.Run("Submit", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/trades", map[string]any{
			"trader_id": "T1",
			"symbol":    "MSFT",
			"type":      "buy",
			"quantity":  3,
			"price":     100.1,
			"device_id": "dev-1",
			"ip":        "10.0.0.1",
			"country":   "US",
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
		}
		trade := decode[domain.TradeEvent](t, w)
		if !strings.HasPrefix(trade.TradeID, "TRD-") {
			t.Errorf("expected TRD- id, got %s", trade.TradeID)
		}
		if trade.TotalValue != 300.3 {
			t.Errorf("expected total 300.3, got %v", trade.TotalValue)
		}
		if trade.Risk == nil {
			t.Error("expected risk attached")
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/trades", map[string]any{"symbol": "MSFT", "type": "BUY"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
		w = env.do(t, http.MethodPost, "/trades", "{not json")
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for bad JSON, got %d", w.Code)
		}
	})

	t.Run("List", func(t *testing.T) {
		env.seedTrades(t, "T2", 3)

		resp := decode[struct {
			Trades []domain.TradeEvent `json:"trades"`
			Count  int                 `json:"count"`
		}](t, env.do(t, http.MethodGet, "/trades?trader_id=T2", nil))
		if resp.Count != 3 {
			t.Errorf("expected 3 trades for T2, got %d", resp.Count)
		}

		resp2 := decode[map[string]any](t, env.do(t, http.MethodGet, "/trades?limit=2", nil))
		if resp2["count"].(float64) != 2 {
			t.Errorf("expected limit 2, got %v", resp2["count"])
		}

		if w := env.do(t, http.MethodGet, "/trades?limit=abc", nil); w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for bad limit, got %d", w.Code)
		}
	})
}

func TestAsyncTradeSubmission(t *testing.T) {
	env := createTestServer(t, func(d *Deps) { d.Async = true })

	got := make(chan *domain.Message, 1)
	_, err := env.bus.Subscribe(context.Background(), domain.TopicTradeSubmitted, func(_ context.Context, msg *domain.Message) error {
		got <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	w := env.do(t, http.MethodPost, "/trades", domain.TradeEvent{
		TraderID: "T9", Symbol: "AAPL", Type: "SELL", TotalValue: 100,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	select {
	case msg := <-got:
		if msg.Key != "T9" {
			t.Errorf("expected key T9, got %s", msg.Key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("trade was not published")
	}

	if w := env.do(t, http.MethodPost, "/trades", domain.TradeEvent{Symbol: "AAPL", Type: "SELL"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid async trade, got %d", w.Code)
	}
}

func TestPayoutLifecycle(t *testing.T) {
	env := createTestServer(t, nil)
	env.seedTrades(t, "GOOD", 10)

	t.Run("EstablishedTraderApproved", func(t *testing.T) {
		p := env.requestPayout(t, domain.PayoutRequest{
			TraderID:       "GOOD",
			Amount:         1000,
			DeviceID:       "dev-GOOD",
			IP:             "10.0.0.1",
			Country:        "US",
			AccountAgeDays: 400,
			DepositAmount:  20000,
		})
		if p.Status != domain.PayoutApproved {
			t.Errorf("expected APPROVED, got %s (score %v)", p.Status, p.Assessment.Score)
		}
	})

	var flagged *domain.Payout
	t.Run("NoTradeFraudNotApproved", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/trades", domain.TradeEvent{TraderID: "BAD", Symbol: "X", Type: "BUY", TotalValue: 500})
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", w.Code)
		}
		flagged = env.requestPayout(t, domain.PayoutRequest{TraderID: "BAD", Amount: 50000, IsNewDevice: true})
		if flagged.Status == domain.PayoutApproved {
			t.Fatalf("expected payout held, got %s", flagged.Status)
		}
	})

	t.Run("InvalidRequest", func(t *testing.T) {
		if w := env.do(t, http.MethodPost, "/payouts", domain.PayoutRequest{Amount: 10}); w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("GetAndList", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/payouts/"+flagged.ID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		detail := decode[map[string]any](t, w)
		if detail["payout_id"] != flagged.ID {
			t.Errorf("expected payout_id %s, got %v", flagged.ID, detail["payout_id"])
		}
		if _, ok := detail["history"]; !ok {
			t.Error("expected history in payout detail")
		}

		if w := env.do(t, http.MethodGet, "/payouts/PAY-missing", nil); w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}

		list := decode[map[string]any](t, env.do(t, http.MethodGet, "/payouts?status=approved", nil))
		if list["count"].(float64) != 1 {
			t.Errorf("expected 1 approved payout, got %v", list["count"])
		}
		if w := env.do(t, http.MethodGet, "/payouts?status=LOST", nil); w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for unknown status, got %d", w.Code)
		}
	})

	t.Run("Alerts", func(t *testing.T) {
		resp := decode[map[string]any](t, env.do(t, http.MethodGet, "/alerts", nil))
		if resp["count"].(float64) != 1 {
			t.Errorf("expected 1 alert, got %v", resp["count"])
		}
	})

	t.Run("Decision", func(t *testing.T) {
		path := "/payouts/" + flagged.ID + "/decision"

		if w := env.do(t, http.MethodPost, path, DecisionRequest{Decision: "MAYBE"}); w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for unknown decision, got %d", w.Code)
		}

		w := env.do(t, http.MethodPost, path, DecisionRequest{Decision: "BLOCK", Notes: "confirmed"})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		res := decode[payout.DecisionResult](t, w)
		if res.Payout.Status != domain.PayoutBlocked {
			t.Errorf("expected BLOCKED, got %s", res.Payout.Status)
		}
		if !res.ModelUpdated {
			t.Error("expected model_updated")
		}

		if w := env.do(t, http.MethodPost, path, DecisionRequest{Decision: "APPROVE"}); w.Code != http.StatusConflict {
			t.Errorf("expected 409 on second review, got %d", w.Code)
		}

		stats := decode[domain.ModelStats](t, env.do(t, http.MethodGet, "/model/stats", nil))
		if stats.ConfirmedFrauds != 1 {
			t.Errorf("expected 1 confirmed fraud, got %d", stats.ConfirmedFrauds)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/stats", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		stats := decode[payout.Stats](t, w)
		if stats.Payouts.Total != 2 {
			t.Errorf("expected 2 payouts, got %d", stats.Payouts.Total)
		}
		if stats.Trades != 11 {
			t.Errorf("expected 11 trades, got %d", stats.Trades)
		}
	})
}

func TestBulkAction(t *testing.T) {
	env := createTestServer(t, nil)

	var ids []string
	for i := 0; i < 2; i++ {
		trader := fmt.Sprintf("NEW-%d", i)
		p := env.requestPayout(t, domain.PayoutRequest{TraderID: trader, Amount: 100})
		ids = append(ids, p.ID)
	}

	w := env.do(t, http.MethodPost, "/payouts/bulk-action", BulkActionRequest{
		PayoutIDs: append(ids, "PAY-missing"),
		Action:    "APPROVE",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	res := decode[payout.BulkResult](t, w)
	if res.Processed != 2 {
		t.Errorf("expected 2 processed, got %d", res.Processed)
	}
	if len(res.Results) != 3 || res.Results[2].Error == "" {
		t.Errorf("expected an error entry for the missing payout, got %+v", res.Results)
	}

	if w := env.do(t, http.MethodPost, "/payouts/bulk-action", BulkActionRequest{Action: "APPROVE"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without ids, got %d", w.Code)
	}
}

func TestPatternEndpoints(t *testing.T) {
	env := createTestServer(t, nil)

	before := decode[map[string]any](t, env.do(t, http.MethodGet, "/patterns", nil))
	catalog := before["count"].(float64)
	if catalog == 0 {
		t.Fatal("expected seeded pattern catalog")
	}

	env.seedTrades(t, "LEARN", 4)
	w := env.do(t, http.MethodPost, "/patterns/learn", LearnRequest{TraderID: "LEARN", FraudType: "WASH_TRADING"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	after := decode[map[string]any](t, env.do(t, http.MethodGet, "/patterns", nil))
	if after["count"].(float64) != catalog+1 {
		t.Errorf("expected %v patterns, got %v", catalog+1, after["count"])
	}

	if w := env.do(t, http.MethodPost, "/patterns/learn", LearnRequest{TraderID: "NOBODY"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown trader, got %d", w.Code)
	}
}

func TestGraphEndpoints(t *testing.T) {
	env := createTestServer(t, nil)
	env.seedTrades(t, "A", 2)
	env.seedTrades(t, "B", 2)

	view := decode[domain.GraphView](t, env.do(t, http.MethodGet, "/graph", nil))
	if len(view.Nodes) == 0 {
		t.Error("expected graph nodes")
	}

	if w := env.do(t, http.MethodGet, "/graph?minRisk=2", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for out of range minRisk, got %d", w.Code)
	}

	stats := decode[domain.GraphStats](t, env.do(t, http.MethodGet, "/graph/stats", nil))
	if stats.TotalNodes != len(view.Nodes) {
		t.Errorf("expected %d nodes in stats, got %d", len(view.Nodes), stats.TotalNodes)
	}

	for _, path := range []string{"/rings", "/rings?mode=infrastructure"} {
		if w := env.do(t, http.MethodGet, path, nil); w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, w.Code)
		}
	}
	if w := env.do(t, http.MethodGet, "/rings?mode=bogus", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown mode, got %d", w.Code)
	}

	cmp := decode[payout.TraderComparison](t, env.do(t, http.MethodGet, "/graph-comparison/A", nil))
	if cmp.TraderID != "A" || cmp.TradeCount != 2 {
		t.Errorf("unexpected comparison: %+v", cmp)
	}
}

func TestRuleEndpoints(t *testing.T) {
	env := createTestServer(t, nil)

	t.Run("CreateAndReload", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/rules", CreateRuleRequest{
			ID:         "large-vs-deposit",
			Name:       "Payout larger than deposit",
			Expression: "amount > deposit_amount * 2.0",
			Weight:     0.2,
			Enabled:    true,
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
		}

		w = env.do(t, http.MethodPost, "/rules/reload", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}

		list := decode[map[string]any](t, env.do(t, http.MethodGet, "/rules", nil))
		if list["count"].(float64) != 1 {
			t.Errorf("expected 1 rule, got %v", list["count"])
		}

		if w := env.do(t, http.MethodGet, "/rules/large-vs-deposit", nil); w.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", w.Code)
		}
		if w := env.do(t, http.MethodGet, "/rules/nope", nil); w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})

	t.Run("InvalidExpression", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/rules", CreateRuleRequest{
			ID: "bad", Name: "bad", Expression: "no_such_var > 1",
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/rules", CreateRuleRequest{ID: "x"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := createTestServer(t, nil)
	env.do(t, http.MethodGet, "/health", nil)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `payguard_http_requests_total{route="/health",status="200"}`) {
		t.Errorf("expected request counter for /health in:\n%s", w.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	env := createTestServer(t, func(d *Deps) {
		d.RateLimit = domain.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 2}
	})

	for i := 0; i < 2; i++ {
		if w := env.do(t, http.MethodGet, "/stats", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	w := env.do(t, http.MethodGet, "/stats", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// operational endpoints are not limited
	if w := env.do(t, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("expected /health to bypass the limit, got %d", w.Code)
	}
}

func TestTracingHeaders(t *testing.T) {
	env := createTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "req-123" {
		t.Errorf("expected request id echoed, got %q", got)
	}
	if w.Header().Get(TraceIDHeader) == "" {
		t.Error("expected trace id header")
	}
}

func TestCORSPreflight(t *testing.T) {
	env := createTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/payouts", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://dashboard.local" {
		t.Errorf("expected origin echoed, got %q", got)
	}
}
