package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/payguard/internal/domain"
	"github.com/opensource-finance/payguard/internal/payout"
	"github.com/opensource-finance/payguard/internal/rules"
	"github.com/opensource-finance/payguard/internal/worker"
)

// defaultListLimit caps list endpoints when no limit is given.
const defaultListLimit = 100

// Handler holds dependencies for API handlers.
type Handler struct {
	service *payout.Service
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *rules.Engine
	async   bool
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		service: deps.Service,
		repo:    deps.Repo,
		cache:   deps.Cache,
		bus:     deps.Bus,
		engine:  deps.Engine,
		async:   deps.Async,
		version: deps.Version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(r.Context()) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(r.Context()) })
	}
	if h.bus != nil {
		check("event_bus", func() error { return h.bus.Ping(r.Context()) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// SubmitTrade records a trade. In async mode the trade is published for the
// worker and the response is 202 with the assigned id.
func (h *Handler) SubmitTrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var trade domain.TradeEvent
	if err := json.NewDecoder(r.Body).Decode(&trade); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if h.async {
		trade.Type = strings.ToUpper(trade.Type)
		if err := trade.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		payload, err := json.Marshal(worker.TradeMessage{TradeEvent: trade, TraceID: GetTraceID(ctx)})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to encode trade")
			return
		}
		if err := h.bus.Publish(ctx, domain.TopicTradeSubmitted, trade.TraderID, payload); err != nil {
			slog.Error("failed to publish trade", "trader_id", trade.TraderID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "failed to queue trade")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":    "queued",
			"trader_id": trade.TraderID,
			"trace_id":  GetTraceID(ctx),
		})
		return
	}

	recorded, err := h.service.IngestTrade(ctx, &trade)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, recorded)
}

// ListTrades returns recent trades, newest first.
func (h *Handler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	trades := h.service.Trades(r.URL.Query().Get("trader_id"), limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": trades,
		"count":  len(trades),
	})
}

// RequestPayout scores a payout request.
func (h *Handler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	var req domain.PayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	p, err := h.service.RequestPayout(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListPayouts returns payouts, optionally filtered by status.
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	status := domain.PayoutStatus(strings.ToUpper(r.URL.Query().Get("status")))

	payouts, err := h.service.Payouts(r.Context(), status, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payouts": payouts,
		"count":   len(payouts),
	})
}

// GetPayout returns a payout with the trader's history and graph comparison.
func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.Payout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// DecisionRequest is the body of POST /payouts/{id}/decision.
type DecisionRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes,omitempty"`
}

// Decide applies a reviewer decision to one payout.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	res, err := h.service.Decide(r.Context(), chi.URLParam(r, "id"), req.Decision, req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BulkActionRequest is the body of POST /payouts/bulk-action.
type BulkActionRequest struct {
	PayoutIDs []string `json:"payout_ids"`
	Action    string   `json:"action"`
	Notes     string   `json:"notes,omitempty"`
}

// BulkAction applies one decision to many payouts.
func (h *Handler) BulkAction(w http.ResponseWriter, r *http.Request) {
	var req BulkActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if len(req.PayoutIDs) == 0 {
		writeError(w, http.StatusBadRequest, "payout_ids is required")
		return
	}

	res, err := h.service.BulkDecide(r.Context(), req.PayoutIDs, req.Action, req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListAlerts returns recent alerts, newest first.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	alerts, err := h.service.Alerts(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// Stats returns the dashboard summary.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ModelStats returns the feedback memory counters.
func (h *Handler) ModelStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.ModelStats())
}

// ListPatterns returns the fraud pattern library.
func (h *Handler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	patterns := h.service.Patterns()
	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": patterns,
		"count":    len(patterns),
	})
}

// LearnRequest is the body of POST /patterns/learn.
type LearnRequest struct {
	TraderID  string `json:"trader_id"`
	FraudType string `json:"fraud_type"`
}

// LearnPattern adds a pattern built from a trader's history.
func (h *Handler) LearnPattern(w http.ResponseWriter, r *http.Request) {
	var req LearnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	p, err := h.service.LearnFromTrader(r.Context(), req.TraderID, req.FraudType)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Graph returns the relationship graph. minRisk filters account nodes.
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	minRisk := 0.0
	if v := r.URL.Query().Get("minRisk"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			writeError(w, http.StatusBadRequest, "minRisk must be a number between 0 and 1")
			return
		}
		minRisk = f
	}
	writeJSON(w, http.StatusOK, h.service.Graph().Graph(minRisk))
}

// GraphStats returns graph counters.
func (h *Handler) GraphStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Graph().Stats())
}

// Rings returns suspected rings. mode=infrastructure groups accounts by
// shared devices and addresses instead.
func (h *Handler) Rings(w http.ResponseWriter, r *http.Request) {
	var rings []domain.Ring
	switch mode := r.URL.Query().Get("mode"); mode {
	case "", "risk":
		rings = h.service.Graph().Rings()
	case "infrastructure":
		rings = h.service.Graph().InfrastructureClusters()
	default:
		writeError(w, http.StatusBadRequest, "unknown mode: "+mode)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rings": rings,
		"count": len(rings),
	})
}

// GraphComparison compares a trader's vector with the fraud catalog.
func (h *Handler) GraphComparison(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GraphComparison(chi.URLParam(r, "traderId")))
}

// ListRules returns all loaded rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeError(w, http.StatusNotFound, "rule not found")
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Weight      float64           `json:"weight"`
	Enabled     bool              `json:"enabled"`
}

// CreateRule validates a rule and saves it to the database.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, name, and expression are required")
		return
	}
	if req.Weight < 0 || req.Weight > 1 {
		writeError(w, http.StatusBadRequest, "weight must be between 0 and 1")
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidateRule(ruleConfig); err != nil {
		writeError(w, http.StatusBadRequest, "invalid CEL expression: "+err.Error())
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, ruleConfig); err != nil {
			slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save rule")
			return
		}
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load rules from database")
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// writeServiceError maps payout service sentinels to status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, payout.ErrPayoutNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, payout.ErrInvalidRequest), errors.Is(err, payout.ErrInvalidDecision):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payout.ErrAlreadyReviewed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
