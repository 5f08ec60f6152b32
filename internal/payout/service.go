// Package payout is the composition of the engine: it ingests trades,
// scores payout requests and applies reviewer decisions.
package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/payguard/internal/alerting"
	"github.com/opensource-finance/payguard/internal/domain"
	"github.com/opensource-finance/payguard/internal/enrich"
	"github.com/opensource-finance/payguard/internal/feedback"
	"github.com/opensource-finance/payguard/internal/graph"
	"github.com/opensource-finance/payguard/internal/metrics"
	"github.com/opensource-finance/payguard/internal/patterns"
	"github.com/opensource-finance/payguard/internal/repository"
	"github.com/opensource-finance/payguard/internal/scoring"
	"github.com/opensource-finance/payguard/internal/syncutil"
	"github.com/opensource-finance/payguard/internal/tracing"
	"github.com/opensource-finance/payguard/internal/tradestore"
)

// Service errors.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrPayoutNotFound  = errors.New("payout not found")
	ErrInvalidDecision = errors.New("decision must be APPROVE or BLOCK")
	ErrAlreadyReviewed = errors.New("payout already reviewed")
)

// Profile defaults for fields a payout request leaves out.
const (
	unknownValue          = "UNKNOWN"
	defaultCountry        = "US"
	defaultAccountAgeDays = 30
	defaultMethod         = "BANK_TRANSFER"
)

var depositMultiplier = decimal.RequireFromString("1.2")

// Deps are the collaborators a Service is built from. Repo, Store, Graph and
// Scorer are required; the rest are optional.
type Deps struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Store    *tradestore.Store
	Graph    *graph.Graph
	Scorer   *scoring.Scorer
	Trades   *scoring.TradeAssessor
	Memory   *feedback.Memory
	Library  *patterns.Library
	Alerts   *alerting.Notifier
	Enricher *enrich.Enricher
	Metrics  *metrics.Collector
}

// Options tune service behavior.
type Options struct {
	PayoutTTL      time.Duration
	LearnOnConfirm bool
	BaselineSize   int
}

// Service owns the payout workflow.
type Service struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	store    *tradestore.Store
	graph    *graph.Graph
	scorer   *scoring.Scorer
	trades   *scoring.TradeAssessor
	memory   *feedback.Memory
	library  *patterns.Library
	alerts   *alerting.Notifier
	enricher *enrich.Enricher
	metrics  *metrics.Collector

	locks *syncutil.KeyedMutex
	opts  Options
	now   func() time.Time
}

// NewService wires a service. Missing optional collaborators get inert
// defaults.
func NewService(d Deps, opts Options) *Service {
	if opts.PayoutTTL <= 0 {
		opts.PayoutTTL = 24 * time.Hour
	}
	if opts.BaselineSize <= 0 {
		opts.BaselineSize = 50
	}
	if d.Library == nil {
		d.Library = patterns.NewLibrary()
	}
	if d.Memory == nil {
		d.Memory = feedback.NewMemory(d.Repo)
	}
	if d.Trades == nil {
		d.Trades = scoring.NewTradeAssessor(nil, nil)
	}
	if d.Alerts == nil {
		d.Alerts = alerting.NewNotifier(d.Repo, d.Bus, d.Metrics)
	}
	return &Service{
		repo:     d.Repo,
		cache:    d.Cache,
		bus:      d.Bus,
		store:    d.Store,
		graph:    d.Graph,
		scorer:   d.Scorer,
		trades:   d.Trades,
		memory:   d.Memory,
		library:  d.Library,
		alerts:   d.Alerts,
		enricher: d.Enricher,
		metrics:  d.Metrics,
		locks:    syncutil.NewKeyedMutex(),
		opts:     opts,
		now:      time.Now,
	}
}

// IngestTrade validates, scores and records one trade. Trades for the same
// trader are serialized so the velocity counter and the store agree.
func (s *Service) IngestTrade(ctx context.Context, t *domain.TradeEvent) (*domain.TradeEvent, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: trade is required", ErrInvalidRequest)
	}
	t.Type = strings.ToUpper(t.Type)
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if t.TradeID == "" {
		t.TradeID = "TRD-" + uuid.New().String()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = s.now().UTC()
	}
	if t.TotalValue == 0 && t.Quantity > 0 && t.Price > 0 {
		t.TotalValue = decimal.NewFromFloat(t.Quantity).
			Mul(decimal.NewFromFloat(t.Price)).
			Round(2).
			InexactFloat64()
	}
	s.enricher.Trade(t)

	unlock, err := s.locks.Lock(ctx, t.TraderID)
	if err != nil {
		return nil, fmt.Errorf("lock trader %s: %w", t.TraderID, err)
	}
	risk := s.trades.Assess(ctx, t)
	t.Risk = &risk
	s.store.Append(t)
	unlock()

	if err := s.repo.SaveTrade(ctx, t); err != nil {
		slog.Error("failed to save trade", "trade_id", t.TradeID, "trader_id", t.TraderID, "error", err)
	}
	s.graph.ProcessTransaction(t)

	if s.metrics != nil {
		s.metrics.TradesIngested.WithLabelValues(risk.RiskLevel).Inc()
		s.metrics.StoredTrades.Set(float64(s.store.Len()))
		s.metrics.ObserveGraph(int64(s.graph.NodeCount()), int64(s.graph.EdgeCount()))
	}
	s.publish(ctx, domain.TopicTradeIngested, t.TraderID, t)

	slog.Debug("trade ingested",
		"trade_id", t.TradeID,
		"trader_id", t.TraderID,
		"risk_score", risk.Score,
		"risk_level", risk.RiskLevel,
	)
	return t, nil
}

// ProfileFor builds the requester profile, filling defaults for missing
// fields. A missing deposit is taken as 120% of the requested amount.
func ProfileFor(req domain.PayoutRequest) domain.UserProfile {
	p := domain.UserProfile{
		IsNewDevice:    req.IsNewDevice,
		VPNDetected:    req.VPNDetected,
		DeviceID:       req.DeviceID,
		IP:             req.IP,
		Country:        req.Country,
		AccountAgeDays: req.AccountAgeDays,
		DepositAmount:  req.DepositAmount,
		KYCVerified:    true,
	}
	if p.DeviceID == "" {
		p.DeviceID = unknownValue
	}
	if p.IP == "" {
		p.IP = unknownValue
	}
	if p.Country == "" {
		p.Country = defaultCountry
	}
	if p.AccountAgeDays == 0 {
		p.AccountAgeDays = defaultAccountAgeDays
	}
	if p.DepositAmount == 0 {
		p.DepositAmount = decimal.NewFromFloat(req.Amount).Mul(depositMultiplier).Round(2).InexactFloat64()
	}
	return p
}

// RequestPayout scores a payout request against the trader's history and
// records the result. Persistence failures are logged and never change the
// decision.
func (s *Service) RequestPayout(ctx context.Context, req domain.PayoutRequest) (*domain.Payout, error) {
	if req.TraderID == "" {
		return nil, fmt.Errorf("%w: trader_id is required", ErrInvalidRequest)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	ctx, span := tracing.StartSpan(ctx, "payout.assess",
		attribute.String("trader_id", req.TraderID),
		attribute.Float64("amount", req.Amount),
	)
	defer span.End()

	profile := ProfileFor(req)
	history := s.store.ByTrader(req.TraderID, 0)

	start := time.Now()
	assessment := s.scorer.AssessPayout(ctx, scoring.PayoutInput{
		TraderID: req.TraderID,
		Amount:   req.Amount,
		Trades:   history,
		Profile:  profile,
	})
	took := time.Since(start)

	span.SetAttributes(
		attribute.Float64("risk.score", assessment.Score),
		attribute.String("risk.decision", string(assessment.Decision)),
	)

	method := req.Method
	if method == "" {
		method = defaultMethod
	}
	p := &domain.Payout{
		ID:             "PAY-" + uuid.New().String(),
		TraderID:       req.TraderID,
		Amount:         req.Amount,
		Method:         method,
		Status:         domain.StatusForDecision(assessment.Decision),
		Profile:        profile,
		Assessment:     assessment,
		LinkedAccounts: s.graph.SharedInfrastructure(req.TraderID),
		CreatedAt:      s.now().UTC(),
	}

	s.save(ctx, p)
	s.alerts.Raise(ctx, p)
	s.publish(ctx, domain.TopicPayoutAssessed, p.TraderID, p)

	if s.metrics != nil {
		category := ""
		if len(assessment.EmbeddingMatches) > 0 {
			category = assessment.EmbeddingMatches[0].Category
		}
		s.metrics.ObserveAssessment(string(assessment.Decision), assessment.Score, category, took)
	}

	slog.Info("payout assessed",
		"payout_id", p.ID,
		"trader_id", p.TraderID,
		"amount", p.Amount,
		"trades", len(history),
		"score", assessment.Score,
		"decision", assessment.Decision,
		"confidence", assessment.Confidence,
		"status", p.Status,
		"duration_us", took.Microseconds(),
	)
	return p, nil
}

// save persists and caches a payout.
func (s *Service) save(ctx context.Context, p *domain.Payout) {
	if err := s.repo.SavePayout(ctx, p); err != nil {
		slog.Error("failed to save payout", "payout_id", p.ID, "error", err)
	}
	if s.cache != nil {
		if err := s.cache.SetPayout(ctx, p, s.opts.PayoutTTL); err != nil {
			slog.Warn("failed to cache payout", "payout_id", p.ID, "error", err)
		}
	}
}

// load reads a payout from the cache, falling back to the repository.
func (s *Service) load(ctx context.Context, id string) (*domain.Payout, error) {
	if s.cache != nil {
		p, err := s.cache.GetPayout(ctx, id)
		if err != nil {
			slog.Warn("payout cache read failed", "payout_id", id, "error", err)
		} else if p != nil {
			return p, nil
		}
	}
	p, err := s.repo.GetPayout(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPayoutNotFound
		}
		return nil, fmt.Errorf("load payout %s: %w", id, err)
	}
	return p, nil
}

func (s *Service) publish(ctx context.Context, topic, key string, v any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, topic, key, payload); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "key", key, "error", err)
	}
}
