// Payguard - Payout risk scoring and fraud pattern engine.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/payguard/internal/alerting"
	"github.com/opensource-finance/payguard/internal/api"
	"github.com/opensource-finance/payguard/internal/bus"
	"github.com/opensource-finance/payguard/internal/cache"
	"github.com/opensource-finance/payguard/internal/config"
	"github.com/opensource-finance/payguard/internal/domain"
	"github.com/opensource-finance/payguard/internal/enrich"
	"github.com/opensource-finance/payguard/internal/feedback"
	"github.com/opensource-finance/payguard/internal/graph"
	"github.com/opensource-finance/payguard/internal/logger"
	"github.com/opensource-finance/payguard/internal/metrics"
	"github.com/opensource-finance/payguard/internal/patterns"
	"github.com/opensource-finance/payguard/internal/payout"
	"github.com/opensource-finance/payguard/internal/repository"
	"github.com/opensource-finance/payguard/internal/rules"
	"github.com/opensource-finance/payguard/internal/scoring"
	"github.com/opensource-finance/payguard/internal/stream"
	"github.com/opensource-finance/payguard/internal/tracing"
	"github.com/opensource-finance/payguard/internal/tradestore"
	"github.com/opensource-finance/payguard/internal/velocity"
	"github.com/opensource-finance/payguard/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "payguard: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting payguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"async", cfg.Worker.Async,
	)

	if err := run(cfg); err != nil {
		slog.Error("payguard exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *domain.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, logger.Get())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
	}

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("init event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	velocitySvc := velocity.NewService(repo, cacheImpl)

	// Rule engine with velocity lookups
	engine, err := rules.NewEngine(velocitySvc.TradeCount, 100)
	if err != nil {
		return fmt.Errorf("init rule engine: %w", err)
	}
	defer engine.Close()
	if err := loadRulesFromDatabase(ctx, repo, engine); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	enricher, err := enrich.New(cfg.Enrichment.GeoIPDBPath, collector)
	if err != nil {
		return fmt.Errorf("init geoip: %w", err)
	}
	defer enricher.Close()

	library := patterns.NewLibrary()
	memory := feedback.NewMemory(repo)
	tradeGraph := graph.New(cfg.Graph)

	svc := payout.NewService(payout.Deps{
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Store:    tradestore.New(cfg.Store.MaxTrades),
		Graph:    tradeGraph,
		Scorer:   scoring.NewScorer(cfg.Scoring, library, memory, engine, cfg.Feedback.RecentFraudWindow),
		Trades:   scoring.NewTradeAssessor(cfg.Scoring.SuspiciousCountries, velocitySvc),
		Memory:   memory,
		Library:  library,
		Alerts:   alerting.NewNotifier(repo, busImpl, collector),
		Enricher: enricher,
		Metrics:  collector,
	}, payout.Options{
		LearnOnConfirm: cfg.Feedback.LearnOnConfirm,
	})

	if cfg.Store.Hydrate {
		if err := svc.Hydrate(ctx, cfg.Store.MaxTrades); err != nil {
			return fmt.Errorf("hydrate: %w", err)
		}
	}

	if cfg.Graph.PruneInterval > 0 {
		go svc.RunPruner(ctx, cfg.Graph.PruneInterval, cfg.Graph.PruneMaxAge)
	}

	// Live stream
	hub := stream.NewHub(collector)
	go hub.Run(ctx)
	if err := hub.Attach(ctx, busImpl); err != nil {
		return fmt.Errorf("attach stream: %w", err)
	}
	defer hub.Detach()

	// Async ingestion
	var asyncWorker *worker.Worker
	if cfg.Worker.Async {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(worker.Config{Lanes: cfg.Worker.Count}); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Service:   svc,
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Engine:    engine,
		Metrics:   collector,
		Hub:       hub,
		RateLimit: cfg.RateLimit,
		Async:     cfg.Worker.Async,
		Version:   Version,
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("payguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Stop async worker first so queued trades drain before the stores close.
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("payguard shutdown complete")
	return nil
}

// loadRulesFromDatabase loads rules from the database into the engine.
// Rules are configured via POST /rules; there are no built-in defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                PAYGUARD                   ║")
	fmt.Println("  ║      Payout Risk & Fraud Patterns         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /trades                   - Record a trade")
	fmt.Println("    POST /payouts                  - Score a payout request")
	fmt.Println("    GET  /payouts/{id}             - Payout with history and graph comparison")
	fmt.Println("    POST /payouts/{id}/decision    - Reviewer decision")
	fmt.Println("    POST /payouts/bulk-action      - Bulk reviewer decision")
	fmt.Println("    GET  /alerts                   - Recent alerts")
	fmt.Println("    GET  /stats                    - Dashboard summary")
	fmt.Println("    GET  /patterns                 - Fraud pattern library")
	fmt.Println("    GET  /graph                    - Relationship graph")
	fmt.Println("    GET  /rings                    - Suspected fraud rings")
	fmt.Println("    GET  /rules                    - List CEL rules")
	fmt.Println("    GET  /stream                   - Live event websocket")
	fmt.Println("    GET  /metrics                  - Prometheus metrics")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println()
}
