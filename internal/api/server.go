package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/payguard/internal/domain"
	"github.com/opensource-finance/payguard/internal/metrics"
	"github.com/opensource-finance/payguard/internal/payout"
	"github.com/opensource-finance/payguard/internal/rules"
	"github.com/opensource-finance/payguard/internal/stream"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Service *payout.Service
	Repo    domain.Repository
	Cache   domain.Cache
	Bus     domain.EventBus
	Engine  *rules.Engine
	Metrics *metrics.Collector
	Hub     *stream.Hub

	RateLimit domain.RateLimitConfig

	// Async publishes submitted trades to the bus instead of ingesting inline.
	Async   bool
	Version string
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)    // CORS for browser clients
	router.Use(RecoverMiddleware) // Recover from panics
	router.Use(TracingMiddleware) // OpenTelemetry tracing
	router.Use(LoggingMiddleware) // Request logging
	router.Use(middleware.RealIP) // Extract real IP
	router.Use(MetricsMiddleware(deps.Metrics))

	// Operational endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	if deps.Hub != nil {
		router.Method(http.MethodGet, "/stream", deps.Hub)
	}

	router.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))
		if deps.RateLimit.Enabled {
			r.Use(RateLimitMiddleware(deps.RateLimit.RPS, deps.RateLimit.Burst))
		}

		// Trades
		r.Post("/trades", handler.SubmitTrade)
		r.Get("/trades", handler.ListTrades)

		// Payouts and review
		r.Post("/payouts", handler.RequestPayout)
		r.Get("/payouts", handler.ListPayouts)
		r.Post("/payouts/bulk-action", handler.BulkAction)
		r.Get("/payouts/{id}", handler.GetPayout)
		r.Post("/payouts/{id}/decision", handler.Decide)

		// Monitoring
		r.Get("/alerts", handler.ListAlerts)
		r.Get("/stats", handler.Stats)
		r.Get("/model/stats", handler.ModelStats)

		// Patterns
		r.Get("/patterns", handler.ListPatterns)
		r.Post("/patterns/learn", handler.LearnPattern)

		// Relationship graph
		r.Get("/graph", handler.Graph)
		r.Get("/graph/stats", handler.GraphStats)
		r.Get("/rings", handler.Rings)
		r.Get("/graph-comparison/{traderId}", handler.GraphComparison)

		// Rule management
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
