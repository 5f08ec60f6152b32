// Package worker ingests trades published on the event bus, off the HTTP
// request path.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/payguard/internal/domain"
)

// Ingester records a trade. *payout.Service satisfies it.
type Ingester interface {
	IngestTrade(ctx context.Context, t *domain.TradeEvent) (*domain.TradeEvent, error)
}

// Worker consumes payguard.trade.submitted. Messages are spread over lanes
// by key, so trades for one trader are ingested in publish order while
// different traders proceed in parallel.
type Worker struct {
	bus      domain.EventBus
	ingester Ingester

	mu           sync.Mutex
	subscription domain.Subscription
	wg           sync.WaitGroup

	// laneMu guards lanes against dispatch racing with Stop.
	laneMu sync.RWMutex
	lanes  []chan *domain.Message

	ctx    context.Context
	cancel context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// Lanes is the number of concurrent ingestion goroutines.
	Lanes int

	// LaneBuffer bounds queued messages per lane.
	LaneBuffer int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, ingester Ingester) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		ingester: ingester,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the trade topic and starts the lanes.
func (w *Worker) Start(cfg Config) error {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 1
	}
	if cfg.LaneBuffer <= 0 {
		cfg.LaneBuffer = 256
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.subscription != nil {
		return fmt.Errorf("worker already started")
	}

	lanes := make([]chan *domain.Message, cfg.Lanes)
	for i := range lanes {
		lanes[i] = make(chan *domain.Message, cfg.LaneBuffer)
		w.wg.Add(1)
		go w.run(lanes[i])
	}
	w.laneMu.Lock()
	w.lanes = lanes
	w.laneMu.Unlock()

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTradeSubmitted, w.dispatch)
	if err != nil {
		w.closeLanes()
		return fmt.Errorf("subscribe %s: %w", domain.TopicTradeSubmitted, err)
	}
	w.subscription = sub

	slog.Info("trade worker started",
		"topic", domain.TopicTradeSubmitted,
		"lanes", cfg.Lanes,
	)
	return nil
}

// dispatch routes a message to its lane, blocking while the lane is full.
func (w *Worker) dispatch(ctx context.Context, msg *domain.Message) error {
	w.laneMu.RLock()
	defer w.laneMu.RUnlock()
	if len(w.lanes) == 0 {
		return errStopped
	}

	lane := w.lanes[laneOf(msg.Key, len(w.lanes))]
	select {
	case lane <- msg:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func laneOf(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (w *Worker) run(lane <-chan *domain.Message) {
	defer w.wg.Done()
	for msg := range lane {
		w.process(msg)
	}
}

// TradeMessage is the payload published on payguard.trade.submitted.
type TradeMessage struct {
	domain.TradeEvent
	TraceID string `json:"trace_id,omitempty"`
}

func (w *Worker) process(msg *domain.Message) {
	start := time.Now()

	var tm TradeMessage
	if err := json.Unmarshal(msg.Payload, &tm); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse trade message", "message_id", msg.ID, "error", err)
		return
	}

	trade, err := w.ingester.IngestTrade(w.ctx, &tm.TradeEvent)
	if err != nil {
		w.failed.Add(1)
		slog.Error("trade ingestion failed",
			"message_id", msg.ID,
			"trader_id", tm.TraderID,
			"trace_id", tm.TraceID,
			"error", err,
		)
		return
	}
	w.processed.Add(1)

	slog.Debug("trade processed",
		"trade_id", trade.TradeID,
		"trader_id", trade.TraderID,
		"trace_id", tm.TraceID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

var errStopped = errors.New("worker stopped")

// Stop unsubscribes, drains queued messages and waits for the lanes.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.subscription != nil {
		if err := w.subscription.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", w.subscription.Topic(), "error", err)
		}
		w.subscription = nil
	}
	w.closeLanes()
	w.wg.Wait()
	w.cancel()

	slog.Info("trade worker stopped", "processed", w.processed.Load(), "failed", w.failed.Load())
	return nil
}

func (w *Worker) closeLanes() {
	w.laneMu.Lock()
	defer w.laneMu.Unlock()
	for _, lane := range w.lanes {
		close(lane)
	}
	w.lanes = nil
}

// Stats returns worker statistics.
type Stats struct {
	Running   bool  `json:"running"`
	Lanes     int   `json:"lanes"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Running:   w.subscription != nil,
		Lanes:     w.laneCount(),
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
	}
}

func (w *Worker) laneCount() int {
	w.laneMu.RLock()
	defer w.laneMu.RUnlock()
	return len(w.lanes)
}
