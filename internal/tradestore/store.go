// Package tradestore keeps the capped in-memory trade log that scoring reads.
package tradestore

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/payguard/internal/domain"
)

// DefaultMaxTrades caps the log when no size is configured.
const DefaultMaxTrades = 10000

// Store is a bounded, newest-first trade log with a per-trader index.
// Trades are immutable once appended, so readers get copied slices of
// shared pointers.
type Store struct {
	mu       sync.RWMutex
	max      int
	trades   []*domain.TradeEvent            // oldest first
	byTrader map[string][]*domain.TradeEvent // oldest first
	volume   decimal.Decimal
}

// New creates a store holding at most max trades.
func New(max int) *Store {
	if max <= 0 {
		max = DefaultMaxTrades
	}
	return &Store{
		max:      max,
		byTrader: make(map[string][]*domain.TradeEvent),
	}
}

// Append records a trade, evicting the oldest when full.
func (s *Store) Append(t *domain.TradeEvent) {
	if t == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(t)
}

// Load appends trades in the order given. Used to hydrate from the repository.
func (s *Store) Load(trades []*domain.TradeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range trades {
		if t != nil {
			s.appendLocked(t)
		}
	}
}

func (s *Store) appendLocked(t *domain.TradeEvent) {
	s.trades = append(s.trades, t)
	s.byTrader[t.TraderID] = append(s.byTrader[t.TraderID], t)
	s.volume = s.volume.Add(decimal.NewFromFloat(t.TotalValue))

	for len(s.trades) > s.max {
		old := s.trades[0]
		s.trades[0] = nil
		s.trades = s.trades[1:]
		s.volume = s.volume.Sub(decimal.NewFromFloat(old.TotalValue))

		// the evicted trade is always its trader's oldest
		list := s.byTrader[old.TraderID]
		if len(list) <= 1 {
			delete(s.byTrader, old.TraderID)
			continue
		}
		list[0] = nil
		s.byTrader[old.TraderID] = list[1:]
	}
}

// Len returns the number of trades held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trades)
}

// Traders returns the number of distinct traders held.
func (s *Store) Traders() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTrader)
}

// Volume returns the total value of the trades held.
func (s *Store) Volume() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volume
}

// All returns up to limit trades, newest first. limit <= 0 returns all.
func (s *Store) All(limit int) []*domain.TradeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.trades, limit, nil)
}

// ByTrader returns a snapshot of one trader's trades, newest first.
func (s *Store) ByTrader(traderID string, limit int) []*domain.TradeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.byTrader[traderID], limit, nil)
}

// Baseline returns clean trades from other traders, newest first: no fraud
// flag, fraud type or ring id.
func (s *Store) Baseline(excludeTrader string, limit int) []*domain.TradeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.trades, limit, func(t *domain.TradeEvent) bool {
		return t.TraderID != excludeTrader && !bool(t.IsFraud) && t.FraudType == nil && t.RingID == nil
	})
}

func newestFirst(src []*domain.TradeEvent, limit int, keep func(*domain.TradeEvent) bool) []*domain.TradeEvent {
	n := len(src)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*domain.TradeEvent, 0, n)
	for i := len(src) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if keep != nil && !keep(src[i]) {
			continue
		}
		out = append(out, src[i])
	}
	return out
}
