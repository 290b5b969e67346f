package service

import (
	"sort"
	"sync"

	"statarb/internal/domain"
)

// MarketState holds the latest quote per symbol. Feed and poller publish,
// the strategy loop and paper execution read.
type MarketState struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

// NewMarketState creates an empty cache.
func NewMarketState() *MarketState {
	return &MarketState{quotes: make(map[string]domain.Quote)}
}

// Publish replaces the whole record for q.Symbol. Callers build q fully
// before calling so the lock only covers the map write.
func (s *MarketState) Publish(q domain.Quote) {
	s.mu.Lock()
	s.quotes[q.Symbol] = q
	s.mu.Unlock()
}

// Read returns a copy of the latest quote for symbol.
func (s *MarketState) Read(symbol string) (domain.Quote, bool) {
	s.mu.RLock()
	q, ok := s.quotes[symbol]
	s.mu.RUnlock()
	return q, ok
}

// Len returns the number of symbols seen so far.
func (s *MarketState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quotes)
}

// Snapshot returns all quotes sorted by symbol
func (s *MarketState) Snapshot() []domain.Quote {
	s.mu.RLock()
	result := make([]domain.Quote, 0, len(s.quotes))
	for _, q := range s.quotes {
		result = append(result, q)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})
	return result
}
