package market

import (
	"sync"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/util"
)

// Instrument is the seed for one ticker.
type Instrument struct {
	Symbol string
	Name   string
	Price  float64
	Volume int64
}

// DefaultInstruments is the fixed instrument list the simulator starts with.
var DefaultInstruments = []Instrument{
	{Symbol: "AAPL", Name: "Apple Inc.", Price: 185.50, Volume: 52_000_000},
	{Symbol: "TSLA", Name: "Tesla Inc.", Price: 242.30, Volume: 98_000_000},
	{Symbol: "BTC-USD", Name: "Bitcoin USD", Price: 42150.75, Volume: 28_000_000},
	{Symbol: "GOOGL", Name: "Alphabet Inc.", Price: 138.25, Volume: 24_000_000},
	{Symbol: "MSFT", Name: "Microsoft Corp.", Price: 378.90, Volume: 19_000_000},
}

type entry struct {
	mu     sync.RWMutex
	ticker models.Ticker
}

// Store holds the current state of every ticker. The set of symbols is
// fixed at construction; each entry carries its own lock.
type Store struct {
	order   []string
	entries map[string]*entry
}

// NewStore seeds a store from instruments, stamping every ticker with now (unix ms).
func NewStore(instruments []Instrument, now int64) *Store {
	s := &Store{
		order:   make([]string, 0, len(instruments)),
		entries: make(map[string]*entry, len(instruments)),
	}
	for _, in := range instruments {
		sym := util.NormalizeSymbol(in.Symbol)
		if _, dup := s.entries[sym]; dup {
			continue
		}
		s.order = append(s.order, sym)
		s.entries[sym] = &entry{ticker: models.Ticker{
			Symbol:    sym,
			Name:      in.Name,
			Price:     in.Price,
			Volume:    in.Volume,
			Timestamp: now,
		}}
	}
	return s
}

// List returns copies of all tickers in instrument order.
func (s *Store) List() []models.Ticker {
	out := make([]models.Ticker, 0, len(s.order))
	for _, sym := range s.order {
		e := s.entries[sym]
		e.mu.RLock()
		out = append(out, e.ticker)
		e.mu.RUnlock()
	}
	return out
}

// Get returns a copy of the ticker for symbol. Lookup is case-insensitive.
func (s *Store) Get(symbol string) (models.Ticker, bool) {
	e, ok := s.entries[util.NormalizeSymbol(symbol)]
	if !ok {
		return models.Ticker{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ticker, true
}

// Update runs fn against the stored ticker under its write lock and returns the result.
func (s *Store) Update(symbol string, fn func(t *models.Ticker)) (models.Ticker, bool) {
	e, ok := s.entries[util.NormalizeSymbol(symbol)]
	if !ok {
		return models.Ticker{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.ticker)
	return e.ticker, true
}

// Symbols returns the instrument symbols in order.
func (s *Store) Symbols() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
