package market

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/util"
)

const (
	defaultVolatility = 0.001
	cryptoVolatility  = 0.002
	maxVolumeStep     = 100_000
)

// Publisher receives every update the engine produces.
type Publisher interface {
	Publish(u models.PriceUpdate)
}

// Engine perturbs every ticker on its own random timer.
type Engine struct {
	store   *Store
	pub     Publisher
	metrics domrepo.Metrics
	log     *logger.Logger
	now     func() time.Time

	minInterval time.Duration
	maxInterval time.Duration

	locks map[string]*sync.Mutex

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type EngineOption func(*Engine)

// WithIntervals sets the bounds of the per-symbol tick delay.
func WithIntervals(lo, hi time.Duration) EngineOption {
	return func(e *Engine) {
		if lo > 0 && hi > lo {
			e.minInterval = lo
			e.maxInterval = hi
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) { e.log = l.Component("engine") }
}

func NewEngine(store *Store, pub Publisher, metrics domrepo.Metrics, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       store,
		pub:         pub,
		metrics:     metrics,
		log:         logger.Nop(),
		now:         time.Now,
		minInterval: time.Second,
		maxInterval: 3 * time.Second,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, sym := range store.Symbols() {
		e.locks[sym] = &sync.Mutex{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start schedules one loop per symbol. A second Start while running adds
// another overlapping set of loops.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		e.ctx, e.cancel = context.WithCancel(context.Background())
	}
	for _, sym := range e.store.Symbols() {
		e.wg.Add(1)
		go e.loop(e.ctx, sym)
	}
	e.log.Info("price engine started",
		logger.Int("symbols", len(e.locks)),
		logger.Duration("min_interval_ms", e.minInterval),
		logger.Duration("max_interval_ms", e.maxInterval))
}

// Stop cancels every loop and waits for in-flight ticks.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.ctx, e.cancel = nil, nil
	e.log.Info("price engine stopped")
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx != nil
}

func (e *Engine) loop(ctx context.Context, symbol string) {
	defer e.wg.Done()
	timer := time.NewTimer(e.nextDelay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if ctx.Err() != nil {
				return
			}
			e.Tick(symbol)
			timer.Reset(e.nextDelay())
		}
	}
}

func (e *Engine) nextDelay() time.Duration {
	return e.minInterval + rand.N(e.maxInterval-e.minInterval)
}

// Tick applies one random perturbation to symbol and publishes the result.
func (e *Engine) Tick(symbol string) (models.PriceUpdate, bool) {
	sym := util.NormalizeSymbol(symbol)
	lock, ok := e.locks[sym]
	if !ok {
		return models.PriceUpdate{}, false
	}
	lock.Lock()
	defer lock.Unlock()

	ts := e.now().UnixMilli()
	t, ok := e.store.Update(sym, func(t *models.Ticker) {
		v := volatility(t.Symbol)
		delta := (rand.Float64()*2 - 1) * v
		old := t.Price
		price := Round2(old * (1 + delta))
		if price < MinPrice {
			price = MinPrice
		}
		t.Price = price
		t.Change = Round2(price - old)
		if old > 0 {
			t.ChangePercent = Round2(100 * t.Change / old)
		}
		t.Volume += rand.Int64N(maxVolumeStep)
		t.Timestamp = ts
	})
	if !ok {
		return models.PriceUpdate{}, false
	}

	u := models.PriceUpdate{Symbol: t.Symbol, Price: t.Price, Timestamp: t.Timestamp}
	e.pub.Publish(u)
	e.metrics.RecordPriceUpdate(u.Symbol, u.Price)
	return u, true
}

func volatility(symbol string) float64 {
	if symbol == "BTC-USD" {
		return cryptoVolatility
	}
	return defaultVolatility
}
