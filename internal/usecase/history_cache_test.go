package usecase

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/cache"
	"MarketPulse/internal/service/market"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"
)

type countingGenerator struct {
	inner *market.Generator
	calls atomic.Int32
	delay time.Duration
}

func (g *countingGenerator) Generate(symbol string, days int) ([]models.HistoricalPoint, bool) {
	g.calls.Add(1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	return g.inner.Generate(symbol, days)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newHistory(delay time.Duration) (*HistoryCache, *countingGenerator, *clock) {
	gen := &countingGenerator{inner: market.NewGenerator(market.NewStore(market.DefaultInstruments, 0)), delay: delay}
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	h := NewHistoryCache(gen, 15*time.Minute, metrics.Nop{}, logger.Nop(), cache.WithClock(clk.now))
	return h, gen, clk
}

func TestHistoryHitWithinTTL(t *testing.T) {
	h, gen, clk := newHistory(0)
	ctx := context.Background()

	first, err := h.Get(ctx, "AAPL", 30)
	if err != nil || len(first) != 31 {
		t.Fatalf("expected 31 points, got %d (%v)", len(first), err)
	}
	clk.advance(14 * time.Minute)
	second, _ := h.Get(ctx, "aapl", 30)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical series within ttl")
	}
	if gen.calls.Load() != 1 {
		t.Fatalf("expected one generation, got %d", gen.calls.Load())
	}

	second[0].Close = -1
	third, _ := h.Get(ctx, "AAPL", 30)
	if third[0].Close == -1 {
		t.Fatalf("callers must receive copies")
	}
}

func TestHistoryRegeneratesAfterTTL(t *testing.T) {
	h, gen, clk := newHistory(0)
	ctx := context.Background()

	h.Get(ctx, "TSLA", 7)
	h.Get(ctx, "MSFT", 7)
	clk.advance(16 * time.Minute)
	h.Get(ctx, "TSLA", 7)

	if gen.calls.Load() != 3 {
		t.Fatalf("expected regeneration after ttl, got %d calls", gen.calls.Load())
	}
	stats := h.Stats()
	if stats.Size != 1 || stats.Keys[0] != "TSLA:7" {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestHistoryKeysAreExact(t *testing.T) {
	h, gen, _ := newHistory(0)
	ctx := context.Background()
	h.Get(ctx, "AAPL", 7)
	h.Get(ctx, "AAPL", 30)
	if gen.calls.Load() != 2 {
		t.Fatalf("different ranges must not share an entry")
	}
	if got := h.Stats().Keys; !reflect.DeepEqual(got, []string{"AAPL:7", "AAPL:30"}) {
		t.Fatalf("unexpected keys %v", got)
	}
}

func TestHistoryUnknownSymbol(t *testing.T) {
	h, _, _ := newHistory(0)
	series, err := h.Get(context.Background(), "NOPE", 5)
	if !errors.Is(err, models.ErrTickerNotFound) {
		t.Fatalf("expected ErrTickerNotFound, got %v", err)
	}
	if len(series) != 0 {
		t.Fatalf("expected empty series")
	}
	if h.Stats().Size != 0 {
		t.Fatalf("unknown symbols must not be cached")
	}
}

func TestHistoryConcurrentMissesCoalesce(t *testing.T) {
	h, gen, _ := newHistory(20 * time.Millisecond)
	ctx := context.Background()

	const n = 16
	results := make([][]models.HistoricalPoint, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = h.Get(ctx, "BTC-USD", 10)
		}(i)
	}
	wg.Wait()

	if gen.calls.Load() != 1 {
		t.Fatalf("expected a single generation, got %d", gen.calls.Load())
	}
	for i := 1; i < n; i++ {
		if !reflect.DeepEqual(results[0], results[i]) {
			t.Fatalf("caller %d got a different series", i)
		}
	}
}

func TestHistoryInvalidate(t *testing.T) {
	h, _, _ := newHistory(0)
	ctx := context.Background()
	for _, k := range []struct {
		sym  string
		days int
	}{{"AAPL", 7}, {"AAPL", 30}, {"TSLA", 7}, {"MSFT", 1}} {
		h.Get(ctx, k.sym, k.days)
	}

	if n := h.Invalidate("AAPL", 30); n != 1 {
		t.Fatalf("expected exact key removal, got %d", n)
	}
	if n := h.Invalidate("GOOGL", 0); n != 0 {
		t.Fatalf("unmatched invalidation should be a no-op")
	}
	if n := h.Invalidate("aapl", 0); n != 1 {
		t.Fatalf("expected remaining AAPL key removed, got %d", n)
	}
	if got := h.Stats().Keys; !reflect.DeepEqual(got, []string{"TSLA:7", "MSFT:1"}) {
		t.Fatalf("unexpected keys %v", got)
	}
	h.Invalidate("", 0)
	if h.Stats().Size != 0 {
		t.Fatalf("expected empty cache")
	}
}

func TestHistoryJanitor(t *testing.T) {
	h, _, clk := newHistory(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Get(ctx, "AAPL", 3)
	clk.advance(time.Hour)
	h.StartJanitor(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for h.entries.Stored() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not purge")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
