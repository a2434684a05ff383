package usecase

import (
	"context"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/cache"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/util"

	"golang.org/x/sync/singleflight"
)

// SeriesGenerator produces a historical series for a known symbol.
type SeriesGenerator interface {
	Generate(symbol string, days int) ([]models.HistoricalPoint, bool)
}

type historyKey struct {
	Symbol string
	Days   int
}

func (k historyKey) String() string { return fmt.Sprintf("%s:%d", k.Symbol, k.Days) }

// HistoryCache memoizes generated series per (symbol, days) for a fixed TTL.
type HistoryCache struct {
	gen     SeriesGenerator
	metrics domrepo.Metrics
	log     *logger.Logger
	entries *cache.TTLCache[historyKey, []models.HistoricalPoint]
	flight  singleflight.Group
}

func NewHistoryCache(gen SeriesGenerator, ttl time.Duration, metrics domrepo.Metrics, log *logger.Logger, opts ...cache.Option) *HistoryCache {
	return &HistoryCache{
		gen:     gen,
		metrics: metrics,
		log:     log.Component("history"),
		entries: cache.NewTTLCache[historyKey, []models.HistoricalPoint](ttl, opts...),
	}
}

// Get returns the cached series for (symbol, days), generating it on a miss.
// Concurrent misses for one key share a single generation.
func (h *HistoryCache) Get(ctx context.Context, symbol string, days int) ([]models.HistoricalPoint, error) {
	key := historyKey{Symbol: util.NormalizeSymbol(symbol), Days: days}
	if series, ok := h.entries.Get(key); ok {
		h.metrics.RecordHistoryRequest(true)
		return clonePoints(series), nil
	}
	h.metrics.RecordHistoryRequest(false)

	ch := h.flight.DoChan(key.String(), func() (interface{}, error) {
		if series, ok := h.entries.Get(key); ok {
			return series, nil
		}
		start := time.Now()
		series, ok := h.gen.Generate(key.Symbol, key.Days)
		if !ok {
			return nil, fmt.Errorf("history %s: %w", key.Symbol, models.ErrTickerNotFound)
		}
		h.metrics.RecordHistoryGeneration(time.Since(start).Seconds())
		h.entries.Set(key, series)
		h.log.Debug("history generated", logger.String("key", key.String()), logger.Int("points", len(series)))
		return series, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clonePoints(res.Val.([]models.HistoricalPoint)), nil
	}
}

// Invalidate drops cached series. An empty symbol clears everything; days 0
// clears every range of symbol.
func (h *HistoryCache) Invalidate(symbol string, days int) int {
	sym := util.NormalizeSymbol(symbol)
	var n int
	switch {
	case sym == "":
		n = h.entries.Len()
		h.entries.Clear()
	case days == 0:
		n = h.entries.DeleteFunc(func(k historyKey) bool { return k.Symbol == sym })
	default:
		if h.entries.Delete(historyKey{Symbol: sym, Days: days}) {
			n = 1
		}
	}
	if n > 0 {
		h.log.Info("history cache invalidated", logger.String("symbol", sym), logger.Int("days", days), logger.Int("removed", n))
	}
	return n
}

// Stats lists live keys as SYMBOL:days in insertion order.
func (h *HistoryCache) Stats() models.CacheStats {
	keys := h.entries.Keys()
	out := models.CacheStats{Size: len(keys), Keys: make([]string, len(keys))}
	for i, k := range keys {
		out.Keys[i] = k.String()
	}
	return out
}

// StartJanitor purges expired entries every interval until ctx is done.
func (h *HistoryCache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := h.entries.Purge(); n > 0 {
					h.log.Debug("history cache purged", logger.Int("expired", n))
				}
			}
		}
	}()
}

func clonePoints(in []models.HistoricalPoint) []models.HistoricalPoint {
	out := make([]models.HistoricalPoint, len(in))
	copy(out, in)
	return out
}
