package market

import (
	"math"
	"math/rand/v2"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/util"
)

const (
	baselineFactor = 0.9
	maxDailyMove   = 0.025
	maxWick        = 0.02
	minDayVolume   = 5_000_000
	dayVolumeSpan  = 10_000_000
)

// Generator builds synthetic daily OHLCV series anchored on the current price.
type Generator struct {
	store *Store
	now   func() time.Time
}

func NewGenerator(store *Store) *Generator {
	return &Generator{store: store, now: time.Now}
}

// Generate returns days+1 bars ending today, or false for an unknown symbol.
func (g *Generator) Generate(symbol string, days int) ([]models.HistoricalPoint, bool) {
	t, ok := g.store.Get(symbol)
	if !ok {
		return nil, false
	}
	return GenerateFrom(t.Price, days, g.now()), true
}

// GenerateFrom walks a random series from 90% of price. Bars are oldest first.
func GenerateFrom(price float64, days int, now time.Time) []models.HistoricalPoint {
	if days < 0 {
		days = 0
	}
	out := make([]models.HistoricalPoint, 0, days+1)
	baseline := price * baselineFactor
	for i := days; i >= 0; i-- {
		move := (rand.Float64()*2 - 1) * maxDailyMove
		open := baseline
		closing := baseline * (1 + move)
		high := math.Max(open, closing) * (1 + rand.Float64()*maxWick)
		low := math.Min(open, closing) * (1 - rand.Float64()*maxWick)

		out = append(out, models.HistoricalPoint{
			Timestamp: util.DaysAgo(now, i).UnixMilli(),
			Open:      Round2(open),
			High:      Round2(high),
			Low:       Round2(low),
			Close:     Round2(closing),
			Volume:    minDayVolume + rand.Int64N(dayVolumeSpan),
		})
		baseline = closing
	}
	return out
}
