package models

import "errors"

// ErrTickerNotFound is returned for lookups of symbols outside the instrument list.
var ErrTickerNotFound = errors.New("ticker not found")

// Ticker is the current state of one instrument. Timestamps are unix milliseconds.
type Ticker struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Volume        int64   `json:"volume"`
	Timestamp     int64   `json:"timestamp"`
}

// PriceUpdate is emitted once per ticker mutation.
type PriceUpdate struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// HistoricalPoint is one synthetic daily OHLCV bar.
type HistoricalPoint struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

// CacheStats describes the live entries of the history cache.
type CacheStats struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}
