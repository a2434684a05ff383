package repository

import (
	"context"

	"MarketPulse/internal/domain/models"
)

// Publisher is an outbound sink for price updates (Redis, Kafka).
type Publisher interface {
	Name() string
	Publish(ctx context.Context, u models.PriceUpdate) error
	Close() error
}

type Metrics interface {
	RecordPriceUpdate(symbol string, price float64)
	RecordHistoryRequest(hit bool)
	RecordHistoryGeneration(seconds float64)
	RecordConnectionOpened()
	RecordConnectionClosed()
	RecordMessageSent(kind string)
	RecordMessageDropped()
	RecordHandlerPanic()
	RecordSinkPublished(sink, symbol string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
