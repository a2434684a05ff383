package models

// Requests for market HTTP endpoints.

type TickerRequest struct {
	Symbol string `param:"symbol" validate:"required"`
}

// HistoryRequest carries the path symbol; days is read leniently by the handler.
type HistoryRequest struct {
	Symbol string `param:"symbol" validate:"required"`
}

type CacheInvalidateRequest struct {
	Symbol string `query:"symbol" validate:"omitempty,max=16"`
	Days   int    `query:"days" validate:"gte=0,lte=3650"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}
