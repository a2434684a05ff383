package api

import (
	"context"
	"errors"

	"MarketPulse/internal/domain/models"
	xhttp "MarketPulse/pkg/http"
	xlogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/util"

	"github.com/labstack/echo/v4"
)

// TickerReader is the read side of the ticker store.
type TickerReader interface {
	List() []models.Ticker
	Get(symbol string) (models.Ticker, bool)
}

type HistoryService interface {
	Get(ctx context.Context, symbol string, days int) ([]models.HistoricalPoint, error)
	Invalidate(symbol string, days int) int
	Stats() models.CacheStats
}

// Limiter is consulted per remote address before serving history.
type Limiter interface {
	Allow(key string) bool
}

type HistoryConfig struct {
	DefaultDays int
	MaxDays     int
}

// MarketEchoHandler serves tickers, history and cache administration.
type MarketEchoHandler struct {
	logger  *xlogger.Logger
	tickers TickerReader
	history HistoryService
	limiter Limiter
	cfg     HistoryConfig
}

// NewMarketEchoHandler builds the handler. A nil limiter disables rate limiting.
func NewMarketEchoHandler(logger *xlogger.Logger, tickers TickerReader, history HistoryService, limiter Limiter, cfg HistoryConfig) *MarketEchoHandler {
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = 30
	}
	if cfg.MaxDays < cfg.DefaultDays {
		cfg.MaxDays = 3650
	}
	return &MarketEchoHandler{
		logger:  logger.Component("api"),
		tickers: tickers,
		history: history,
		limiter: limiter,
		cfg:     cfg,
	}
}

func (h *MarketEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.GET("/tickers", h.ListTickers)
	g.GET("/tickers/:symbol", h.GetTicker)
	g.GET("/history/:symbol", h.History, h.rateLimit)
	g.GET("/cache/stats", h.CacheStats)
	g.DELETE("/cache", h.InvalidateCache)
}

func (h *MarketEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, models.HealthResponse{Status: "ok", Timestamp: util.NowMillis()})
}

func (h *MarketEchoHandler) ListTickers(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.tickers.List())
}

func (h *MarketEchoHandler) GetTicker(c echo.Context) error {
	req := &models.TickerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	t, ok := h.tickers.Get(req.Symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("Ticker not found"))
	}
	return xhttp.SuccessResponse(c, t)
}

func (h *MarketEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	days := xhttp.QueryIntInRange(c.QueryParam("days"), h.cfg.DefaultDays, 1, h.cfg.MaxDays)

	series, err := h.history.Get(c.Request().Context(), req.Symbol, days)
	if err != nil {
		if errors.Is(err, models.ErrTickerNotFound) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundError("Ticker not found").WithError(err))
		}
		h.logger.Error("history usecase error", xlogger.Error(err), xlogger.String("symbol", req.Symbol))
		return xhttp.AppErrorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, series)
}

func (h *MarketEchoHandler) CacheStats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.history.Stats())
}

func (h *MarketEchoHandler) InvalidateCache(c echo.Context) error {
	req := &models.CacheInvalidateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.history.Invalidate(req.Symbol, req.Days)
	return xhttp.SuccessResponse(c, h.history.Stats())
}

func (h *MarketEchoHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limited"))
		}
		return next(c)
	}
}
