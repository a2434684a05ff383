package di

import (
	"context"
	"fmt"
	"time"

	"MarketPulse/internal/domain/repository"
	"MarketPulse/internal/handler/api"
	"MarketPulse/internal/handler/ws"
	mid "MarketPulse/internal/middleware"
	internalrepo "MarketPulse/internal/repository"
	"MarketPulse/internal/service/bus"
	"MarketPulse/internal/service/market"
	"MarketPulse/internal/service/ratelimit"
	"MarketPulse/internal/usecase"
	pkgcache "MarketPulse/pkg/cache"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	httpmw "MarketPulse/pkg/http/middleware"
	pkgkafka "MarketPulse/pkg/kafka"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"
	"MarketPulse/pkg/server"
	"MarketPulse/pkg/util"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const slowRequestThreshold = 500 * time.Millisecond

// ProvideLogger builds the root logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates a private Prometheus registry with the runtime collectors.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.NewWithRegistry(reg)
}

func ProvideStore() *market.Store {
	return market.NewStore(market.DefaultInstruments, util.NowMillis())
}

func ProvideBus(log *logger.Logger, m repository.Metrics) *bus.Bus {
	return bus.New(log, m)
}

// ProvideEngine creates the price engine publishing onto the bus.
func ProvideEngine(cfg *config.Config, store *market.Store, b *bus.Bus, m repository.Metrics, log *logger.Logger) *market.Engine {
	return market.NewEngine(store, b, m,
		market.WithIntervals(cfg.Simulator.MinInterval, cfg.Simulator.MaxInterval),
		market.WithLogger(log),
	)
}

func ProvideHistoryCache(cfg *config.Config, store *market.Store, m repository.Metrics, log *logger.Logger) *usecase.HistoryCache {
	return usecase.NewHistoryCache(market.NewGenerator(store), cfg.History.TTL, m, log)
}

// ProvideLimiter returns nil when rate limiting is disabled.
func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	return ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSec)
}

func ProvideWSServer(cfg *config.Config, b *bus.Bus, m repository.Metrics, log *logger.Logger) *ws.Server {
	return ws.NewServer(ws.Config{
		Path:           cfg.WebSocket.Path,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		PingPeriod:     cfg.WebSocket.PingPeriod,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}, b, m, log)
}

// ProvideMarketHandler builds the REST handler.
func ProvideMarketHandler(
	cfg *config.Config,
	log *logger.Logger,
	store *market.Store,
	history *usecase.HistoryCache,
	limiter *ratelimit.Limiter,
) *api.MarketEchoHandler {
	// keep a nil *Limiter from becoming a non-nil interface
	var l api.Limiter
	if limiter != nil {
		l = limiter
	}
	return api.NewMarketEchoHandler(log, store, history, l, api.HistoryConfig{
		DefaultDays: cfg.History.DefaultDays,
		MaxDays:     cfg.History.MaxDays,
	})
}

// ProvidePublishers connects the enabled outbound sinks.
func ProvidePublishers(cfg *config.Config, reg *prometheus.Registry) ([]repository.Publisher, error) {
	var pubs []repository.Publisher

	if cfg.Redis.Enabled {
		rc, err := pkgcache.NewRedisCache(context.Background(),
			pkgcache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
			pkgcache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
			pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
		)
		if err != nil {
			return nil, fmt.Errorf("redis sink: %w", err)
		}
		pubs = append(pubs, internalrepo.NewRedisSnapshotPublisher(rc, cfg.Redis.SnapshotTTL, rc.Close))
	}

	if cfg.Kafka.Enabled {
		producer, err := pkgkafka.NewProducer(
			pkgkafka.WithBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithCompression(cfg.Kafka.Compression),
			pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
			pkgkafka.WithBatching(cfg.Kafka.BatchSize, cfg.Kafka.BatchTimeout),
			pkgkafka.WithTimeouts(cfg.Kafka.WriteTimeout, cfg.Kafka.WriteTimeout),
			pkgkafka.WithAsync(cfg.Kafka.Async),
			pkgkafka.WithHashByKey(true),
			pkgkafka.WithAutoCreateTopic(true),
			pkgkafka.WithRegisterer(reg),
		)
		if err != nil {
			for _, p := range pubs {
				_ = p.Close()
			}
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		pubs = append(pubs, internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic))
	}

	return pubs, nil
}

// ProvideSinkPipeline subscribes the pipeline to the bus when any sink is configured.
func ProvideSinkPipeline(cfg *config.Config, pubs []repository.Publisher, b *bus.Bus, m repository.Metrics, log *logger.Logger) (*mid.SinkPipeline, error) {
	pipe := mid.NewSinkPipeline(pubs, m, log,
		mid.WithBufferSize(cfg.Pipeline.BufferSize),
		mid.WithMaxRPS(cfg.Pipeline.MaxRPS),
	)
	if len(pubs) == 0 {
		return pipe, nil
	}
	if err := b.Subscribe(pipe); err != nil {
		return nil, fmt.Errorf("sink pipeline: %w", err)
	}
	return pipe, nil
}

// ProvideHTTPServer mounts the REST and websocket handlers on one Echo server.
func ProvideHTTPServer(
	cfg *config.Config,
	log *logger.Logger,
	reg *prometheus.Registry,
	rest *api.MarketEchoHandler,
	wsSrv *ws.Server,
) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithLogger(log),
	}
	if cfg.Metrics.Enabled {
		httpMetrics := httpmw.NewHTTPMetrics(reg)
		opts = append(opts,
			xhttp.WithMiddleware(httpMetrics.Middleware(log, slowRequestThreshold)),
			xhttp.WithMetrics(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
		)
	}
	return xhttp.NewServer([]xhttp.Handler{rest, wsSrv}, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	engine *market.Engine,
	wsSrv *ws.Server,
	pipe *mid.SinkPipeline,
	history *usecase.HistoryCache,
	limiter *ratelimit.Limiter,
	httpSrv *xhttp.Server,
	pubs []repository.Publisher,
) *server.App {
	return server.New(server.Components{
		Config:   cfg,
		Logger:   log,
		Engine:   engine,
		WS:       wsSrv,
		Pipeline: pipe,
		History:  history,
		Limiter:  limiter,
		HTTP:     httpSrv,
		Sinks:    pubs,
	})
}
