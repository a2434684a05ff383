package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/handler/ws"
	mid "MarketPulse/internal/middleware"
	"MarketPulse/internal/service/market"
	"MarketPulse/internal/service/ratelimit"
	"MarketPulse/internal/usecase"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	applogger "MarketPulse/pkg/logger"
)

const limiterIdle = 10 * time.Minute

// Components is everything App drives through its lifecycle.
// Limiter may be nil when rate limiting is disabled.
type Components struct {
	Config   *config.Config
	Logger   *applogger.Logger
	Engine   *market.Engine
	WS       *ws.Server
	Pipeline *mid.SinkPipeline
	History  *usecase.HistoryCache
	Limiter  *ratelimit.Limiter
	HTTP     *xhttp.Server
	Sinks    []domrepo.Publisher
}

// App encapsulates the entire application lifecycle.
type App struct {
	Components

	log     *applogger.Logger
	mu      sync.Mutex
	cancel  context.CancelFunc
	bg      sync.WaitGroup
	started bool
}

// New creates a new App instance with all dependencies.
func New(c Components) *App {
	log := c.Logger
	if log == nil {
		log = applogger.Nop()
	}
	return &App{Components: c, log: log.Component("app")}
}

// Addr is the address the HTTP server is bound to after Start.
func (a *App) Addr() string { return a.HTTP.Addr() }

// Start brings up background workers, the HTTP listener and finally the
// price engine, so nothing is published before there is somewhere to send it.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("app already started")
	}

	ctx, cancel := context.WithCancel(ctx)

	a.History.StartJanitor(ctx, a.Config.History.JanitorInterval)
	if a.Limiter != nil {
		a.bg.Add(1)
		go a.pruneLimiter(ctx)
	}
	if a.Pipeline.Len() > 0 {
		a.Pipeline.Start(ctx)
	}

	if err := a.HTTP.Start(); err != nil {
		cancel()
		a.bg.Wait()
		a.Pipeline.Stop()
		return err
	}
	a.Engine.Start()

	a.cancel = cancel
	a.started = true
	a.log.Info("marketpulse started",
		applogger.String("env", a.Config.Environment),
		applogger.String("addr", a.HTTP.Addr()),
		applogger.Int("sinks", len(a.Sinks)))
	return nil
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	if err := a.Start(context.Background()); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	sig := <-sigCh

	a.log.Info("shutdown signal received", applogger.String("signal", sig.String()))
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(ctx)
}

// Shutdown stops producers before consumers: engine, websocket clients,
// sink pipeline, HTTP, then the sinks themselves.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false
	a.log.Info("shutting down...")

	a.Engine.Stop()
	a.WS.Close()
	a.Pipeline.Stop()

	var errs []error
	if err := a.HTTP.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	a.cancel()
	a.bg.Wait()

	for _, s := range a.Sinks {
		if err := s.Close(); err != nil {
			a.log.Warn("sink close error", applogger.String("sink", s.Name()), applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) pruneLimiter(ctx context.Context) {
	defer a.bg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Limiter.Prune(limiterIdle); n > 0 {
				a.log.Debug("pruned idle rate limit buckets", applogger.Int("buckets", n))
			}
		}
	}
}
