package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/logger"
)

// SinkPipeline sits between the update bus and the outbound publishers.
// It validates and throttles updates on the bus goroutine, then hands them
// to a single worker so a slow sink never stalls the engine.
type SinkPipeline struct {
	publishers []domrepo.Publisher
	metrics    domrepo.Metrics
	log        *logger.Logger

	maxRPS      int
	bufSize     int
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	bufCh chan models.PriceUpdate

	mu       sync.Mutex
	lastSeen map[string]time.Time // per-symbol last accepted time
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type PipelineOption func(*SinkPipeline)

// WithMaxRPS sets the max updates per second per symbol. Zero disables throttling.
func WithMaxRPS(n int) PipelineOption {
	return func(p *SinkPipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the queue size between the bus and the worker.
func WithBufferSize(n int) PipelineOption {
	return func(p *SinkPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithRetry sets per-publisher attempts and the starting backoff.
func WithRetry(attempts int, base, ceiling time.Duration) PipelineOption {
	return func(p *SinkPipeline) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
		if base > 0 {
			p.baseBackoff = base
		}
		if ceiling >= p.baseBackoff {
			p.maxBackoff = ceiling
		}
	}
}

func NewSinkPipeline(publishers []domrepo.Publisher, metrics domrepo.Metrics, log *logger.Logger, opts ...PipelineOption) *SinkPipeline {
	p := &SinkPipeline{
		publishers:  publishers,
		metrics:     metrics,
		log:         log.Component("sink"),
		bufSize:     2000,
		maxAttempts: 3,
		baseBackoff: 50 * time.Millisecond,
		maxBackoff:  2 * time.Second,
		lastSeen:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan models.PriceUpdate, p.bufSize)
	return p
}

// Len reports how many publishers are attached.
func (p *SinkPipeline) Len() int { return len(p.publishers) }

// HandleUpdate validates, throttles and enqueues u without blocking.
func (p *SinkPipeline) HandleUpdate(u models.PriceUpdate) {
	if err := validateUpdate(u); err != nil {
		p.metrics.RecordError("pipeline_validate")
		p.log.Warn("invalid update dropped", logger.Error(err))
		return
	}
	if !p.allow(u.Symbol, time.Now()) {
		p.metrics.RecordError("pipeline_throttle")
		return
	}
	select {
	case p.bufCh <- u:
	default:
		p.metrics.RecordError("pipeline_buffer_full")
	}
}

// Start launches the worker. Calling it twice is a no-op.
func (p *SinkPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
	names := make([]string, len(p.publishers))
	for i, pub := range p.publishers {
		names[i] = pub.Name()
	}
	p.log.Info("sink pipeline started", logger.Strings("sinks", names))
}

// Stop halts the worker and waits for the in-flight update.
func (p *SinkPipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	p.log.Info("sink pipeline stopped", logger.Int("dropped_buffered", len(p.bufCh)))
}

func (p *SinkPipeline) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-p.bufCh:
			start := time.Now()
			for _, pub := range p.publishers {
				p.forward(ctx, pub, u)
			}
			p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
		}
	}
}

// forward retries a publisher with exponential backoff and a cap.
func (p *SinkPipeline) forward(ctx context.Context, pub domrepo.Publisher, u models.PriceUpdate) {
	backoff := p.baseBackoff
	for attempt := 1; ; attempt++ {
		err := pub.Publish(ctx, u)
		if err == nil {
			p.metrics.RecordSinkPublished(pub.Name(), u.Symbol)
			return
		}
		p.metrics.RecordError("sink_" + pub.Name())
		if attempt >= p.maxAttempts || ctx.Err() != nil {
			p.log.Warn("sink publish failed",
				logger.String("sink", pub.Name()),
				logger.String("symbol", u.Symbol),
				logger.Int("attempts", attempt),
				logger.Error(err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}
}

func validateUpdate(u models.PriceUpdate) error {
	if u.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if u.Timestamp <= 0 {
		return fmt.Errorf("timestamp invalid")
	}
	if u.Price <= 0 {
		return fmt.Errorf("price must be positive")
	}
	return nil
}

func (p *SinkPipeline) allow(symbol string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[symbol]
	if !last.IsZero() && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
