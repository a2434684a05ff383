package bus

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/logger"
)

// ErrHandlerNotComparable is returned for handlers that cannot serve as a map key.
var ErrHandlerNotComparable = errors.New("bus: handler is not comparable")

// Handler receives price updates. The handler value is its identity.
type Handler interface {
	HandleUpdate(u models.PriceUpdate)
}

// FuncHandler adapts a function; use it through a pointer so it has identity.
type FuncHandler func(u models.PriceUpdate)

func (f *FuncHandler) HandleUpdate(u models.PriceUpdate) { (*f)(u) }

// Func wraps fn in a new handler. Keep the returned value to unsubscribe.
func Func(fn func(u models.PriceUpdate)) *FuncHandler {
	h := FuncHandler(fn)
	return &h
}

// Bus delivers every published update synchronously to all subscribers.
type Bus struct {
	log     *logger.Logger
	metrics domrepo.Metrics

	mu       sync.RWMutex
	handlers []Handler
	index    map[Handler]int
}

func New(log *logger.Logger, metrics domrepo.Metrics) *Bus {
	return &Bus{
		log:     log.Component("bus"),
		metrics: metrics,
		index:   make(map[Handler]int),
	}
}

// Subscribe registers h. Subscribing the same handler twice is a no-op.
func (b *Bus) Subscribe(h Handler) error {
	if h == nil {
		return fmt.Errorf("bus: nil handler")
	}
	if !reflect.TypeOf(h).Comparable() {
		return ErrHandlerNotComparable
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.index[h]; ok {
		return nil
	}
	b.index[h] = len(b.handlers)
	b.handlers = append(b.handlers, h)
	return nil
}

// Unsubscribe removes h if present.
func (b *Bus) Unsubscribe(h Handler) {
	if h == nil || !reflect.TypeOf(h).Comparable() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.index[h]
	if !ok {
		return
	}
	// handlers is copied on write, so snapshots held by Publish stay valid
	next := make([]Handler, 0, len(b.handlers)-1)
	next = append(next, b.handlers[:i]...)
	next = append(next, b.handlers[i+1:]...)
	b.handlers = next
	delete(b.index, h)
	for j := i; j < len(next); j++ {
		b.index[next[j]] = j
	}
}

// Publish hands u to a snapshot of the current subscribers in subscription order.
func (b *Bus) Publish(u models.PriceUpdate) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()
	for _, h := range handlers {
		b.deliver(h, u)
	}
}

func (b *Bus) deliver(h Handler, u models.PriceUpdate) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.RecordHandlerPanic()
			b.log.Error("subscriber panicked",
				logger.String("symbol", u.Symbol),
				logger.Any("panic", r))
		}
	}()
	h.HandleUpdate(u)
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
