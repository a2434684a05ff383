package repository

import (
	"context"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	pkgcache "MarketPulse/pkg/cache"
)

// RedisSnapshotPublisher mirrors the latest update per symbol under
// ticker:<SYMBOL> and announces it on prices.<SYMBOL>.
type RedisSnapshotPublisher struct {
	cache pkgcache.Service
	ttl   time.Duration
	close func() error
}

func NewRedisSnapshotPublisher(cache pkgcache.Service, ttl time.Duration, closer func() error) repository.Publisher {
	return &RedisSnapshotPublisher{cache: cache, ttl: ttl, close: closer}
}

func SnapshotKey(symbol string) string { return pkgcache.GenerateKey("ticker", symbol) }

func PriceChannel(symbol string) string { return "prices." + symbol }

func (p *RedisSnapshotPublisher) Name() string { return "redis" }

func (p *RedisSnapshotPublisher) Publish(ctx context.Context, u models.PriceUpdate) error {
	return p.cache.SetAndPublish(ctx, SnapshotKey(u.Symbol), PriceChannel(u.Symbol), u, p.ttl)
}

func (p *RedisSnapshotPublisher) Close() error {
	if p.close != nil {
		return p.close()
	}
	return nil
}
