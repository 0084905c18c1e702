package billing

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rentledger/backend/internal/domain/billing"
	"github.com/rentledger/backend/internal/infrastructure/cache"
)

// Preloader populates the cache entries adjacent to the month the user
// is looking at, so the common previous/next navigation is a cache hit.
// It is strictly fire-and-forget: failures are logged and swallowed,
// never surfaced to the caller.
type Preloader struct {
	fetcher  *AggregateFetcher
	cache    *cache.AggregateCache
	logger   *zap.Logger
	disabled bool
	wg       sync.WaitGroup
}

// PreloaderOption is a functional option for Preloader configuration
type PreloaderOption func(*Preloader)

// WithPreloadDisabled turns Preload into a no-op. Deployments that do
// not want background warming keep the same wiring and just flip the
// cache.preload_enabled setting.
func WithPreloadDisabled() PreloaderOption {
	return func(p *Preloader) {
		p.disabled = true
	}
}

// NewPreloader creates a new Preloader
func NewPreloader(fetcher *AggregateFetcher, aggregateCache *cache.AggregateCache, logger *zap.Logger, opts ...PreloaderOption) *Preloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Preloader{fetcher: fetcher, cache: aggregateCache, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Preload warms the previous and next month around the key. Already
// cached neighbors are skipped; the two lookups run concurrently.
func (p *Preloader) Preload(key billing.AggregateKey) {
	if p.disabled {
		return
	}
	for _, neighbor := range []billing.AggregateKey{key.Previous(), key.Next()} {
		if p.cache.Contains(neighbor) {
			continue
		}
		p.wg.Add(1)
		go p.populate(neighbor)
	}
}

// Wait blocks until all in-flight preloads finish. Used on shutdown and
// by tests.
func (p *Preloader) Wait() {
	p.wg.Wait()
}

func (p *Preloader) populate(key billing.AggregateKey) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic in preload",
				zap.String("key", key.String()),
				zap.Any("panic", r))
		}
	}()

	observed := p.cache.Generation(key)

	// Deliberately not tied to the triggering request's context: a
	// preload keeps running after the response goes out.
	aggregate, err := p.fetcher.Fetch(context.Background(), key)
	if err != nil {
		p.logger.Warn("Preload failed",
			zap.String("key", key.String()),
			zap.Error(err))
		return
	}

	if !p.cache.SetIfUnchanged(key, aggregate, observed) {
		p.logger.Debug("Preload result discarded, key was written meanwhile",
			zap.String("key", key.String()))
	}
}
