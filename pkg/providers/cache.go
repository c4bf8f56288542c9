package providers

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/spothive/spothive/pkg/domain"
)

// CachedPriceProvider memoizes price lookups in a bounded LRU with a TTL.
// Spot prices move on the order of minutes; a short TTL keeps the pipeline
// from hammering the upstream price source while a cluster-mode request
// prices hundreds of candidates.
type CachedPriceProvider struct {
	upstream PriceProvider
	ttl      time.Duration
	cache    *lru.Cache[string, cachedPrice]
	now      func() time.Time
}

type cachedPrice struct {
	value   float64
	fetched time.Time
}

// NewCachedPriceProvider wraps upstream with an LRU of the given size.
func NewCachedPriceProvider(upstream PriceProvider, size int, ttl time.Duration) (*CachedPriceProvider, error) {
	cache, err := lru.New[string, cachedPrice](size)
	if err != nil {
		return nil, err
	}
	return &CachedPriceProvider{
		upstream: upstream,
		ttl:      ttl,
		cache:    cache,
		now:      time.Now,
	}, nil
}

func (c *CachedPriceProvider) SpotPrice(ctx context.Context, pool domain.Pool) (float64, error) {
	return c.lookup(ctx, "spot:"+pool.Key(), func() (float64, error) {
		return c.upstream.SpotPrice(ctx, pool)
	})
}

func (c *CachedPriceProvider) OnDemandPrice(ctx context.Context, pool domain.Pool) (float64, error) {
	return c.lookup(ctx, "ondemand:"+pool.Key(), func() (float64, error) {
		return c.upstream.OnDemandPrice(ctx, pool)
	})
}

func (c *CachedPriceProvider) lookup(_ context.Context, key string, fetch func() (float64, error)) (float64, error) {
	if entry, ok := c.cache.Get(key); ok && c.now().Sub(entry.fetched) < c.ttl {
		return entry.value, nil
	}
	value, err := fetch()
	if err != nil {
		return 0, err
	}
	c.cache.Add(key, cachedPrice{value: value, fetched: c.now()})
	return value, nil
}
