package antt

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/freight-marketplace/internal/models"
	"github.com/example/freight-marketplace/internal/observability"
)

// Cache is a small in-memory TTL cache for resolved minimums, keyed by
// freight id.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  decimal.Decimal
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func (c *Cache) Get(freightID string) (decimal.Decimal, bool) {
	c.mu.RLock()
	e, ok := c.store[freightID]
	c.mu.RUnlock()
	if !ok {
		return decimal.Zero, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, freightID)
		c.mu.Unlock()
		return decimal.Zero, false
	}
	return e.v, true
}

func (c *Cache) Set(freightID string, v decimal.Decimal) {
	c.mu.Lock()
	c.store[freightID] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// Resolver produces the minimum total for a freight. Order: the value
// stored on the freight record wins, then the cache, then the table
// service. Any failure leaves the minimum unknown rather than guessing.
type Resolver struct {
	Client Client // optional
	Cache  *Cache // optional
}

func (r *Resolver) MinimumFor(ctx context.Context, f models.Freight) decimal.NullDecimal {
	if f.MinimumAnttPrice.Valid {
		observability.AnttLookups.WithLabelValues("stored").Inc()
		return f.MinimumAnttPrice
	}
	if r.Cache != nil {
		if v, ok := r.Cache.Get(f.ID); ok {
			observability.AnttLookups.WithLabelValues("cache_hit").Inc()
			return decimal.NewNullDecimal(v)
		}
	}
	if r.Client != nil {
		if v, err := r.Client.MinimumTotal(ctx, f); err == nil {
			if r.Cache != nil {
				r.Cache.Set(f.ID, v)
			}
			observability.AnttLookups.WithLabelValues("resolved").Inc()
			return decimal.NewNullDecimal(v)
		}
	}
	observability.AnttLookups.WithLabelValues("unknown").Inc()
	return decimal.NullDecimal{}
}
