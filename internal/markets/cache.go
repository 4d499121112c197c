// Package markets caches the market catalog shared by every monitored node.
package markets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aceteam-ai/nosana-monitor/internal/nosana"
)

// DefaultTTL is how long a catalog (or a failure) is served without refetching.
const DefaultTTL = 5 * time.Minute

// Fetcher reads the full market list from upstream.
type Fetcher interface {
	FetchMarkets(ctx context.Context) ([]nosana.Market, error)
}

// Catalog is an immutable market list indexed by address.
type Catalog struct {
	markets   map[string]nosana.Market
	FetchedAt time.Time
}

// NewCatalog indexes markets by address.
func NewCatalog(markets []nosana.Market, fetchedAt time.Time) *Catalog {
	c := &Catalog{markets: make(map[string]nosana.Market, len(markets)), FetchedAt: fetchedAt}
	for _, m := range markets {
		if addr := m.Address.String(); addr != "" {
			c.markets[addr] = m
		}
	}
	return c
}

// Lookup returns the market with the given address.
func (c *Catalog) Lookup(address string) (nosana.Market, bool) {
	if c == nil || address == "" {
		return nosana.Market{}, false
	}
	m, ok := c.markets[address]
	return m, ok
}

// RewardRate returns the market's USD reward per hour, if known.
func (c *Catalog) RewardRate(address string) (float64, bool) {
	m, ok := c.Lookup(address)
	if !ok {
		return 0, false
	}
	return m.UsdRewardPerHour.Float()
}

// Len returns the number of markets in the catalog.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.markets)
}

// CacheConfig holds configuration for the markets cache.
type CacheConfig struct {
	// TTL is the catalog lifetime (default: 5m)
	TTL time.Duration

	// Now overrides the clock (tests)
	Now func() time.Time

	LogFn func(level, msg string)
}

// Cache is a TTL cache over the market list. Within the TTL it never calls
// upstream, whether the last fetch succeeded or failed. After the TTL a
// refresh is attempted; on failure the previous good catalog keeps being
// served for another TTL. Concurrent refreshes collapse into one.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time
	logFn   func(level, msg string)
	group   singleflight.Group

	mu        sync.RWMutex
	catalog   *Catalog
	lastErr   error
	expiresAt time.Time
}

// NewCache creates a new markets cache.
func NewCache(cfg CacheConfig, fetcher Fetcher) *Cache {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		fetcher: fetcher,
		ttl:     cfg.TTL,
		now:     cfg.Now,
		logFn:   cfg.LogFn,
	}
}

func (c *Cache) log(level, msg string) {
	if c.logFn != nil {
		c.logFn(level, msg)
	}
}

// Get returns the current catalog, refreshing it when expired.
func (c *Cache) Get(ctx context.Context) (*Catalog, error) {
	if cat, fresh, err := c.cached(); fresh {
		return cat, err
	}

	v, err, _ := c.group.Do("markets", func() (any, error) {
		// another caller may have refreshed while we waited
		if cat, fresh, err := c.cached(); fresh {
			return cat, err
		}
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Catalog), nil
}

// cached reports the cached result and whether it is still within the TTL.
func (c *Cache) cached() (*Catalog, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.expiresAt.IsZero() || !c.now().Before(c.expiresAt) {
		return nil, false, nil
	}
	if c.catalog != nil {
		return c.catalog, true, nil
	}
	return nil, true, c.lastErr
}

func (c *Cache) refresh(ctx context.Context) (*Catalog, error) {
	markets, err := c.fetcher.FetchMarkets(ctx)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		// failures hold for a full TTL too, so a down endpoint is hit once per window
		c.lastErr = err
		c.expiresAt = now.Add(c.ttl)
		if c.catalog != nil {
			c.log("warning", fmt.Sprintf("Market refresh failed, serving catalog from %s until %s: %v",
				c.catalog.FetchedAt.Format(time.RFC3339), c.expiresAt.Format(time.RFC3339), err))
			return c.catalog, nil
		}
		return nil, err
	}

	c.catalog = NewCatalog(markets, now)
	c.lastErr = nil
	c.expiresAt = now.Add(c.ttl)
	c.log("debug", fmt.Sprintf("Market catalog refreshed: %d markets", c.catalog.Len()))
	return c.catalog, nil
}
