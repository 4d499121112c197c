package markets

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aceteam-ai/nosana-monitor/internal/nosana"
)

type fakeFetcher struct {
	calls   atomic.Int32
	mu      sync.Mutex
	markets []nosana.Market
	err     error
	delay   time.Duration
}

func (f *fakeFetcher) FetchMarkets(ctx context.Context) ([]nosana.Market, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markets, f.err
}

func (f *fakeFetcher) set(markets []nosana.Market, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets, f.err = markets, err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func market(addr string, usdPerHour float64) nosana.Market {
	return nosana.Market{
		Address:          nosana.NewText(addr),
		Name:             nosana.NewText("Market " + addr),
		UsdRewardPerHour: nosana.NewNumber(usdPerHour),
	}
}

func TestCacheServesWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	fetcher := &fakeFetcher{markets: []nosana.Market{market("m1", 0.5)}}
	cache := NewCache(CacheConfig{TTL: 5 * time.Minute, Now: clock.Now}, fetcher)

	for i := 0; i < 5; i++ {
		cat, err := cache.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if rate, ok := cat.RewardRate("m1"); !ok || rate != 0.5 {
			t.Errorf("RewardRate() = %v, %v; want 0.5", rate, ok)
		}
		clock.Advance(time.Minute - time.Second)
	}
	if fetcher.calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", fetcher.calls.Load())
	}

	clock.Advance(2 * time.Minute)
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if fetcher.calls.Load() != 2 {
		t.Errorf("upstream calls after TTL = %d, want 2", fetcher.calls.Load())
	}
}

func TestCacheStaleWhileRevalidate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	fetcher := &fakeFetcher{markets: []nosana.Market{market("m1", 0.5)}}
	cache := NewCache(CacheConfig{TTL: 5 * time.Minute, Now: clock.Now}, fetcher)

	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	fetcher.set(nil, &nosana.FetchError{Source: "markets", Kind: nosana.KindUnreachable})
	clock.Advance(6 * time.Minute)

	// every call inside the next window serves the stale catalog from memory
	for i := 0; i < 5; i++ {
		cat, err := cache.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() with stale catalog error = %v", err)
		}
		if _, ok := cat.Lookup("m1"); !ok {
			t.Error("stale catalog should still contain m1")
		}
		clock.Advance(30 * time.Second)
	}
	if got := fetcher.calls.Load(); got != 2 {
		t.Errorf("upstream calls while down = %d, want 2 (one per TTL window)", got)
	}

	fetcher.set([]nosana.Market{market("m2", 1)}, nil)
	cat, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, ok := cat.Lookup("m2"); ok {
		t.Error("recovered upstream should not be called before the failure window ends")
	}

	clock.Advance(5 * time.Minute)
	cat, err = cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, ok := cat.Lookup("m2"); !ok {
		t.Error("refreshed catalog should contain m2")
	}
	if got := fetcher.calls.Load(); got != 3 {
		t.Errorf("upstream calls = %d, want 3", got)
	}
}

func TestCacheFailureWithoutCatalog(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	upstreamErr := &nosana.FetchError{Source: "markets", Kind: nosana.KindRateLimited}
	fetcher := &fakeFetcher{err: upstreamErr}
	cache := NewCache(CacheConfig{TTL: time.Minute, Now: clock.Now}, fetcher)

	for i := 0; i < 3; i++ {
		_, err := cache.Get(context.Background())
		if !errors.Is(err, upstreamErr) {
			t.Errorf("Get() error = %v, want %v", err, upstreamErr)
		}
	}
	if fetcher.calls.Load() != 1 {
		t.Errorf("failure within TTL should be cached; calls = %d", fetcher.calls.Load())
	}

	fetcher.set([]nosana.Market{market("m1", 0.5)}, nil)
	clock.Advance(time.Minute)
	if _, err := cache.Get(context.Background()); err != nil {
		t.Errorf("Get() after TTL error = %v", err)
	}
}

func TestCacheSingleFlight(t *testing.T) {
	fetcher := &fakeFetcher{markets: []nosana.Market{market("m1", 0.5)}, delay: 50 * time.Millisecond}
	cache := NewCache(CacheConfig{}, fetcher)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Get(context.Background()); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if fetcher.calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", fetcher.calls.Load())
	}
}

func TestCatalogLookup(t *testing.T) {
	cat := NewCatalog([]nosana.Market{market("m1", 0.5), {Name: nosana.NewText("no address")}}, time.Now())

	if cat.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cat.Len())
	}
	if _, ok := cat.Lookup(""); ok {
		t.Error("Lookup(\"\") should miss")
	}

	var nilCat *Catalog
	if _, ok := nilCat.Lookup("m1"); ok {
		t.Error("nil catalog Lookup should miss")
	}
	if _, ok := nilCat.RewardRate("m1"); ok {
		t.Error("nil catalog RewardRate should miss")
	}
}
