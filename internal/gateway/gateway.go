package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"MarketLens/internal/domain/models"
	"MarketLens/internal/domain/repository"
	"MarketLens/pkg/logger"
)

// TTLConfig holds the per-kind freshness windows. These are policy and come
// from configuration; the zero value of a field falls back to the default.
type TTLConfig struct {
	Quote   time.Duration
	History time.Duration
	Info    time.Duration
	Search  time.Duration
}

// DefaultTTLs returns the freshness windows the dashboard ships with.
func DefaultTTLs() TTLConfig {
	return TTLConfig{
		Quote:   30 * time.Second,
		History: 5 * time.Minute,
		Info:    60 * time.Minute,
		Search:  10 * time.Minute,
	}
}

func (c TTLConfig) withDefaults() TTLConfig {
	d := DefaultTTLs()
	if c.Quote <= 0 {
		c.Quote = d.Quote
	}
	if c.History <= 0 {
		c.History = d.History
	}
	if c.Info <= 0 {
		c.Info = d.Info
	}
	if c.Search <= 0 {
		c.Search = d.Search
	}
	return c
}

type entry struct {
	v         any
	fetchedAt time.Time
}

// Gateway is a TTL cache in front of the upstream market fetcher. Entries
// are replaced wholesale on refetch and never evicted otherwise; a failed
// refetch leaves the previous entry in place so callers can keep showing
// stale data. Concurrent misses for the same key may both fetch.
type Gateway struct {
	fetcher repository.MarketFetcher
	ttl     TTLConfig
	metrics repository.Metrics
	log     *logger.Logger

	mu      sync.RWMutex
	entries map[string]entry

	now func() time.Time
}

// New creates a gateway with its own entry map; lifecycle follows the owner,
// there is no background eviction.
func New(fetcher repository.MarketFetcher, ttl TTLConfig, metrics repository.Metrics, log *logger.Logger) *Gateway {
	return &Gateway{
		fetcher: fetcher,
		ttl:     ttl.withDefaults(),
		metrics: metrics,
		log:     log,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Quote returns a cached-or-fetched quote for the symbol.
func (g *Gateway) Quote(ctx context.Context, symbol string, force bool) (*models.Quote, error) {
	key := "quote:" + strings.ToUpper(symbol)
	v, err := get(ctx, g, key, "quote", g.ttl.Quote, force, func(ctx context.Context) (*models.Quote, error) {
		return g.fetcher.FetchQuote(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// History returns a cached-or-fetched history series.
func (g *Gateway) History(ctx context.Context, symbol, period, interval string, force bool) (*models.HistorySeries, error) {
	key := fmt.Sprintf("history:%s:%s:%s", strings.ToUpper(symbol), period, interval)
	return get(ctx, g, key, "history", g.ttl.History, force, func(ctx context.Context) (*models.HistorySeries, error) {
		return g.fetcher.FetchHistory(ctx, symbol, period, interval)
	})
}

// Info returns cached-or-fetched instrument info.
func (g *Gateway) Info(ctx context.Context, symbol string, force bool) (*models.InstrumentInfo, error) {
	key := "info:" + strings.ToUpper(symbol)
	return get(ctx, g, key, "info", g.ttl.Info, force, func(ctx context.Context) (*models.InstrumentInfo, error) {
		return g.fetcher.FetchInfo(ctx, symbol)
	})
}

// Search returns cached-or-fetched search results.
func (g *Gateway) Search(ctx context.Context, query string, limit int, force bool) ([]models.SearchResult, error) {
	key := fmt.Sprintf("search:%s:%d", strings.ToLower(query), limit)
	return get(ctx, g, key, "search", g.ttl.Search, force, func(ctx context.Context) ([]models.SearchResult, error) {
		return g.fetcher.FetchSearch(ctx, query, limit)
	})
}

// ClearQuote drops the cached quote for one symbol, or all quotes when the
// symbol is empty. Used when a watchlist entry is removed.
func (g *Gateway) ClearQuote(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if symbol != "" {
		delete(g.entries, "quote:"+strings.ToUpper(symbol))
		return
	}
	for k := range g.entries {
		if strings.HasPrefix(k, "quote:") {
			delete(g.entries, k)
		}
	}
}

// Clear drops every cached entry.
func (g *Gateway) Clear() {
	g.mu.Lock()
	g.entries = make(map[string]entry)
	g.mu.Unlock()
}

func get[T any](ctx context.Context, g *Gateway, key, kind string, ttl time.Duration, force bool, fetch func(context.Context) (T, error)) (T, error) {
	if !force {
		g.mu.RLock()
		e, ok := g.entries[key]
		g.mu.RUnlock()
		if ok && g.now().Sub(e.fetchedAt) < ttl {
			g.metrics.RecordCacheHit(kind)
			g.log.Debug("cache hit", logger.String("key", key))
			return e.v.(T), nil
		}
		// a forced refresh never looked, so it is not a miss
		g.metrics.RecordCacheMiss(kind)
	}

	start := g.now()
	v, err := fetch(ctx)
	if err != nil {
		// keep whatever was cached; stale beats empty
		g.metrics.RecordError("fetch_" + kind)
		var zero T
		return zero, err
	}
	g.metrics.RecordFetch(kind, time.Since(start).Seconds())

	g.mu.Lock()
	g.entries[key] = entry{v: v, fetchedAt: g.now()}
	g.mu.Unlock()
	g.log.Debug("fetched and cached", logger.String("key", key))
	return v, nil
}
