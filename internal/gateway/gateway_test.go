package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"MarketLens/internal/domain/models"
	"MarketLens/pkg/logger"
)

type fakeFetcher struct {
	quoteCalls   int
	historyCalls int
	searchCalls  int
	fail         bool
	price        float64
}

func (f *fakeFetcher) FetchQuote(_ context.Context, symbol string) (*models.Quote, error) {
	f.quoteCalls++
	if f.fail {
		return nil, errors.New("upstream down")
	}
	return &models.Quote{Symbol: symbol, Price: f.price}, nil
}

func (f *fakeFetcher) FetchHistory(_ context.Context, symbol, period, interval string) (*models.HistorySeries, error) {
	f.historyCalls++
	if f.fail {
		return nil, errors.New("upstream down")
	}
	return &models.HistorySeries{Symbol: symbol, Period: period, Interval: interval}, nil
}

func (f *fakeFetcher) FetchInfo(_ context.Context, symbol string) (*models.InstrumentInfo, error) {
	return &models.InstrumentInfo{Symbol: symbol}, nil
}

func (f *fakeFetcher) FetchSearch(_ context.Context, query string, limit int) ([]models.SearchResult, error) {
	f.searchCalls++
	return []models.SearchResult{{Symbol: "AAPL"}}, nil
}

type nopMetrics struct{}

func (nopMetrics) RecordCacheHit(string)           {}
func (nopMetrics) RecordCacheMiss(string)          {}
func (nopMetrics) RecordFetch(string, float64)     {}
func (nopMetrics) RecordError(string)              {}
func (nopMetrics) RecordTick(string)               {}
func (nopMetrics) RecordReconnect(string)          {}
func (nopMetrics) RecordLastPrice(string, float64) {}

type countingMetrics struct {
	nopMetrics
	hits   int
	misses int
}

func (m *countingMetrics) RecordCacheHit(string)  { m.hits++ }
func (m *countingMetrics) RecordCacheMiss(string) { m.misses++ }

func newTestGateway(f *fakeFetcher) (*Gateway, *time.Time) {
	g := New(f, DefaultTTLs(), nopMetrics{}, logger.Nop())
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, &now
}

func TestQuoteCachedWithinTTL(t *testing.T) {
	f := &fakeFetcher{price: 101}
	g, now := newTestGateway(f)
	ctx := context.Background()

	q1, err := g.Quote(ctx, "aapl", false)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	*now = now.Add(29 * time.Second)
	q2, err := g.Quote(ctx, "AAPL", false)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if f.quoteCalls != 1 {
		t.Fatalf("expected 1 fetch, got %d", f.quoteCalls)
	}
	if q1 != q2 {
		t.Fatalf("expected the identical cached object")
	}
}

func TestQuoteRefetchedAfterTTL(t *testing.T) {
	f := &fakeFetcher{price: 101}
	g, now := newTestGateway(f)
	ctx := context.Background()

	if _, err := g.Quote(ctx, "AAPL", false); err != nil {
		t.Fatalf("quote: %v", err)
	}
	*now = now.Add(30 * time.Second)
	if _, err := g.Quote(ctx, "AAPL", false); err != nil {
		t.Fatalf("quote: %v", err)
	}
	if f.quoteCalls != 2 {
		t.Fatalf("expected 2 fetches, got %d", f.quoteCalls)
	}
}

func TestForceRefreshAlwaysFetches(t *testing.T) {
	f := &fakeFetcher{price: 101}
	g, _ := newTestGateway(f)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := g.Quote(ctx, "AAPL", true); err != nil {
			t.Fatalf("quote: %v", err)
		}
	}
	if f.quoteCalls != 3 {
		t.Fatalf("expected 3 fetches, got %d", f.quoteCalls)
	}
}

func TestForceRefreshNotCountedAsMiss(t *testing.T) {
	f := &fakeFetcher{price: 101}
	m := &countingMetrics{}
	g := New(f, DefaultTTLs(), m, logger.Nop())
	ctx := context.Background()

	if _, err := g.Quote(ctx, "AAPL", false); err != nil {
		t.Fatalf("quote: %v", err)
	}
	if m.misses != 1 {
		t.Fatalf("cold read must count one miss, got %d", m.misses)
	}

	if _, err := g.Quote(ctx, "AAPL", true); err != nil {
		t.Fatalf("quote: %v", err)
	}
	if m.misses != 1 {
		t.Fatalf("force refresh skipped the lookup, miss count must stay 1, got %d", m.misses)
	}

	if _, err := g.Quote(ctx, "AAPL", false); err != nil {
		t.Fatalf("quote: %v", err)
	}
	if m.hits != 1 {
		t.Fatalf("expected 1 hit, got %d", m.hits)
	}
}

func TestFailedRefetchKeepsPreviousEntry(t *testing.T) {
	f := &fakeFetcher{price: 101}
	g, now := newTestGateway(f)
	ctx := context.Background()

	if _, err := g.Quote(ctx, "AAPL", false); err != nil {
		t.Fatalf("quote: %v", err)
	}

	f.fail = true
	*now = now.Add(time.Minute)
	if _, err := g.Quote(ctx, "AAPL", false); err == nil {
		t.Fatalf("expected fetch error to propagate")
	}

	// previous entry must still be served once the fetcher recovers is not
	// required; it must still be present for stale reads before expiry logic
	g.mu.RLock()
	_, ok := g.entries["quote:AAPL"]
	g.mu.RUnlock()
	if !ok {
		t.Fatalf("failed refetch must not evict the cached entry")
	}
}

func TestHistoryKeyedByPeriodAndInterval(t *testing.T) {
	f := &fakeFetcher{}
	g, _ := newTestGateway(f)
	ctx := context.Background()

	if _, err := g.History(ctx, "AAPL", "1d", "1m", false); err != nil {
		t.Fatalf("history: %v", err)
	}
	if _, err := g.History(ctx, "AAPL", "5d", "5m", false); err != nil {
		t.Fatalf("history: %v", err)
	}
	if _, err := g.History(ctx, "AAPL", "1d", "1m", false); err != nil {
		t.Fatalf("history: %v", err)
	}
	if f.historyCalls != 2 {
		t.Fatalf("expected 2 fetches for 2 distinct keys, got %d", f.historyCalls)
	}
}

func TestClearQuote(t *testing.T) {
	f := &fakeFetcher{price: 101}
	g, _ := newTestGateway(f)
	ctx := context.Background()

	if _, err := g.Quote(ctx, "AAPL", false); err != nil {
		t.Fatalf("quote: %v", err)
	}
	g.ClearQuote("AAPL")
	if _, err := g.Quote(ctx, "AAPL", false); err != nil {
		t.Fatalf("quote: %v", err)
	}
	if f.quoteCalls != 2 {
		t.Fatalf("expected refetch after clear, got %d fetches", f.quoteCalls)
	}
}

func TestSearchKeyCaseInsensitive(t *testing.T) {
	f := &fakeFetcher{}
	g, _ := newTestGateway(f)
	ctx := context.Background()

	if _, err := g.Search(ctx, "Apple", 10, false); err != nil {
		t.Fatalf("search: %v", err)
	}
	if _, err := g.Search(ctx, "apple", 10, false); err != nil {
		t.Fatalf("search: %v", err)
	}
	if f.searchCalls != 1 {
		t.Fatalf("expected 1 fetch for case-folded query, got %d", f.searchCalls)
	}
}
