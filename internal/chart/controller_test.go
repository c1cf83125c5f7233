package chart

import (
	"context"
	"sync"
	"testing"
	"time"

	"MarketLens/internal/domain/models"
	"MarketLens/internal/gateway"
	"MarketLens/internal/session"
	"MarketLens/pkg/logger"
)

type nopMetrics struct{}

func (nopMetrics) RecordCacheHit(string)           {}
func (nopMetrics) RecordCacheMiss(string)          {}
func (nopMetrics) RecordFetch(string, float64)     {}
func (nopMetrics) RecordError(string)              {}
func (nopMetrics) RecordTick(string)               {}
func (nopMetrics) RecordReconnect(string)          {}
func (nopMetrics) RecordLastPrice(string, float64) {}

// blockingFetcher serves history after a per-call gate, so tests can decide
// which of two racing responses lands first.
type blockingFetcher struct {
	mu      sync.Mutex
	gates   map[string]chan struct{}
	started map[string]chan struct{}
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{
		gates:   make(map[string]chan struct{}),
		started: make(map[string]chan struct{}),
	}
}

func (f *blockingFetcher) ch(m map[string]chan struct{}, period string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := m[period]; ok {
		return g
	}
	g := make(chan struct{})
	m[period] = g
	return g
}

func (f *blockingFetcher) gate(period string) chan struct{} { return f.ch(f.gates, period) }

// fetchStarted is closed once FetchHistory for the period is in flight.
func (f *blockingFetcher) fetchStarted(period string) chan struct{} { return f.ch(f.started, period) }

func (f *blockingFetcher) FetchQuote(_ context.Context, symbol string) (*models.Quote, error) {
	return &models.Quote{Symbol: symbol}, nil
}

func (f *blockingFetcher) FetchHistory(_ context.Context, symbol, period, interval string) (*models.HistorySeries, error) {
	g := f.fetchStarted(period)
	select {
	case <-g:
	default:
		close(g)
	}
	<-f.gate(period)
	return &models.HistorySeries{
		Symbol:   symbol,
		Period:   period,
		Interval: interval,
		Points:   []models.OHLCPoint{{Timestamp: 1, Close: 100}},
	}, nil
}

func (f *blockingFetcher) FetchInfo(_ context.Context, symbol string) (*models.InstrumentInfo, error) {
	return &models.InstrumentInfo{Symbol: symbol}, nil
}

func (f *blockingFetcher) FetchSearch(_ context.Context, _ string, _ int) ([]models.SearchResult, error) {
	return nil, nil
}

func newTestController(f *blockingFetcher, symbol string) *Controller {
	gw := gateway.New(f, gateway.DefaultTTLs(), nopMetrics{}, logger.Nop())
	return NewController(symbol, gw, nil, 5, logger.Nop())
}

func TestSetViewFetchesResolvedHistory(t *testing.T) {
	f := newBlockingFetcher()
	close(f.gate("1wk"))
	c := newTestController(f, "AAPL")

	if err := c.SetView(context.Background(), session.NewViewMode(session.View1W, "")); err != nil {
		t.Fatalf("set view: %v", err)
	}
	snap := c.Snapshot()
	if snap.Interval != "1h" || snap.Period != "1wk" {
		t.Fatalf("resolved %s/%s want 1h/1wk", snap.Interval, snap.Period)
	}
	if snap.Intraday || snap.SessionWindowed {
		t.Fatalf("1wk is a candle view")
	}
	if snap.Loading {
		t.Fatalf("loading flag not cleared")
	}
	if snap.Series == nil || snap.Series.Period != "1wk" {
		t.Fatalf("series not stored: %+v", snap.Series)
	}
	if snap.Overlay != nil {
		t.Fatalf("candle views carry no moving-average overlay")
	}
}

func TestStaleResponseDiscarded(t *testing.T) {
	f := newBlockingFetcher()
	c := newTestController(f, "AAPL")

	done := make(chan error, 1)
	go func() {
		done <- c.SetView(context.Background(), session.NewViewMode(session.View1Y, ""))
	}()

	<-f.fetchStarted("1y")

	// second selection wins the race
	close(f.gate("5d"))
	if err := c.SetView(context.Background(), session.NewViewMode(session.View5D, "")); err != nil {
		t.Fatalf("set view: %v", err)
	}

	// now let the first, stale response arrive
	close(f.gate("1y"))
	if err := <-done; err != nil {
		t.Fatalf("stale set view: %v", err)
	}

	snap := c.Snapshot()
	if snap.Series.Period != "5d" {
		t.Fatalf("stale response overwrote newer state: period %s", snap.Series.Period)
	}
}

func TestTickFusedOnlyForSessionViews(t *testing.T) {
	f := newBlockingFetcher()
	close(f.gate("1d"))
	c := newTestController(f, "BTC-USD")

	if err := c.SetView(context.Background(), session.NewViewMode(session.ViewAllSessions, session.Regular)); err != nil {
		t.Fatalf("set view: %v", err)
	}

	price := 64000.0
	ts := time.Now().UnixMilli()
	c.handleTick(models.LiveTick{Symbol: "BTC-USD", Price: &price, Timestamp: &ts})

	snap := c.Snapshot()
	if len(snap.Series.Points) != 2 {
		t.Fatalf("tick not fused, %d points", len(snap.Series.Points))
	}
	if len(snap.Overlay) != 2 {
		t.Fatalf("overlay not recomputed with series")
	}
	if len(snap.Axis) == 0 {
		t.Fatalf("session view must synthesize a time axis")
	}

	// candle view: ticks ignored
	close(f.gate("1mo"))
	if err := c.SetView(context.Background(), session.NewViewMode(session.View1M, "")); err != nil {
		t.Fatalf("set view: %v", err)
	}
	c.handleTick(models.LiveTick{Symbol: "BTC-USD", Price: &price})
	if n := len(c.Snapshot().Series.Points); n != 1 {
		t.Fatalf("candle view fused a tick, %d points", n)
	}
}

func TestTickForOtherSymbolIgnored(t *testing.T) {
	f := newBlockingFetcher()
	close(f.gate("1d"))
	c := newTestController(f, "BTC-USD")
	if err := c.SetView(context.Background(), session.NewViewMode(session.ViewAllSessions, session.Regular)); err != nil {
		t.Fatalf("set view: %v", err)
	}

	price := 1.0
	c.handleTick(models.LiveTick{Symbol: "ETH-USD", Price: &price})
	if n := len(c.Snapshot().Series.Points); n != 1 {
		t.Fatalf("foreign tick fused, %d points", n)
	}
}

func TestManagerReusesControllers(t *testing.T) {
	f := newBlockingFetcher()
	gw := gateway.New(f, gateway.DefaultTTLs(), nopMetrics{}, logger.Nop())
	m := NewManager(gw, nil, 5, logger.Nop())

	a := m.Get("aapl")
	b := m.Get("AAPL")
	if a != b {
		t.Fatalf("manager must reuse the controller per symbol")
	}
	if m.Get("MSFT") == a {
		t.Fatalf("distinct symbols must get distinct controllers")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestClosedControllerRejectsSetView(t *testing.T) {
	f := newBlockingFetcher()
	c := newTestController(f, "AAPL")
	_ = c.Close()
	if err := c.SetView(context.Background(), session.NewViewMode(session.View1D, "")); err == nil {
		t.Fatalf("closed controller must reject view changes")
	}
}
