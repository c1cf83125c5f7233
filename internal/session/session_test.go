package session

import (
	"testing"
	"time"
)

func TestResolveCandleViews(t *testing.T) {
	cases := []struct {
		view     MainView
		interval string
		period   string
	}{
		{View5D, "5m", "5d"},
		{View1D, "15m", "1d"},
		{View1W, "1h", "1wk"},
		{View1M, "1d", "1mo"},
		{View3M, "1d", "3mo"},
		{View1Y, "1wk", "1y"},
	}
	for _, c := range cases {
		got := Resolve(NewViewMode(c.view, ""))
		if got.Interval != c.interval || got.Period != c.period {
			t.Fatalf("%s: got %s/%s want %s/%s", c.view, got.Interval, got.Period, c.interval, c.period)
		}
		if got.Intraday || got.SessionWindowed {
			t.Fatalf("%s: candle view must not be intraday or session-windowed", c.view)
		}
	}
}

func TestResolveSessions(t *testing.T) {
	cases := []struct {
		sub      Session
		interval string
	}{
		{PreMarket, "1m"},
		{Regular, "1m"},
		{AfterHours, "5m"},
		{Extended, "5m"},
	}
	for _, c := range cases {
		got := Resolve(NewViewMode(ViewAllSessions, c.sub))
		if got.Interval != c.interval {
			t.Fatalf("%s: interval %s want %s", c.sub, got.Interval, c.interval)
		}
		if got.Period != "1d" {
			t.Fatalf("%s: period %s want 1d", c.sub, got.Period)
		}
		if !got.Intraday || !got.SessionWindowed {
			t.Fatalf("%s: session view must be intraday and session-windowed", c.sub)
		}
	}
}

func TestSessionWindowRegularUS(t *testing.T) {
	ny := location("America/New_York")
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, ny)
	// now well past the close so no clipping applies
	now := time.Date(2024, 3, 6, 0, 0, 0, 0, ny)

	w, ok := sessionWindowAt(Regular, MarketUS, date, now)
	if !ok {
		t.Fatalf("expected window")
	}
	wantStart := time.Date(2024, 3, 5, 9, 30, 0, 0, ny).UnixMilli()
	wantEnd := time.Date(2024, 3, 5, 16, 0, 0, 0, ny).UnixMilli()
	if w.Start != wantStart || w.End != wantEnd {
		t.Fatalf("window %v-%v want %v-%v", w.Start, w.End, wantStart, wantEnd)
	}
}

func TestSessionWindowClipsToNow(t *testing.T) {
	ny := location("America/New_York")
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, ny)
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, ny)

	w, ok := sessionWindowAt(Regular, MarketUS, date, now)
	if !ok {
		t.Fatalf("expected window")
	}
	if w.End != now.UnixMilli() {
		t.Fatalf("end %d not clipped to now %d", w.End, now.UnixMilli())
	}
}

func TestSessionWindowUndefinedCombination(t *testing.T) {
	if _, ok := SessionWindow(AfterHours, MarketCrypto, time.Now()); ok {
		t.Fatalf("after-hours is not configured for crypto")
	}
	if _, ok := SessionWindow(PreMarket, MarketCN, time.Now()); ok {
		t.Fatalf("pre-market is not configured for CN")
	}
}

func TestMarketFor(t *testing.T) {
	cases := map[string]Market{
		"AAPL":    MarketUS,
		"BTC-USD": MarketCrypto,
		"ETH-USD": MarketCrypto,
		"SOL-USD": MarketCrypto,
		"MSFT":    MarketUS,
	}
	for sym, want := range cases {
		if got := MarketFor(sym); got != want {
			t.Fatalf("%s: market %s want %s", sym, got, want)
		}
	}
}

func TestCurrentSession(t *testing.T) {
	ny := location("America/New_York")
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, ny)
	s, ok := CurrentSession(MarketUS, now)
	if !ok || s != PreMarket && s != Regular {
		t.Fatalf("expected an active US session at 10:00, got %q ok=%v", s, ok)
	}
	if s != Regular {
		t.Fatalf("10:00 is the regular session, got %q", s)
	}
}

func TestProgress(t *testing.T) {
	ny := location("America/New_York")
	// regular session runs 9:30-16:00; 12:45 is exactly halfway
	now := time.Date(2024, 3, 5, 12, 45, 0, 0, ny)
	p := Progress(Regular, MarketUS, now)
	if p < 49.9 || p > 50.1 {
		t.Fatalf("progress %f want ~50", p)
	}
	if Progress(AfterHours, MarketCrypto, now) != 0 {
		t.Fatalf("undefined session must report 0 progress")
	}
}

func TestParseMainView(t *testing.T) {
	if _, err := ParseMainView("1wk"); err != nil {
		t.Fatalf("1wk should parse: %v", err)
	}
	if _, err := ParseMainView("2wk"); err == nil {
		t.Fatalf("2wk must not parse")
	}
}
