package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"MarketLens/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second, logger.Nop(), WithRetries(0))
}

func TestFetchQuoteUnwrapsEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/market/quote/AAPL" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":0,"message":"ok","data":{"symbol":"AAPL","price":187.5,"currency":"USD"}}`))
	})

	q, err := c.FetchQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("fetch quote: %v", err)
	}
	if q.Symbol != "AAPL" || q.Price != 187.5 {
		t.Fatalf("unexpected quote: %+v", q)
	}
}

func TestFetchQuoteProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":404,"message":"symbol not found","data":null}`))
	})

	if _, err := c.FetchQuote(context.Background(), "NOPE"); err == nil {
		t.Fatalf("provider error code must surface as an error")
	}
}

func TestFetchHistoryPassesPeriodAndInterval(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("period") != "5d" || q.Get("interval") != "5m" {
			t.Errorf("query %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":0,"data":{"symbol":"AAPL","period":"5d","interval":"5m","data_points":[{"timestamp":1,"open":1,"high":2,"low":1,"close":2}]}}`))
	})

	s, err := c.FetchHistory(context.Background(), "AAPL", "5d", "5m")
	if err != nil {
		t.Fatalf("fetch history: %v", err)
	}
	if len(s.Points) != 1 || s.Interval != "5m" {
		t.Fatalf("unexpected series: %+v", s)
	}
}

func TestFetchSearchReturnsResults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "apple" || q.Get("limit") != "5" {
			t.Errorf("query %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":0,"data":{"query":"apple","results":[{"symbol":"AAPL"}],"count":1}}`))
	})

	results, err := c.FetchSearch(context.Background(), "apple", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Symbol != "AAPL" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestFetchQuoteHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	if _, err := c.FetchQuote(context.Background(), "AAPL"); err == nil {
		t.Fatalf("HTTP 502 must surface as an error")
	}
}
