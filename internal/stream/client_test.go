package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"MarketLens/internal/domain/models"
	"MarketLens/pkg/logger"

	"github.com/gorilla/websocket"
)

type nopMetrics struct{}

func (nopMetrics) RecordCacheHit(string)           {}
func (nopMetrics) RecordCacheMiss(string)          {}
func (nopMetrics) RecordFetch(string, float64)     {}
func (nopMetrics) RecordError(string)              {}
func (nopMetrics) RecordTick(string)               {}
func (nopMetrics) RecordReconnect(string)          {}
func (nopMetrics) RecordLastPrice(string, float64) {}

// testServer upgrades connections, pushes outbound frames, and records
// everything the client writes.
type testServer struct {
	srv      *httptest.Server
	outbound chan string
	inbound  chan map[string]any
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		outbound: make(chan string, 16),
		inbound:  make(chan map[string]any, 16),
	}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sym := r.URL.Query().Get("symbol")
		_ = conn.WriteJSON(map[string]string{"type": "connection", "status": "connected", "symbol": sym})

		go func() {
			for msg := range ts.outbound {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			}
		}()
		for {
			var m map[string]any
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			ts.inbound <- m
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func newTestClient(ts *testServer, opts ...Option) *Client {
	base := []Option{WithReconnect(2, 10*time.Millisecond), WithKeepAlive(time.Hour)}
	return NewClient(ts.wsURL(), nopMetrics{}, logger.Nop(), append(base, opts...)...)
}

func waitStatus(t *testing.T, c *Client, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status %s never reached, stuck at %s", want, c.Status())
}

func TestTickDelivery(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(ts)
	defer c.Close()

	ticks := make(chan models.LiveTick, 4)
	c.OnTick(func(tk models.LiveTick) { ticks <- tk })
	if err := c.Open(context.Background(), "aapl"); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitStatus(t, c, StatusOpen)

	ts.outbound <- `{"symbol":"AAPL","price":187.5,"volume":1200,"timestamp":1709650800000}`
	select {
	case tk := <-ticks:
		if tk.Symbol != "AAPL" || tk.Price == nil || *tk.Price != 187.5 {
			t.Fatalf("unexpected tick %+v", tk)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("tick never delivered")
	}
}

func TestControlFramesNotSurfaced(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(ts)
	defer c.Close()

	ticks := make(chan models.LiveTick, 4)
	c.OnTick(func(tk models.LiveTick) { ticks <- tk })
	if err := c.Open(context.Background(), "AAPL"); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitStatus(t, c, StatusOpen)

	ts.outbound <- `{"type":"subscription_changed","symbol":"MSFT","message":"Switched to MSFT"}`
	ts.outbound <- `{"type":"pong","timestamp":1}`
	ts.outbound <- `{"symbol":"AAPL","price":1}`

	select {
	case tk := <-ticks:
		if tk.Symbol != "AAPL" {
			t.Fatalf("control frame leaked through: %+v", tk)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("tick never delivered")
	}
	if len(ticks) != 0 {
		t.Fatalf("expected exactly one surfaced frame")
	}
}

func TestMalformedFrameDropped(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(ts)
	defer c.Close()

	ticks := make(chan models.LiveTick, 4)
	c.OnTick(func(tk models.LiveTick) { ticks <- tk })
	if err := c.Open(context.Background(), "AAPL"); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitStatus(t, c, StatusOpen)

	ts.outbound <- `{not json`
	ts.outbound <- `{"price":1.0}`
	ts.outbound <- `{"symbol":"AAPL","price":2}`

	select {
	case tk := <-ticks:
		if *tk.Price != 2 {
			t.Fatalf("malformed frame surfaced: %+v", tk)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("connection did not survive malformed frames")
	}
}

func TestSwitchSymbol(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(ts)
	defer c.Close()

	if err := c.Open(context.Background(), "AAPL"); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitStatus(t, c, StatusOpen)

	// same symbol: nothing goes out
	if err := c.SwitchSymbol("aapl"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	select {
	case m := <-ts.inbound:
		t.Fatalf("same-symbol switch must send nothing, got %v", m)
	case <-time.After(100 * time.Millisecond):
	}

	if err := c.SwitchSymbol("msft"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	select {
	case m := <-ts.inbound:
		if m["type"] != "subscribe" || m["symbol"] != "MSFT" {
			t.Fatalf("unexpected subscribe frame %v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscribe frame never sent")
	}
	if c.Symbol() != "MSFT" {
		t.Fatalf("target symbol not updated")
	}
}

func TestKeepAlivePing(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(ts, WithKeepAlive(30*time.Millisecond))
	defer c.Close()

	if err := c.Open(context.Background(), "AAPL"); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitStatus(t, c, StatusOpen)

	select {
	case m := <-ts.inbound:
		if m["type"] != "ping" {
			t.Fatalf("expected ping, got %v", m)
		}
		if _, ok := m["timestamp"]; !ok {
			t.Fatalf("ping must carry a timestamp")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("keep-alive ping never sent")
	}
}

func TestSubscriptionOutlivesOpeningContext(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(ts, WithKeepAlive(30*time.Millisecond))
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Open(ctx, "AAPL"); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitStatus(t, c, StatusOpen)

	// the HTTP request that enabled the chart is done; only Close may end
	// the subscription
	cancel()

	select {
	case m := <-ts.inbound:
		if m["type"] != "ping" {
			t.Fatalf("expected ping, got %v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("keep-alive died with the opening context")
	}
	if c.Status() != StatusOpen {
		t.Fatalf("status %s after opening context cancel, want open", c.Status())
	}

	ts.outbound <- `{"symbol":"AAPL","price":3}`
	ticks := make(chan models.LiveTick, 1)
	c.OnTick(func(tk models.LiveTick) { ticks <- tk })
	ts.outbound <- `{"symbol":"AAPL","price":4}`
	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatalf("ticks stopped flowing after opening context cancel")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitStatus(t, c, StatusClosed)
}

func TestBoundedReconnectSettlesClosed(t *testing.T) {
	// nothing listens here; every dial fails
	c := NewClient("ws://127.0.0.1:1", nopMetrics{}, logger.Nop(),
		WithReconnect(5, time.Millisecond))
	if err := c.Open(context.Background(), "AAPL"); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitStatus(t, c, StatusClosed)
	if got := c.RetryCount(); got < 5 {
		t.Fatalf("expected the full retry budget to be used, got %d", got)
	}
}

func TestCloseStopsClient(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(ts)

	if err := c.Open(context.Background(), "AAPL"); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitStatus(t, c, StatusOpen)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitStatus(t, c, StatusClosed)
	if c.Connected() {
		t.Fatalf("closed client must not report connected")
	}
}

func TestInboundFrameShape(t *testing.T) {
	var m inbound
	if err := json.Unmarshal([]byte(`{"symbol":"AAPL","price":1.5,"change_percent":-0.2}`), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Type != "" || m.Symbol != "AAPL" || *m.ChangePercent != -0.2 {
		t.Fatalf("unexpected frame %+v", m)
	}
}
