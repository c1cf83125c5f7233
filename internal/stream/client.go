package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"MarketLens/internal/domain/models"
	"MarketLens/internal/domain/repository"
	"MarketLens/pkg/logger"

	"github.com/gorilla/websocket"
)

// Status is the connection state of a subscription.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusOpen         Status = "open"
	StatusReconnecting Status = "reconnecting"
	StatusClosed       Status = "closed"
)

// TickFunc receives classified market-tick frames.
type TickFunc func(models.LiveTick)

// StatusFunc receives connection state transitions.
type StatusFunc func(Status)

// Option configures a Client.
type Option func(*Client)

// WithReconnect sets the bounded retry policy.
func WithReconnect(attempts int, base time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.retryMax = attempts
		}
		if base > 0 {
			c.retryBase = base
		}
	}
}

// WithKeepAlive sets the ping cadence while open.
func WithKeepAlive(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.keepAlive = d
		}
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// Client manages one logical market-data subscription over a websocket.
// The endpoint is parameterized by the subscribed symbol; switching symbols
// re-targets the subscription without tearing the transport down.
type Client struct {
	baseURL   string
	log       *logger.Logger
	metrics   repository.Metrics
	dialer    *websocket.Dialer
	keepAlive time.Duration
	retryMax  int
	retryBase time.Duration

	mu       sync.Mutex
	writeMu  sync.Mutex
	symbol   string
	status   Status
	retries  int
	conn     *websocket.Conn
	cancel   context.CancelFunc
	closed   bool
	onTick   []TickFunc
	onStatus StatusFunc
}

// NewClient creates an idle client for the given websocket base URL
// (e.g. ws://host:5000).
func NewClient(baseURL string, metrics repository.Metrics, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		log:       log,
		metrics:   metrics,
		dialer:    websocket.DefaultDialer,
		keepAlive: 30 * time.Second,
		retryMax:  5,
		retryBase: 3 * time.Second,
		status:    StatusIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnTick registers a tick callback. Callbacks run in subscription order on
// the read goroutine; control frames never reach them.
func (c *Client) OnTick(fn TickFunc) {
	c.mu.Lock()
	c.onTick = append(c.onTick, fn)
	c.mu.Unlock()
}

// OnStatusChange registers the connection-status callback.
func (c *Client) OnStatusChange(fn StatusFunc) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connected reports whether the subscription is open.
func (c *Client) Connected() bool { return c.Status() == StatusOpen }

// Symbol returns the active subscription target.
func (c *Client) Symbol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.symbol
}

// RetryCount returns the consecutive failed attempts so far.
func (c *Client) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// Open starts the subscription for the symbol and returns immediately; the
// connect/read/reconnect loop runs in the background until Close. The loop's
// lifetime is owned by Close, not by ctx: cancelling the context that enabled
// the chart must not kill keep-alive or reconnection for a live subscription.
func (c *Client) Open(ctx context.Context, symbol string) error {
	c.mu.Lock()
	if c.status != StatusIdle && c.status != StatusClosed {
		c.mu.Unlock()
		return fmt.Errorf("stream already open for %s", c.symbol)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.symbol = strings.ToUpper(symbol)
	c.cancel = cancel
	c.closed = false
	c.retries = 0
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// SwitchSymbol re-targets the subscription. Same-symbol calls are no-ops and
// send nothing; otherwise a subscribe frame is written on the live transport.
func (c *Client) SwitchSymbol(symbol string) error {
	symbol = strings.ToUpper(symbol)
	c.mu.Lock()
	if symbol == c.symbol {
		c.mu.Unlock()
		return nil
	}
	c.symbol = symbol
	conn := c.conn
	open := c.status == StatusOpen
	c.mu.Unlock()

	if !open || conn == nil {
		// reconnect loop will dial the new symbol's endpoint
		return nil
	}
	c.log.Info("switching subscription", logger.String("symbol", symbol))
	return c.writeJSON(map[string]string{"type": "subscribe", "symbol": symbol})
}

// Close terminates the subscription and the keep-alive timer.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.setStatus(StatusClosed)
	return nil
}

func (c *Client) run(ctx context.Context) {
	for {
		if ctx.Err() != nil || c.isClosed() {
			c.setStatus(StatusClosed)
			return
		}
		c.setStatus(StatusConnecting)

		conn, err := c.dial(ctx)
		if err != nil {
			if !c.backoff(ctx, err) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.retries = 0
		c.mu.Unlock()
		c.setStatus(StatusOpen)

		pingCtx, stopPing := context.WithCancel(ctx)
		go c.pingLoop(pingCtx)
		readErr := c.readLoop(ctx, conn)
		stopPing()
		_ = conn.Close()

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if ctx.Err() != nil || c.isClosed() {
			c.setStatus(StatusClosed)
			return
		}
		c.metrics.RecordReconnect(c.Symbol())
		c.setStatus(StatusReconnecting)
		if !c.backoff(ctx, readErr) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u := fmt.Sprintf("%s/ws/market?symbol=%s", c.baseURL, c.Symbol())
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("stream dial %s: %w", u, err)
	}
	return conn, nil
}

// backoff sleeps for the next retry delay; it returns false once the retry
// budget is exhausted, after which the client settles into Closed.
func (c *Client) backoff(ctx context.Context, cause error) bool {
	c.mu.Lock()
	c.retries++
	n := c.retries
	c.mu.Unlock()

	if n > c.retryMax {
		c.log.Warn("stream giving up", logger.Int("attempts", n-1), logger.Error(cause))
		c.setStatus(StatusClosed)
		return false
	}

	delay := c.retryBase << (n - 1)
	if max := c.retryBase * 16; delay > max {
		delay = max
	}
	c.log.Warn("stream retrying",
		logger.Int("attempt", n),
		logger.Duration("delay", delay),
		logger.Error(cause),
	)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := map[string]any{"type": "ping", "timestamp": time.Now().UnixMilli()}
			if err := c.writeJSON(msg); err != nil {
				// transport errors surface through the read loop
				c.log.Debug("keep-alive write failed", logger.Error(err))
			}
		}
	}
}

// inbound covers both control frames and tick frames; a control frame
// carries a type, a tick carries at least a symbol.
type inbound struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	models.LiveTick
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("stream read: %w", err)
		}

		var m inbound
		if err := json.Unmarshal(b, &m); err != nil {
			c.log.Warn("dropping malformed frame", logger.Error(err))
			continue
		}

		switch m.Type {
		case "connection", "subscription_changed":
			c.log.Info("stream control", logger.String("type", m.Type), logger.String("message", m.Message))
			continue
		case "pong":
			continue
		}

		if m.Symbol == "" {
			c.log.Warn("dropping frame without symbol")
			continue
		}

		c.metrics.RecordTick(m.Symbol)
		if m.Price != nil {
			c.metrics.RecordLastPrice(m.Symbol, *m.Price)
		}
		c.mu.Lock()
		fns := c.onTick
		c.mu.Unlock()
		for _, fn := range fns {
			fn(m.LiveTick)
		}
	}
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("stream not connected")
	}
	// gorilla permits a single concurrent writer
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	fn := c.onStatus
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
