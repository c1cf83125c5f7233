package chart

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"MarketLens/internal/domain/models"
	"MarketLens/internal/gateway"
	"MarketLens/internal/session"
	"MarketLens/internal/stream"
	"MarketLens/pkg/logger"
)

// Snapshot is the plot-ready payload for one symbol: the fused series, the
// moving-average overlay, and the parameters the renderer needs.
type Snapshot struct {
	Symbol          string                `json:"symbol"`
	View            string                `json:"view"`
	Interval        string                `json:"interval"`
	Period          string                `json:"period"`
	Intraday        bool                  `json:"intraday"`
	SessionWindowed bool                  `json:"session_windowed"`
	Loading         bool                  `json:"loading"`
	Live            bool                  `json:"live"`
	Series          *models.HistorySeries `json:"series,omitempty"`
	Overlay         []*float64            `json:"ma,omitempty"`
	Axis            []string              `json:"axis,omitempty"`
}

// Controller orchestrates the chart for one displayed symbol: it resolves
// the selected view, pulls history through the gateway, gates the live
// stream, and folds ticks into the series with a fresh overlay.
type Controller struct {
	symbol   string
	market   session.Market
	gw       *gateway.Gateway
	live     *stream.Client
	log      *logger.Logger
	maPeriod int

	mu      sync.Mutex
	view    session.ViewMode
	params  session.ViewParams
	series  *models.HistorySeries
	overlay []*float64
	loading bool
	gen     uint64
	closed  bool
}

// NewController creates a controller for one symbol. The live client may be
// nil when streaming is disabled; session-windowed views then render fetched
// points only.
func NewController(symbol string, gw *gateway.Gateway, live *stream.Client, maPeriod int, log *logger.Logger) *Controller {
	if maPeriod <= 0 {
		maPeriod = 5
	}
	c := &Controller{
		symbol:   strings.ToUpper(symbol),
		market:   session.MarketFor(symbol),
		gw:       gw,
		live:     live,
		log:      log,
		maPeriod: maPeriod,
		view:     session.NewViewMode(session.ViewAllSessions, session.Regular),
	}
	if live != nil {
		live.OnTick(c.handleTick)
		live.OnStatusChange(func(s stream.Status) {
			log.Info("stream status", logger.String("symbol", c.symbol), logger.String("status", string(s)))
		})
	}
	return c
}

// Symbol returns the displayed symbol.
func (c *Controller) Symbol() string { return c.symbol }

// SetView switches the active view: resolve parameters, fetch history, then
// enable or disable the live stream. A response that loses the race against
// a later SetView is discarded via the generation tag.
func (c *Controller) SetView(ctx context.Context, v session.ViewMode) error {
	params := session.Resolve(v)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("chart controller closed")
	}
	c.view = v
	c.params = params
	c.loading = true
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	series, err := c.gw.History(ctx, c.symbol, params.Period, params.Interval, false)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.log.Debug("discarding stale history response",
			logger.String("symbol", c.symbol), logger.Uint64("generation", gen))
		return nil
	}
	c.loading = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("chart history: %w", err)
	}
	c.series = series
	c.overlay = c.recomputeOverlay(series)
	c.mu.Unlock()

	return c.syncStream(ctx, params.SessionWindowed)
}

func (c *Controller) recomputeOverlay(s *models.HistorySeries) []*float64 {
	if s == nil || !c.params.Intraday {
		return nil
	}
	return MovingAverage(s.Closes(), c.maPeriod)
}

func (c *Controller) syncStream(ctx context.Context, want bool) error {
	if c.live == nil {
		return nil
	}
	if !want {
		return c.live.Close()
	}
	switch c.live.Status() {
	case stream.StatusIdle, stream.StatusClosed:
		return c.live.Open(ctx, c.symbol)
	default:
		return c.live.SwitchSymbol(c.symbol)
	}
}

func (c *Controller) handleTick(t models.LiveTick) {
	if t.Price == nil || !strings.EqualFold(t.Symbol, c.symbol) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.series == nil || !c.params.SessionWindowed {
		return
	}
	c.series = Fuse(c.series, t)
	c.overlay = c.recomputeOverlay(c.series)
}

// Snapshot returns the current plot-ready state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Symbol:          c.symbol,
		View:            c.view.String(),
		Interval:        c.params.Interval,
		Period:          c.params.Period,
		Intraday:        c.params.Intraday,
		SessionWindowed: c.params.SessionWindowed,
		Loading:         c.loading,
		Series:          c.series,
		Overlay:         c.overlay,
	}
	if c.live != nil {
		snap.Live = c.live.Connected()
	}
	if c.params.SessionWindowed {
		if w, ok := session.SessionWindow(c.view.Sub, c.market, time.Now()); ok {
			snap.Axis = TimeAxis(w, c.params.Interval, session.LocationFor(c.market))
		}
	}
	return snap
}

// Close tears down the live subscription. The controller is unusable after.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if c.live != nil {
		return c.live.Close()
	}
	return nil
}

// StreamFactory builds a live client for a symbol, or returns nil when
// streaming is disabled.
type StreamFactory func(symbol string) *stream.Client

// Manager owns one controller per displayed symbol for the HTTP surface.
// It is created per process and torn down on shutdown; there is no
// module-global chart state.
type Manager struct {
	gw       *gateway.Gateway
	streams  StreamFactory
	maPeriod int
	log      *logger.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewManager creates an empty controller registry.
func NewManager(gw *gateway.Gateway, streams StreamFactory, maPeriod int, log *logger.Logger) *Manager {
	return &Manager{
		gw:          gw,
		streams:     streams,
		maPeriod:    maPeriod,
		log:         log,
		controllers: make(map[string]*Controller),
	}
}

// Get returns the controller for a symbol, creating it on first use.
func (m *Manager) Get(symbol string) *Controller {
	key := strings.ToUpper(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.controllers[key]; ok {
		return c
	}
	var live *stream.Client
	if m.streams != nil {
		live = m.streams(key)
	}
	c := NewController(key, m.gw, live, m.maPeriod, m.log)
	m.controllers[key] = c
	return c
}

// Close shuts down every controller and its stream.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.controllers {
		_ = c.Close()
	}
	m.controllers = make(map[string]*Controller)
	return nil
}
