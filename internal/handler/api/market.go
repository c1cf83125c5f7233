package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"MarketLens/internal/chart"
	"MarketLens/internal/gateway"
	"MarketLens/internal/session"
	"MarketLens/pkg/cache"
	pkghttp "MarketLens/pkg/http"
	applogger "MarketLens/pkg/logger"
)

// MarketHandler exposes the market data and chart endpoints.
type MarketHandler struct {
	gw     *gateway.Gateway
	charts *chart.Manager
	cache  cache.Service
	log    *applogger.Logger
}

// NewMarketHandler creates the handler. The cache is optional; when nil,
// responses are served straight from the gateway.
func NewMarketHandler(gw *gateway.Gateway, charts *chart.Manager, log *applogger.Logger) *MarketHandler {
	return &MarketHandler{gw: gw, charts: charts, log: log}
}

// SetCache injects a response cache for the slow-moving endpoints.
func (h *MarketHandler) SetCache(c cache.Service) { h.cache = c }

// cacheResponse stores the serialized success envelope so a warm hit can be
// written back without re-encoding.
func (h *MarketHandler) cacheResponse(ctx context.Context, key string, data interface{}, ttl time.Duration) {
	if h.cache == nil {
		return
	}
	b, err := json.Marshal(pkghttp.APIResponse{
		Status:  http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
	if err != nil {
		return
	}
	if err := h.cache.Set(ctx, key, string(b), ttl); err != nil {
		h.log.Warn("response cache set failed", applogger.String("key", key), applogger.Error(err))
	}
}

// RegisterRoutes wires the endpoints into Echo.
func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/market")
	g.GET("/quote/:symbol", h.Quote)
	g.GET("/history/:symbol", h.History)
	g.GET("/info/:symbol", h.Info)
	g.GET("/search", h.Search)
	g.GET("/chart/:symbol", h.Chart)
}

type quoteRequest struct {
	Symbol  string `param:"symbol" validate:"required,min=1,max=16"`
	Refresh bool   `query:"refresh"`
}

// Quote returns the latest quote for a symbol.
func (h *MarketHandler) Quote(c echo.Context) error {
	var req quoteRequest
	if errs := pkghttp.ReadAndValidateRequest(c, &req); errs != nil {
		return pkghttp.BadRequestResponse(c, errs)
	}

	q, err := h.gw.Quote(c.Request().Context(), req.Symbol, req.Refresh)
	if err != nil {
		h.log.Error("quote fetch failed", applogger.String("symbol", req.Symbol), applogger.Error(err))
		return pkghttp.AppErrorResponse(c, pkghttp.InternalErrorf("quote %s unavailable", req.Symbol))
	}
	return pkghttp.SuccessResponse(c, q)
}

type historyRequest struct {
	Symbol   string `param:"symbol" validate:"required,min=1,max=16"`
	Period   string `query:"period" default:"1d" validate:"oneof=1d 5d 1wk 1mo 3mo 1y"`
	Interval string `query:"interval" default:"1m" validate:"oneof=1m 5m 15m 1h 1d 1wk"`
	Refresh  bool   `query:"refresh"`
}

// History returns OHLC bars for a symbol.
func (h *MarketHandler) History(c echo.Context) error {
	var req historyRequest
	if errs := pkghttp.ReadAndValidateRequest(c, &req); errs != nil {
		return pkghttp.BadRequestResponse(c, errs)
	}

	s, err := h.gw.History(c.Request().Context(), req.Symbol, req.Period, req.Interval, req.Refresh)
	if err != nil {
		h.log.Error("history fetch failed",
			applogger.String("symbol", req.Symbol),
			applogger.String("period", req.Period),
			applogger.Error(err))
		return pkghttp.AppErrorResponse(c, pkghttp.InternalErrorf("history %s unavailable", req.Symbol))
	}
	return pkghttp.SuccessResponse(c, s)
}

type infoRequest struct {
	Symbol string `param:"symbol" validate:"required,min=1,max=16"`
}

// Info returns instrument metadata, served from the response cache when warm.
func (h *MarketHandler) Info(c echo.Context) error {
	var req infoRequest
	if errs := pkghttp.ReadAndValidateRequest(c, &req); errs != nil {
		return pkghttp.BadRequestResponse(c, errs)
	}
	ctx := c.Request().Context()

	key := cache.GenerateKey("info", req.Symbol)
	if h.cache != nil {
		var cached string
		if err := h.cache.Get(ctx, key, &cached); err == nil {
			return c.JSONBlob(http.StatusOK, []byte(cached))
		}
	}

	info, err := h.gw.Info(ctx, req.Symbol, false)
	if err != nil {
		h.log.Error("info fetch failed", applogger.String("symbol", req.Symbol), applogger.Error(err))
		return pkghttp.AppErrorResponse(c, pkghttp.NotFoundErrorf("no info for %s", req.Symbol))
	}

	h.cacheResponse(ctx, key, info, time.Hour)
	return pkghttp.SuccessResponse(c, info)
}

type searchRequest struct {
	Query string `query:"q" validate:"required,min=1,max=64"`
	Limit int    `query:"limit" default:"10" validate:"gte=1,lte=50"`
}

// Search looks up instruments matching a free-text query.
func (h *MarketHandler) Search(c echo.Context) error {
	var req searchRequest
	if errs := pkghttp.ReadAndValidateRequest(c, &req); errs != nil {
		return pkghttp.BadRequestResponse(c, errs)
	}
	ctx := c.Request().Context()

	key := cache.GenerateKeyWithParams("search", req.Query, req.Limit)
	if h.cache != nil {
		var cached string
		if err := h.cache.Get(ctx, key, &cached); err == nil {
			return c.JSONBlob(http.StatusOK, []byte(cached))
		}
	}

	results, err := h.gw.Search(ctx, req.Query, req.Limit, false)
	if err != nil {
		h.log.Error("search failed", applogger.String("query", req.Query), applogger.Error(err))
		return pkghttp.AppErrorResponse(c, pkghttp.InternalErrorf("search unavailable"))
	}

	h.cacheResponse(ctx, key, results, 10*time.Minute)
	return pkghttp.SuccessResponse(c, results)
}

type chartRequest struct {
	Symbol  string `param:"symbol" validate:"required,min=1,max=16"`
	View    string `query:"view" default:"all-sessions" validate:"oneof=all-sessions 5d 1d 1wk 1mo 3mo 1y"`
	Session string `query:"session" default:"regular" validate:"oneof=pre-market regular after-hours extended"`
}

// Chart switches the symbol's chart to the requested view and returns the
// plot-ready snapshot.
func (h *MarketHandler) Chart(c echo.Context) error {
	var req chartRequest
	if errs := pkghttp.ReadAndValidateRequest(c, &req); errs != nil {
		return pkghttp.BadRequestResponse(c, errs)
	}

	main, err := session.ParseMainView(req.View)
	if err != nil {
		return pkghttp.BadRequestResponse(c, err.Error())
	}
	sub, err := session.ParseSession(req.Session)
	if err != nil {
		return pkghttp.BadRequestResponse(c, err.Error())
	}

	ctrl := h.charts.Get(req.Symbol)
	if err := ctrl.SetView(c.Request().Context(), session.ViewMode{Main: main, Sub: sub}); err != nil {
		h.log.Error("chart view switch failed",
			applogger.String("symbol", req.Symbol),
			applogger.String("view", req.View),
			applogger.Error(err))
		return pkghttp.AppErrorResponse(c, pkghttp.InternalErrorf("chart %s unavailable", req.Symbol))
	}
	return pkghttp.SuccessResponse(c, ctrl.Snapshot())
}
