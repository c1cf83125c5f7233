package upstream

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"MarketLens/internal/domain/models"
	pkghttp "MarketLens/pkg/http"
	"MarketLens/pkg/logger"
)

// envelope is the unified response wrapper of the market data provider.
// A non-zero code signals a provider-side failure even with HTTP 200.
type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Client talks to the upstream market data REST API. It implements
// repository.MarketFetcher.
type Client struct {
	baseURL    string
	http       *pkghttp.Client
	log        *logger.Logger
	maxRetries int
}

type Option func(*Client)

// WithRetries sets how many times a failed request is retried.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *pkghttp.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates an upstream market data client.
func NewClient(baseURL string, timeout time.Duration, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		http:       pkghttp.NewClient(pkghttp.WithTimeout(timeout)),
		log:        log,
		maxRetries: 2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchQuote returns the latest quote for a symbol.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	var env envelope[models.Quote]
	path := fmt.Sprintf("/api/market/quote/%s", url.PathEscape(symbol))
	if err := c.get(ctx, path, nil, &env); err != nil {
		return nil, fmt.Errorf("fetch quote %s: %w", symbol, err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("fetch quote %s: provider code %d: %s", symbol, env.Code, env.Message)
	}
	return &env.Data, nil
}

// FetchHistory returns OHLC history for a symbol at the given period and
// interval.
func (c *Client) FetchHistory(ctx context.Context, symbol, period, interval string) (*models.HistorySeries, error) {
	var env envelope[models.HistorySeries]
	path := fmt.Sprintf("/api/market/history/%s", url.PathEscape(symbol))
	query := map[string][]string{
		"period":   {period},
		"interval": {interval},
	}
	if err := c.get(ctx, path, query, &env); err != nil {
		return nil, fmt.Errorf("fetch history %s %s/%s: %w", symbol, period, interval, err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("fetch history %s: provider code %d: %s", symbol, env.Code, env.Message)
	}
	return &env.Data, nil
}

// FetchInfo returns instrument metadata.
func (c *Client) FetchInfo(ctx context.Context, symbol string) (*models.InstrumentInfo, error) {
	var env envelope[models.InstrumentInfo]
	path := fmt.Sprintf("/api/market/info/%s", url.PathEscape(symbol))
	if err := c.get(ctx, path, nil, &env); err != nil {
		return nil, fmt.Errorf("fetch info %s: %w", symbol, err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("fetch info %s: provider code %d: %s", symbol, env.Code, env.Message)
	}
	return &env.Data, nil
}

type searchPayload struct {
	Query   string                `json:"query"`
	Results []models.SearchResult `json:"results"`
	Count   int                   `json:"count"`
}

// FetchSearch looks up instruments matching a free-text query.
func (c *Client) FetchSearch(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	var env envelope[searchPayload]
	params := map[string][]string{
		"q":     {query},
		"limit": {strconv.Itoa(limit)},
	}
	if err := c.get(ctx, "/api/market/search", params, &env); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("search %q: provider code %d: %s", query, env.Code, env.Message)
	}
	return env.Data.Results, nil
}

// get performs a GET with retries. Backoff grows quadratically with the
// attempt number.
func (c *Client) get(ctx context.Context, path string, query map[string][]string, dest interface{}) error {
	opts := &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         c.baseURL + path,
		QueryParams: query,
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * time.Second
			c.log.Debug("retrying upstream request",
				logger.String("path", path),
				logger.Int("attempt", attempt),
				logger.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.http.SendAndParse(ctx, opts, dest); err != nil {
			lastErr = err
			c.log.Warn("upstream request failed",
				logger.String("path", path),
				logger.Int("attempt", attempt+1),
				logger.Error(err))
			continue
		}
		return nil
	}
	return fmt.Errorf("after %d attempts: %w", c.maxRetries+1, lastErr)
}
