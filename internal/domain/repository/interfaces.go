package repository

import (
	"context"

	"MarketLens/internal/domain/models"
)

// MarketFetcher is the upstream data source the gateway sits in front of.
// Implementations own transport and format; failures are returned unchanged.
type MarketFetcher interface {
	FetchQuote(ctx context.Context, symbol string) (*models.Quote, error)
	FetchHistory(ctx context.Context, symbol, period, interval string) (*models.HistorySeries, error)
	FetchInfo(ctx context.Context, symbol string) (*models.InstrumentInfo, error)
	FetchSearch(ctx context.Context, query string, limit int) ([]models.SearchResult, error)
}

// TickSink receives live ticks fanned out by the tick pipeline.
type TickSink interface {
	Write(ctx context.Context, t *models.LiveTick) error
	Close() error
}

// BatchTickSink is implemented by sinks that can take many ticks in one
// round-trip; the pipeline's flusher prefers it when draining its buffer.
type BatchTickSink interface {
	WriteBatch(ctx context.Context, ticks []*models.LiveTick) error
}

// Metrics records operational counters for the chart engine.
type Metrics interface {
	RecordCacheHit(kind string)
	RecordCacheMiss(kind string)
	RecordFetch(kind string, seconds float64)
	RecordError(kind string)
	RecordTick(symbol string)
	RecordReconnect(symbol string)
	RecordLastPrice(symbol string, price float64)
}
