package models

import (
	"strings"
	"time"
)

// AssetClass is inferred from the symbol's lexical convention; it is never
// fetched from upstream.
type AssetClass string

const (
	AssetEquity AssetClass = "equity"
	AssetETF    AssetClass = "etf"
	AssetCrypto AssetClass = "crypto"
	AssetIndex  AssetClass = "index"
)

// InferAssetClass classifies a symbol by convention: a -USD suffix means
// crypto, a ^ prefix means index, everything else defaults to equity.
func InferAssetClass(symbol string) AssetClass {
	s := strings.ToUpper(symbol)
	switch {
	case strings.HasSuffix(s, "-USD"):
		return AssetCrypto
	case strings.HasPrefix(s, "^"):
		return AssetIndex
	default:
		return AssetEquity
	}
}

// Quote is a point-in-time snapshot for a single symbol.
type Quote struct {
	Symbol        string     `json:"symbol"`
	AssetClass    AssetClass `json:"asset_class,omitempty"`
	Price         float64    `json:"price"`
	PreviousClose float64    `json:"previous_close"`
	Change        float64    `json:"change"`
	ChangePercent float64    `json:"change_percent"`
	Volume        int64      `json:"volume"`
	MarketCap     int64      `json:"market_cap,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	Timestamp     int64      `json:"timestamp"` // unix ms
}

// OHLCPoint is one bar of a history series. Points are immutable once
// created; live updates append new points, never rewrite old ones.
type OHLCPoint struct {
	Timestamp int64    `json:"timestamp"` // unix ms
	Date      string   `json:"date"`
	Open      float64  `json:"open"`
	High      float64  `json:"high"`
	Low       float64  `json:"low"`
	Close     float64  `json:"close"`
	Volume    *float64 `json:"volume,omitempty"`
}

// HistorySeries holds fetched bars for one (symbol, period, interval).
// Invariant: Points is ordered by non-decreasing Timestamp.
type HistorySeries struct {
	Symbol   string      `json:"symbol"`
	Period   string      `json:"period"`
	Interval string      `json:"interval"`
	Currency string      `json:"currency,omitempty"`
	Points   []OHLCPoint `json:"data_points"`
}

// LastTimestamp returns the timestamp of the newest point, or 0 when empty.
func (s *HistorySeries) LastTimestamp() int64 {
	if len(s.Points) == 0 {
		return 0
	}
	return s.Points[len(s.Points)-1].Timestamp
}

// Closes extracts the close-price column.
func (s *HistorySeries) Closes() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Close
	}
	return out
}

// LiveTick is a single incremental price update from the stream. Optional
// fields are nil when the upstream frame omits them; ticks are folded into
// quotes and series but never persisted by the chart engine itself.
type LiveTick struct {
	Symbol        string   `json:"symbol"`
	Price         *float64 `json:"price,omitempty"`
	Change        *float64 `json:"change,omitempty"`
	ChangePercent *float64 `json:"change_percent,omitempty"`
	Volume        *float64 `json:"volume,omitempty"`
	Timestamp     *int64   `json:"timestamp,omitempty"` // unix ms
}

// ApplyTo folds the tick into a quote, keeping prior values for absent fields.
func (t *LiveTick) ApplyTo(q Quote) Quote {
	if t.Price != nil {
		q.Price = *t.Price
	}
	if t.Change != nil {
		q.Change = *t.Change
	}
	if t.ChangePercent != nil {
		q.ChangePercent = *t.ChangePercent
	}
	if t.Volume != nil {
		q.Volume = int64(*t.Volume)
	}
	if t.Timestamp != nil {
		q.Timestamp = *t.Timestamp
	} else {
		q.Timestamp = time.Now().UnixMilli()
	}
	return q
}

// InstrumentInfo is the slow-moving descriptive record for a symbol.
type InstrumentInfo struct {
	Symbol      string     `json:"symbol"`
	Name        string     `json:"name"`
	AssetClass  AssetClass `json:"asset_class,omitempty"`
	Exchange    string     `json:"exchange,omitempty"`
	Sector      string     `json:"sector,omitempty"`
	Industry    string     `json:"industry,omitempty"`
	Currency    string     `json:"currency,omitempty"`
	MarketCap   int64      `json:"market_cap,omitempty"`
	Description string     `json:"description,omitempty"`
	Website     string     `json:"website,omitempty"`
}

// SearchResult is one row of a symbol search.
type SearchResult struct {
	Symbol   string     `json:"symbol"`
	Name     string     `json:"name"`
	Type     AssetClass `json:"type,omitempty"`
	Exchange string     `json:"exchange,omitempty"`
}
