package chart

import (
	"time"

	"MarketLens/internal/domain/models"
	"MarketLens/internal/session"
)

// Fuse appends a live tick to a history series as a synthesized bar with
// open=high=low=close=price. The input series is not mutated; the returned
// series shares no point slice with it. Ticks without a price, and series
// from non-session-windowed views, are the caller's responsibility to filter.
func Fuse(s *models.HistorySeries, t models.LiveTick) *models.HistorySeries {
	return fuseAt(s, t, time.Now())
}

func fuseAt(s *models.HistorySeries, t models.LiveTick, now time.Time) *models.HistorySeries {
	out := &models.HistorySeries{
		Symbol:   s.Symbol,
		Period:   s.Period,
		Interval: s.Interval,
		Currency: s.Currency,
		Points:   make([]models.OHLCPoint, len(s.Points), len(s.Points)+1),
	}
	copy(out.Points, s.Points)

	if t.Price == nil {
		return out
	}

	ts := now.UnixMilli()
	if t.Timestamp != nil {
		ts = *t.Timestamp
	}
	// late ticks clamp to the tail so timestamps stay non-decreasing
	if n := len(out.Points); n > 0 && ts < out.Points[n-1].Timestamp {
		ts = out.Points[n-1].Timestamp
	}
	p := models.OHLCPoint{
		Timestamp: ts,
		Date:      time.UnixMilli(ts).UTC().Format(time.RFC3339),
		Open:      *t.Price,
		High:      *t.Price,
		Low:       *t.Price,
		Close:     *t.Price,
	}
	if t.Volume != nil {
		v := *t.Volume
		p.Volume = &v
	}
	out.Points = append(out.Points, p)
	return out
}

// MovingAverage computes a trailing simple moving average. The result has
// the same length as the input; entries before a full look-back window are
// nil, which marshals to JSON null for the chart overlay.
func MovingAverage(values []float64, period int) []*float64 {
	out := make([]*float64, len(values))
	if period <= 0 {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			avg := sum / float64(period)
			out[i] = &avg
		}
	}
	return out
}

// TimeAxis synthesizes the full expected HH:MM label axis for a
// session-windowed view, stepping by the view's interval across the window.
// The window's end is already clipped to now by the resolver.
func TimeAxis(w session.Window, interval string, loc *time.Location) []string {
	if loc == nil {
		loc = time.Local
	}
	step := session.IntervalDuration(interval)
	var labels []string
	for ms := w.Start; ms <= w.End; ms += step.Milliseconds() {
		labels = append(labels, time.UnixMilli(ms).In(loc).Format("15:04"))
	}
	return labels
}
