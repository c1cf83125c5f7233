package chart

import (
	"testing"
	"time"

	"MarketLens/internal/domain/models"
	"MarketLens/internal/session"
)

func sessionSeries(n int, startMs int64) *models.HistorySeries {
	s := &models.HistorySeries{Symbol: "AAPL", Period: "1d", Interval: "1m"}
	for i := 0; i < n; i++ {
		ts := startMs + int64(i)*60_000
		s.Points = append(s.Points, models.OHLCPoint{Timestamp: ts, Close: 100 + float64(i)})
	}
	return s
}

func TestFuseAppendsTickAsBar(t *testing.T) {
	s := sessionSeries(10, 1_709_650_800_000)
	price := 101.0
	ts := s.LastTimestamp() + 60_000
	tick := models.LiveTick{Symbol: "AAPL", Price: &price, Timestamp: &ts}

	out := Fuse(s, tick)
	if len(out.Points) != 11 {
		t.Fatalf("expected 11 points, got %d", len(out.Points))
	}
	last := out.Points[10]
	if last.Open != 101 || last.High != 101 || last.Low != 101 || last.Close != 101 {
		t.Fatalf("tick bar not flat: %+v", last)
	}
	if last.Timestamp <= s.LastTimestamp() {
		t.Fatalf("appended point must be strictly newer")
	}
	if len(s.Points) != 10 {
		t.Fatalf("input series was mutated")
	}
}

func TestFuseDefaultsTimestampToNow(t *testing.T) {
	s := sessionSeries(1, 1_709_650_800_000)
	price := 99.5
	now := time.UnixMilli(1_709_654_400_000)

	out := fuseAt(s, models.LiveTick{Symbol: "AAPL", Price: &price}, now)
	if got := out.Points[1].Timestamp; got != now.UnixMilli() {
		t.Fatalf("timestamp %d want now %d", got, now.UnixMilli())
	}
}

func TestFuseClampsLateTickToTail(t *testing.T) {
	s := sessionSeries(10, 1_709_650_800_000)
	price := 101.0
	ts := s.LastTimestamp() - 120_000
	out := Fuse(s, models.LiveTick{Symbol: "AAPL", Price: &price, Timestamp: &ts})

	last := out.Points[len(out.Points)-1]
	if last.Timestamp != s.LastTimestamp() {
		t.Fatalf("late tick timestamp %d want clamped to tail %d", last.Timestamp, s.LastTimestamp())
	}
	for i := 1; i < len(out.Points); i++ {
		if out.Points[i].Timestamp < out.Points[i-1].Timestamp {
			t.Fatalf("timestamps regressed at %d", i)
		}
	}
	if last.Close != 101 {
		t.Fatalf("late tick price must still land, got %v", last.Close)
	}
}

func TestFuseCarriesVolume(t *testing.T) {
	s := sessionSeries(1, 0)
	price, vol := 50.0, 1200.0
	out := Fuse(s, models.LiveTick{Symbol: "AAPL", Price: &price, Volume: &vol})
	if out.Points[1].Volume == nil || *out.Points[1].Volume != 1200 {
		t.Fatalf("volume not carried: %+v", out.Points[1])
	}

	out2 := Fuse(s, models.LiveTick{Symbol: "AAPL", Price: &price})
	if out2.Points[1].Volume != nil {
		t.Fatalf("absent volume must stay absent")
	}
}

func TestFuseIgnoresPricelessTick(t *testing.T) {
	s := sessionSeries(3, 0)
	out := Fuse(s, models.LiveTick{Symbol: "AAPL"})
	if len(out.Points) != 3 {
		t.Fatalf("priceless tick must not append, got %d points", len(out.Points))
	}
}

func TestMovingAverage(t *testing.T) {
	got := MovingAverage([]float64{1, 2, 3, 4, 5, 6}, 5)
	if len(got) != 6 {
		t.Fatalf("length %d want 6", len(got))
	}
	for i := 0; i < 4; i++ {
		if got[i] != nil {
			t.Fatalf("index %d: want nil before full window", i)
		}
	}
	if *got[4] != 3 || *got[5] != 4 {
		t.Fatalf("want [... 3 4], got [... %v %v]", *got[4], *got[5])
	}
}

func TestMovingAverageShortInput(t *testing.T) {
	got := MovingAverage([]float64{1, 2}, 5)
	if len(got) != 2 || got[0] != nil || got[1] != nil {
		t.Fatalf("short input must be all nil, got %v", got)
	}
}

func TestMovingAveragePeriodOne(t *testing.T) {
	got := MovingAverage([]float64{2, 4, 8}, 1)
	for i, v := range []float64{2, 4, 8} {
		if got[i] == nil || *got[i] != v {
			t.Fatalf("period 1 must echo input at %d", i)
		}
	}
}

func TestTimeAxis(t *testing.T) {
	start := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	end := time.Date(2024, 3, 5, 16, 0, 0, 0, time.UTC)
	w := session.Window{Start: start.UnixMilli(), End: end.UnixMilli()}

	labels := TimeAxis(w, "1m", time.UTC)
	if len(labels) != 391 {
		t.Fatalf("expected 391 one-minute slots, got %d", len(labels))
	}
	if labels[0] != "09:30" || labels[len(labels)-1] != "16:00" {
		t.Fatalf("axis bounds %q..%q", labels[0], labels[len(labels)-1])
	}

	labels5 := TimeAxis(w, "5m", time.UTC)
	if len(labels5) != 79 {
		t.Fatalf("expected 79 five-minute slots, got %d", len(labels5))
	}
}
