package session

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// MainView is the top-level chart view selector.
type MainView string

const (
	ViewAllSessions MainView = "all-sessions"
	View5D          MainView = "5d"
	View1D          MainView = "1d"
	View1W          MainView = "1wk"
	View1M          MainView = "1mo"
	View3M          MainView = "3mo"
	View1Y          MainView = "1y"
)

// Session names a sub-period of the trading day. It is only meaningful when
// the main view is all-sessions.
type Session string

const (
	PreMarket  Session = "pre-market"
	Regular    Session = "regular"
	AfterHours Session = "after-hours"
	Extended   Session = "extended"
)

// ViewMode pairs the main view with the selected sub-session. Exactly one
// effective view is active at any time: the sub-session when Main is
// all-sessions, the main view otherwise.
type ViewMode struct {
	Main MainView
	Sub  Session
}

// NewViewMode builds a ViewMode, defaulting the sub-session to regular.
func NewViewMode(main MainView, sub Session) ViewMode {
	if sub == "" {
		sub = Regular
	}
	return ViewMode{Main: main, Sub: sub}
}

func (v ViewMode) String() string {
	if v.Main == ViewAllSessions {
		return string(v.Sub)
	}
	return string(v.Main)
}

// ParseMainView validates a main view string.
func ParseMainView(s string) (MainView, error) {
	switch MainView(s) {
	case ViewAllSessions, View5D, View1D, View1W, View1M, View3M, View1Y:
		return MainView(s), nil
	}
	return "", fmt.Errorf("unknown view %q", s)
}

// ParseSession validates a session string.
func ParseSession(s string) (Session, error) {
	switch Session(s) {
	case PreMarket, Regular, AfterHours, Extended:
		return Session(s), nil
	}
	return "", fmt.Errorf("unknown session %q", s)
}

// ViewParams is the concrete data request a view resolves to.
type ViewParams struct {
	Interval        string
	Period          string
	Intraday        bool
	SessionWindowed bool
}

// Resolve maps a view to its fetch interval, period, and rendering mode.
// The mapping is closed: every view and session is handled explicitly so a
// new view mode cannot fall through to a default.
func Resolve(v ViewMode) ViewParams {
	if v.Main == ViewAllSessions {
		switch v.Sub {
		case PreMarket, Regular:
			return ViewParams{Interval: "1m", Period: "1d", Intraday: true, SessionWindowed: true}
		case AfterHours, Extended:
			return ViewParams{Interval: "5m", Period: "1d", Intraday: true, SessionWindowed: true}
		}
		// zero-value Sub only reachable via an unvalidated literal
		return ViewParams{Interval: "1m", Period: "1d", Intraday: true, SessionWindowed: true}
	}

	switch v.Main {
	case View5D:
		return ViewParams{Interval: "5m", Period: "5d"}
	case View1D:
		return ViewParams{Interval: "15m", Period: "1d"}
	case View1W:
		return ViewParams{Interval: "1h", Period: "1wk"}
	case View1M:
		return ViewParams{Interval: "1d", Period: "1mo"}
	case View3M:
		return ViewParams{Interval: "1d", Period: "3mo"}
	case View1Y:
		return ViewParams{Interval: "1wk", Period: "1y"}
	}
	return ViewParams{Interval: "1d", Period: "1d"}
}

// IntervalDuration converts a fetch interval to a duration, for time-axis
// synthesis. Unknown intervals fall back to one minute.
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "1d":
		return 24 * time.Hour
	case "1wk":
		return 7 * 24 * time.Hour
	default:
		return time.Minute
	}
}

// Market identifies a trading calendar.
type Market string

const (
	MarketUS     Market = "US"
	MarketCrypto Market = "CRYPTO"
	MarketCN     Market = "CN"
)

type sessionTime struct {
	startHour, startMin int
	endHour, endMin     int
}

type marketHours struct {
	tz       string
	sessions map[Session]sessionTime
}

var marketCalendar = map[Market]marketHours{
	MarketUS: {
		tz: "America/New_York",
		sessions: map[Session]sessionTime{
			PreMarket:  {4, 0, 9, 30},
			Regular:    {9, 30, 16, 0},
			AfterHours: {16, 0, 20, 0},
		},
	},
	// Crypto trades around the clock; the single window doubles as the
	// regular and extended labels.
	MarketCrypto: {
		tz: "UTC",
		sessions: map[Session]sessionTime{
			Regular:  {0, 0, 23, 59},
			Extended: {0, 0, 23, 59},
		},
	},
	MarketCN: {
		tz: "Asia/Shanghai",
		sessions: map[Session]sessionTime{
			Regular: {9, 30, 15, 0},
		},
	},
}

// MarketFor infers the trading calendar from the symbol's convention.
func MarketFor(symbol string) Market {
	s := strings.ToUpper(symbol)
	if strings.Contains(s, "-USD") || strings.Contains(s, "BTC") || strings.Contains(s, "ETH") {
		return MarketCrypto
	}
	return MarketUS
}

// LocationFor returns the market's exchange time zone.
func LocationFor(m Market) *time.Location {
	hours, ok := marketCalendar[m]
	if !ok {
		return time.UTC
	}
	return location(hours.tz)
}

// Window is a wall-clock trading window in unix milliseconds.
type Window struct {
	Start int64
	End   int64
}

var (
	locMu    sync.Mutex
	locCache = map[string]*time.Location{}
)

func location(name string) *time.Location {
	locMu.Lock()
	defer locMu.Unlock()
	if loc, ok := locCache[name]; ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	locCache[name] = loc
	return loc
}

// SessionWindow returns the wall-clock window for a session on the given
// date, with the end clipped to now so an in-progress session's axis stops
// at the current time. The second return is false when the session is not
// configured for the market; callers then render only fetched points.
func SessionWindow(s Session, m Market, date time.Time) (Window, bool) {
	return sessionWindowAt(s, m, date, time.Now())
}

func sessionWindowAt(s Session, m Market, date, now time.Time) (Window, bool) {
	hours, ok := marketCalendar[m]
	if !ok {
		return Window{}, false
	}
	st, ok := hours.sessions[s]
	if !ok {
		return Window{}, false
	}

	loc := location(hours.tz)
	d := date.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), st.startHour, st.startMin, 0, 0, loc)
	end := time.Date(d.Year(), d.Month(), d.Day(), st.endHour, st.endMin, 0, 0, loc)

	endMs := end.UnixMilli()
	if nowMs := now.UnixMilli(); nowMs < endMs {
		endMs = nowMs
	}
	return Window{Start: start.UnixMilli(), End: endMs}, true
}

// InSession reports whether now falls inside the session's window.
func InSession(s Session, m Market, now time.Time) bool {
	w, ok := sessionWindowAt(s, m, now, now)
	if !ok {
		return false
	}
	ms := now.UnixMilli()
	return ms >= w.Start && ms <= w.End
}

// CurrentSession returns the first session whose window contains now.
func CurrentSession(m Market, now time.Time) (Session, bool) {
	for _, s := range []Session{PreMarket, Regular, AfterHours, Extended} {
		if InSession(s, m, now) {
			return s, true
		}
	}
	return "", false
}

// Progress reports how far through the session now is, in percent.
func Progress(s Session, m Market, now time.Time) float64 {
	hours, ok := marketCalendar[m]
	if !ok {
		return 0
	}
	st, ok := hours.sessions[s]
	if !ok {
		return 0
	}
	loc := location(hours.tz)
	d := now.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), st.startHour, st.startMin, 0, 0, loc).UnixMilli()
	end := time.Date(d.Year(), d.Month(), d.Day(), st.endHour, st.endMin, 0, 0, loc).UnixMilli()

	ms := now.UnixMilli()
	if ms <= start {
		return 0
	}
	if ms >= end {
		return 100
	}
	return float64(ms-start) / float64(end-start) * 100
}
