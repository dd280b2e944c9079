package utils

import (
	"strings"
	"sync"
	"time"

	"github.com/scmhub/calendar"

	"chainflow/src/logger"
)

// -----------------------------------------------------------------------------
// MarketScheduler answers "is this market open right now" for the equities
// connector: the health snapshot carries the answer and the gap-backfill
// path consults it before replaying closed-market gaps.
// -----------------------------------------------------------------------------

type MarketScheduler struct {
	calendars map[string]*TradingCalendar
	logger    *logger.Logger
	mu        sync.RWMutex
}

// -----------------------------------------------------------------------------

func NewMarketScheduler(symbols []string, l *logger.Logger) *MarketScheduler {
	ms := &MarketScheduler{
		calendars: make(map[string]*TradingCalendar),
		logger:    l,
	}
	ms.UpdateSymbols(symbols)
	return ms
}

// -----------------------------------------------------------------------------

// UpdateSymbols replaces the tracked symbol set.
func (ms *MarketScheduler) UpdateSymbols(symbols []string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.calendars = make(map[string]*TradingCalendar, len(symbols))
	for _, symbol := range symbols {
		ms.calendars[symbol] = GetCalendar(symbol)
	}
	ms.logger.Info("MarketScheduler: tracking %d symbols", len(symbols))
}

// -----------------------------------------------------------------------------

// AnyMarketOpen reports whether any tracked symbol's market is open now.
func (ms *MarketScheduler) AnyMarketOpen() bool {
	now := time.Now().UTC()

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, cal := range ms.calendars {
		if cal.IsOpenAt(now) {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// TradingCalendar wraps scmhub/calendar. An unresolved MIC falls back to the
// xnys calendar; the Mon-Fri 09:30-16:00 rule applies only when no calendar
// can be resolved at all.
// -----------------------------------------------------------------------------

type TradingCalendar struct {
	calendar *calendar.Calendar
	fallback bool
	timezone *time.Location
}

// micBySuffix maps common exchange suffixes to ISO 10383 MIC codes.
// Unsuffixed symbols are treated as US listings.
var micBySuffix = map[string]string{
	".L": "xlon", ".PA": "xpar", ".DE": "xfra", ".AS": "xams",
	".MI": "xmil", ".MC": "xmad", ".ST": "xsto", ".SW": "xswx",
	".TO": "xtse", ".T": "xtks", ".HK": "xhkg", ".AX": "xasx",
}

// -----------------------------------------------------------------------------

func GetCalendar(symbol string) *TradingCalendar {
	mic := "xnys"
	for suffix, code := range micBySuffix {
		if strings.HasSuffix(symbol, suffix) {
			mic = code
			break
		}
	}

	cal := calendar.GetCalendar(mic)
	if cal == nil {
		cal = calendar.GetCalendar("xnys")
	}
	if cal == nil {
		nyLoc, _ := time.LoadLocation("America/New_York")
		if nyLoc == nil {
			nyLoc = time.UTC
		}
		return &TradingCalendar{fallback: true, timezone: nyLoc}
	}

	return &TradingCalendar{calendar: cal, timezone: cal.Loc}
}

// -----------------------------------------------------------------------------

// IsOpenAt checks whether the market trades at instant t.
func (tc *TradingCalendar) IsOpenAt(t time.Time) bool {
	if tc.timezone != nil {
		t = t.In(tc.timezone)
	}

	if tc.fallback {
		weekday := t.Weekday()
		if weekday == time.Saturday || weekday == time.Sunday {
			return false
		}
		minutes := t.Hour()*60 + t.Minute()
		return minutes >= 9*60+30 && minutes < 16*60
	}

	return tc.calendar.IsOpen(t)
}
