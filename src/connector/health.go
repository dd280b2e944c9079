package connector

import (
	"sync"
	"sync/atomic"
	"time"

	"chainflow/src/models"
)

// -----------------------------------------------------------------------------
// healthTracker collects connector liveness counters. Written from the I/O
// goroutines, read from the health-reporting goroutine; counters are
// atomics, the rate-limit pointer sits behind a small mutex.
// -----------------------------------------------------------------------------

type healthTracker struct {
	source      string
	startTime   time.Time
	status      atomic.Value // models.ConnectorStatus
	lastMessage atomic.Int64 // unix nanos, 0 = never
	errorCount  atomic.Int64

	mu        sync.Mutex
	rateLimit *models.MRateLimitInfo
}

// -----------------------------------------------------------------------------

func newHealthTracker(source string) *healthTracker {
	h := &healthTracker{
		source:    source,
		startTime: time.Now(),
	}
	h.status.Store(models.StatusDisconnected)
	return h
}

// -----------------------------------------------------------------------------

func (h *healthTracker) SetStatus(s models.ConnectorStatus) {
	h.status.Store(s)
}

func (h *healthTracker) MarkMessage(t time.Time) {
	h.lastMessage.Store(t.UnixNano())
}

func (h *healthTracker) MarkError() {
	h.errorCount.Add(1)
}

func (h *healthTracker) SetRateLimit(info *models.MRateLimitInfo) {
	h.mu.Lock()
	h.rateLimit = info
	h.mu.Unlock()
}

// LastMessageTime returns the receive time of the most recent message.
func (h *healthTracker) LastMessageTime() (time.Time, bool) {
	nanos := h.lastMessage.Load()
	if nanos == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

// -----------------------------------------------------------------------------

// Snapshot builds a fresh health view; never cached.
func (h *healthTracker) Snapshot() models.MHealthSnapshot {
	snap := models.MHealthSnapshot{
		Source:     h.source,
		Status:     h.status.Load().(models.ConnectorStatus),
		ErrorCount: h.errorCount.Load(),
		UptimeMs:   time.Since(h.startTime).Milliseconds(),
	}

	if t, ok := h.LastMessageTime(); ok {
		utc := t.UTC()
		snap.LastMessageTime = &utc
	}

	h.mu.Lock()
	if h.rateLimit != nil {
		copied := *h.rateLimit
		snap.RateLimit = &copied
	}
	h.mu.Unlock()

	return snap
}
