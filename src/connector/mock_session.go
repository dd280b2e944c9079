package connector

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// MockSession is the deterministic stand-in for the native vendor client.
// Each subscription emits one synthetic market-data event per cadence tick;
// prices follow a per-subscription sine walk derived from the correlation
// id, so two runs with the same subscription order produce the same series.
// -----------------------------------------------------------------------------

type MockSession struct {
	cadence time.Duration
	events  chan SessionEvent

	mu     sync.Mutex
	subs   map[int64]*mockSubscription
	open   bool
	closed bool
	stop   chan struct{}
}

type mockSubscription struct {
	security string
	basePri  float64
	step     int64
}

// -----------------------------------------------------------------------------

func NewMockSession(cadence time.Duration) *MockSession {
	if cadence <= 0 {
		cadence = 5 * time.Second
	}
	return &MockSession{
		cadence: cadence,
		events:  make(chan SessionEvent, 256),
		subs:    make(map[int64]*mockSubscription),
		stop:    make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------

// Open starts the synthetic emitter. Opening the session and the
// market-data service collapse into one step here.
func (m *MockSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock session is closed")
	}
	if m.open {
		return nil
	}
	m.open = true
	go m.emitLoop()
	return nil
}

// -----------------------------------------------------------------------------

func (m *MockSession) Subscribe(security string, correlationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock session is closed")
	}
	// Base price derives from the correlation id so each security gets a
	// stable, distinct series.
	m.subs[correlationID] = &mockSubscription{
		security: security,
		basePri:  100 + float64(correlationID%37)*10,
	}
	return nil
}

func (m *MockSession) Unsubscribe(correlationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, correlationID)
	return nil
}

func (m *MockSession) Events() <-chan SessionEvent {
	return m.events
}

// -----------------------------------------------------------------------------

func (m *MockSession) emitLoop() {
	ticker := time.NewTicker(m.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.emitAll(now)
		}
	}
}

func (m *MockSession) emitAll(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	for id, sub := range m.subs {
		sub.step++
		price := sub.basePri * (1 + 0.01*math.Sin(float64(sub.step)/7))
		volume := float64(100 + sub.step%50)

		fields, _ := json.Marshal(map[string]float64{
			"LAST_PRICE": math.Round(price*100) / 100,
			"VOLUME":     volume,
		})

		select {
		case m.events <- SessionEvent{
			CorrelationID: id,
			Timestamp:     now.UnixMilli(),
			Fields:        fields,
		}:
		default:
			// Consumer stalled; synthetic data is droppable.
		}
	}
}

// -----------------------------------------------------------------------------

func (m *MockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.open {
		close(m.stop)
	}
	close(m.events)
	return nil
}
