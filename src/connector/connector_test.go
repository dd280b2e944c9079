package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainflow/src/helpers"
	"chainflow/src/logger"
	"chainflow/src/models"
	"chainflow/src/normalize"
)

// -----------------------------------------------------------------------------
// Test doubles
// -----------------------------------------------------------------------------

type sinkRecorder struct {
	mu    sync.Mutex
	ticks []models.MTick
}

func (s *sinkRecorder) AddTick(tick models.MTick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, tick)
}

func (s *sinkRecorder) all() []models.MTick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MTick(nil), s.ticks...)
}

// fakeNetwork scripts responses per call.
type fakeNetwork struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     []map[string]string
}

type fakeResponse struct {
	body    []byte
	headers http.Header
	err     error
}

func (f *fakeNetwork) Get(ctx context.Context, url string, params map[string]string, headers map[string]string) ([]byte, http.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, params)
	if len(f.responses) == 0 {
		return nil, nil, helpers.NewNetworkError("no scripted response", nil)
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp.body, resp.headers, resp.err
}

func testLogger() *logger.Logger {
	return logger.NewLogger("ERROR", "test")
}

// -----------------------------------------------------------------------------
// Reconnection backoff
// -----------------------------------------------------------------------------

func TestBackoffDelaySequence(t *testing.T) {
	base := time.Second

	assert.Equal(t, base, BackoffDelay(base, 0))
	assert.Equal(t, 2*base, BackoffDelay(base, 1))
	assert.Equal(t, 4*base, BackoffDelay(base, 2))
	assert.Equal(t, 32*base, BackoffDelay(base, 5))
}

func TestBackoffDelayCappedAtSixtySeconds(t *testing.T) {
	base := time.Second
	assert.Equal(t, 60*time.Second, BackoffDelay(base, 6))
	assert.Equal(t, 60*time.Second, BackoffDelay(base, 20))
	// Shift overflow never produces a shorter delay.
	assert.Equal(t, 60*time.Second, BackoffDelay(base, 63))
}

// -----------------------------------------------------------------------------
// Polling connector
// -----------------------------------------------------------------------------

func pollingConfig() models.MAccuWeatherConfig {
	return models.MAccuWeatherConfig{
		BaseURL:         "https://example.test",
		APIKey:          "key",
		LocationKey:     "12345",
		Symbol:          "TEMP-NYC",
		IntervalSeconds: 300,
		MaxRetries:      3,
		RetryDelaySec:   1,
	}
}

func TestPollingRateLimitOverridesCadence(t *testing.T) {
	net := &fakeNetwork{responses: []fakeResponse{
		{err: helpers.NewRateLimitError("429", 10 * time.Second)},
	}}

	c := NewPollingConnector("accuweather", pollingConfig(), net,
		&normalize.AccuWeatherNormalizer{Symbol: "TEMP-NYC"}, &sinkRecorder{}, testLogger())

	retryAfter, ok := c.pollOnce(context.Background())
	require.True(t, ok)
	// Next poll is scheduled by the vendor's Retry-After, not the cadence.
	assert.Equal(t, 10*time.Second, retryAfter)
}

func TestPollingFeedsNormalizedTick(t *testing.T) {
	body := []byte(`[{"EpochTime":1735732800,"Temperature":{"Metric":{"Value":3.9}},"RelativeHumidity":78}]`)
	headers := http.Header{}
	headers.Set("RateLimit-Remaining", "49")
	headers.Set("RateLimit-Reset", "3600")

	net := &fakeNetwork{responses: []fakeResponse{{body: body, headers: headers}}}
	sink := &sinkRecorder{}

	c := NewPollingConnector("accuweather", pollingConfig(), net,
		&normalize.AccuWeatherNormalizer{Symbol: "TEMP-NYC"}, sink, testLogger())

	_, ok := c.pollOnce(context.Background())
	require.True(t, ok)

	ticks := sink.all()
	require.Len(t, ticks, 1)
	assert.Equal(t, 3.9, ticks[0].Price)

	snap := c.Health()
	require.NotNil(t, snap.RateLimit)
	assert.Equal(t, 49, snap.RateLimit.Remaining)
}

func TestPollingRetriesWithinTick(t *testing.T) {
	body := []byte(`[{"EpochTime":1735732800,"Temperature":{"Metric":{"Value":3.9}}}]`)
	net := &fakeNetwork{responses: []fakeResponse{
		{err: helpers.NewNetworkError("boom", nil)},
		{body: body},
	}}
	sink := &sinkRecorder{}

	cfg := pollingConfig()
	cfg.RetryDelaySec = 1
	c := NewPollingConnector("accuweather", cfg, net,
		&normalize.AccuWeatherNormalizer{Symbol: "TEMP-NYC"}, sink, testLogger())

	_, ok := c.pollOnce(context.Background())
	require.True(t, ok)
	assert.Len(t, sink.all(), 1)
	assert.Len(t, net.calls, 2)
}

func TestPollingShutdownIdempotent(t *testing.T) {
	net := &fakeNetwork{}
	c := NewPollingConnector("accuweather", pollingConfig(), net,
		&normalize.AccuWeatherNormalizer{Symbol: "TEMP-NYC"}, &sinkRecorder{}, testLogger())

	require.NoError(t, c.Connect(context.Background()))
	assert.NoError(t, c.Shutdown())
	assert.NoError(t, c.Shutdown())
	assert.Equal(t, models.StatusDisconnected, c.Health().Status)
}

// -----------------------------------------------------------------------------
// Gap backfill
// -----------------------------------------------------------------------------

func TestPolygonBackfillReplaysSortedTicks(t *testing.T) {
	// Trades scripted out of order; the adapter must replay ascending.
	page := polygonTradesResponse{Results: []polygonTradeRow{
		{ParticipantTimestamp: time.Date(2025, 1, 1, 10, 0, 30, 0, time.UTC).UnixNano(), Price: 101, Size: 5},
		{ParticipantTimestamp: time.Date(2025, 1, 1, 10, 0, 10, 0, time.UTC).UnixNano(), Price: 100, Size: 3},
	}}
	body, err := json.Marshal(page)
	require.NoError(t, err)

	net := &fakeNetwork{responses: []fakeResponse{{body: body}}}
	sink := &sinkRecorder{}

	adapter := &PolygonAdapter{
		RESTBase:          "https://example.test",
		APIKey:            "key",
		Logger:            testLogger(),
		BackfillEnabled:   true,
		BackfillThreshold: 60 * time.Second,
		Network:           net,
		Sink:              sink,
		SymbolsSource:     func() []string { return []string{"AAPL"} },
	}

	last := time.Now().Add(-70 * time.Second)
	adapter.OnDisconnect(context.Background(), last, 70*time.Second)

	ticks := sink.all()
	require.Len(t, ticks, 2)
	assert.True(t, ticks[0].Timestamp.Before(ticks[1].Timestamp))
	assert.Equal(t, 100.0, ticks[0].Price)
	assert.Equal(t, "AAPL", ticks[0].Symbol)

	// Range filter covers the gap.
	require.Len(t, net.calls, 1)
	params := net.calls[0]
	assert.Contains(t, params, "timestamp.gte")
	assert.Contains(t, params, "timestamp.lte")
	assert.Equal(t, "50000", params["limit"])
}

func TestPolygonBackfillSkippedBelowThreshold(t *testing.T) {
	net := &fakeNetwork{}
	sink := &sinkRecorder{}

	adapter := &PolygonAdapter{
		BackfillEnabled:   true,
		BackfillThreshold: 60 * time.Second,
		Logger:            testLogger(),
		Network:           net,
		Sink:              sink,
		SymbolsSource:     func() []string { return []string{"AAPL"} },
	}

	adapter.OnDisconnect(context.Background(), time.Now().Add(-30*time.Second), 30*time.Second)
	assert.Empty(t, net.calls)
	assert.Empty(t, sink.all())
}

func TestPolygonBackfillDisabled(t *testing.T) {
	net := &fakeNetwork{}
	adapter := &PolygonAdapter{
		BackfillEnabled: false,
		Logger:          testLogger(),
		Network:         net,
	}
	adapter.OnDisconnect(context.Background(), time.Now().Add(-10*time.Minute), 10*time.Minute)
	assert.Empty(t, net.calls)
}

// -----------------------------------------------------------------------------
// Subscription session (mock fallback)
// -----------------------------------------------------------------------------

func sessionConfig() models.MBloombergConfig {
	return models.MBloombergConfig{
		Host:        "localhost",
		Port:        8194,
		Securities:  []string{"IBM US Equity", "MSFT US Equity"},
		MockCadence: 1,
		ForceMock:   true,
	}
}

func TestSessionConnectorFallsBackToMock(t *testing.T) {
	sink := &sinkRecorder{}
	c := NewSessionConnector("bloomberg", sessionConfig(), &normalize.BloombergNormalizer{}, sink, testLogger())

	require.NoError(t, c.Init())
	_, isMock := c.session.(*MockSession)
	assert.True(t, isMock)
}

func TestSessionConnectorCorrelationMapping(t *testing.T) {
	sink := &sinkRecorder{}
	c := NewSessionConnector("bloomberg", sessionConfig(), &normalize.BloombergNormalizer{}, sink, testLogger())
	require.NoError(t, c.Init())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Shutdown()

	// Correlation ids are assigned monotonically in subscription order.
	c.mu.Lock()
	assert.Equal(t, int64(1), c.bySecurity["IBM US Equity"])
	assert.Equal(t, int64(2), c.bySecurity["MSFT US Equity"])
	c.mu.Unlock()

	// Events map back to security names.
	require.Eventually(t, func() bool {
		return len(sink.all()) >= 2
	}, 5*time.Second, 50*time.Millisecond)

	seen := map[string]bool{}
	for _, tick := range sink.all() {
		seen[tick.Symbol] = true
		assert.Equal(t, normalize.SourceBloomberg, tick.Source)
		assert.Positive(t, tick.Price)
	}
	assert.True(t, seen["IBM US Equity"])
	assert.True(t, seen["MSFT US Equity"])
}

func TestSessionConnectorDynamicRemove(t *testing.T) {
	sink := &sinkRecorder{}
	c := NewSessionConnector("bloomberg", sessionConfig(), &normalize.BloombergNormalizer{}, sink, testLogger())
	require.NoError(t, c.Init())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Shutdown()

	require.NoError(t, c.RemoveSymbols([]string{"IBM US Equity"}))
	c.mu.Lock()
	_, exists := c.bySecurity["IBM US Equity"]
	c.mu.Unlock()
	assert.False(t, exists)

	require.NoError(t, c.AddSymbols([]string{"TSLA US Equity"}))
	c.mu.Lock()
	id := c.bySecurity["TSLA US Equity"]
	c.mu.Unlock()
	assert.Equal(t, int64(3), id)
}

func TestMockSessionDeterministicSeries(t *testing.T) {
	run := func() []float64 {
		m := NewMockSession(10 * time.Millisecond)
		require.NoError(t, m.Subscribe("IBM US Equity", 1))
		require.NoError(t, m.Open())
		defer m.Close()

		var prices []float64
		timeout := time.After(2 * time.Second)
		for len(prices) < 5 {
			select {
			case ev := <-m.Events():
				var fields struct {
					LastPrice float64 `json:"LAST_PRICE"`
				}
				require.NoError(t, json.Unmarshal(ev.Fields, &fields))
				prices = append(prices, fields.LastPrice)
			case <-timeout:
				t.Fatal("timed out waiting for mock events")
			}
		}
		return prices
	}

	assert.Equal(t, run(), run())
}

// -----------------------------------------------------------------------------
// Health tracker
// -----------------------------------------------------------------------------

func TestHealthSnapshotFreshEachCall(t *testing.T) {
	h := newHealthTracker("test")

	snap := h.Snapshot()
	assert.Equal(t, models.StatusDisconnected, snap.Status)
	assert.Nil(t, snap.LastMessageTime)
	assert.Zero(t, snap.ErrorCount)

	h.SetStatus(models.StatusConnected)
	h.MarkMessage(time.Now())
	h.MarkError()

	snap = h.Snapshot()
	assert.Equal(t, models.StatusConnected, snap.Status)
	require.NotNil(t, snap.LastMessageTime)
	assert.Equal(t, int64(1), snap.ErrorCount)
}
