package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainflow/src/logger"
	"chainflow/src/models"
	"chainflow/src/timeframe"
)

func testNetwork(t *testing.T, labels ...string) *timeframe.Network {
	t.Helper()
	cfgs := make([]models.MTimeframeConfig, len(labels))
	for i, l := range labels {
		cfgs[i] = models.MTimeframeConfig{Label: l, Capacity: 100}
	}
	net, err := timeframe.BuildNetwork(models.MNetworkOfTimes{Name: "test", Timeframes: cfgs})
	require.NoError(t, err)
	return net
}

func tick(base time.Time, offset time.Duration, price, size float64) models.MTick {
	return models.MTick{
		Timestamp: base.Add(offset),
		Price:     price,
		Size:      size,
		HasSize:   true,
		Symbol:    "BTCUSDT",
		Source:    "binance",
	}
}

var base = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

// -----------------------------------------------------------------------------

func TestOHLCAggregationOneSecondWindow(t *testing.T) {
	agg := NewOHLCAggregator("BTCUSDT", testNetwork(t, "1s"), logger.NewLogger("ERROR", "test"))

	agg.AddTick(tick(base, 0, 100, 1))
	agg.AddTick(tick(base, 300*time.Millisecond, 101, 2))
	agg.AddTick(tick(base, 700*time.Millisecond, 99, 1))
	agg.AddTick(tick(base, 900*time.Millisecond, 100, 1))
	agg.AddTick(tick(base, 1200*time.Millisecond, 105, 1))

	buf := agg.Buffer("1s")
	require.Equal(t, 1, buf.Size())

	candle := buf.GetLatest(1)[0].(models.MCandle)
	assert.Equal(t, base, candle.Datetime)
	assert.Equal(t, 100.0, candle.Open)
	assert.Equal(t, 101.0, candle.High)
	assert.Equal(t, 99.0, candle.Low)
	assert.Equal(t, 100.0, candle.Close)
	assert.Equal(t, 5.0, candle.Volume)

	// The T+1 window is in progress: force-finalizing yields one more candle.
	agg.ForceFinalizeAll()
	require.Equal(t, 2, buf.Size())
	last := buf.GetLatest(1)[0].(models.MCandle)
	assert.Equal(t, base.Add(time.Second), last.Datetime)
	assert.Equal(t, 105.0, last.Close)
}

// -----------------------------------------------------------------------------

func TestMultiTimeframeFanOut(t *testing.T) {
	agg := NewOHLCAggregator("BTCUSDT", testNetwork(t, "1s", "5s"), logger.NewLogger("ERROR", "test"))

	// First tick: one in-progress candle per timeframe, no finalization yet.
	agg.AddTick(tick(base, 0, 100, 0))
	assert.Equal(t, 0, agg.Buffer("1s").Size())
	assert.Equal(t, 0, agg.Buffer("5s").Size())

	// A tick six seconds later closes both windows.
	agg.AddTick(tick(base, 6*time.Second, 101, 0))
	require.Equal(t, 1, agg.Buffer("1s").Size())
	require.Equal(t, 1, agg.Buffer("5s").Size())

	oneSec := agg.Buffer("1s").GetLatest(1)[0].(models.MCandle)
	fiveSec := agg.Buffer("5s").GetLatest(1)[0].(models.MCandle)
	assert.Equal(t, base, oneSec.Datetime)
	assert.Equal(t, base, fiveSec.Datetime)
}

// -----------------------------------------------------------------------------

func TestOHLCInvariants(t *testing.T) {
	agg := NewOHLCAggregator("BTCUSDT", testNetwork(t, "1s"), logger.NewLogger("ERROR", "test"))

	prices := []float64{100, 107, 93, 101, 95, 110, 90, 99}
	for i, p := range prices {
		agg.AddTick(tick(base, time.Duration(i)*250*time.Millisecond, p, 1))
	}
	agg.ForceFinalizeAll()

	for _, rec := range agg.Buffer("1s").GetAll() {
		c := rec.(models.MCandle)
		assert.LessOrEqual(t, c.Low, c.Open)
		assert.LessOrEqual(t, c.Low, c.Close)
		assert.GreaterOrEqual(t, c.High, c.Open)
		assert.GreaterOrEqual(t, c.High, c.Close)
	}
}

// -----------------------------------------------------------------------------

func TestOutOfOrderTickStartsNewWindow(t *testing.T) {
	agg := NewOHLCAggregator("BTCUSDT", testNetwork(t, "1s"), logger.NewLogger("ERROR", "test"))

	agg.AddTick(tick(base, 2*time.Second, 100, 0))
	// A tick from before the in-progress window finalizes it and opens a
	// fresh window; no back-patching.
	agg.AddTick(tick(base, 0, 90, 0))

	buf := agg.Buffer("1s")
	require.Equal(t, 1, buf.Size())
	finalized := buf.GetLatest(1)[0].(models.MCandle)
	assert.Equal(t, base.Add(2*time.Second), finalized.Datetime)

	agg.ForceFinalizeAll()
	require.Equal(t, 2, buf.Size())
	second := buf.GetLatest(1)[0].(models.MCandle)
	assert.Equal(t, base, second.Datetime)
	assert.Equal(t, 90.0, second.Close)
}

// -----------------------------------------------------------------------------

func TestForeignSymbolDroppedSilently(t *testing.T) {
	agg := NewOHLCAggregator("BTCUSDT", testNetwork(t, "1s"), logger.NewLogger("ERROR", "test"))

	other := tick(base, 0, 100, 1)
	other.Symbol = "ETHUSDT"
	agg.AddTick(other)
	agg.ForceFinalizeAll()

	assert.Equal(t, 0, agg.Buffer("1s").Size())
}

// -----------------------------------------------------------------------------

func TestForceFinalizeAllIsIdempotent(t *testing.T) {
	agg := NewOHLCAggregator("BTCUSDT", testNetwork(t, "1s", "5s"), logger.NewLogger("ERROR", "test"))

	agg.AddTick(tick(base, 0, 100, 1))
	agg.ForceFinalizeAll()
	sizeAfterFirst := agg.Buffer("1s").Size() + agg.Buffer("5s").Size()
	require.Equal(t, 2, sizeAfterFirst)

	agg.ForceFinalizeAll()
	assert.Equal(t, sizeAfterFirst, agg.Buffer("1s").Size()+agg.Buffer("5s").Size())
}

// -----------------------------------------------------------------------------

func TestVolumeZeroWhenTicksCarryNoSize(t *testing.T) {
	agg := NewOHLCAggregator("BTCUSDT", testNetwork(t, "1s"), logger.NewLogger("ERROR", "test"))

	noSize := tick(base, 0, 100, 0)
	noSize.HasSize = false
	agg.AddTick(noSize)
	agg.ForceFinalizeAll()

	candle := agg.Buffer("1s").GetLatest(1)[0].(models.MCandle)
	assert.Zero(t, candle.Volume)
}

// -----------------------------------------------------------------------------

func TestSameTimestampTicksShareWindow(t *testing.T) {
	agg := NewOHLCAggregator("BTCUSDT", testNetwork(t, "1s"), logger.NewLogger("ERROR", "test"))

	agg.AddTick(tick(base, 0, 100, 1))
	agg.AddTick(tick(base, 0, 102, 1))
	agg.ForceFinalizeAll()

	buf := agg.Buffer("1s")
	require.Equal(t, 1, buf.Size())
	candle := buf.GetLatest(1)[0].(models.MCandle)
	assert.Equal(t, 102.0, candle.High)
	assert.Equal(t, 2.0, candle.Volume)
}

// -----------------------------------------------------------------------------

func TestOnCompleteListenerFiresAfterPush(t *testing.T) {
	agg := NewOHLCAggregator("BTCUSDT", testNetwork(t, "1s"), logger.NewLogger("ERROR", "test"))

	var gotLabel string
	var bufferSizeAtCallback int
	agg.OnComplete(func(record models.MRecord, label string) {
		gotLabel = label
		bufferSizeAtCallback = agg.Buffer("1s").Size()
	})

	agg.AddTick(tick(base, 0, 100, 1))
	agg.AddTick(tick(base, time.Second, 101, 1))

	assert.Equal(t, "1s", gotLabel)
	// The record was already in the buffer when the listener ran.
	assert.Equal(t, 1, bufferSizeAtCallback)
}

// -----------------------------------------------------------------------------

func TestPerSecondReconstruction(t *testing.T) {
	agg := NewOHLCAggregator("BTCUSDT", testNetwork(t, "1s"), logger.NewLogger("ERROR", "test"))

	// One tick per second with a known price ramp.
	n := 10
	for i := 0; i < n; i++ {
		agg.AddTick(tick(base, time.Duration(i)*time.Second, 100+float64(i), 1))
	}
	agg.ForceFinalizeAll()

	records := agg.Buffer("1s").GetLatest(n)
	require.Len(t, records, n)
	for i, rec := range records {
		c := rec.(models.MCandle)
		want := 100 + float64(i)
		assert.Equal(t, base.Add(time.Duration(i)*time.Second), c.Datetime)
		assert.Equal(t, want, c.Open)
		assert.Equal(t, want, c.Close)
		if i > 0 {
			prev := records[i-1].(models.MCandle)
			assert.Equal(t, int64(1), c.Datetime.Unix()-prev.Datetime.Unix())
		}
	}
}

// -----------------------------------------------------------------------------

func TestUnivariateLastObservationCarriedForward(t *testing.T) {
	agg := NewUnivariateAggregator("TEMP-NYC", testNetwork(t, "1m"), logger.NewLogger("ERROR", "test"))

	mk := func(offset time.Duration, value float64) models.MTick {
		return models.MTick{Timestamp: base.Add(offset), Price: value, Symbol: "TEMP-NYC", Source: "accuweather"}
	}

	agg.AddTick(mk(0, 21.5))
	agg.AddTick(mk(20*time.Second, 21.9))
	agg.AddTick(mk(40*time.Second, 22.1))
	agg.AddTick(mk(90*time.Second, 22.4))

	buf := agg.Buffer("1m")
	require.Equal(t, 1, buf.Size())
	sample := buf.GetLatest(1)[0].(models.MSample)
	assert.Equal(t, base, sample.Datetime)
	assert.Equal(t, 22.1, sample.Value)

	agg.ForceFinalizeAll()
	last := buf.GetLatest(1)[0].(models.MSample)
	assert.Equal(t, 22.4, last.Value)
}

// -----------------------------------------------------------------------------

func TestPreloadBypassesListeners(t *testing.T) {
	agg := NewOHLCAggregator("BTCUSDT", testNetwork(t, "1m"), logger.NewLogger("ERROR", "test"))

	fired := false
	agg.OnComplete(func(models.MRecord, string) { fired = true })

	agg.Preload("1m", models.MCandle{Datetime: base, Open: 1, High: 1, Low: 1, Close: 1})

	assert.Equal(t, 1, agg.Buffer("1m").Size())
	assert.False(t, fired)
}
