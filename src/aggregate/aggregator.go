package aggregate

import (
	"math"
	"sync"
	"time"

	"chainflow/src/buffer"
	"chainflow/src/interfaces"
	"chainflow/src/logger"
	"chainflow/src/models"
	"chainflow/src/timeframe"
)

// -----------------------------------------------------------------------------
// Aggregators fold normalized ticks into finalized records across a
// timeframe network. Each aggregator owns its buffers and its in-progress
// state exclusively; a single mutex covers the in-progress map so that
// graceful shutdown can force-finalize while the ingest goroutine is live.
// -----------------------------------------------------------------------------

type baseAggregator struct {
	symbol    string
	network   *timeframe.Network
	buffers   map[string]*buffer.RingBuffer
	listeners []interfaces.CompleteListener
	logger    *logger.Logger
	mu        sync.Mutex
}

func newBase(symbol string, network *timeframe.Network, log *logger.Logger) baseAggregator {
	buffers := make(map[string]*buffer.RingBuffer, len(network.Timeframes))
	for _, tf := range network.Timeframes {
		buffers[tf.Label] = buffer.NewRingBuffer(tf.Capacity)
	}
	return baseAggregator{
		symbol:  symbol,
		network: network,
		buffers: buffers,
		logger:  log,
	}
}

// -----------------------------------------------------------------------------

func (a *baseAggregator) Symbol() string {
	return a.symbol
}

// Buffer returns the rolling buffer for a timeframe label, or nil.
func (a *baseAggregator) Buffer(label string) *buffer.RingBuffer {
	return a.buffers[label]
}

// Labels returns the configured timeframe labels in network order.
func (a *baseAggregator) Labels() []string {
	labels := make([]string, 0, len(a.network.Timeframes))
	for _, tf := range a.network.Timeframes {
		labels = append(labels, tf.Label)
	}
	return labels
}

// OnComplete registers a finalization callback. Listeners run synchronously
// after the record is pushed and must not call back into this aggregator.
func (a *baseAggregator) OnComplete(listener interfaces.CompleteListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, listener)
}

// emit pushes a finalized record and drives the listeners. Caller holds mu.
func (a *baseAggregator) emit(record models.MRecord, label string) {
	a.buffers[label].Push(record)
	for _, listener := range a.listeners {
		listener(record, label)
	}
}

// -----------------------------------------------------------------------------
// OHLCAggregator
// -----------------------------------------------------------------------------

// candleInProgress is the ephemeral accumulation state for one window.
type candleInProgress struct {
	windowStart time.Time
	open        float64
	high        float64
	low         float64
	close       float64
	volume      float64
	tickCount   int
}

type OHLCAggregator struct {
	baseAggregator
	inProgress map[string]*candleInProgress // one per timeframe label
}

// -----------------------------------------------------------------------------

func NewOHLCAggregator(symbol string, network *timeframe.Network, log *logger.Logger) *OHLCAggregator {
	return &OHLCAggregator{
		baseAggregator: newBase(symbol, network, log),
		inProgress:     make(map[string]*candleInProgress, len(network.Timeframes)),
	}
}

func (a *OHLCAggregator) Univariate() bool {
	return false
}

// -----------------------------------------------------------------------------

// AddTick folds one tick into every configured timeframe. A tick whose
// window differs from the current in-progress window finalizes that window
// first — including ticks that jump backwards; out-of-order ticks crossing
// windows are rare and the design keeps a single in-progress candle per
// timeframe rather than back-patching.
func (a *OHLCAggregator) AddTick(tick models.MTick) {
	if tick.Symbol != a.symbol {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, tf := range a.network.Timeframes {
		windowStart := tf.WindowStart(tick.Timestamp)

		cip := a.inProgress[tf.Label]
		if cip != nil && !cip.windowStart.Equal(windowStart) {
			a.finalizeLocked(tf.Label, cip)
			cip = nil
		}

		if cip == nil {
			size := 0.0
			if tick.HasSize {
				size = tick.Size
			}
			a.inProgress[tf.Label] = &candleInProgress{
				windowStart: windowStart,
				open:        tick.Price,
				high:        tick.Price,
				low:         tick.Price,
				close:       tick.Price,
				volume:      size,
				tickCount:   1,
			}
			continue
		}

		cip.high = math.Max(cip.high, tick.Price)
		cip.low = math.Min(cip.low, tick.Price)
		cip.close = tick.Price
		if tick.HasSize {
			cip.volume += tick.Size
		}
		cip.tickCount++
	}
}

// -----------------------------------------------------------------------------

func (a *OHLCAggregator) finalizeLocked(label string, cip *candleInProgress) {
	candle := models.MCandle{
		Datetime: cip.windowStart,
		Open:     cip.open,
		High:     cip.high,
		Low:      cip.low,
		Close:    cip.close,
		Volume:   cip.volume,
	}
	delete(a.inProgress, label)
	a.emit(candle, label)
}

// -----------------------------------------------------------------------------

// ForceFinalizeAll finalizes every in-progress candle across all
// timeframes. Idempotent: a second call finds nothing to finalize.
func (a *OHLCAggregator) ForceFinalizeAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, tf := range a.network.Timeframes {
		if cip := a.inProgress[tf.Label]; cip != nil {
			a.finalizeLocked(tf.Label, cip)
		}
	}
}

// -----------------------------------------------------------------------------

// Preload pushes an already-finalized historical candle straight into the
// buffer, bypassing the in-progress state and the listeners. Used by the
// startup history load so dispatch can begin before live aggregation
// fills buffers.
func (a *OHLCAggregator) Preload(label string, candle models.MCandle) {
	if buf := a.buffers[label]; buf != nil {
		buf.Push(candle)
	}
}

// -----------------------------------------------------------------------------
// UnivariateAggregator
// -----------------------------------------------------------------------------

// sampleInProgress tracks the latest observation in the window. Sum and
// count are carried for a possible mean-of-window mode; finalization uses
// the last observed value.
type sampleInProgress struct {
	windowStart time.Time
	value       float64
	sum         float64
	count       int
}

type UnivariateAggregator struct {
	baseAggregator
	inProgress map[string]*sampleInProgress
}

// -----------------------------------------------------------------------------

func NewUnivariateAggregator(symbol string, network *timeframe.Network, log *logger.Logger) *UnivariateAggregator {
	return &UnivariateAggregator{
		baseAggregator: newBase(symbol, network, log),
		inProgress:     make(map[string]*sampleInProgress, len(network.Timeframes)),
	}
}

func (a *UnivariateAggregator) Univariate() bool {
	return true
}

// -----------------------------------------------------------------------------

func (a *UnivariateAggregator) AddTick(tick models.MTick) {
	if tick.Symbol != a.symbol {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, tf := range a.network.Timeframes {
		windowStart := tf.WindowStart(tick.Timestamp)

		sip := a.inProgress[tf.Label]
		if sip != nil && !sip.windowStart.Equal(windowStart) {
			a.finalizeLocked(tf.Label, sip)
			sip = nil
		}

		if sip == nil {
			a.inProgress[tf.Label] = &sampleInProgress{
				windowStart: windowStart,
				value:       tick.Price,
				sum:         tick.Price,
				count:       1,
			}
			continue
		}

		sip.value = tick.Price
		sip.sum += tick.Price
		sip.count++
	}
}

// -----------------------------------------------------------------------------

func (a *UnivariateAggregator) finalizeLocked(label string, sip *sampleInProgress) {
	sample := models.MSample{
		Datetime: sip.windowStart,
		Value:    sip.value,
	}
	delete(a.inProgress, label)
	a.emit(sample, label)
}

// -----------------------------------------------------------------------------

func (a *UnivariateAggregator) ForceFinalizeAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, tf := range a.network.Timeframes {
		if sip := a.inProgress[tf.Label]; sip != nil {
			a.finalizeLocked(tf.Label, sip)
		}
	}
}
