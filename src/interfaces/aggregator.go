package interfaces

import (
	"chainflow/src/buffer"
	"chainflow/src/models"
)

// -----------------------------------------------------------------------------
// IAggregator folds normalized ticks into finalized records across a
// timeframe network.
// -----------------------------------------------------------------------------

// CompleteListener is invoked synchronously after a finalized record has
// been pushed into its buffer. Listeners must not call back into the same
// aggregator (re-entrancy is not supported).
type CompleteListener func(record models.MRecord, timeframeLabel string)

type IAggregator interface {

	// Symbol returns the single symbol this aggregator accepts
	Symbol() string

	// -----------------------------------------------------------------------------

	// AddTick folds one tick into every configured timeframe. Ticks for
	// other symbols are dropped silently.
	AddTick(tick models.MTick)

	// -----------------------------------------------------------------------------

	// ForceFinalizeAll finalizes every in-progress window. Idempotent;
	// invoked during graceful shutdown.
	ForceFinalizeAll()

	// -----------------------------------------------------------------------------

	// OnComplete registers a finalization callback.
	OnComplete(listener CompleteListener)

	// -----------------------------------------------------------------------------

	// Buffer returns the rolling buffer for a timeframe label, or nil.
	Buffer(label string) *buffer.RingBuffer

	// Labels returns the configured timeframe labels in network order.
	Labels() []string

	// Univariate reports whether records are samples rather than candles.
	Univariate() bool
}
