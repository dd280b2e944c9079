package interfaces

import "chainflow/src/models"

// -----------------------------------------------------------------------------
// IRecorder persists chain signals outside the hot path. Implementations
// must never block ingestion; failures are logged, not propagated.
// -----------------------------------------------------------------------------

type IRecorder interface {

	// Initialize opens the backing store and creates tables
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveChainSignal records one causal-API response
	SaveChainSignal(signal models.MChainSignal) error

	// -----------------------------------------------------------------------------

	// Close releases the backing store
	Close() error
}
