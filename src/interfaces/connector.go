package interfaces

import (
	"context"

	"chainflow/src/models"
)

// -----------------------------------------------------------------------------
// IConnector is the uniform lifecycle of an ingestion adapter. Variants
// (streaming socket, polling REST, subscription session) differ only in how
// they acquire ticks; the supervisor treats them identically.
// -----------------------------------------------------------------------------

type IConnector interface {

	// Name returns the unique source identifier (e.g. "binance")
	Name() string

	// -----------------------------------------------------------------------------

	// Init validates connector-specific configuration. Called once before
	// Connect; a ConfigurationError here is fatal to this pipeline only.
	Init() error

	// -----------------------------------------------------------------------------

	// Connect starts the connector's I/O loops. It returns after the
	// loops are launched; cancellation of ctx stops them.
	Connect(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// Health builds a fresh snapshot of the connector state.
	Health() models.MHealthSnapshot

	// -----------------------------------------------------------------------------

	// AddSymbols / RemoveSymbols adjust the live subscription set.
	// Safe no-ops when the connection is not open.
	AddSymbols(symbols []string) error
	RemoveSymbols(symbols []string) error

	// -----------------------------------------------------------------------------

	// Shutdown stops all timers and closes the underlying resource.
	// Idempotent; any tick in flight may be dropped.
	Shutdown() error
}
