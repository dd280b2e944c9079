package interfaces

import "chainflow/src/models"

// -----------------------------------------------------------------------------
// INormalizer decodes one vendor-specific raw message into the common tick
// shape.
// -----------------------------------------------------------------------------

type INormalizer interface {

	// Name returns the source name stamped on produced ticks
	Name() string

	// -----------------------------------------------------------------------------

	// Normalize decodes raw. A (nil, nil) return means the message is not
	// tick-bearing and is skipped; an InvalidMessageError means the message
	// was recognized but malformed.
	Normalize(raw []byte) (*models.MTick, error)
}
