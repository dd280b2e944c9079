package interfaces

import (
	"context"
	"net/http"
)

// -----------------------------------------------------------------------------
// INetworkManager performs outbound HTTP with retry and rate-limit
// handling shared by the polling and backfill paths.
// -----------------------------------------------------------------------------

type INetworkManager interface {

	// Get performs a GET with query params and optional headers. Returns
	// the body and response headers. HTTP 429 surfaces as a
	// *helpers.RateLimitError carrying the vendor's Retry-After.
	Get(ctx context.Context, url string, params map[string]string, headers map[string]string) ([]byte, http.Header, error)
}
