package models

import "time"

// -----------------------------------------------------------------------------
// Connector health reporting.
// -----------------------------------------------------------------------------

type ConnectorStatus string

const (
	StatusConnected    ConnectorStatus = "connected"
	StatusDisconnected ConnectorStatus = "disconnected"
	StatusError        ConnectorStatus = "error"
)

// MRateLimitInfo mirrors the vendor's RateLimit-Remaining / RateLimit-Reset
// headers. Only present for polling sources.
type MRateLimitInfo struct {
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

// MHealthSnapshot is a point-in-time view of a connector. Built fresh on
// every Health() call, never cached by the connector.
type MHealthSnapshot struct {
	Source          string          `json:"source"`
	Status          ConnectorStatus `json:"status"`
	LastMessageTime *time.Time      `json:"last_message_time,omitempty"`
	ErrorCount      int64           `json:"error_count"`
	UptimeMs        int64           `json:"uptime_ms"`
	RateLimit       *MRateLimitInfo `json:"rate_limit,omitempty"`
	MarketOpen      *bool           `json:"market_open,omitempty"`
}
