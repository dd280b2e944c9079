package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chainflow/src/helpers"
	"chainflow/src/logger"
	"chainflow/src/models"
)

// -----------------------------------------------------------------------------
// Manager performs outbound HTTP for the polling and backfill paths.
// Requests carry the caller's context so shutdown cancels them mid-flight.
// -----------------------------------------------------------------------------

type Manager struct {
	Config *models.MConfig
	Client *http.Client
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewManager(cfg *models.MConfig, log *logger.Logger) *Manager {
	return &Manager{
		Config: cfg,
		Logger: log,
		Client: &http.Client{
			Timeout: time.Duration(cfg.Network.RequestTimeout) * time.Second,
		},
	}
}

// -----------------------------------------------------------------------------

// Get performs a GET request with retries. HTTP 429 is returned immediately
// as a RateLimitError so callers can honor Retry-After themselves; other
// non-2xx statuses and transport errors retry after i² seconds (1 s, 4 s, 9 s, ...).
func (nm *Manager) Get(ctx context.Context, urlStr string, params map[string]string, headers map[string]string) ([]byte, http.Header, error) {
	reqUrl, err := url.Parse(urlStr)
	if err != nil {
		return nil, nil, err
	}

	q := reqUrl.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	reqUrl.RawQuery = q.Encode()

	finalUrl := reqUrl.String()

	maxRetries := nm.Config.Network.MaxRetries
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			if !helpers.SleepContext(ctx, time.Duration(i*i)*time.Second) {
				return nil, nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalUrl, nil)
		if err != nil {
			return nil, nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := nm.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = err
			nm.Logger.Info("Request failed (attempt %d/%d): %v", i+1, maxRetries+1, err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := ParseRetryAfter(resp.Header)
			return nil, resp.Header, helpers.NewRateLimitError(
				fmt.Sprintf("rate limited by %s", reqUrl.Host), retryAfter)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			lastErr = helpers.NewNetworkError(fmt.Sprintf("bad status: %d", resp.StatusCode), nil)
			nm.Logger.Info("Bad status %d from %s", resp.StatusCode, reqUrl.Host)
			continue
		}

		if readErr != nil {
			lastErr = readErr
			continue
		}

		return body, resp.Header, nil
	}

	return nil, nil, helpers.NewNetworkError("max retries exceeded", lastErr)
}

// -----------------------------------------------------------------------------

// ParseRetryAfter reads a Retry-After header (delta-seconds form). A missing
// or malformed header yields the documented 5 s fallback.
func ParseRetryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 5 * time.Second
}

// -----------------------------------------------------------------------------

// ParseRateLimit extracts RateLimit-Remaining / RateLimit-Reset headers,
// when the vendor supplies them.
func ParseRateLimit(h http.Header) *models.MRateLimitInfo {
	remaining := h.Get("RateLimit-Remaining")
	if remaining == "" {
		return nil
	}

	info := &models.MRateLimitInfo{}
	if n, err := strconv.Atoi(remaining); err == nil {
		info.Remaining = n
	}
	if reset := h.Get("RateLimit-Reset"); reset != "" {
		// Either delta-seconds or an absolute epoch; values beyond a year
		// are treated as epoch seconds.
		if n, err := strconv.ParseInt(reset, 10, 64); err == nil {
			if n > 365*24*3600 {
				info.Reset = time.Unix(n, 0).UTC()
			} else {
				info.Reset = time.Now().UTC().Add(time.Duration(n) * time.Second)
			}
		}
	}
	return info
}
