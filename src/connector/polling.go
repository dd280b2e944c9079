package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chainflow/src/helpers"
	"chainflow/src/interfaces"
	"chainflow/src/logger"
	"chainflow/src/models"
	"chainflow/src/network"
)

// -----------------------------------------------------------------------------
// PollingConnector fetches a rate-limited REST endpoint on a fixed cadence.
// Each polling tick retries internally; failures never shift the cadence,
// except that an explicit vendor Retry-After overrides the next delay.
// -----------------------------------------------------------------------------

type PollingConnector struct {
	name       string
	cfg        models.MAccuWeatherConfig
	netMgr     interfaces.INetworkManager
	normalizer interfaces.INormalizer
	sink       TickSink
	health     *healthTracker
	logger     *logger.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	shutdown bool
	done     chan struct{}
}

// -----------------------------------------------------------------------------

func NewPollingConnector(name string, cfg models.MAccuWeatherConfig, netMgr interfaces.INetworkManager, normalizer interfaces.INormalizer, sink TickSink, log *logger.Logger) *PollingConnector {
	return &PollingConnector{
		name:       name,
		cfg:        cfg,
		netMgr:     netMgr,
		normalizer: normalizer,
		sink:       sink,
		health:     newHealthTracker(name),
		logger:     log,
		done:       make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------

func (c *PollingConnector) Name() string {
	return c.name
}

func (c *PollingConnector) Init() error {
	if c.cfg.APIKey == "" {
		return fmt.Errorf("connector %s: missing API key", c.name)
	}
	if c.cfg.LocationKey == "" {
		return fmt.Errorf("connector %s: missing location key", c.name)
	}
	return nil
}

func (c *PollingConnector) Health() models.MHealthSnapshot {
	return c.health.Snapshot()
}

// Polling sources watch a fixed location; the symbol set is static.
func (c *PollingConnector) AddSymbols(symbols []string) error    { return nil }
func (c *PollingConnector) RemoveSymbols(symbols []string) error { return nil }

// -----------------------------------------------------------------------------

func (c *PollingConnector) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("connector %s is shut down", c.name)
	}
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// -----------------------------------------------------------------------------

func (c *PollingConnector) run(ctx context.Context) {
	defer close(c.done)
	defer c.health.SetStatus(models.StatusDisconnected)

	c.health.SetStatus(models.StatusConnected)
	cadence := time.Duration(c.cfg.IntervalSeconds) * time.Second

	// First poll happens immediately; subsequent polls follow the cadence.
	next := time.Duration(0)
	for {
		if !helpers.SleepContext(ctx, next) {
			return
		}

		next = cadence
		if retryAfter, ok := c.pollOnce(ctx); ok && retryAfter > 0 {
			// Vendor told us when to come back; honor it over the cadence.
			next = retryAfter
		}
	}
}

// -----------------------------------------------------------------------------

// pollOnce performs one polling tick with bounded retries. Returns the
// vendor's Retry-After when the tick ended rate-limited.
func (c *PollingConnector) pollOnce(ctx context.Context) (time.Duration, bool) {
	url := fmt.Sprintf("%s/currentconditions/v1/%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.LocationKey)
	params := map[string]string{
		"apikey":  c.cfg.APIKey,
		"details": "true",
	}

	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if !helpers.SleepContext(ctx, time.Duration(c.cfg.RetryDelaySec)*time.Second) {
				return 0, false
			}
		}

		body, headers, err := c.netMgr.Get(ctx, url, params, nil)
		if headers != nil {
			if info := network.ParseRateLimit(headers); info != nil {
				c.health.SetRateLimit(info)
			}
		}

		if err != nil {
			c.health.MarkError()

			var rl *helpers.RateLimitError
			if errors.As(err, &rl) {
				c.logger.Warning("%s: rate limited, next poll in %s", c.name, rl.RetryAfter)
				return rl.RetryAfter, true
			}

			c.logger.Warning("%s: poll attempt %d/%d failed: %v", c.name, attempt+1, c.cfg.MaxRetries, err)
			continue
		}

		c.health.MarkMessage(time.Now())
		c.feed(body)
		return 0, true
	}

	c.logger.Error("%s: polling tick failed after %d attempts", c.name, c.cfg.MaxRetries)
	return 0, true
}

// -----------------------------------------------------------------------------

func (c *PollingConnector) feed(body []byte) {
	tick, err := c.normalizer.Normalize(body)
	if err != nil {
		c.health.MarkError()
		c.logger.Warning("%s: dropping response: %v", c.name, err)
		return
	}
	if tick == nil {
		return
	}
	c.sink.AddTick(*tick)
}

// -----------------------------------------------------------------------------

// Shutdown stops the polling loop. Idempotent; retry sleeps are
// interruptible so this returns promptly.
func (c *PollingConnector) Shutdown() error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			c.logger.Warning("%s: shutdown timed out waiting for poll loop", c.name)
		}
	}

	c.health.SetStatus(models.StatusDisconnected)
	return nil
}
