package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chainflow/src/interfaces"
	"chainflow/src/logger"
	"chainflow/src/models"
)

// -----------------------------------------------------------------------------
// SessionConnector ingests from a vendor subscription session. When the
// native client library is not present, a deterministic mock session stands
// in; both sides of the ISession contract behave identically at the
// connector level.
// -----------------------------------------------------------------------------

// SessionEvent is one inbound market-data event, identified by the
// correlation id chosen at subscribe time.
type SessionEvent struct {
	CorrelationID int64
	Timestamp     int64           // epoch millis
	Fields        json.RawMessage // vendor field dictionary
}

// ISession is the minimal surface of the vendor session client.
type ISession interface {

	// Open establishes the session and the market-data service
	Open() error

	// Subscribe registers a security under a caller-chosen correlation id
	Subscribe(security string, correlationID int64) error

	// Unsubscribe cancels a correlation id
	Unsubscribe(correlationID int64) error

	// Events delivers inbound market-data events until Close
	Events() <-chan SessionEvent

	// Close tears the session down
	Close() error
}

// NativeSessionFactory is installed by an optional vendor-client build; nil
// means the native library is absent and the mock takes over.
var NativeSessionFactory func(host string, port int) (ISession, error)

// -----------------------------------------------------------------------------

type SessionConnector struct {
	name       string
	cfg        models.MBloombergConfig
	normalizer interfaces.INormalizer
	sink       TickSink
	health     *healthTracker
	logger     *logger.Logger

	correlation atomic.Int64

	mu         sync.Mutex
	session    ISession
	bySecurity map[string]int64 // security -> correlation id
	byID       map[int64]string // correlation id -> security
	cancel     context.CancelFunc
	shutdown   bool
	done       chan struct{}
}

// -----------------------------------------------------------------------------

func NewSessionConnector(name string, cfg models.MBloombergConfig, normalizer interfaces.INormalizer, sink TickSink, log *logger.Logger) *SessionConnector {
	return &SessionConnector{
		name:       name,
		cfg:        cfg,
		normalizer: normalizer,
		sink:       sink,
		health:     newHealthTracker(name),
		logger:     log,
		bySecurity: make(map[string]int64),
		byID:       make(map[int64]string),
		done:       make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------

func (c *SessionConnector) Name() string {
	return c.name
}

// Init selects the native client when present, the mock otherwise.
func (c *SessionConnector) Init() error {
	if len(c.cfg.Securities) == 0 {
		return fmt.Errorf("connector %s: no securities configured", c.name)
	}

	if NativeSessionFactory != nil && !c.cfg.ForceMock {
		session, err := NativeSessionFactory(c.cfg.Host, c.cfg.Port)
		if err == nil {
			c.session = session
			c.logger.Info("%s: using native session client (%s:%d)", c.name, c.cfg.Host, c.cfg.Port)
			return nil
		}
		c.logger.Warning("%s: native session client unavailable (%v), falling back to mock", c.name, err)
	} else {
		c.logger.Info("%s: native session client not present, using mock source", c.name)
	}

	c.session = NewMockSession(time.Duration(c.cfg.MockCadence) * time.Second)
	return nil
}

func (c *SessionConnector) Health() models.MHealthSnapshot {
	return c.health.Snapshot()
}

// -----------------------------------------------------------------------------

func (c *SessionConnector) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("connector %s is shut down", c.name)
	}
	if c.session == nil {
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("connector %s: Init not called", c.name)
	}
	c.cancel = cancel
	session := c.session
	c.mu.Unlock()

	if err := session.Open(); err != nil {
		cancel()
		return fmt.Errorf("connector %s: session open: %w", c.name, err)
	}

	if err := c.AddSymbols(c.cfg.Securities); err != nil {
		cancel()
		return err
	}

	c.health.SetStatus(models.StatusConnected)
	go c.run(runCtx, session)
	return nil
}

// -----------------------------------------------------------------------------

func (c *SessionConnector) run(ctx context.Context, session ISession) {
	defer close(c.done)
	defer c.health.SetStatus(models.StatusDisconnected)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			c.handleEvent(ev)
		}
	}
}

// -----------------------------------------------------------------------------

// handleEvent maps the correlation id back to its security and feeds the
// normalizer. Events for unknown correlation ids (late messages after an
// unsubscribe) are dropped.
func (c *SessionConnector) handleEvent(ev SessionEvent) {
	c.mu.Lock()
	security, ok := c.byID[ev.CorrelationID]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("%s: event for unknown correlation id %d", c.name, ev.CorrelationID)
		return
	}

	c.health.MarkMessage(time.Now())

	msg, err := json.Marshal(struct {
		Security  string          `json:"security"`
		Timestamp int64           `json:"timestamp"`
		Fields    json.RawMessage `json:"fields"`
	}{security, ev.Timestamp, ev.Fields})
	if err != nil {
		c.health.MarkError()
		return
	}

	tick, err := c.normalizer.Normalize(msg)
	if err != nil {
		c.health.MarkError()
		c.logger.Warning("%s: dropping event: %v", c.name, err)
		return
	}
	if tick == nil {
		return
	}
	c.sink.AddTick(*tick)
}

// -----------------------------------------------------------------------------

// AddSymbols subscribes securities, each under a fresh monotonically
// increasing correlation id.
func (c *SessionConnector) AddSymbols(securities []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}

	for _, security := range securities {
		if _, exists := c.bySecurity[security]; exists {
			continue
		}
		id := c.correlation.Add(1)
		if err := c.session.Subscribe(security, id); err != nil {
			return fmt.Errorf("subscribe %s: %w", security, err)
		}
		c.bySecurity[security] = id
		c.byID[id] = security
		c.logger.Info("%s: subscribed %s (correlation %d)", c.name, security, id)
	}
	return nil
}

// RemoveSymbols unsubscribes securities.
func (c *SessionConnector) RemoveSymbols(securities []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}

	for _, security := range securities {
		id, exists := c.bySecurity[security]
		if !exists {
			continue
		}
		if err := c.session.Unsubscribe(id); err != nil {
			c.logger.Warning("%s: unsubscribe %s failed: %v", c.name, security, err)
		}
		delete(c.bySecurity, security)
		delete(c.byID, id)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (c *SessionConnector) Shutdown() error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	cancel := c.cancel
	session := c.session
	c.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			c.logger.Warning("%s: session close: %v", c.name, err)
		}
	}
	if cancel != nil {
		cancel()
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			c.logger.Warning("%s: shutdown timed out waiting for event loop", c.name)
		}
	}

	c.health.SetStatus(models.StatusDisconnected)
	return nil
}
