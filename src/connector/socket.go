package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chainflow/src/interfaces"
	"chainflow/src/logger"
	"chainflow/src/models"
)

// -----------------------------------------------------------------------------
// SocketConnector is the streaming-socket connector core. Vendor specifics
// (dial URL, auth, subscribe frames, frame splitting, gap backfill) live in
// a SocketAdapter; the core owns the connection lifecycle:
//
//   Idle -> Connecting -> Open (auth inside OnOpen) -> Subscribed ->
//   Receiving <-> (Disconnected -> Reconnecting) -> Terminating -> Closed
// -----------------------------------------------------------------------------

// TickSink receives normalized ticks. Implemented by aggregators and by the
// supervisor's per-symbol router.
type TickSink interface {
	AddTick(tick models.MTick)
}

// SocketAdapter captures what differs between streaming vendors.
type SocketAdapter interface {

	// DialURL builds the full websocket URL for the current symbol set.
	DialURL(symbols []string) (string, error)

	// OnOpen runs auth and initial subscription on a fresh connection.
	// It may read frames (e.g. waiting for auth_success).
	OnOpen(conn *websocket.Conn, symbols []string) error

	// SubscribeFrame / UnsubscribeFrame build dynamic subscription control
	// frames; ok=false means the vendor needs no frame (URL-driven).
	SubscribeFrame(symbols []string) (interface{}, bool)
	UnsubscribeFrame(symbols []string) (interface{}, bool)

	// SplitFrame explodes one inbound frame into individual messages.
	SplitFrame(raw []byte) [][]byte

	// HandleStatus gives the adapter a look at every message before
	// normalization; returning true consumes it (status/control traffic).
	HandleStatus(msg []byte) bool

	// OnDisconnect runs after the read loop exits, before reconnect.
	// Equities adapters use it for gap backfill.
	OnDisconnect(ctx context.Context, lastMessage time.Time, gap time.Duration)
}

// -----------------------------------------------------------------------------

// SocketOptions are the reconnect/heartbeat knobs shared by streaming
// connectors.
type SocketOptions struct {
	PingInterval  time.Duration // default 30 s
	MaxReconnects int           // default 10
	BackoffBase   time.Duration // default 1 s
	OpenTimeout   time.Duration // default 10 s

	// MarketOpen, when set, annotates health snapshots with the market
	// calendar state (equities connectors).
	MarketOpen func() bool
}

func (o *SocketOptions) applyDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 10
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 10 * time.Second
	}
}

const maxBackoff = 60 * time.Second

// BackoffDelay computes the reconnection delay for an attempt counter
// starting at 0: min(base * 2^attempt, 60 s).
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}

// -----------------------------------------------------------------------------

type SocketConnector struct {
	name       string
	adapter    SocketAdapter
	normalizer interfaces.INormalizer
	sink       TickSink
	opts       SocketOptions
	health     *healthTracker
	logger     *logger.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	symbols  []string
	cancel   context.CancelFunc
	shutdown bool
	done     chan struct{}
}

// -----------------------------------------------------------------------------

func NewSocketConnector(name string, adapter SocketAdapter, normalizer interfaces.INormalizer, sink TickSink, symbols []string, opts SocketOptions, log *logger.Logger) *SocketConnector {
	opts.applyDefaults()
	return &SocketConnector{
		name:       name,
		adapter:    adapter,
		normalizer: normalizer,
		sink:       sink,
		symbols:    append([]string(nil), symbols...),
		opts:       opts,
		health:     newHealthTracker(name),
		logger:     log,
		done:       make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------

func (c *SocketConnector) Name() string {
	return c.name
}

func (c *SocketConnector) Init() error {
	if len(c.symbols) == 0 {
		return fmt.Errorf("connector %s: no symbols configured", c.name)
	}
	return nil
}

func (c *SocketConnector) Health() models.MHealthSnapshot {
	snap := c.health.Snapshot()
	if c.opts.MarketOpen != nil {
		open := c.opts.MarketOpen()
		snap.MarketOpen = &open
	}
	return snap
}

// -----------------------------------------------------------------------------

// Connect launches the connection loop. Returns once the loop goroutine is
// running; reconnection is handled inside it.
func (c *SocketConnector) Connect(ctx context.Context) error {
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

// run is the connection/reconnection state machine.
func (c *SocketConnector) run(ctx context.Context) {
	defer close(c.done)
	defer c.health.SetStatus(models.StatusDisconnected)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		subscribed, err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		c.health.SetStatus(models.StatusDisconnected)
		c.health.MarkError()

		if subscribed {
			// A healthy session resets the backoff ladder.
			attempt = 0

			// Gap detection hook runs between disconnect and reconnect.
			if last, ok := c.health.LastMessageTime(); ok {
				c.adapter.OnDisconnect(ctx, last, time.Since(last))
			}
		}

		attempt++
		if attempt > c.opts.MaxReconnects {
			c.logger.Error("%s: giving up after %d reconnect attempts: %v", c.name, c.opts.MaxReconnects, err)
			c.health.SetStatus(models.StatusError)
			return
		}

		delay := BackoffDelay(c.opts.BackoffBase, attempt-1)
		c.logger.Warning("%s: connection lost (%v), reconnecting in %s (attempt %d/%d)",
			c.name, err, delay, attempt, c.opts.MaxReconnects)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// -----------------------------------------------------------------------------

// connectOnce dials, opens and reads until the connection fails. The bool
// reports whether the session reached the subscribed state.
func (c *SocketConnector) connectOnce(ctx context.Context) (bool, error) {
	c.mu.Lock()
	symbols := append([]string(nil), c.symbols...)
	c.mu.Unlock()

	url, err := c.adapter.DialURL(symbols)
	if err != nil {
		return false, err
	}

	c.logger.Info("%s: connecting to %s", c.name, url)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = c.opts.OpenTimeout

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.OpenTimeout)
	conn, _, err := dialer.DialContext(dialCtx, url, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	if err := c.adapter.OnOpen(conn, symbols); err != nil {
		conn.Close()
		return false, fmt.Errorf("open: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.health.SetStatus(models.StatusConnected)
	c.health.MarkMessage(time.Now())
	c.logger.Info("%s: subscribed to %d symbols", c.name, len(symbols))

	conn.SetPongHandler(func(string) error {
		c.health.MarkMessage(time.Now())
		return nil
	})

	// Heartbeat watchdog: send protocol pings; force-close when the stream
	// has been silent for 3x the ping interval so the read loop unblocks
	// and reconnection takes over.
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go c.pingLoop(pingCtx, conn)

	readErr := c.readLoop(ctx, conn)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()

	return true, readErr
}

// -----------------------------------------------------------------------------

func (c *SocketConnector) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if last, ok := c.health.LastMessageTime(); ok && time.Since(last) > 3*c.opts.PingInterval {
				c.logger.Warning("%s: no frames for %s, forcing reconnect", c.name, time.Since(last).Truncate(time.Second))
				conn.Close()
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				c.logger.Debug("%s: ping failed: %v", c.name, err)
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (c *SocketConnector) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		c.health.MarkMessage(time.Now())

		for _, msg := range c.adapter.SplitFrame(frame) {
			if c.adapter.HandleStatus(msg) {
				continue
			}
			c.feed(msg)
		}
	}
}

// -----------------------------------------------------------------------------

// feed normalizes one message and forwards the tick. Normalization errors
// drop the message with a warning; the pipeline continues.
func (c *SocketConnector) feed(msg []byte) {
	tick, err := c.normalizer.Normalize(msg)
	if err != nil {
		c.health.MarkError()
		c.logger.Warning("%s: dropping message: %v", c.name, err)
		return
	}
	if tick == nil {
		return
	}
	c.sink.AddTick(*tick)
}

// -----------------------------------------------------------------------------

// AddSymbols subscribes additional symbols on the live connection.
// A safe no-op when not open.
func (c *SocketConnector) AddSymbols(symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.symbols = mergeSymbols(c.symbols, symbols)

	if c.conn == nil {
		return nil
	}
	frame, ok := c.adapter.SubscribeFrame(symbols)
	if !ok {
		return nil
	}
	return c.conn.WriteJSON(frame)
}

// RemoveSymbols unsubscribes symbols on the live connection.
func (c *SocketConnector) RemoveSymbols(symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.symbols = removeSymbols(c.symbols, symbols)

	if c.conn == nil {
		return nil
	}
	frame, ok := c.adapter.UnsubscribeFrame(symbols)
	if !ok {
		return nil
	}
	return c.conn.WriteJSON(frame)
}

// -----------------------------------------------------------------------------

// Shutdown stops the loops and closes the socket. Idempotent.
func (c *SocketConnector) Shutdown() error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}

	if cancel != nil {
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			c.logger.Warning("%s: shutdown timed out waiting for read loop", c.name)
		}
	}

	c.health.SetStatus(models.StatusDisconnected)
	return nil
}

// -----------------------------------------------------------------------------

func mergeSymbols(existing, add []string) []string {
	seen := make(map[string]bool, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, s := range append(append([]string(nil), existing...), add...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func removeSymbols(existing, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, s := range remove {
		drop[s] = true
	}
	out := make([]string, 0, len(existing))
	for _, s := range existing {
		if !drop[s] {
			out = append(out, s)
		}
	}
	return out
}
