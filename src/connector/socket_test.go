package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainflow/src/normalize"
)

// -----------------------------------------------------------------------------
// Streaming socket against an in-process websocket server.
// -----------------------------------------------------------------------------

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// wsTestServer serves one frame script per connection.
func wsTestServer(t *testing.T, handler func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// -----------------------------------------------------------------------------

func TestSocketConnectorDeliversTicks(t *testing.T) {
	frame := `{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT","p":"96000","q":"0.5","T":1735732800000}}`

	done := make(chan struct{})
	srv, wsURL := wsTestServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(frame))
		<-done
	})
	defer srv.Close()
	defer close(done)

	adapter := &BinanceAdapter{WSBase: wsURL, Streams: []string{"trade"}, Logger: testLogger()}
	// The adapter appends /stream?...; strip it for the test server by
	// overriding DialURL through a URL the server accepts either way.
	sink := &sinkRecorder{}
	c := NewSocketConnector("binance", &rawURLAdapter{inner: adapter, url: wsURL},
		&normalize.BinanceNormalizer{}, sink, []string{"BTCUSDT"},
		SocketOptions{BackoffBase: 10 * time.Millisecond, MaxReconnects: 1}, testLogger())

	require.NoError(t, c.Init())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Shutdown()

	require.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	tick := sink.all()[0]
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.Equal(t, 96000.0, tick.Price)
}

// rawURLAdapter pins the dial URL to the test server.
type rawURLAdapter struct {
	inner SocketAdapter
	url   string
}

func (a *rawURLAdapter) DialURL(symbols []string) (string, error) { return a.url, nil }
func (a *rawURLAdapter) OnOpen(conn *websocket.Conn, symbols []string) error {
	return a.inner.OnOpen(conn, symbols)
}
func (a *rawURLAdapter) SubscribeFrame(symbols []string) (interface{}, bool) {
	return a.inner.SubscribeFrame(symbols)
}
func (a *rawURLAdapter) UnsubscribeFrame(symbols []string) (interface{}, bool) {
	return a.inner.UnsubscribeFrame(symbols)
}
func (a *rawURLAdapter) SplitFrame(raw []byte) [][]byte { return a.inner.SplitFrame(raw) }
func (a *rawURLAdapter) HandleStatus(msg []byte) bool   { return a.inner.HandleStatus(msg) }
func (a *rawURLAdapter) OnDisconnect(ctx context.Context, lastMessage time.Time, gap time.Duration) {
	a.inner.OnDisconnect(ctx, lastMessage, gap)
}

// -----------------------------------------------------------------------------

func TestDynamicSubscriptionNoOpWhenClosed(t *testing.T) {
	adapter := &BinanceAdapter{WSBase: "wss://example.test", Streams: []string{"trade"}, Logger: testLogger()}
	c := NewSocketConnector("binance", adapter, &normalize.BinanceNormalizer{},
		&sinkRecorder{}, []string{"BTCUSDT"}, SocketOptions{}, testLogger())

	// Not connected: frames cannot be sent, but the symbol set updates.
	assert.NoError(t, c.AddSymbols([]string{"ETHUSDT"}))
	assert.NoError(t, c.RemoveSymbols([]string{"BTCUSDT"}))

	c.mu.Lock()
	assert.Equal(t, []string{"ETHUSDT"}, c.symbols)
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

func TestBinanceDialURLMultiplexesStreams(t *testing.T) {
	adapter := &BinanceAdapter{WSBase: "wss://stream.example.test:9443", Streams: []string{"trade", "aggTrade"}, Logger: testLogger()}

	url, err := adapter.DialURL([]string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	assert.Equal(t, "wss://stream.example.test:9443/stream?streams=btcusdt@trade/btcusdt@aggTrade/ethusdt@trade/ethusdt@aggTrade", url)
}

func TestBinanceControlFrameIDsIncrease(t *testing.T) {
	adapter := &BinanceAdapter{WSBase: "wss://example.test", Streams: []string{"trade"}, Logger: testLogger()}

	first, ok := adapter.SubscribeFrame([]string{"BTCUSDT"})
	require.True(t, ok)
	second, ok := adapter.UnsubscribeFrame([]string{"BTCUSDT"})
	require.True(t, ok)

	f := first.(binanceControlFrame)
	s := second.(binanceControlFrame)
	assert.Equal(t, "SUBSCRIBE", f.Method)
	assert.Equal(t, []string{"btcusdt@trade"}, f.Params)
	assert.Equal(t, "UNSUBSCRIBE", s.Method)
	assert.Greater(t, s.ID, f.ID)
}

// -----------------------------------------------------------------------------

func TestPolygonAuthHandshake(t *testing.T) {
	received := make(chan polygonControlFrame, 4)
	srv, wsURL := wsTestServer(t, func(conn *websocket.Conn) {
		// Expect the auth frame first.
		var frame polygonControlFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		received <- frame
		conn.WriteMessage(websocket.TextMessage, []byte(`[{"ev":"status","status":"auth_success","message":"authenticated"}]`))

		// Then the subscribe frame.
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		received <- frame
	})
	defer srv.Close()

	adapter := &PolygonAdapter{WSBase: wsURL, APIKey: "pk_test", Logger: testLogger()}

	dialer := websocket.Dialer{}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, adapter.OnOpen(conn, []string{"aapl", "msft"}))

	auth := <-received
	assert.Equal(t, "auth", auth.Action)
	assert.Equal(t, "pk_test", auth.Params)

	sub := <-received
	assert.Equal(t, "subscribe", sub.Action)
	assert.Equal(t, "T.AAPL,T.MSFT", sub.Params)
}

// -----------------------------------------------------------------------------

func TestPolygonSplitFrameExplodesArrays(t *testing.T) {
	adapter := &PolygonAdapter{Logger: testLogger()}

	frame := []byte(`[{"ev":"T","sym":"AAPL","p":1,"t":1},{"ev":"T","sym":"MSFT","p":2,"t":2}]`)
	msgs := adapter.SplitFrame(frame)
	require.Len(t, msgs, 2)

	var ev struct {
		Sym string `json:"sym"`
	}
	require.NoError(t, json.Unmarshal(msgs[1], &ev))
	assert.Equal(t, "MSFT", ev.Sym)
}

// -----------------------------------------------------------------------------

func TestParseKlines(t *testing.T) {
	body := []byte(`[
		[1735732800000,"96000.0","96100.5","95900.1","96050.2","12.5",1735732859999,"0",100,"0","0","0"],
		[1735732860000,"96050.2","96200.0","96000.0","96150.0","8.25",1735732919999,"0",80,"0","0","0"]
	]`)

	candles, err := parseKlines(body)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, time.UnixMilli(1735732800000).UTC(), candles[0].Datetime)
	assert.Equal(t, 96000.0, candles[0].Open)
	assert.Equal(t, 96100.5, candles[0].High)
	assert.Equal(t, 95900.1, candles[0].Low)
	assert.Equal(t, 96050.2, candles[0].Close)
	assert.Equal(t, 12.5, candles[0].Volume)
}
