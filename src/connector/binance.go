package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"chainflow/src/aggregate"
	"chainflow/src/interfaces"
	"chainflow/src/logger"
	"chainflow/src/models"
	"chainflow/src/timeframe"
)

// -----------------------------------------------------------------------------
// BinanceAdapter drives the multiplexed crypto stream:
//   wss://.../stream?streams=btcusdt@trade/ethusdt@aggTrade/...
// Dynamic subscription uses SUBSCRIBE/UNSUBSCRIBE control frames with a
// client-chosen integer id.
// -----------------------------------------------------------------------------

type BinanceAdapter struct {
	WSBase  string
	Streams []string // stream kinds per symbol: trade, aggTrade
	Logger  *logger.Logger

	requestID atomic.Int64
}

// -----------------------------------------------------------------------------

func (a *BinanceAdapter) streamNames(symbols []string) []string {
	names := make([]string, 0, len(symbols)*len(a.Streams))
	for _, sym := range symbols {
		for _, stream := range a.Streams {
			names = append(names, strings.ToLower(sym)+"@"+stream)
		}
	}
	return names
}

// -----------------------------------------------------------------------------

func (a *BinanceAdapter) DialURL(symbols []string) (string, error) {
	if len(symbols) == 0 {
		return "", fmt.Errorf("binance: no symbols to subscribe")
	}
	return fmt.Sprintf("%s/stream?streams=%s",
		strings.TrimRight(a.WSBase, "/"),
		strings.Join(a.streamNames(symbols), "/")), nil
}

// OnOpen needs no auth or subscribe frame; the combined stream URL already
// carries the subscription set.
func (a *BinanceAdapter) OnOpen(conn *websocket.Conn, symbols []string) error {
	return nil
}

// -----------------------------------------------------------------------------

type binanceControlFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (a *BinanceAdapter) SubscribeFrame(symbols []string) (interface{}, bool) {
	return binanceControlFrame{
		Method: "SUBSCRIBE",
		Params: a.streamNames(symbols),
		ID:     a.requestID.Add(1),
	}, true
}

func (a *BinanceAdapter) UnsubscribeFrame(symbols []string) (interface{}, bool) {
	return binanceControlFrame{
		Method: "UNSUBSCRIBE",
		Params: a.streamNames(symbols),
		ID:     a.requestID.Add(1),
	}, true
}

// -----------------------------------------------------------------------------

// SplitFrame: the multiplexed endpoint delivers one envelope per frame.
func (a *BinanceAdapter) SplitFrame(raw []byte) [][]byte {
	return [][]byte{raw}
}

// HandleStatus consumes SUBSCRIBE/UNSUBSCRIBE acks ({"result":null,"id":n}).
func (a *BinanceAdapter) HandleStatus(msg []byte) bool {
	var ack struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(msg, &ack); err == nil && ack.ID != nil {
		a.Logger.Debug("binance: control ack id=%d", *ack.ID)
		return true
	}
	return false
}

// OnDisconnect: crypto streams have no backfill path.
func (a *BinanceAdapter) OnDisconnect(ctx context.Context, lastMessage time.Time, gap time.Duration) {}

// -----------------------------------------------------------------------------
// Historical preload
// -----------------------------------------------------------------------------

// binanceIntervals maps timeframe labels to vendor kline intervals; labels
// without a vendor interval are skipped during preload.
var binanceIntervals = map[string]string{
	"1s": "1s", "1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m",
	"30m": "30m", "1h": "1h", "4h": "4h", "1d": "1d",
}

// HistoryLoader fills aggregator buffers with historical klines before the
// live stream starts, paginating backward through the vendor's REST
// endpoint until the causal-API window is covered.
type HistoryLoader struct {
	RESTBase string
	Network  interfaces.INetworkManager
	Logger   *logger.Logger
	Target   int // records wanted per timeframe, typically 5000
}

// -----------------------------------------------------------------------------

// Preload loads candles for every label the vendor can serve.
func (h *HistoryLoader) Preload(ctx context.Context, agg *aggregate.OHLCAggregator, network *timeframe.Network) {
	for _, tf := range network.Timeframes {
		interval, ok := binanceIntervals[tf.Label]
		if !ok {
			h.Logger.Debug("preload: no vendor interval for %s, skipping", tf.Label)
			continue
		}

		candles, err := h.fetchKlines(ctx, agg.Symbol(), interval)
		if err != nil {
			h.Logger.Warning("preload %s/%s failed: %v", agg.Symbol(), tf.Label, err)
			continue
		}

		for _, c := range candles {
			agg.Preload(tf.Label, c)
		}
		h.Logger.Info("preload: %d historical candles into %s/%s", len(candles), agg.Symbol(), tf.Label)
	}
}

// -----------------------------------------------------------------------------

func (h *HistoryLoader) fetchKlines(ctx context.Context, symbol, interval string) ([]models.MCandle, error) {
	url := strings.TrimRight(h.RESTBase, "/") + "/api/v3/klines"

	var all []models.MCandle
	params := map[string]string{
		"symbol":   symbol,
		"interval": interval,
		"limit":    "1000",
	}

	// Walk backward through history one page at a time.
	for len(all) < h.Target {
		body, _, err := h.Network.Get(ctx, url, params, nil)
		if err != nil {
			return nil, err
		}

		page, err := parseKlines(body)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		all = append(page, all...)
		params["endTime"] = strconv.FormatInt(page[0].Datetime.UnixMilli()-1, 10)

		if len(page) < 1000 {
			break
		}
	}

	if len(all) > h.Target {
		all = all[len(all)-h.Target:]
	}
	return all, nil
}

// -----------------------------------------------------------------------------

// parseKlines decodes the vendor's array-of-arrays kline rows:
// [openTime, "open", "high", "low", "close", "volume", ...]
func parseKlines(body []byte) ([]models.MCandle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}

	candles := make([]models.MCandle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}

		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}

		var fields [5]float64
		bad := false
		for i := 0; i < 5; i++ {
			var s string
			if err := json.Unmarshal(row[i+1], &s); err != nil {
				bad = true
				break
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				bad = true
				break
			}
			fields[i] = v
		}
		if bad {
			continue
		}

		candles = append(candles, models.MCandle{
			Datetime: time.UnixMilli(openTime).UTC(),
			Open:     fields[0],
			High:     fields[1],
			Low:      fields[2],
			Close:    fields[3],
			Volume:   fields[4],
		})
	}
	return candles, nil
}
