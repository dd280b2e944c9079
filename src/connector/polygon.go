package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"chainflow/src/helpers"
	"chainflow/src/interfaces"
	"chainflow/src/logger"
	"chainflow/src/models"
	"chainflow/src/normalize"
)

// -----------------------------------------------------------------------------
// PolygonAdapter drives the equities stream. The vendor requires an auth
// frame before subscribing; trade channels are named T.<SYMBOL>. Frames
// carry arrays of events.
// -----------------------------------------------------------------------------

type PolygonAdapter struct {
	WSBase   string
	RESTBase string
	APIKey   string
	Logger   *logger.Logger

	// Backfill configuration; Sink receives replayed ticks.
	BackfillEnabled   bool
	BackfillThreshold time.Duration
	Network           interfaces.INetworkManager
	Sink              TickSink

	// MarketOpen, when set, gates gap backfill: a gap is not replayed while
	// it reports the market closed.
	MarketOpen func() bool

	// SymbolsSource supplies the live subscription set for backfill.
	SymbolsSource func() []string
}

const backfillPageLimit = 50000

// -----------------------------------------------------------------------------

func (a *PolygonAdapter) DialURL(symbols []string) (string, error) {
	if a.APIKey == "" {
		return "", fmt.Errorf("polygon: missing API key")
	}
	return a.WSBase, nil
}

// -----------------------------------------------------------------------------

type polygonControlFrame struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

type polygonStatusEvent struct {
	EventType string `json:"ev"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// OnOpen authenticates and subscribes. The vendor answers the auth frame
// with a status event; anything but auth_success aborts the attempt.
func (a *PolygonAdapter) OnOpen(conn *websocket.Conn, symbols []string) error {
	if err := conn.WriteJSON(polygonControlFrame{Action: "auth", Params: a.APIKey}); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("awaiting auth: %w", err)
		}

		status, ok := firstStatus(frame)
		if !ok {
			continue
		}
		switch status.Status {
		case "auth_success":
			return conn.WriteJSON(polygonControlFrame{
				Action: "subscribe",
				Params: channelList(symbols),
			})
		case "auth_failed":
			return fmt.Errorf("authentication rejected: %s", status.Message)
		default:
			// connected / other status chatter before the auth answer
		}
	}
}

func channelList(symbols []string) string {
	channels := make([]string, len(symbols))
	for i, sym := range symbols {
		channels[i] = "T." + strings.ToUpper(sym)
	}
	return strings.Join(channels, ",")
}

// -----------------------------------------------------------------------------

func (a *PolygonAdapter) SubscribeFrame(symbols []string) (interface{}, bool) {
	return polygonControlFrame{Action: "subscribe", Params: channelList(symbols)}, true
}

func (a *PolygonAdapter) UnsubscribeFrame(symbols []string) (interface{}, bool) {
	return polygonControlFrame{Action: "unsubscribe", Params: channelList(symbols)}, true
}

// -----------------------------------------------------------------------------

// SplitFrame explodes the vendor's array frames into individual events.
func (a *PolygonAdapter) SplitFrame(raw []byte) [][]byte {
	var events []json.RawMessage
	if err := json.Unmarshal(raw, &events); err != nil {
		return [][]byte{raw}
	}
	out := make([][]byte, len(events))
	for i, ev := range events {
		out[i] = ev
	}
	return out
}

// HandleStatus consumes status events; they are logged, never forwarded.
func (a *PolygonAdapter) HandleStatus(msg []byte) bool {
	var ev polygonStatusEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return false
	}
	if ev.EventType != "status" {
		return false
	}
	a.Logger.Info("polygon status: %s %s", ev.Status, ev.Message)
	return true
}

func firstStatus(frame []byte) (polygonStatusEvent, bool) {
	var events []polygonStatusEvent
	if err := json.Unmarshal(frame, &events); err == nil && len(events) > 0 && events[0].EventType == "status" {
		return events[0], true
	}
	var single polygonStatusEvent
	if err := json.Unmarshal(frame, &single); err == nil && single.EventType == "status" {
		return single, true
	}
	return polygonStatusEvent{}, false
}

// -----------------------------------------------------------------------------
// Gap detection and backfill
// -----------------------------------------------------------------------------

// OnDisconnect replays trades missed between the last received message and
// now, when the gap exceeds the threshold. Replayed ticks reach the
// aggregator before live streaming resumes because the reconnect waits on
// this hook.
func (a *PolygonAdapter) OnDisconnect(ctx context.Context, lastMessage time.Time, gap time.Duration) {
	if !a.BackfillEnabled || lastMessage.IsZero() {
		return
	}
	if gap < a.BackfillThreshold {
		return
	}
	if a.MarketOpen != nil && !a.MarketOpen() {
		a.Logger.Info("polygon: %s gap while market closed, skipping backfill", gap.Truncate(time.Second))
		return
	}

	from := lastMessage
	to := time.Now()
	a.Logger.Info("polygon: backfilling %s gap (%s -> %s)", gap.Truncate(time.Second),
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))

	for _, symbol := range a.symbolsForBackfill() {
		if err := a.backfillSymbol(ctx, symbol, from, to); err != nil {
			a.Logger.Error("polygon: backfill for %s failed: %v", symbol, err)
		}
	}
}

type polygonTradeRow struct {
	ParticipantTimestamp int64   `json:"participant_timestamp"` // epoch nanos
	SipTimestamp         int64   `json:"sip_timestamp"`
	Price                float64 `json:"price"`
	Size                 float64 `json:"size"`
}

type polygonTradesResponse struct {
	Results []polygonTradeRow `json:"results"`
}

// backfillSymbol pages through the vendor's range-trade endpoint, advancing
// the lower bound past the last observed timestamp to avoid looping.
func (a *PolygonAdapter) backfillSymbol(ctx context.Context, symbol string, from, to time.Time) error {
	url := fmt.Sprintf("%s/v3/trades/%s", strings.TrimRight(a.RESTBase, "/"), strings.ToUpper(symbol))

	lower := from.UnixNano()
	upper := to.UnixNano()
	var ticks []models.MTick

	for {
		params := map[string]string{
			"timestamp.gte": strconv.FormatInt(lower, 10),
			"timestamp.lte": strconv.FormatInt(upper, 10),
			"limit":         strconv.Itoa(backfillPageLimit),
			"order":         "asc",
		}
		headers := map[string]string{"Authorization": "Bearer " + a.APIKey}

		var page polygonTradesResponse
		err := helpers.RetryWithBackoff(ctx, "polygon backfill", 3, time.Second, func() error {
			body, _, err := a.Network.Get(ctx, url, params, headers)
			if err != nil {
				return err
			}
			page = polygonTradesResponse{}
			return json.Unmarshal(body, &page)
		})
		if err != nil {
			return err
		}
		if len(page.Results) == 0 {
			break
		}

		for _, row := range page.Results {
			ts := row.ParticipantTimestamp
			if ts == 0 {
				ts = row.SipTimestamp
			}
			ticks = append(ticks, models.MTick{
				Timestamp: time.Unix(0, ts).UTC(),
				Price:     row.Price,
				Size:      row.Size,
				HasSize:   true,
				Symbol:    strings.ToUpper(symbol),
				Source:    normalize.SourcePolygon,
			})
			if ts > lower {
				lower = ts
			}
		}

		if len(page.Results) < backfillPageLimit {
			break
		}
		// Advance past the last observed timestamp.
		lower++
	}

	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Timestamp.Before(ticks[j].Timestamp) })

	for _, tick := range ticks {
		a.Sink.AddTick(tick)
	}

	a.Logger.Info("polygon: replayed %d backfilled trades for %s", len(ticks), symbol)
	return nil
}

// -----------------------------------------------------------------------------

func (a *PolygonAdapter) symbolsForBackfill() []string {
	if a.SymbolsSource == nil {
		return nil
	}
	return a.SymbolsSource()
}
