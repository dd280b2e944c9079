package normalize

import (
	"encoding/json"

	"chainflow/src/helpers"
	"chainflow/src/models"
)

// -----------------------------------------------------------------------------
// BinanceNormalizer decodes trade and aggTrade events from the multiplexed
// crypto stream. Frames may arrive wrapped in a {stream, data} envelope;
// the envelope is unwrapped transparently.
// -----------------------------------------------------------------------------

type BinanceNormalizer struct{}

const SourceBinance = "binance"

func (n *BinanceNormalizer) Name() string {
	return SourceBinance
}

// -----------------------------------------------------------------------------

// streamEnvelope is the multiplexed wrapper: {"stream": "...", "data": {...}}
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceTradeEvent struct {
	EventType string     `json:"e"`
	Symbol    string     `json:"s"`
	Price     floatField `json:"p"`
	Quantity  floatField `json:"q"`
	TradeTime int64      `json:"T"` // trade time, epoch millis
	EventTime int64      `json:"E"` // server receipt time
}

// -----------------------------------------------------------------------------

func (n *BinanceNormalizer) Normalize(raw []byte) (*models.MTick, error) {
	payload := raw

	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		payload = env.Data
	}

	var ev binanceTradeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, helpers.NewInvalidMessageError("binance: undecodable frame", err)
	}

	// Only trade-bearing event kinds; subscription acks and other kinds
	// are skipped.
	if ev.EventType != "trade" && ev.EventType != "aggTrade" {
		return nil, nil
	}

	if ev.Symbol == "" || !ev.Price.set {
		return nil, helpers.NewInvalidMessageError("binance: trade event missing symbol or price", nil)
	}

	// Prefer the trade time over the server event time.
	ts := ev.TradeTime
	if ts == 0 {
		ts = ev.EventTime
	}
	if ts == 0 {
		return nil, helpers.NewInvalidMessageError("binance: trade event missing timestamp", nil)
	}

	return &models.MTick{
		Timestamp: epochToTime(ts),
		Price:     ev.Price.value,
		Size:      ev.Quantity.value,
		HasSize:   ev.Quantity.set,
		Symbol:    ev.Symbol,
		Source:    SourceBinance,
	}, nil
}
