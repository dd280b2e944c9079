package normalize

import (
	"encoding/json"

	"chainflow/src/helpers"
	"chainflow/src/models"
)

// -----------------------------------------------------------------------------
// BloombergNormalizer decodes market-data events from the subscription
// session (real client or mock; both emit the same shape). Price is the
// first non-null of LAST_TRADE, LAST_PRICE, BID, ASK.
// -----------------------------------------------------------------------------

type BloombergNormalizer struct{}

const SourceBloomberg = "bloomberg"

func (n *BloombergNormalizer) Name() string {
	return SourceBloomberg
}

// -----------------------------------------------------------------------------

type bloombergEvent struct {
	Security  string `json:"security"`
	Timestamp int64  `json:"timestamp"` // epoch millis
	Fields    struct {
		LastTrade *float64 `json:"LAST_TRADE"`
		LastPrice *float64 `json:"LAST_PRICE"`
		Bid       *float64 `json:"BID"`
		Ask       *float64 `json:"ASK"`
		Volume    *float64 `json:"VOLUME"`
	} `json:"fields"`
}

// -----------------------------------------------------------------------------

func (n *BloombergNormalizer) Normalize(raw []byte) (*models.MTick, error) {
	var ev bloombergEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, helpers.NewInvalidMessageError("bloomberg: undecodable event", err)
	}

	if ev.Security == "" || ev.Timestamp == 0 {
		return nil, helpers.NewInvalidMessageError("bloomberg: event missing security or timestamp", nil)
	}

	var price *float64
	for _, candidate := range []*float64{ev.Fields.LastTrade, ev.Fields.LastPrice, ev.Fields.Bid, ev.Fields.Ask} {
		if candidate != nil {
			price = candidate
			break
		}
	}
	if price == nil {
		// Field updates without any price component carry nothing to ingest.
		return nil, nil
	}

	tick := &models.MTick{
		Timestamp: epochToTime(ev.Timestamp),
		Price:     *price,
		Symbol:    ev.Security,
		Source:    SourceBloomberg,
	}
	if ev.Fields.Volume != nil {
		tick.Size = *ev.Fields.Volume
		tick.HasSize = true
	}

	return tick, nil
}
