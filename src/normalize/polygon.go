package normalize

import (
	"encoding/json"

	"chainflow/src/helpers"
	"chainflow/src/models"
)

// -----------------------------------------------------------------------------
// PolygonNormalizer decodes equities trade events (ev == "T"). Status
// frames are handled by the connector, never here.
// -----------------------------------------------------------------------------

type PolygonNormalizer struct{}

const SourcePolygon = "polygon"

func (n *PolygonNormalizer) Name() string {
	return SourcePolygon
}

// -----------------------------------------------------------------------------

type polygonTradeEvent struct {
	EventType string     `json:"ev"`
	Symbol    string     `json:"sym"`
	Price     floatField `json:"p"`
	Size      floatField `json:"s"`
	Timestamp int64      `json:"t"` // SIP timestamp, epoch millis
}

// -----------------------------------------------------------------------------

func (n *PolygonNormalizer) Normalize(raw []byte) (*models.MTick, error) {
	var ev polygonTradeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, helpers.NewInvalidMessageError("polygon: undecodable message", err)
	}

	if ev.EventType != "T" {
		return nil, nil
	}

	if ev.Symbol == "" || !ev.Price.set || ev.Timestamp == 0 {
		return nil, helpers.NewInvalidMessageError("polygon: trade event missing required fields", nil)
	}

	return &models.MTick{
		Timestamp: epochToTime(ev.Timestamp),
		Price:     ev.Price.value,
		Size:      ev.Size.value,
		HasSize:   ev.Size.set,
		Symbol:    ev.Symbol,
		Source:    SourcePolygon,
	}, nil
}
