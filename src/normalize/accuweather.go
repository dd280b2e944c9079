package normalize

import (
	"encoding/json"

	"chainflow/src/helpers"
	"chainflow/src/models"
)

// -----------------------------------------------------------------------------
// AccuWeatherNormalizer decodes current-conditions responses. The endpoint
// returns an array; only the first element is used. Temperature maps to
// price and relative humidity to the optional size.
// -----------------------------------------------------------------------------

type AccuWeatherNormalizer struct {
	// Symbol is the logical series name stamped on ticks, e.g. "TEMP-NYC".
	Symbol string
}

const SourceAccuWeather = "accuweather"

func (n *AccuWeatherNormalizer) Name() string {
	return SourceAccuWeather
}

// -----------------------------------------------------------------------------

type accuWeatherConditions struct {
	LocalObservationDateTime string `json:"LocalObservationDateTime"`
	EpochTime                int64  `json:"EpochTime"`
	Temperature              struct {
		Metric struct {
			Value *float64 `json:"Value"`
		} `json:"Metric"`
	} `json:"Temperature"`
	RelativeHumidity *float64 `json:"RelativeHumidity"`
}

// -----------------------------------------------------------------------------

func (n *AccuWeatherNormalizer) Normalize(raw []byte) (*models.MTick, error) {
	var conditions []accuWeatherConditions
	if err := json.Unmarshal(raw, &conditions); err != nil {
		return nil, helpers.NewInvalidMessageError("accuweather: undecodable response", err)
	}

	if len(conditions) == 0 {
		return nil, nil
	}
	obs := conditions[0]

	if obs.Temperature.Metric.Value == nil {
		return nil, helpers.NewInvalidMessageError("accuweather: observation missing temperature", nil)
	}

	tick := &models.MTick{
		Price:  *obs.Temperature.Metric.Value,
		Symbol: n.Symbol,
		Source: SourceAccuWeather,
	}

	// Prefer the epoch observation time; the local string is a fallback.
	switch {
	case obs.EpochTime > 0:
		tick.Timestamp = epochToTime(obs.EpochTime)
	case obs.LocalObservationDateTime != "":
		t, err := parseVendorTime(obs.LocalObservationDateTime)
		if err != nil {
			return nil, helpers.NewInvalidMessageError("accuweather: bad observation time", err)
		}
		tick.Timestamp = t
	default:
		return nil, helpers.NewInvalidMessageError("accuweather: observation missing timestamp", nil)
	}

	if obs.RelativeHumidity != nil {
		tick.Size = *obs.RelativeHumidity
		tick.HasSize = true
	}

	return tick, nil
}
