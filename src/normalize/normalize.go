package normalize

import (
	"encoding/json"
	"strconv"
	"time"
)

// -----------------------------------------------------------------------------
// Shared field decoding for vendor payloads. Vendors disagree on whether
// numbers arrive as JSON numbers or strings, and on timestamp units; these
// helpers absorb both.
// -----------------------------------------------------------------------------

// floatField accepts a JSON number or a numeric string.
type floatField struct {
	value float64
	set   bool
}

func (f *floatField) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		f.value = v
		f.set = true
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.value = v
	f.set = true
	return nil
}

// -----------------------------------------------------------------------------

// epochToTime converts an epoch value to UTC, inferring the unit from
// magnitude: values beyond 1e12 are milliseconds, otherwise seconds.
func epochToTime(epoch int64) time.Time {
	if epoch > 1_000_000_000_000 {
		return time.UnixMilli(epoch).UTC()
	}
	return time.Unix(epoch, 0).UTC()
}

// -----------------------------------------------------------------------------

// parseVendorTime accepts ISO-8601 strings with or without an offset.
// Offset-less strings are interpreted as UTC unless the vendor documents
// otherwise.
func parseVendorTime(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: time.RFC3339, Value: s}
}
