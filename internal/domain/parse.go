package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParsedObservation is the outcome of parsing one response item, before
// validation and before it is bound to a city and raw batch.
type ParsedObservation struct {
	ObservedAtUTC    time.Time
	UTCOffsetSeconds int
	Measurements
}

// DecodeItems splits a raw provider payload into per-location items. The
// provider returns a bare object for a single requested location and an
// array for several; both normalize to a slice so the positional pairing
// loop has one shape to deal with.
func DecodeItems(payload []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, errors.New("decode payload: empty body")
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode payload array: %w", err)
		}
		return items, nil
	case '{':
		// Validate it really is an object before wrapping it.
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("decode payload object: %w", err)
		}
		return []json.RawMessage{json.RawMessage(trimmed)}, nil
	default:
		return nil, errors.New("decode payload: neither a JSON array nor an object")
	}
}

// responseItem is the typed shape of one Open-Meteo current-weather item.
// Required fields are pointers so absence is detectable after decoding;
// measurements use lenientFloat so malformed values degrade to absent
// instead of failing the item.
type responseItem struct {
	UTCOffsetSeconds *offsetSeconds `json:"utc_offset_seconds"`
	Current          *struct {
		Time          *string      `json:"time"`
		Temperature2m lenientFloat `json:"temperature_2m"`
		RelHumidity2m lenientFloat `json:"relative_humidity_2m"`
		Precipitation lenientFloat `json:"precipitation"`
		WindSpeed10m  lenientFloat `json:"wind_speed_10m"`
	} `json:"current"`
}

// ParseObservation extracts the UTC timestamp, the reported offset, and the
// optional measurements from one response item. Errors are structural
// (missing or mistyped required field, unparsable timestamp) and are scoped
// to this single item, never the whole run.
func ParseObservation(item json.RawMessage) (ParsedObservation, error) {
	var ri responseItem
	if err := json.Unmarshal(item, &ri); err != nil {
		return ParsedObservation{}, fmt.Errorf("parse item: %w", err)
	}

	if ri.UTCOffsetSeconds == nil {
		return ParsedObservation{}, errors.New("parse item: missing utc_offset_seconds")
	}
	offset := int(*ri.UTCOffsetSeconds)

	if ri.Current == nil || ri.Current.Time == nil {
		return ParsedObservation{}, errors.New("parse item: missing current.time")
	}

	observedAt, err := normalizeToUTC(*ri.Current.Time, offset)
	if err != nil {
		return ParsedObservation{}, err
	}

	return ParsedObservation{
		ObservedAtUTC:    observedAt,
		UTCOffsetSeconds: offset,
		Measurements: Measurements{
			TemperatureC:    ri.Current.Temperature2m.value,
			HumidityPct:     ri.Current.RelHumidity2m.value,
			PrecipitationMM: ri.Current.Precipitation.value,
			WindSpeedKmh:    ri.Current.WindSpeed10m.value,
		},
	}, nil
}

// Layouts accepted for current.time. Open-Meteo reports minute precision
// without a zone designator; zone-aware forms are accepted defensively.
var (
	zonedLayouts = []string{time.RFC3339, "2006-01-02T15:04Z07:00"}
	naiveLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04"}
)

// normalizeToUTC turns a provider timestamp into naive UTC. Zone-aware input
// converts directly; naive input is local time at the reporting location, so
// the reported UTC offset is subtracted.
func normalizeToUTC(value string, offsetSeconds int) (time.Time, error) {
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.Add(-time.Duration(offsetSeconds) * time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse item: unparsable current.time %q", value)
}

// offsetSeconds decodes an integer-coercible JSON value: a whole number, or
// a string of digits. Anything else is a structural error because the offset
// is required to normalize naive timestamps.
type offsetSeconds int

func (o *offsetSeconds) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "true" || s == "false" {
		return fmt.Errorf("utc_offset_seconds is not an integer: %s", s)
	}
	s = strings.Trim(s, `"`)
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		*o = offsetSeconds(int(f))
		return nil
	}
	return fmt.Errorf("utc_offset_seconds is not an integer: %s", s)
}

// lenientFloat decodes an optional numeric value: JSON numbers and numeric
// strings yield a value, everything else (null, booleans, garbage strings)
// degrades to absent. Absence of a measurement never invalidates the item.
type lenientFloat struct {
	value *float64
}

func (l *lenientFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "true" || s == "false" {
		return nil
	}
	s = strings.Trim(s, `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	l.value = &f
	return nil
}
