package sample

import (
	"bytes"
	"encoding/json"
	"math"

	"codeberg.org/mutker/sensordash/internal/errors"
)

// Field keys recognized in raw payloads.
const (
	KeyTimestamp   = "timestamp"
	KeyTemperature = "temperature"
	KeyGPS         = "gps"
	KeyThermal     = "thermal"
	KeyGas         = "gas"
	KeyBattery     = "battery"
	KeyBotStatus   = "botStatus"
)

// Known bot status labels. Other labels pass through untouched.
const (
	BotIdle     = "Idle"
	BotMoving   = "Moving"
	BotCharging = "Charging"
	BotError    = "Error"
)

// BotStatuses lists the labels the mock generator draws from.
var BotStatuses = []string{BotIdle, BotMoving, BotCharging, BotError}

// GPS is a position fix in degrees. Either member may be missing in a raw payload.
type GPS struct {
	Lat *float64 `json:"lat,omitempty"`
	Lng *float64 `json:"lng,omitempty"`
}

// Valid reports whether both coordinates are present.
func (g *GPS) Valid() bool {
	return g != nil && g.Lat != nil && g.Lng != nil
}

// Sample is one normalized telemetry snapshot.
// Nil fields were absent from the reading and must not be treated as zero.
type Sample struct {
	Timestamp   int64    `json:"timestamp"`
	Temperature *float64 `json:"temperature,omitempty"`
	GPS         *GPS     `json:"gps,omitempty"`
	Thermal     *float64 `json:"thermal,omitempty"`
	Gas         *float64 `json:"gas,omitempty"`
	Battery     *float64 `json:"battery,omitempty"`
	BotStatus   *string  `json:"botStatus,omitempty"`

	// Extra holds fields that were not recognized, or recognized but of an
	// unexpected JSON type. They are re-emitted verbatim by MarshalJSON.
	Extra map[string]json.RawMessage `json:"-"`
}

// Raw is an undecoded payload: one JSON object keyed by field name.
type Raw map[string]json.RawMessage

// Parse decodes a push message or pull response body into a Raw payload.
// Anything other than a JSON object is rejected.
func Parse(data []byte) (Raw, error) {
	var raw Raw
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.New().Wrap(errors.ErrParse, err)
	}
	if raw == nil {
		return nil, errors.New().WithMessage(errors.ErrParse, "payload is not a JSON object")
	}

	return raw, nil
}

// Normalize converts a raw payload into a Sample. A missing timestamp, or one
// that is not an integer in int64 range, is replaced by now(). No value is coerced across JSON types.
func Normalize(raw Raw, now func() int64) Sample {
	var s Sample

	for key, value := range raw {
		ok := true
		switch key {
		case KeyTimestamp:
			s.Timestamp, ok = timestamp(value)
		case KeyTemperature:
			s.Temperature, ok = number(value)
		case KeyThermal:
			s.Thermal, ok = number(value)
		case KeyGas:
			s.Gas, ok = number(value)
		case KeyBattery:
			s.Battery, ok = number(value)
		case KeyGPS:
			s.GPS, ok = position(value)
		case KeyBotStatus:
			s.BotStatus, ok = label(value)
		default:
			ok = false
		}

		if !ok && !isNull(value) {
			if s.Extra == nil {
				s.Extra = make(map[string]json.RawMessage)
			}
			s.Extra[key] = value
		}
	}

	if _, ok := timestamp(raw[KeyTimestamp]); !ok {
		s.Timestamp = now()
	}

	return s
}

// MarshalJSON emits the recognized fields over any retained extras.
func (s Sample) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+7)
	for k, v := range s.Extra {
		out[k] = v
	}

	out[KeyTimestamp] = s.Timestamp
	setIf(out, KeyTemperature, s.Temperature)
	setIf(out, KeyThermal, s.Thermal)
	setIf(out, KeyGas, s.Gas)
	setIf(out, KeyBattery, s.Battery)
	if s.GPS != nil {
		out[KeyGPS] = s.GPS
	}
	if s.BotStatus != nil {
		out[KeyBotStatus] = *s.BotStatus
	}

	return json.Marshal(out)
}

// Value returns the numeric reading stored under key, or nil.
func (s *Sample) Value(key string) *float64 {
	if s == nil {
		return nil
	}

	switch key {
	case KeyTemperature:
		return s.Temperature
	case KeyThermal:
		return s.Thermal
	case KeyGas:
		return s.Gas
	case KeyBattery:
		return s.Battery
	default:
		return nil
	}
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }

func setIf(out map[string]any, key string, v *float64) {
	if v != nil {
		out[key] = *v
	}
}

func isNull(value json.RawMessage) bool {
	return len(value) == 0 || bytes.Equal(bytes.TrimSpace(value), []byte("null"))
}

func number(value json.RawMessage) (*float64, bool) {
	if isNull(value) {
		return nil, false
	}
	var f float64
	if err := json.Unmarshal(value, &f); err != nil {
		return nil, false
	}

	return &f, true
}

// timestamp accepts integral JSON numbers that fit in an int64, including
// exponent forms such as 1.7e12.
func timestamp(value json.RawMessage) (int64, bool) {
	if isNull(value) {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(value, &n); err == nil {
		return n, true
	}
	f, ok := number(value)
	if !ok || *f != math.Trunc(*f) || *f < math.MinInt64 || *f >= math.MaxInt64 {
		return 0, false
	}

	return int64(*f), true
}

func label(value json.RawMessage) (*string, bool) {
	if isNull(value) {
		return nil, false
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return nil, false
	}

	return &s, true
}

// position keeps a gps object even when a coordinate is missing or malformed;
// consumers check Valid before drawing it.
func position(value json.RawMessage) (*GPS, bool) {
	if isNull(value) {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(value, &obj); err != nil || obj == nil {
		return nil, false
	}

	g := &GPS{}
	g.Lat, _ = number(obj["lat"])
	g.Lng, _ = number(obj["lng"])

	return g, true
}
