package sample

import (
	"math"
	"strconv"
)

// Definition describes how a reading is labelled and scaled for display.
// Min and Max never cause a reading to be rejected.
type Definition struct {
	Key   string  `json:"key"`
	Label string  `json:"label"`
	Unit  string  `json:"unit"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Definitions lists the dashboard cards in display order.
var Definitions = []Definition{
	{Key: KeyTemperature, Label: "Temperature", Unit: "°C", Min: -10, Max: 60},
	{Key: KeyGPS, Label: "GPS", Unit: "", Min: 0, Max: 1},
	{Key: KeyThermal, Label: "Thermal", Unit: "°C", Min: -10, Max: 120},
	{Key: KeyGas, Label: "Gas", Unit: "ppm", Min: 0, Max: 1000},
	{Key: KeyBattery, Label: "Battery", Unit: "%", Min: 0, Max: 100},
	{Key: KeyBotStatus, Label: "Bot Status", Unit: "", Min: 0, Max: 1},
}

const trendEpsilon = 0.001

// Lookup returns the definition for key.
func Lookup(key string) (Definition, bool) {
	for _, d := range Definitions {
		if d.Key == key {
			return d, true
		}
	}

	return Definition{}, false
}

// Percent maps v onto the display domain, clamped to [0,100].
func (d Definition) Percent(v float64) float64 {
	if d.Max == d.Min {
		return 0
	}
	pct := (v - d.Min) / (d.Max - d.Min) * 100

	return math.Max(0, math.Min(100, pct))
}

// Trend returns 1 for a rise, -1 for a fall and 0 when either side is absent
// or the change is within the dead-band.
func Trend(prev, cur *float64) int {
	if prev == nil || cur == nil {
		return 0
	}

	switch d := *cur - *prev; {
	case d > trendEpsilon:
		return 1
	case d < -trendEpsilon:
		return -1
	default:
		return 0
	}
}

// FormatNumber renders a reading with precision depending on magnitude.
func FormatNumber(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1000 && abs < 100000:
		return strconv.FormatFloat(v, 'f', 0, 64)
	case abs < 10:
		return strconv.FormatFloat(v, 'f', 2, 64)
	default:
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
}
