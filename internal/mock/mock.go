// Package mock produces synthetic telemetry for running the dashboard
// without a live backend.
package mock

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"codeberg.org/mutker/sensordash/internal/sample"
)

// Bounds bound a drifting reading. Step is the largest per-tick change.
type Bounds struct {
	Step, Min, Max float64
}

const (
	reflectFactor = 0.3
	gasJitter     = 5.0
	batteryDecay  = 0.1
	batteryMin    = 5.0
	batteryMax    = 100.0
	gpsJitter     = 0.00005
)

var (
	TemperatureBounds = Bounds{Step: 0.15, Min: 22, Max: 40}
	ThermalBounds     = Bounds{Step: 0.3, Min: 25, Max: 90}
)

// State is the generator's walk position.
type State struct {
	Temperature float64
	Thermal     float64
	Gas         float64
	Battery     float64
	Lat         float64
	Lng         float64
}

// DefaultState is the seed used at process start.
func DefaultState() State {
	return State{
		Temperature: 24.5,
		Thermal:     30,
		Gas:         120,
		Battery:     85,
		Lat:         28.6139,
		Lng:         77.2090,
	}
}

// Generator is safe for concurrent use.
type Generator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	state State
}

// New returns a generator seeded with DefaultState. A nil rng uses a
// time-seeded source.
func New(rng *rand.Rand) *Generator {
	return NewWithState(rng, DefaultState())
}

// NewWithState returns a generator starting from an explicit state.
func NewWithState(rng *rand.Rand, state State) *Generator {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}

	return &Generator{rng: rng, state: state}
}

// State returns the current walk position.
func (g *Generator) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Next advances the walk one tick and returns a complete sample stamped with now.
func (g *Generator) Next(now time.Time) sample.Sample {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := &g.state
	st.Temperature = Drift(g.rng, st.Temperature, TemperatureBounds)
	st.Thermal = Drift(g.rng, st.Thermal, ThermalBounds)
	st.Gas = math.Max(0, st.Gas+g.uniform(gasJitter))
	st.Battery = clamp(st.Battery-g.rng.Float64()*batteryDecay, batteryMin, batteryMax)

	lat := st.Lat + g.uniform(gpsJitter)
	lng := st.Lng + g.uniform(gpsJitter)
	status := sample.BotStatuses[g.rng.IntN(len(sample.BotStatuses))]

	return sample.Sample{
		Timestamp:   now.UnixMilli(),
		Temperature: sample.Float(st.Temperature),
		GPS:         &sample.GPS{Lat: sample.Float(lat), Lng: sample.Float(lng)},
		Thermal:     sample.Float(st.Thermal),
		Gas:         sample.Float(st.Gas),
		Battery:     sample.Float(st.Battery),
		BotStatus:   sample.String(status),
	}
}

// uniform returns a value in [-span, span).
func (g *Generator) uniform(span float64) float64 {
	return (g.rng.Float64() - 0.5) * 2 * span
}

// Drift applies one bounded random-walk step. A result outside [Min,Max] is
// reflected back by 30% of the overshoot rather than clamped.
func Drift(rng *rand.Rand, value float64, b Bounds) float64 {
	next := value + (rng.Float64()-0.5)*2*b.Step
	if next < b.Min {
		next = b.Min + (b.Min-next)*reflectFactor
	}
	if next > b.Max {
		next = b.Max - (next-b.Max)*reflectFactor
	}

	return next
}

func clamp(value, minValue, maxValue float64) float64 {
	if value < minValue {
		return minValue
	}

	if value > maxValue {
		return maxValue
	}

	return value
}
