package session

import (
	"time"

	"codeberg.org/mutker/sensordash/internal/sample"
)

// Renderer is the rendering collaborator. A nil sample means the display
// must be reset, e.g. after the history was cleared.
type Renderer interface {
	Render(s *sample.Sample)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(s *sample.Sample)

func (f RenderFunc) Render(s *sample.Sample) { f(s) }

// Metrics receives pipeline counters. Implementations must not block.
type Metrics interface {
	SessionStarted(source Source)
	SampleDispatched(source Source)
	ParseFailed(source Source)
	RequestFailed()
	TransportFailed(source Source)
}

// Clock allows deterministic timestamps in tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

type nopMetrics struct{}

func (nopMetrics) SessionStarted(Source)   {}
func (nopMetrics) SampleDispatched(Source) {}
func (nopMetrics) ParseFailed(Source)      {}
func (nopMetrics) RequestFailed()          {}
func (nopMetrics) TransportFailed(Source)  {}
