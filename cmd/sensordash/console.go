package main

import (
	"codeberg.org/mutker/sensordash/internal/logger"
	"codeberg.org/mutker/sensordash/internal/sample"
)

var trendLabels = map[int]string{-1: "down", 0: "steady", 1: "up"}

// consoleRenderer logs every dispatched sample: a full breakdown with trends
// in debug mode, a one-line summary in verbose mode.
type consoleRenderer struct {
	log     logger.Logger
	debug   bool
	verbose bool
	prev    *sample.Sample
}

func (c *consoleRenderer) Render(s *sample.Sample) {
	if s == nil {
		c.prev = nil
		if c.debug || c.verbose {
			c.log.Info().Msg("Display reset")
		}
		return
	}

	defer func() { c.prev = s }()

	switch {
	case c.debug:
		ev := c.log.Debug().Int64("timestamp", s.Timestamp)
		for _, d := range sample.Definitions {
			cur := s.Value(d.Key)
			if cur == nil {
				continue
			}
			ev = ev.
				Str(d.Key, sample.FormatNumber(*cur)+d.Unit).
				Float64(d.Key+"_pct", d.Percent(*cur)).
				Str(d.Key+"_trend", trendLabels[sample.Trend(c.prev.Value(d.Key), cur)])
		}
		if s.GPS.Valid() {
			ev = ev.Float64("lat", *s.GPS.Lat).Float64("lng", *s.GPS.Lng)
		}
		if s.BotStatus != nil {
			ev = ev.Str(sample.KeyBotStatus, *s.BotStatus)
		}
		ev.Msg("")
	case c.verbose:
		ev := c.log.Info().Event
		for _, d := range sample.Definitions {
			if cur := s.Value(d.Key); cur != nil {
				ev = ev.Str(d.Key, sample.FormatNumber(*cur))
			}
		}
		if s.BotStatus != nil {
			ev = ev.Str(sample.KeyBotStatus, *s.BotStatus)
		}
		ev.Msg("")
	}
}
