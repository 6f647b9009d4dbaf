package session

import (
	"time"

	"codeberg.org/mutker/sensordash/internal/errors"
	"codeberg.org/mutker/sensordash/internal/sample"
	"codeberg.org/mutker/sensordash/internal/status"
	"codeberg.org/mutker/sensordash/internal/transport"
)

// runMock emits one generated sample per tick. The first sample arrives
// after one interval.
func (s *Session) runMock(r *run, interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			ok := s.onSample(r, func(now func() int64) sample.Sample {
				return s.generator.Next(time.UnixMilli(now()))
			})
			if !ok {
				return
			}
		}
	}
}

// runPull polls once immediately and then once per tick. Requests run
// sequentially, so ticks that fall due during a slow request are dropped.
func (s *Session) runPull(r *run, endpoint string, interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if !s.poll(r, endpoint) {
			return
		}

		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll performs one request. It returns false once r is no longer current.
func (s *Session) poll(r *run, endpoint string) bool {
	if !s.isCurrent(r) {
		return false
	}

	body, err := s.fetcher.Fetch(r.ctx, endpoint)
	if err != nil {
		if r.ctx.Err() != nil {
			return false
		}
		s.metrics.RequestFailed()
		s.fail(r, err, errors.ErrRequest, msgPollFailed)
		return true
	}

	raw, err := sample.Parse(body)
	if err != nil {
		s.metrics.ParseFailed(r.source)
		s.fail(r, err, errors.ErrParse, msgPollFailed)
		return true
	}

	return s.onSample(r, func(now func() int64) sample.Sample {
		return sample.Normalize(raw, now)
	})
}

// runPush dials the channel and forwards every message until it closes.
func (s *Session) runPush(r *run, dialer transport.Dialer, endpoint string) {
	defer close(r.done)

	name := dialer.Name()
	ch, err := dialer.Dial(r.ctx, endpoint)
	if err != nil {
		s.openFailed(r, name, err)
		return
	}

	if !s.opened(r, name, ch) {
		_ = ch.Close()
		return
	}

	for {
		data, err := ch.Receive()
		if err != nil {
			s.closed(r, name, err)
			return
		}

		raw, err := sample.Parse(data)
		if err != nil {
			s.metrics.ParseFailed(r.source)
			s.fail(r, err, errors.ErrParse, "Invalid "+name+" message")
			continue
		}

		s.onSample(r, func(now func() int64) sample.Sample {
			return sample.Normalize(raw, now)
		})
	}
}

// opened promotes a starting push run to running once the peer acknowledged
// the connection. It returns false if r was stopped while dialing.
func (s *Session) opened(r *run, name string, ch transport.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != r || s.state != StateStarting {
		return false
	}

	r.channel = ch
	s.state = StateRunning
	s.reporter.Set(status.Connected)
	s.reporter.Info(name + " connected")
	s.log.Info().Str("run_id", r.id).Str("channel", name).Msg("Channel open")

	return true
}

func (s *Session) openFailed(r *run, name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != r {
		return
	}

	s.teardownLocked()
	s.state = StateIdle
	s.metrics.TransportFailed(r.source)
	s.reporter.Set(status.Error)
	s.reporter.Fail("Failed to open " + name)
	s.log.ErrorWithCode(asError(err, errors.ErrTransportOpen)).
		Str("run_id", r.id).
		Str("channel", name).
		Msg("Failed to open channel")
}

// closed handles the end of a push channel. A local Stop has already
// detached r, so only remote closes and faults are reported here.
func (s *Session) closed(r *run, name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != r {
		return
	}

	if !errors.HasCode(err, transport.ErrClosed) {
		s.state = StateError
		s.metrics.TransportFailed(r.source)
		s.reporter.Set(status.Error)
		s.reporter.Fail(name + " error")
		s.log.ErrorWithCode(asError(err, errors.ErrTransportRuntime)).
			Str("run_id", r.id).
			Str("channel", name).
			Msg("Channel fault")
	}

	s.teardownLocked()
	s.state = StateIdle
	s.reporter.Set(status.Disconnected)
	s.reporter.Info(name + " closed")
	s.log.Info().Str("run_id", r.id).Str("channel", name).Msg("Channel closed")
}
