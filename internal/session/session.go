package session

import (
	"context"
	"strings"
	"sync"

	"codeberg.org/mutker/sensordash/internal/errors"
	"codeberg.org/mutker/sensordash/internal/history"
	"codeberg.org/mutker/sensordash/internal/logger"
	"codeberg.org/mutker/sensordash/internal/mock"
	"codeberg.org/mutker/sensordash/internal/sample"
	"codeberg.org/mutker/sensordash/internal/status"
	"codeberg.org/mutker/sensordash/internal/transport"
	"github.com/google/uuid"
)

// Options carries the session's collaborators. Zero members get defaults.
type Options struct {
	History   *history.Buffer
	Reporter  *status.Reporter
	Generator *mock.Generator
	Fetcher   transport.Fetcher
	Dialers   map[transport.Kind]transport.Dialer
	Clock     Clock
	Logger    logger.Logger
	Metrics   Metrics
}

// run is one start cycle. Producers hold a pointer to the run they were
// started for and may only dispatch while it is still the session's run.
type run struct {
	id      string
	source  Source
	ctx     context.Context
	cancel  context.CancelFunc
	channel transport.Channel
	done    chan struct{}
}

// Session owns the single active acquisition transport.
//
// Every state change, history append and outbound emission happens under mu,
// so listeners observe a single ordered stream of events. Renderers and
// status listeners must not call back into the Session synchronously.
type Session struct {
	mu        sync.Mutex
	state     State
	cfg       Config
	run       *run
	last      *sample.Sample
	lastStamp int64
	renderers []Renderer

	history   *history.Buffer
	reporter  *status.Reporter
	generator *mock.Generator
	fetcher   transport.Fetcher
	dialers   map[transport.Kind]transport.Dialer
	clock     Clock
	log       logger.Logger
	metrics   Metrics
}

// New returns an idle session.
func New(opts Options) *Session {
	s := &Session{
		history:   opts.History,
		reporter:  opts.Reporter,
		generator: opts.Generator,
		fetcher:   opts.Fetcher,
		dialers:   opts.Dialers,
		clock:     opts.Clock,
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}

	if s.history == nil {
		s.history = history.New(history.DefaultCapacity)
	}
	if s.reporter == nil {
		s.reporter = status.NewReporter()
	}
	if s.generator == nil {
		s.generator = mock.New(nil)
	}
	if s.fetcher == nil {
		s.fetcher = transport.NewHTTPFetcher(nil)
	}
	if s.dialers == nil {
		s.dialers = map[transport.Kind]transport.Dialer{
			transport.KindWebSocket: transport.NewWebSocketDialer(),
			transport.KindMQTT:      transport.NewMQTTDialer(),
		}
	}
	if s.clock == nil {
		s.clock = RealClock{}
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.With("session")
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}

	return s
}

// AddRenderer registers a rendering collaborator.
func (s *Session) AddRenderer(r Renderer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renderers = append(s.renderers, r)
}

// History returns the session's history buffer.
func (s *Session) History() *history.Buffer { return s.history }

// Reporter returns the session's status reporter.
func (s *Session) Reporter() *status.Reporter { return s.reporter }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether samples are currently being accepted.
func (s *Session) Running() bool {
	return s.State() == StateRunning
}

// Config returns the configuration of the current or most recent run.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// RunID identifies the current run, or "" when idle.
func (s *Session) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	return s.run.id
}

// Last returns a copy of the most recently dispatched sample, or nil.
func (s *Session) Last() *sample.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	c := *s.last
	return &c
}

// Start begins acquisition. It is only valid while idle. The run outlives
// ctx: only its values are inherited, never its cancellation.
func (s *Session) Start(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx, cfg)
}

// Stop halts acquisition. Pending ticks are cancelled and any open channel is
// closed; an in-flight request may still finish but its result is dropped.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

// Reconfigure replaces the running configuration by stopping and starting.
func (s *Session) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		if err := s.stopLocked(); err != nil {
			return err
		}
	}

	return s.startLocked(ctx, cfg)
}

// ClearHistory empties the history and resets the last sample.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history.Clear()
	s.last = nil
	for _, r := range s.renderers {
		r.Render(nil)
	}
	s.log.Debug().Msg("History cleared")
}

// Shutdown stops any active run and waits for its producer to exit.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	r := s.run
	if s.state != StateIdle {
		_ = s.stopLocked()
	}
	s.mu.Unlock()

	if r == nil {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) startLocked(parent context.Context, cfg Config) error {
	errFactory := errors.New()

	if s.state != StateIdle {
		return errFactory.WithMessage(errors.ErrInvalidOperation, "session already active").
			WithData(s.state.String())
	}

	cfg.EndpointURL = strings.TrimSpace(cfg.EndpointURL)
	if !cfg.UseMock && cfg.EndpointURL == "" {
		err := errFactory.WithMessage(errors.ErrInvalidConfig, msgNeedEndpoint)
		s.reporter.Fail(msgNeedEndpoint)
		s.log.ErrorWithCode(err).Msg("Start rejected")
		return err
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.Interval < MinInterval {
		cfg.Interval = NormalizeInterval(int(cfg.Interval.Milliseconds()))
	}

	src := cfg.source()
	var dialer transport.Dialer
	if src == SourcePush {
		dialer = s.dialers[cfg.transportKind()]
		if dialer == nil {
			err := errFactory.WithData(ErrNoTransport, cfg.transportKind())
			s.reporter.Fail("Unsupported endpoint")
			s.log.ErrorWithCode(err).Msg("Start rejected")
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	r := &run{
		id:     uuid.NewString(),
		source: src,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.run = r
	s.cfg = cfg
	s.metrics.SessionStarted(src)

	s.log.Info().
		Str("run_id", r.id).
		Str("source", string(src)).
		Str("mode", string(cfg.Mode)).
		Str("endpoint", cfg.EndpointURL).
		Dur("interval", cfg.Interval).
		Msg("Acquisition starting")

	switch src {
	case SourceMock:
		s.state = StateRunning
		s.reporter.Set(status.Connected)
		s.reporter.Info(msgMockStarted)
		go s.runMock(r, cfg.Interval)
	case SourcePull:
		s.state = StateRunning
		s.reporter.Set(status.Connected)
		s.reporter.Info(msgPollStarted)
		go s.runPull(r, cfg.EndpointURL, cfg.Interval)
	default:
		// Connected is only reported once the channel acknowledges the open.
		s.state = StateStarting
		go s.runPush(r, dialer, cfg.EndpointURL)
	}

	return nil
}

func (s *Session) stopLocked() error {
	if s.state == StateIdle {
		return errors.New().WithMessage(errors.ErrInvalidOperation, "session not active")
	}

	s.state = StateStopping
	s.teardownLocked()
	s.state = StateIdle
	s.reporter.Set(status.Disconnected)
	s.reporter.Info(msgStopped)
	s.log.Info().Msg("Acquisition stopped")

	return nil
}

// teardownLocked detaches the current run. Close errors are ignored.
func (s *Session) teardownLocked() {
	r := s.run
	if r == nil {
		return
	}
	s.run = nil
	r.cancel()
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			s.log.Debug().Err(err).Msg("Ignoring channel close error")
		}
	}
}

// currentLocked reports whether r may still dispatch.
func (s *Session) currentLocked(r *run) bool {
	return s.run == r && s.state == StateRunning
}

func (s *Session) isCurrent(r *run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(r)
}

// stampLocked returns a non-decreasing acquisition time in milliseconds.
func (s *Session) stampLocked() int64 {
	ts := s.clock.Now().UnixMilli()
	if ts < s.lastStamp {
		ts = s.lastStamp
	}
	s.lastStamp = ts
	return ts
}

// onSample is the single dispatch path for every producer. It returns false
// when r is no longer current and the sample was dropped.
func (s *Session) onSample(r *run, produce func(now func() int64) sample.Sample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.currentLocked(r) {
		return false
	}

	smp := produce(s.stampLocked)
	s.last = &smp
	s.history.Append(smp)
	for _, rd := range s.renderers {
		c := smp
		rd.Render(&c)
	}
	s.metrics.SampleDispatched(r.source)

	return true
}

// fail reports a recoverable error for r: status goes to error and a notice
// is emitted, but the run keeps going.
func (s *Session) fail(r *run, err error, code errors.ErrorCode, notice string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.currentLocked(r) {
		return
	}

	s.reporter.Set(status.Error)
	s.reporter.Fail(notice)
	s.log.ErrorWithCode(asError(err, code)).Str("run_id", r.id).Msg(notice)
}
