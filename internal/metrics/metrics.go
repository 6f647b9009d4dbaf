package metrics

import (
	"context"
	"sync/atomic"

	"codeberg.org/mutker/sensordash/internal/errors"
	"codeberg.org/mutker/sensordash/internal/logger"
	"codeberg.org/mutker/sensordash/internal/sample"
	"codeberg.org/mutker/sensordash/internal/session"
)

type service struct {
	repo   Repository
	cfg    Config
	closed atomic.Bool
}

// No-op implementation
type noopRecorder struct{}

// NewService returns the recorder selected by cfg.Backend.
func NewService(cfg Config, log logger.Logger) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	var (
		repo Repository
		err  error
	)

	switch cfg.Backend {
	case BackendSQLite:
		repo, err = NewRepository(cfg, log)
	case BackendInflux:
		repo, err = NewInfluxRepository(cfg, log)
	default:
		log.Debug().Msg("Sample recording disabled, using no-op recorder")
		return &noopRecorder{}, nil
	}

	if err != nil {
		log.Debug().Err(err).Msg("Failed to create sample repository")
		return nil, err
	}

	log.Debug().
		Str("backend", string(cfg.Backend)).
		Msg("Sample recorder initialized successfully")

	return NewServiceWithRepository(repo, cfg), nil
}

// NewServiceWithRepository wraps an already opened repository.
func NewServiceWithRepository(repo Repository, cfg Config) Recorder {
	return &service{repo: repo, cfg: cfg}
}

func (s *service) Record(ctx context.Context, smp *sample.Sample) error {
	errFactory := errors.New()

	if smp == nil {
		return errFactory.New(ErrInvalidSample)
	}
	if s.closed.Load() {
		return errFactory.New(ErrClosed)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Record(smp); err != nil {
			return errFactory.Wrap(ErrRecordSample, err)
		}
	}

	return nil
}

func (s *service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}

// No-op implementation
func (*noopRecorder) Record(_ context.Context, _ *sample.Sample) error {
	return nil
}

func (*noopRecorder) Close() error {
	return nil
}

// AsRenderer feeds every dispatched sample into rec. Reset notifications
// are ignored since the archive is never cleared.
func AsRenderer(ctx context.Context, rec Recorder, log logger.Logger) session.Renderer {
	log = log.With("recorder")

	return session.RenderFunc(func(smp *sample.Sample) {
		if smp == nil {
			return
		}
		if err := rec.Record(ctx, smp); err != nil {
			if e, ok := err.(errors.Error); ok {
				log.ErrorWithCode(e).Int64("timestamp", smp.Timestamp).Msg("Failed to record sample")
				return
			}
			log.Error().Err(err).Msg("Failed to record sample")
		}
	})
}
