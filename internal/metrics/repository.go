package metrics

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/sensordash/internal/errors"
	"codeberg.org/mutker/sensordash/internal/logger"
	"codeberg.org/mutker/sensordash/internal/sample"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []*sample.Sample
	flushTicker   *time.Ticker
	flushNow      chan struct{}
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

// NewRepository opens the sqlite archive at cfg.DBPath.
func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	repo, err := NewRepositoryWithDB(db, cfg, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

// NewRepositoryWithDB validates the schema of an open database and starts
// the background flusher.
func NewRepositoryWithDB(db *sql.DB, cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()
	log = log.With("recorder")

	if cfg.BatchSize < 1 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}

	// Validate if schema is current, with backup if needed
	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("Sample repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]*sample.Sample, 0, cfg.BatchSize),
		flushTicker:   time.NewTicker(cfg.BatchTimeout),
		flushNow:      make(chan struct{}, 1),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	go repo.flusher()

	return repo, nil
}

// Record queues s. A full batch wakes the flusher instead of writing inline,
// so callers never wait on the database.
func (r *repository) Record(s *sample.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *s
	r.buffer = append(r.buffer, &c)
	r.trimLocked()

	if len(r.buffer) >= r.cfg.BatchSize {
		select {
		case r.flushNow <- struct{}{}:
		default:
		}
	}

	return nil
}

// trimLocked drops the oldest samples once the store has fallen
// bufferFactor batches behind.
func (r *repository) trimLocked() {
	limit := r.cfg.BatchSize * bufferFactor
	if over := len(r.buffer) - limit; over > 0 {
		r.logger.Warn().Int("dropped", over).Msg("Sample buffer full, dropping oldest")
		r.buffer = append(r.buffer[:0], r.buffer[over:]...)
	}
}

func (r *repository) Close() error {
	// Signal the flusher goroutine to stop
	close(r.shutdownChan)

	// Stop the ticker
	r.flushTicker.Stop()

	// Wait for the flusher to finish its final flush
	<-r.flushDoneChan

	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Sample repository closed gracefully")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.flushPending()
		case <-r.flushNow:
			r.flushPending()
		case <-r.shutdownChan:
			r.flushPending()
			return
		}
	}
}

// flushPending takes the queued samples and writes them with the buffer
// unlocked. A failed batch is put back ahead of anything queued meanwhile.
func (r *repository) flushPending() {
	r.mu.Lock()
	batch := r.buffer
	r.buffer = make([]*sample.Sample, 0, r.cfg.BatchSize)
	r.mu.Unlock()

	err := r.flush(batch)
	if err == nil {
		return
	}

	r.mu.Lock()
	r.buffer = append(batch, r.buffer...)
	r.trimLocked()
	pending := len(r.buffer)
	r.mu.Unlock()

	var e errors.Error
	if errors.As(err, &e) {
		r.logger.ErrorWithCode(e).Int("pending", pending).Msg("Flush failed")
		return
	}
	r.logger.Error().Err(err).Int("pending", pending).Msg("Flush failed")
}

func (r *repository) flush(batch []*sample.Sample) error {
	if len(batch) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(GetInsertSampleSQL())
	if err != nil {
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, s := range batch {
		if _, err := stmt.Exec(sampleValues(s)...); err != nil {
			if err := tx.Rollback(); err != nil {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(batch)).Msg("Flushed samples to database")

	return nil
}

// sampleValues returns the insert arguments in column order. Absent
// readings are stored as NULL.
func sampleValues(s *sample.Sample) []any {
	var lat, lng *float64
	if s.GPS != nil {
		lat, lng = s.GPS.Lat, s.GPS.Lng
	}

	var status any
	if s.BotStatus != nil {
		status = *s.BotStatus
	}

	var extra any
	if len(s.Extra) > 0 {
		if data, err := json.Marshal(s.Extra); err == nil {
			extra = string(data)
		}
	}

	return []any{
		s.Timestamp,
		nullable(s.Temperature),
		nullable(s.Thermal),
		nullable(s.Gas),
		nullable(s.Battery),
		nullable(lat),
		nullable(lng),
		status,
		extra,
	}
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
