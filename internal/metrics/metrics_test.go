package metrics_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/sensordash/internal/errors"
	"codeberg.org/mutker/sensordash/internal/logger"
	"codeberg.org/mutker/sensordash/internal/metrics"
	"codeberg.org/mutker/sensordash/internal/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepository struct {
	mu      sync.Mutex
	samples []sample.Sample
	closed  int
}

func (m *memoryRepository) Record(s *sample.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, *s)
	return nil
}

func (m *memoryRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func TestDefaultConfigIsDisabled(t *testing.T) {
	cfg := metrics.DefaultConfig()
	assert.Equal(t, metrics.BackendNone, cfg.Backend)
	assert.NoError(t, cfg.Validate())

	rec, err := metrics.NewService(cfg, logger.Nop())
	require.NoError(t, err)
	assert.NoError(t, rec.Record(context.Background(), &sample.Sample{}))
	assert.NoError(t, rec.Close())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  metrics.Config
		code errors.ErrorCode
	}{
		{name: "sqlite without path", cfg: metrics.Config{Backend: metrics.BackendSQLite, BatchSize: 1}, code: metrics.ErrInvalidDBPath},
		{name: "sqlite without batch", cfg: metrics.Config{Backend: metrics.BackendSQLite, DBPath: "x.db"}, code: metrics.ErrInvalidConfig},
		{name: "influx without bucket", cfg: metrics.Config{Backend: metrics.BackendInflux, InfluxURL: "http://x"}, code: metrics.ErrInvalidConfig},
		{name: "unknown backend", cfg: metrics.Config{Backend: "csv"}, code: metrics.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, errors.CodeOf(tt.cfg.Validate()))
		})
	}
}

func TestServiceRejectsNilAndClosed(t *testing.T) {
	repo := &memoryRepository{}
	rec := metrics.NewServiceWithRepository(repo, metrics.Config{})

	err := rec.Record(context.Background(), nil)
	assert.Equal(t, metrics.ErrInvalidSample, errors.CodeOf(err))

	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())
	assert.Equal(t, 1, repo.closed)

	err = rec.Record(context.Background(), &sample.Sample{})
	assert.Equal(t, metrics.ErrClosed, errors.CodeOf(err))
}

func TestServiceHonoursCancelledContext(t *testing.T) {
	rec := metrics.NewServiceWithRepository(&memoryRepository{}, metrics.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rec.Record(ctx, &sample.Sample{})
	assert.Equal(t, metrics.ErrOperationTimeout, errors.CodeOf(err))
}

func TestAsRendererSkipsResets(t *testing.T) {
	repo := &memoryRepository{}
	r := metrics.AsRenderer(context.Background(), metrics.NewServiceWithRepository(repo, metrics.Config{}), logger.Nop())

	r.Render(&sample.Sample{Timestamp: 7})
	r.Render(nil)

	require.Len(t, repo.samples, 1)
	assert.Equal(t, int64(7), repo.samples[0].Timestamp)
}

func TestInfluxRepositoryWritesLineProtocol(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/write" {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			lines = append(lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rec, err := metrics.NewService(metrics.Config{
		Backend:      metrics.BackendInflux,
		InfluxURL:    srv.URL,
		InfluxOrg:    "lab",
		InfluxBucket: "sensors",
		BatchSize:    10,
		BatchTimeout: time.Hour,
	}, logger.Nop())
	require.NoError(t, err)

	require.NoError(t, rec.Record(context.Background(), &sample.Sample{
		Timestamp:   1_700_000_000_000,
		Temperature: sample.Float(21.5),
		BotStatus:   sample.String("Charging"),
	}))
	require.NoError(t, rec.Record(context.Background(), &sample.Sample{Timestamp: 1_700_000_001_000}))
	require.NoError(t, rec.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "sensor_sample,bot_status=Charging "))
	assert.Contains(t, lines[0], "temperature=21.5")
	assert.Contains(t, lines[1], "timestamp_ms=1700000001000i")
}
