package metrics

import (
	"time"

	"codeberg.org/mutker/sensordash/internal/errors"
	"codeberg.org/mutker/sensordash/internal/logger"
	"codeberg.org/mutker/sensordash/internal/sample"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const measurement = "sensor_sample"

type influxRepository struct {
	client influxdb2.Client
	api    api.WriteAPI
	logger logger.Logger
	done   chan struct{}
}

// NewInfluxRepository writes one point per sample through the client's
// batching, non-blocking write API.
func NewInfluxRepository(cfg Config, log logger.Logger) (Repository, error) {
	if cfg.InfluxURL == "" || cfg.InfluxBucket == "" {
		return nil, errors.New().WithMessage(ErrInvalidConfig, "influx url and bucket are required")
	}

	batch := cfg.BatchSize
	if batch < 1 {
		batch = defaultBatchSize
	}
	flush := cfg.BatchTimeout
	if flush <= 0 {
		flush = defaultBatchTimeout
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush / time.Millisecond))
	client := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)

	r := &influxRepository{
		client: client,
		api:    client.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket),
		logger: log.With("recorder"),
		done:   make(chan struct{}),
	}
	go r.drainErrors(r.api.Errors())

	r.logger.Info().
		Str("url", cfg.InfluxURL).
		Str("bucket", cfg.InfluxBucket).
		Int("batch_size", batch).
		Msg("Influx repository initialized")

	return r, nil
}

func (r *influxRepository) Record(s *sample.Sample) error {
	r.api.WritePoint(samplePoint(s))
	return nil
}

// Close flushes pending points and releases the client.
func (r *influxRepository) Close() error {
	r.api.Flush()
	r.client.Close()
	<-r.done

	r.logger.Info().Msg("Influx repository closed gracefully")

	return nil
}

// drainErrors logs asynchronous write failures until the client closes.
func (r *influxRepository) drainErrors(errs <-chan error) {
	defer close(r.done)

	for err := range errs {
		r.logger.ErrorWithCode(errors.New().Wrap(ErrRecordSample, err)).Msg("Influx write failed")
	}
}

func samplePoint(s *sample.Sample) *write.Point {
	p := influxdb2.NewPointWithMeasurement(measurement).SetTime(time.UnixMilli(s.Timestamp))

	if s.BotStatus != nil {
		p.AddTag("bot_status", *s.BotStatus)
	}

	fields := map[string]*float64{
		sample.KeyTemperature: s.Temperature,
		sample.KeyThermal:     s.Thermal,
		sample.KeyGas:         s.Gas,
		sample.KeyBattery:     s.Battery,
	}
	if s.GPS != nil {
		fields["lat"] = s.GPS.Lat
		fields["lng"] = s.GPS.Lng
	}

	for name, v := range fields {
		if v != nil {
			p.AddField(name, *v)
		}
	}

	// A point needs at least one field to be accepted.
	if len(p.FieldList()) == 0 {
		p.AddField("timestamp_ms", s.Timestamp)
	}

	return p
}
