package store

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/mutker/pzemd/internal/errors"
	"codeberg.org/mutker/pzemd/internal/logger"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

type influxStore struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	reader api.QueryAPI
	cfg    InfluxConfig
	logger logger.Logger
}

// NewInfluxStore connects to an InfluxDB v2 server. The connection is lazy;
// reachability is reported by Ping.
func NewInfluxStore(cfg InfluxConfig, log logger.Logger) (Store, error) {
	errFactory := errors.New()

	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errFactory.New(ErrMissingInflux)
	}

	opts := influxdb2.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(cfg.Timeout / time.Second))
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	log.Info().
		Str("url", cfg.URL).
		Str("org", cfg.Org).
		Str("bucket", cfg.Bucket).
		Msg("InfluxDB store initialized")

	return &influxStore{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		reader: client.QueryAPI(cfg.Org),
		cfg:    cfg,
		logger: log,
	}, nil
}

func (s *influxStore) WriteRealtime(ctx context.Context, rec *Realtime) error {
	p := influxdb2.NewPoint(MeasurementData, nil, rec.Fields(), rec.Time)
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}
	return nil
}

func (s *influxStore) WriteAlert(ctx context.Context, rec *Alert) error {
	p := influxdb2.NewPoint(MeasurementAlerts, rec.Tags(), rec.Fields(), rec.Time)
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}
	return nil
}

func (s *influxStore) WriteHealth(ctx context.Context, rec *Health) error {
	p := influxdb2.NewPoint(MeasurementHealth, rec.Tags(), rec.Fields(), rec.Time)
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}
	return nil
}

func (s *influxStore) LastValue(ctx context.Context, field string, start, stop time.Time) (float64, bool, error) {
	return s.windowValue(ctx, field, start, stop, selectorLast)
}

func (s *influxStore) FirstValue(ctx context.Context, field string, start, stop time.Time) (float64, bool, error) {
	return s.windowValue(ctx, field, start, stop, selectorFirst)
}

func (s *influxStore) windowValue(ctx context.Context, field string, start, stop time.Time, sel selector) (float64, bool, error) {
	errFactory := errors.New()

	if _, ok := dataColumns[field]; !ok {
		return 0, false, errFactory.WithData(ErrInvalidField, field)
	}

	flux := windowQuery(s.cfg.Bucket, MeasurementData, field, start, stop, sel)
	s.logger.Debug().Str("flux", flux).Msg("Executing window query")

	result, err := s.reader.Query(ctx, flux)
	if err != nil {
		return 0, false, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer result.Close()

	var (
		value float64
		at    time.Time
		found bool
	)
	// first()/last() run per series; pick the overall first/last.
	for result.Next() {
		rec := result.Record()
		v, ok := toFloat(rec.Value())
		if !ok {
			continue
		}
		t := rec.Time()
		if !found || (sel == selectorLast && t.After(at)) || (sel == selectorFirst && t.Before(at)) {
			value, at, found = v, t, true
		}
	}
	if err := result.Err(); err != nil {
		return 0, false, errFactory.Wrap(ErrQueryFailed, err)
	}

	return value, found, nil
}

func (s *influxStore) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return errors.New().Wrap(ErrUnreachable, err)
	}
	if !ok {
		return errors.New().New(ErrUnreachable)
	}
	return nil
}

func (s *influxStore) Close() error {
	s.client.Close()
	s.logger.Info().Msg("InfluxDB store closed")
	return nil
}

type selector string

const (
	selectorFirst selector = "first"
	selectorLast  selector = "last"
)

// windowQuery builds a Flux query for the first or last value of one field
// in [start, stop).
func windowQuery(bucket, measurement, field string, start, stop time.Time, sel selector) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r["_measurement"] == %q and r["_field"] == %q)
  |> %s()`,
		bucket,
		start.UTC().Format(time.RFC3339Nano),
		stop.UTC().Format(time.RFC3339Nano),
		measurement,
		field,
		sel,
	)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
