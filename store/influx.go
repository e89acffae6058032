package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog"

	"github.com/timzifer/meteohub/config"
	"github.com/timzifer/meteohub/reading"
	"github.com/timzifer/meteohub/series"
	"github.com/timzifer/meteohub/telemetry"
)

// Influx persists readings to InfluxDB and reconstructs per-metric series
// from Flux range queries. Without a token the store runs disabled: writes
// are no-ops and queries return the all-empty set.
type Influx struct {
	client      influxdb2.Client
	write       api.WriteAPI
	query       api.QueryAPI
	bucket      string
	measurement string
	logger      zerolog.Logger
	collector   telemetry.Collector
	done        chan struct{}
	closeOnce   sync.Once
}

// NewInflux builds the store gateway. Missing credentials disable store I/O
// instead of failing; the rest of the pipeline keeps running.
func NewInflux(cfg config.InfluxConfig, logger zerolog.Logger, collector telemetry.Collector) *Influx {
	if collector == nil {
		collector = telemetry.Noop()
	}
	s := &Influx{
		bucket:      cfg.Bucket,
		measurement: cfg.Measurement,
		logger:      logger,
		collector:   collector,
		done:        make(chan struct{}),
	}
	if cfg.Token == "" {
		logger.Warn().Msg("influx: no token provided, store I/O is disabled")
		close(s.done)
		return s
	}

	options := influxdb2.DefaultOptions()
	if cfg.FlushInterval.Duration > 0 {
		options = options.SetFlushInterval(uint(cfg.FlushInterval.Duration.Milliseconds()))
	}
	s.client = influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)
	s.write = s.client.WriteAPI(cfg.Org, cfg.Bucket)
	s.query = s.client.QueryAPI(cfg.Org)

	go s.drainWriteErrors()

	logger.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("influx: write/query API initialized")
	return s
}

// Enabled reports whether the gateway has a backing store configured.
func (s *Influx) Enabled() bool {
	return s != nil && s.write != nil
}

// Persist queues one reading for durable storage. Only present metrics become
// fields; a reading with no present metrics is skipped entirely. The write is
// asynchronous and never blocks or fails the caller.
func (s *Influx) Persist(r reading.Reading) {
	if s == nil || s.write == nil {
		return
	}
	fields := make(map[string]interface{})
	for _, key := range reading.MetricKeys() {
		if value, ok := r.Metric(key); ok {
			fields[string(key)] = value
		}
	}
	if len(fields) == 0 {
		return
	}
	point := influxdb2.NewPoint(
		s.measurement,
		map[string]string{"deviceId": r.DeviceID},
		fields,
		r.Timestamp,
	)
	s.write.WritePoint(point)
}

// Query reconstructs per-metric ascending series for the last rangeMinutes,
// optionally filtered to one device. Rows with unusable values are skipped
// silently; a disabled store yields the empty set without error.
func (s *Influx) Query(ctx context.Context, rangeMinutes int, deviceID string) (series.Set, error) {
	set := series.EmptySet()
	if s == nil || s.query == nil {
		return set, nil
	}
	if rangeMinutes < 1 {
		rangeMinutes = 1
	}

	flux := buildFlux(s.bucket, s.measurement, rangeMinutes, deviceID)
	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return series.EmptySet(), fmt.Errorf("influx query: %w", err)
	}

	for result.Next() {
		record := result.Record()
		field := record.Field()
		if !reading.IsMetricKey(field) {
			continue
		}
		value, ok := record.Value().(float64)
		if !ok || !series.IsFinite(value) {
			continue
		}
		ts := record.Time()
		if ts.IsZero() {
			continue
		}
		key := reading.MetricKey(field)
		set[key] = append(set[key], series.TimePoint{TS: ts.UnixMilli(), Value: value})
	}
	if err := result.Err(); err != nil {
		return series.EmptySet(), fmt.Errorf("influx query rows: %w", err)
	}

	set.SortAscending()
	return set, nil
}

// Close flushes pending writes and shuts the client down. Flushing after the
// client has stopped would block forever, so only the first call acts.
func (s *Influx) Close() {
	if s == nil || s.client == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.write.Flush()
		s.client.Close()
		<-s.done
	})
}

func (s *Influx) drainWriteErrors() {
	defer close(s.done)
	for err := range s.write.Errors() {
		s.collector.IncStoreWriteFailure()
		s.logger.Error().Err(err).Msg("influx: write failed")
	}
}

// buildFlux renders the range query. Metric filtering happens server-side so
// foreign fields in the bucket never reach the assembler.
func buildFlux(bucket, measurement string, rangeMinutes int, deviceID string) string {
	fieldFilters := make([]string, 0, len(reading.MetricKeys()))
	for _, key := range reading.MetricKeys() {
		fieldFilters = append(fieldFilters, fmt.Sprintf("r._field == %q", string(key)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&b, "  |> range(start: -%dm)\n", rangeMinutes)
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q)\n", measurement)
	if deviceID != "" {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r.deviceId == %q)\n", deviceID)
	}
	fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", strings.Join(fieldFilters, " or "))
	b.WriteString("  |> keep(columns: [\"_time\", \"_value\", \"_field\"])\n")
	b.WriteString("  |> sort(columns: [\"_time\"])\n")
	return b.String()
}
