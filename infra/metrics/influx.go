package metrics

import (
	"context"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/fleetrisk/core/logger"
	coremetrics "github.com/kilianp07/fleetrisk/core/metrics"
	"github.com/kilianp07/fleetrisk/core/model"
	infralogger "github.com/kilianp07/fleetrisk/infra/logger"
)

// InfluxSink writes telemetry readings and statistics snapshots to
// InfluxDB.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      infralogger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings InfluxDB and returns a NopSink when the
// health check fails, so a missing time-series database never blocks
// ingestion.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordIngest writes dropped messages only; stored ones arrive through
// RecordTelemetry.
func (s *InfluxSink) RecordIngest(ev coremetrics.IngestEvent) error {
	if ev.Outcome != coremetrics.OutcomeDropped {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("ingest_dropped").
		AddTag("reason", ev.Reason).
		AddField("count", 1).
		SetTime(ev.Time)
	if ev.VehicleID != "" {
		p.AddTag("vehicle_id", ev.VehicleID)
	}
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordTelemetry writes one point per stored event. Numeric readings
// become fields; other readings are skipped.
func (s *InfluxSink) RecordTelemetry(ev model.TelemetryEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("vehicle_telemetry").
		AddTag("vehicle_id", ev.VehicleID).
		AddTag("risk_class", ev.RiskClass.String()).
		AddField("processed_locally", ev.ProcessedLocally)
	if ev.DriverID != "" {
		p.AddTag("driver_id", ev.DriverID)
	}
	names := make([]string, 0, len(ev.SensorReadings))
	for name := range ev.SensorReadings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v, ok := ev.Reading(name); ok {
			p.AddField(name, round3(v))
		}
	}
	p.SetTime(ev.Timestamp)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordVehicleStats writes the aggregate after each update.
func (s *InfluxSink) RecordVehicleStats(st model.VehicleStatistics) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("vehicle_statistics").
		AddTag("vehicle_id", st.VehicleID).
		AddTag("classification", st.OverallClassification.String()).
		AddField("total_readings", int64(st.TotalReadings)).
		AddField("pct_safe", round3(st.PctSafe)).
		AddField("pct_moderate", round3(st.PctModerate)).
		AddField("pct_risky", round3(st.PctRisky)).
		AddField("last_seen_unix", st.LastSeen.Unix()).
		SetTime(st.UpdatedAt)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close flushes and releases the client.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
