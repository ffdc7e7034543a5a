// Package metrics defines the sinks that observe the ingestion pipeline.
// Every sink records ingest outcomes; sinks may also implement
// TelemetryRecorder or StatsRecorder to receive stored events and updated
// aggregates. NewMetricsSink builds sinks from configuration and combines
// several into a MultiSink.
package metrics

import (
	"time"

	"github.com/kilianp07/fleetrisk/core/factory"
	"github.com/kilianp07/fleetrisk/core/model"
)

// Config lists the configured sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PrometheusAddress optionally serves /metrics on its own listener.
	PrometheusAddress string `json:"prometheus_address"`
}

// Outcome is the fate of one inbound message.
type Outcome string

const (
	OutcomeStored    Outcome = "stored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDropped   Outcome = "dropped"
)

// IngestEvent describes one processed message.
type IngestEvent struct {
	VehicleID string
	RiskClass model.RiskClass
	Outcome   Outcome
	// Reason is set for dropped messages.
	Reason  string
	Latency time.Duration
	Time    time.Time
}

// MetricsSink is implemented by every sink.
type MetricsSink interface {
	RecordIngest(ev IngestEvent) error
}

// TelemetryRecorder receives each newly stored event.
type TelemetryRecorder interface {
	RecordTelemetry(ev model.TelemetryEvent) error
}

// StatsRecorder receives each committed aggregate.
type StatsRecorder interface {
	RecordVehicleStats(st model.VehicleStatistics) error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) RecordIngest(IngestEvent) error { return nil }
