package metrics

import (
	"errors"
	"io"

	"github.com/kilianp07/fleetrisk/core/model"
)

// MultiSink forwards records to several sinks. Every sink is called even
// when an earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordIngest(ev IngestEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordIngest(ev))
	}
	return errors.Join(errs...)
}

// RecordTelemetry forwards to sinks implementing TelemetryRecorder.
func (m *MultiSink) RecordTelemetry(ev model.TelemetryEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(TelemetryRecorder); ok {
			errs = append(errs, rec.RecordTelemetry(ev))
		}
	}
	return errors.Join(errs...)
}

// RecordVehicleStats forwards to sinks implementing StatsRecorder.
func (m *MultiSink) RecordVehicleStats(st model.VehicleStatistics) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(StatsRecorder); ok {
			errs = append(errs, rec.RecordVehicleStats(st))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.Sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
