package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetrisk/core/factory"
	"github.com/kilianp07/fleetrisk/core/model"
)

type recordingSink struct {
	ingest []IngestEvent
	stats  []model.VehicleStatistics
	err    error
}

func (r *recordingSink) RecordIngest(ev IngestEvent) error {
	r.ingest = append(r.ingest, ev)
	return r.err
}

func (r *recordingSink) RecordVehicleStats(st model.VehicleStatistics) error {
	r.stats = append(r.stats, st)
	return nil
}

func TestMultiSink_FanOut(t *testing.T) {
	failing := &recordingSink{err: errors.New("boom")}
	ok := &recordingSink{}
	m := NewMultiSink(failing, ok, NopSink{})

	err := m.RecordIngest(IngestEvent{VehicleID: "v1", Outcome: OutcomeStored})
	assert.Error(t, err)
	assert.Len(t, failing.ingest, 1)
	assert.Len(t, ok.ingest, 1, "later sinks still receive the record")

	require.NoError(t, m.RecordVehicleStats(model.VehicleStatistics{VehicleID: "v1"}))
	assert.Len(t, ok.stats, 1)
	require.NoError(t, m.RecordTelemetry(model.TelemetryEvent{VehicleID: "v1"}))
}

func TestNewMetricsSink(t *testing.T) {
	require.NoError(t, RegisterMetricsSink("test-recording", func(map[string]any) (MetricsSink, error) {
		return &recordingSink{}, nil
	}))

	s, err := NewMetricsSink(nil)
	require.NoError(t, err)
	assert.IsType(t, NopSink{}, s)

	s, err = NewMetricsSink([]factory.ModuleConfig{{Type: "test-recording"}})
	require.NoError(t, err)
	assert.IsType(t, &recordingSink{}, s)

	s, err = NewMetricsSink([]factory.ModuleConfig{{Type: "test-recording"}, {Type: "test-recording"}})
	require.NoError(t, err)
	assert.IsType(t, &MultiSink{}, s)

	_, err = NewMetricsSink([]factory.ModuleConfig{{Type: "missing"}})
	assert.Error(t, err)
}

type closingSink struct {
	NopSink
	closed bool
}

func (c *closingSink) Close() error {
	c.closed = true
	return errors.New("close failed")
}

func TestMultiSink_Close(t *testing.T) {
	c := &closingSink{}
	m := NewMultiSink(NopSink{}, c)
	err := m.Close()
	assert.True(t, c.closed)
	assert.EqualError(t, err, "close failed")
}

func TestNewMetricsSink_ClosesBuiltOnFailure(t *testing.T) {
	c := &closingSink{}
	require.NoError(t, RegisterMetricsSink("test-closing", func(map[string]any) (MetricsSink, error) {
		return c, nil
	}))
	_, err := NewMetricsSink([]factory.ModuleConfig{{Type: "test-closing"}, {Type: "missing"}})
	require.Error(t, err)
	assert.True(t, c.closed)
	assert.Contains(t, err.Error(), "metrics sink 1")
}
