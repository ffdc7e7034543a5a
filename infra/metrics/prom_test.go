package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/kilianp07/fleetrisk/core/metrics"
	"github.com/kilianp07/fleetrisk/core/model"
)

func TestPromSink_RecordIngest(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	events := []coremetrics.IngestEvent{
		{VehicleID: "v1", RiskClass: model.RiskRisky, Outcome: coremetrics.OutcomeStored, Latency: 3 * time.Millisecond},
		{VehicleID: "v1", RiskClass: model.RiskSafe, Outcome: coremetrics.OutcomeStored, Latency: 2 * time.Millisecond},
		{VehicleID: "v1", Outcome: coremetrics.OutcomeDuplicate},
		{Outcome: coremetrics.OutcomeDropped, Reason: "decode"},
	}
	for _, ev := range events {
		if err := sink.RecordIngest(ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	expected := `
# HELP fleetrisk_ingest_messages_total Processed telemetry messages by outcome
# TYPE fleetrisk_ingest_messages_total counter
fleetrisk_ingest_messages_total{outcome="dropped"} 1
fleetrisk_ingest_messages_total{outcome="duplicate"} 1
fleetrisk_ingest_messages_total{outcome="stored"} 2
`
	if err := testutil.CollectAndCompare(sink.messages, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	if v := testutil.ToFloat64(sink.dropped.WithLabelValues("decode")); v != 1 {
		t.Errorf("dropped = %v", v)
	}
	if v := testutil.ToFloat64(sink.classes.WithLabelValues("risky")); v != 1 {
		t.Errorf("risky stored = %v", v)
	}
	if c := testutil.CollectAndCount(sink.latency); c == 0 {
		t.Errorf("latency not recorded")
	}
}

func TestPromSink_RecordVehicleStats(t *testing.T) {
	sink, err := NewPromSinkWithRegistry(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	st := model.VehicleStatistics{VehicleID: "v9", TotalReadings: 10, PctRisky: 40}
	if err := sink.RecordVehicleStats(st); err != nil {
		t.Fatalf("record: %v", err)
	}
	if v := testutil.ToFloat64(sink.risky.WithLabelValues("v9")); v != 40 {
		t.Errorf("risky pct = %v", v)
	}
	if v := testutil.ToFloat64(sink.readings.WithLabelValues("v9")); v != 10 {
		t.Errorf("readings = %v", v)
	}
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if a.messages != b.messages {
		t.Errorf("expected shared collector")
	}
}
