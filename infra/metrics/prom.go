package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/fleetrisk/core/metrics"
	"github.com/kilianp07/fleetrisk/core/model"
)

// PromSink exposes ingestion counters and per-vehicle risk gauges.
type PromSink struct {
	messages *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	classes  *prometheus.CounterVec
	latency  prometheus.Histogram
	risky    *prometheus.GaugeVec
	readings *prometheus.GaugeVec
}

// NewPromSink registers the collectors on the default registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers the collectors on reg, reusing
// collectors that are already registered. A nil reg means the default
// registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.messages, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetrisk_ingest_messages_total",
		Help: "Processed telemetry messages by outcome",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if s.dropped, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetrisk_ingest_dropped_total",
		Help: "Dropped telemetry messages by reason",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if s.classes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetrisk_events_stored_total",
		Help: "Stored telemetry events by risk class",
	}, []string{"risk_class"})); err != nil {
		return nil, err
	}
	if s.latency, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetrisk_store_latency_seconds",
		Help:    "Time to persist a new telemetry event",
		Buckets: prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}
	if s.risky, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetrisk_vehicle_risky_pct",
		Help: "Share of risky readings per vehicle",
	}, []string{"vehicle_id"})); err != nil {
		return nil, err
	}
	if s.readings, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetrisk_vehicle_readings",
		Help: "Total readings per vehicle",
	}, []string{"vehicle_id"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (s *PromSink) RecordIngest(ev coremetrics.IngestEvent) error {
	s.messages.WithLabelValues(string(ev.Outcome)).Inc()
	switch ev.Outcome {
	case coremetrics.OutcomeDropped:
		s.dropped.WithLabelValues(ev.Reason).Inc()
	case coremetrics.OutcomeStored:
		s.classes.WithLabelValues(ev.RiskClass.String()).Inc()
		s.latency.Observe(ev.Latency.Seconds())
	}
	return nil
}

func (s *PromSink) RecordVehicleStats(st model.VehicleStatistics) error {
	s.risky.WithLabelValues(st.VehicleID).Set(st.PctRisky)
	s.readings.WithLabelValues(st.VehicleID).Set(float64(st.TotalReadings))
	return nil
}
