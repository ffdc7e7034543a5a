package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/fleetrisk/core/events"
	"github.com/kilianp07/fleetrisk/core/logger"
	coremetrics "github.com/kilianp07/fleetrisk/core/metrics"
	"github.com/kilianp07/fleetrisk/internal/eventbus"
)

// StartEventCollector subscribes to bus and forwards pipeline events to
// sink until ctx is cancelled or the bus closes. Sink errors are logged
// and never stop collection. The returned channel is closed on exit.
func StartEventCollector(ctx context.Context, bus *eventbus.Bus, sink coremetrics.MetricsSink, log logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || sink == nil {
		close(done)
		return done
	}
	if log == nil {
		log = logger.Nop{}
	}
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := collect(ev, sink); err != nil {
					log.Warnf("metrics sink: %v", err)
				}
			}
		}
	}()
	return done
}

func collect(ev eventbus.Event, sink coremetrics.MetricsSink) error {
	now := time.Now()
	switch e := ev.(type) {
	case events.EventStored:
		if err := sink.RecordIngest(coremetrics.IngestEvent{
			VehicleID: e.Event.VehicleID,
			RiskClass: e.Event.RiskClass,
			Outcome:   coremetrics.OutcomeStored,
			Latency:   e.Latency,
			Time:      now,
		}); err != nil {
			return err
		}
		if r, ok := sink.(coremetrics.TelemetryRecorder); ok {
			return r.RecordTelemetry(e.Event)
		}
	case events.StatsUpdated:
		if r, ok := sink.(coremetrics.StatsRecorder); ok {
			return r.RecordVehicleStats(e.Stats)
		}
	case events.DuplicateSkipped:
		return sink.RecordIngest(coremetrics.IngestEvent{
			VehicleID: e.VehicleID,
			Outcome:   coremetrics.OutcomeDuplicate,
			Time:      now,
		})
	case events.MessageDropped:
		return sink.RecordIngest(coremetrics.IngestEvent{
			VehicleID: e.VehicleID,
			Outcome:   coremetrics.OutcomeDropped,
			Reason:    string(e.Reason),
			Time:      now,
		})
	}
	return nil
}
