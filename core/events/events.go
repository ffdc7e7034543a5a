package events

import (
	"time"

	"github.com/kilianp07/fleetrisk/core/model"
)

// DropReason labels MessageDropped.
type DropReason string

const (
	DropDecode DropReason = "decode"
	DropStore  DropReason = "store"
	DropPanic  DropReason = "panic"
)

// EventStored is published once per newly persisted event.
type EventStored struct {
	Event   model.TelemetryEvent
	Latency time.Duration
}

// StatsUpdated carries the aggregate committed for an event.
type StatsUpdated struct {
	Stats model.VehicleStatistics
	Event model.TelemetryEvent
}

// DuplicateSkipped is published when an event key was already aggregated.
type DuplicateSkipped struct {
	VehicleID string
	Key       string
}

// MessageDropped is published for every discarded message.
type MessageDropped struct {
	Topic     string
	VehicleID string
	Reason    DropReason
	Err       error
}
