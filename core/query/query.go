// Package query answers the read-only API from the stores and the live
// ingestion state.
package query

import (
	"context"
	"time"

	"github.com/kilianp07/fleetrisk/core/ingest"
	"github.com/kilianp07/fleetrisk/core/model"
	"github.com/kilianp07/fleetrisk/core/store"
)

const (
	DefaultRecentLimit = 100
	MaxRecentLimit     = 1000
	AlertLimit         = 50
	AlertType          = "risky_behavior"
)

// Availability reports whether the backing store is reachable.
type Availability interface {
	Available() bool
}

// Status is the health snapshot.
type Status struct {
	Status             string    `json:"status"`
	TransportConnected bool      `json:"transport_connected"`
	MessagesReceived   uint64    `json:"messages_received"`
	StoreAvailable     bool      `json:"store_available"`
	Timestamp          time.Time `json:"timestamp"`
}

// FleetSummary aggregates every vehicle. Percentages are recomputed from
// the summed counts, so vehicles weigh by their number of readings.
type FleetSummary struct {
	TotalReadings uint64    `json:"total_readings"`
	Safe          uint64    `json:"safe"`
	Moderate      uint64    `json:"moderate"`
	Risky         uint64    `json:"risky"`
	PctSafe       float64   `json:"pct_safe"`
	PctModerate   float64   `json:"pct_moderate"`
	PctRisky      float64   `json:"pct_risky"`
	Vehicles      int       `json:"vehicles"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Alert is a recent risky event.
type Alert struct {
	VehicleID string    `json:"vehicle_id"`
	DriverID  string    `json:"driver_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Speed     *float64  `json:"speed"`
	Type      string    `json:"type"`
}

// Service is safe for concurrent use.
type Service struct {
	events store.EventStore
	stats  store.StatsStore
	status ingest.StatusReader
	avail  Availability
	clock  func() time.Time
}

// NewService wires the query side. avail may be nil when the store is
// always reachable.
func NewService(es store.EventStore, ss store.StatsStore, status ingest.StatusReader, avail Availability) *Service {
	return &Service{events: es, stats: ss, status: status, avail: avail, clock: time.Now}
}

// WithClock replaces the time source, for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Status never fails.
func (s *Service) Status(context.Context) Status {
	st := Status{
		Status:         "online",
		StoreAvailable: s.avail == nil || s.avail.Available(),
		Timestamp:      s.clock().UTC(),
	}
	if s.status != nil {
		st.TransportConnected = s.status.Connected()
		st.MessagesReceived = s.status.MessagesReceived()
	}
	return st
}

// ClampLimit applies the default and the upper bound to a requested limit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	default:
		return limit
	}
}

// RecentEvents lists the newest events, optionally for one vehicle.
func (s *Service) RecentEvents(ctx context.Context, limit int, vehicleID string) ([]model.TelemetryEvent, error) {
	return s.events.ListRecent(ctx, store.RecentQuery{Limit: ClampLimit(limit), VehicleID: vehicleID})
}

// VehicleStatistics returns store.ErrNotFound for a vehicle that never
// reported.
func (s *Service) VehicleStatistics(ctx context.Context, vehicleID string) (model.VehicleStatistics, error) {
	return s.stats.Get(ctx, vehicleID)
}

// Vehicles lists every aggregate ordered by vehicle id.
func (s *Service) Vehicles(ctx context.Context) ([]model.VehicleStatistics, error) {
	return s.stats.List(ctx)
}

func (s *Service) FleetSummary(ctx context.Context) (FleetSummary, error) {
	all, err := s.stats.List(ctx)
	if err != nil {
		return FleetSummary{}, err
	}
	sum := FleetSummary{Vehicles: len(all), UpdatedAt: s.clock().UTC()}
	for _, v := range all {
		sum.TotalReadings += v.TotalReadings
		sum.Safe += v.CountSafe
		sum.Moderate += v.CountModerate
		sum.Risky += v.CountRisky
	}
	sum.PctSafe = model.Percent(sum.Safe, sum.TotalReadings)
	sum.PctModerate = model.Percent(sum.Moderate, sum.TotalReadings)
	sum.PctRisky = model.Percent(sum.Risky, sum.TotalReadings)
	return sum, nil
}

// Alerts returns the latest risky events, newest first.
func (s *Service) Alerts(ctx context.Context) ([]Alert, error) {
	evs, err := s.events.ListRecent(ctx, store.RecentQuery{Limit: AlertLimit, RiskClass: model.RiskRisky})
	if err != nil {
		return nil, err
	}
	out := make([]Alert, 0, len(evs))
	for _, ev := range evs {
		a := Alert{VehicleID: ev.VehicleID, DriverID: ev.DriverID, Timestamp: ev.Timestamp, Type: AlertType}
		if v, ok := ev.Reading("speed"); ok {
			a.Speed = &v
		}
		out = append(out, a)
	}
	return out, nil
}
