// Package store defines the persistence contracts of the ingestion pipeline
// and an in-memory implementation.
//
// EventStore is the idempotency boundary: a key is written at most once.
// StatsStore owns the per-vehicle aggregates and commits an aggregate
// together with the "applied" mark of the event that produced it, so an
// event is reflected in its vehicle's statistics exactly once.
package store

import (
	"context"
	"errors"

	"github.com/kilianp07/fleetrisk/core/model"
)

var (
	// ErrNotFound is returned when a vehicle has never reported.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned while the backing store cannot be reached.
	ErrUnavailable = errors.New("store unavailable")
	// ErrAlreadyApplied is returned by Commit when the event key was already
	// reflected in the aggregate.
	ErrAlreadyApplied = errors.New("event already applied")
	// ErrUnknownEvent is returned by Commit for a key that was never stored.
	ErrUnknownEvent = errors.New("unknown event key")
	// ErrInvalidEvent is returned when an event can never be written, such
	// as sensor readings the backend cannot encode. Retrying will not help.
	ErrInvalidEvent = errors.New("event cannot be stored")
)

// PutStatus is the outcome of PutIfAbsent.
type PutStatus int

const (
	Stored PutStatus = iota
	AlreadyExists
)

func (s PutStatus) String() string {
	if s == Stored {
		return "stored"
	}
	return "already_exists"
}

// PutResult reports whether the event was written and, for existing rows,
// whether the row was already aggregated.
type PutResult struct {
	Status  PutStatus
	Applied bool
}

// RecentQuery filters ListRecent. Empty fields match everything.
type RecentQuery struct {
	Limit     int
	VehicleID string
	RiskClass model.RiskClass
}

// UpdateFunc computes the next aggregate from the current one, which is nil
// for a vehicle's first event.
type UpdateFunc func(prev *model.VehicleStatistics) model.VehicleStatistics

// EventStore persists telemetry events append-only.
type EventStore interface {
	PutIfAbsent(ctx context.Context, ev model.TelemetryEvent) (PutResult, error)
	// ListRecent returns events newest first; ties keep the later insertion
	// first.
	ListRecent(ctx context.Context, q RecentQuery) ([]model.TelemetryEvent, error)
}

// StatsStore persists per-vehicle statistics.
type StatsStore interface {
	// Commit atomically reads the aggregate of vehicleID, applies fn, writes
	// the result wholesale and marks key applied.
	Commit(ctx context.Context, key, vehicleID string, fn UpdateFunc) (model.VehicleStatistics, error)
	Get(ctx context.Context, vehicleID string) (model.VehicleStatistics, error)
	List(ctx context.Context) ([]model.VehicleStatistics, error)
}

// Store is implemented by every backend.
type Store interface {
	EventStore
	StatsStore
	Close() error
}
