package store

import (
	"context"
	"sort"
	"sync"

	"github.com/kilianp07/fleetrisk/core/model"
)

type memoryEvent struct {
	seq     uint64
	event   model.TelemetryEvent
	applied bool
}

// MemoryStore keeps events and statistics in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	seq    uint64
	events map[string]*memoryEvent
	order  []*memoryEvent
	stats  map[string]model.VehicleStatistics
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: map[string]*memoryEvent{},
		stats:  map[string]model.VehicleStatistics{},
	}
}

func (s *MemoryStore) PutIfAbsent(ctx context.Context, ev model.TelemetryEvent) (PutResult, error) {
	if err := ctx.Err(); err != nil {
		return PutResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.events[ev.Key]; ok {
		return PutResult{Status: AlreadyExists, Applied: existing.applied}, nil
	}
	s.seq++
	rec := &memoryEvent{seq: s.seq, event: cloneEvent(ev)}
	s.events[ev.Key] = rec
	s.order = append(s.order, rec)
	return PutResult{Status: Stored}, nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, q RecentQuery) ([]model.TelemetryEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matched := make([]*memoryEvent, 0, len(s.order))
	for _, rec := range s.order {
		if q.VehicleID != "" && rec.event.VehicleID != q.VehicleID {
			continue
		}
		if q.RiskClass != "" && rec.event.RiskClass != q.RiskClass {
			continue
		}
		matched = append(matched, rec)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.event.Timestamp.Equal(b.event.Timestamp) {
			return a.event.Timestamp.After(b.event.Timestamp)
		}
		return a.seq > b.seq
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]model.TelemetryEvent, len(matched))
	for i, rec := range matched {
		out[i] = cloneEvent(rec.event)
	}
	return out, nil
}

func (s *MemoryStore) Commit(ctx context.Context, key, vehicleID string, fn UpdateFunc) (model.VehicleStatistics, error) {
	if err := ctx.Err(); err != nil {
		return model.VehicleStatistics{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.events[key]
	if !ok {
		return model.VehicleStatistics{}, ErrUnknownEvent
	}
	if rec.applied {
		return s.stats[vehicleID], ErrAlreadyApplied
	}
	var prev *model.VehicleStatistics
	if cur, ok := s.stats[vehicleID]; ok {
		prev = &cur
	}
	next := fn(prev)
	s.stats[vehicleID] = next
	rec.applied = true
	return next, nil
}

func (s *MemoryStore) Get(ctx context.Context, vehicleID string) (model.VehicleStatistics, error) {
	if err := ctx.Err(); err != nil {
		return model.VehicleStatistics{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[vehicleID]
	if !ok {
		return model.VehicleStatistics{}, ErrNotFound
	}
	return st, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]model.VehicleStatistics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	res := make([]model.VehicleStatistics, 0, len(s.stats))
	for _, st := range s.stats {
		res = append(res, st)
	}
	s.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].VehicleID < res[j].VehicleID })
	return res, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func cloneEvent(ev model.TelemetryEvent) model.TelemetryEvent {
	if ev.SensorReadings != nil {
		readings := make(map[string]any, len(ev.SensorReadings))
		for k, v := range ev.SensorReadings {
			readings[k] = v
		}
		ev.SensorReadings = readings
	}
	return ev
}
