package aggregate

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/kilianp07/fleetrisk/core/model"
	"github.com/kilianp07/fleetrisk/core/store"
)

const defaultStripes = 64

// Engine applies events to the statistics store. Updates for one vehicle
// are serialized; different vehicles proceed in parallel unless they share
// a lock stripe.
type Engine struct {
	stats   store.StatsStore
	policy  Policy
	stripes []stripe
	clock   func() time.Time
}

type stripe struct {
	mu chan struct{}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option { return func(e *Engine) { e.policy = p } }

// WithClock sets the time source for UpdatedAt.
func WithClock(clock func() time.Time) Option { return func(e *Engine) { e.clock = clock } }

// WithStripes sets the number of lock stripes.
func WithStripes(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.stripes = make([]stripe, n)
		}
	}
}

// NewEngine builds an Engine writing to stats.
func NewEngine(stats store.StatsStore, opts ...Option) *Engine {
	e := &Engine{
		stats:   stats,
		policy:  DefaultPolicy,
		stripes: make([]stripe, defaultStripes),
		clock:   time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	for i := range e.stripes {
		e.stripes[i].mu = make(chan struct{}, 1)
	}
	return e
}

// Policy returns the thresholds in use.
func (e *Engine) Policy() Policy { return e.policy }

// Apply folds ev into its vehicle's statistics and marks ev.Key applied in
// the same commit. It returns store.ErrAlreadyApplied when the key was
// already reflected.
func (e *Engine) Apply(ctx context.Context, ev model.TelemetryEvent) (model.VehicleStatistics, error) {
	s := &e.stripes[xxhash.Sum64String(ev.VehicleID)%uint64(len(e.stripes))]
	// a channel semaphore lets a waiting caller give up when ctx ends
	select {
	case s.mu <- struct{}{}:
	case <-ctx.Done():
		return model.VehicleStatistics{}, ctx.Err()
	}
	defer func() { <-s.mu }()

	return e.stats.Commit(ctx, ev.Key, ev.VehicleID, func(prev *model.VehicleStatistics) model.VehicleStatistics {
		return Next(prev, ev, e.policy, e.clock().UTC())
	})
}
