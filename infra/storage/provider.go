package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kilianp07/fleetrisk/core/logger"
	"github.com/kilianp07/fleetrisk/core/model"
	"github.com/kilianp07/fleetrisk/core/store"
)

// Opener connects to a backend.
type Opener func(ctx context.Context) (store.Store, error)

// Provider hides a backend that may not be reachable at start-up. Until the
// backend opens, every call fails with store.ErrUnavailable; backend
// failures other than the store sentinels are reported the same way.
type Provider struct {
	open     Opener
	interval time.Duration
	log      logger.Logger

	mu      sync.RWMutex
	backend store.Store
	ready   chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewProvider returns a Provider that retries open every interval.
func NewProvider(open Opener, interval time.Duration, log logger.Logger) *Provider {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Provider{open: open, interval: interval, log: log, ready: make(chan struct{}), done: make(chan struct{})}
}

// Start tries to open the backend once synchronously, then keeps retrying
// in the background until it succeeds or ctx ends.
func (p *Provider) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	err := p.tryOpen(ctx)
	if err == nil {
		close(p.done)
		return
	}
	p.log.Warnf("store unavailable, retrying every %s: %v", p.interval, err)
	go func() {
		defer close(p.done)
		b := backoff.WithContext(backoff.NewConstantBackOff(p.interval), ctx)
		err := backoff.RetryNotify(func() error { return p.tryOpen(ctx) }, b, func(err error, _ time.Duration) {
			p.log.Debugf("store still unavailable: %v", err)
		})
		if err != nil {
			p.log.Warnf("store retry stopped: %v", err)
		}
	}()
}

func (p *Provider) tryOpen(ctx context.Context) error {
	s, err := p.open(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.backend = s
	p.mu.Unlock()
	close(p.ready)
	p.log.Infof("store available")
	return nil
}

// Available reports whether the backend has been opened.
func (p *Provider) Available() bool {
	select {
	case <-p.ready:
		return true
	default:
		return false
	}
}

// Ready is closed once the backend is open.
func (p *Provider) Ready() <-chan struct{} { return p.ready }

func (p *Provider) get() (store.Store, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.backend == nil {
		return nil, store.ErrUnavailable
	}
	return p.backend, nil
}

// classify maps backend failures to store.ErrUnavailable, keeping the
// store sentinels and context errors intact.
func classify(err error) error {
	switch {
	case err == nil,
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrAlreadyApplied),
		errors.Is(err, store.ErrUnknownEvent),
		errors.Is(err, store.ErrInvalidEvent),
		errors.Is(err, store.ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
}

func (p *Provider) PutIfAbsent(ctx context.Context, ev model.TelemetryEvent) (store.PutResult, error) {
	s, err := p.get()
	if err != nil {
		return store.PutResult{}, err
	}
	res, err := s.PutIfAbsent(ctx, ev)
	return res, classify(err)
}

func (p *Provider) ListRecent(ctx context.Context, q store.RecentQuery) ([]model.TelemetryEvent, error) {
	s, err := p.get()
	if err != nil {
		return nil, err
	}
	res, err := s.ListRecent(ctx, q)
	return res, classify(err)
}

func (p *Provider) Commit(ctx context.Context, key, vehicleID string, fn store.UpdateFunc) (model.VehicleStatistics, error) {
	s, err := p.get()
	if err != nil {
		return model.VehicleStatistics{}, err
	}
	res, err := s.Commit(ctx, key, vehicleID, fn)
	return res, classify(err)
}

func (p *Provider) Get(ctx context.Context, vehicleID string) (model.VehicleStatistics, error) {
	s, err := p.get()
	if err != nil {
		return model.VehicleStatistics{}, err
	}
	res, err := s.Get(ctx, vehicleID)
	return res, classify(err)
}

func (p *Provider) List(ctx context.Context) ([]model.VehicleStatistics, error) {
	s, err := p.get()
	if err != nil {
		return nil, err
	}
	res, err := s.List(ctx)
	return res, classify(err)
}

// Close stops retrying and closes the backend if it was opened.
func (p *Provider) Close() error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	s, err := p.get()
	if err != nil {
		return nil
	}
	return s.Close()
}
