// Package ingest turns transport deliveries into stored events and
// statistics updates.
//
// The transport callback decodes synchronously and hands each event to the
// shard owning its vehicle. A shard processes its queue sequentially, so
// events of one vehicle are stored and aggregated in arrival order while
// different vehicles are handled concurrently.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"

	"github.com/kilianp07/fleetrisk/core/events"
	"github.com/kilianp07/fleetrisk/core/logger"
	"github.com/kilianp07/fleetrisk/core/model"
	"github.com/kilianp07/fleetrisk/core/monitoring"
	"github.com/kilianp07/fleetrisk/core/store"
	"github.com/kilianp07/fleetrisk/internal/eventbus"
)

// ErrClosed is returned by Handle after Close.
var ErrClosed = errors.New("coordinator closed")

// Decoder parses raw deliveries.
type Decoder interface {
	Decode(topic string, payload []byte) (model.TelemetryEvent, error)
}

// Applier folds a stored event into its vehicle's statistics.
type Applier interface {
	Apply(ctx context.Context, ev model.TelemetryEvent) (model.VehicleStatistics, error)
}

type job struct {
	ev      model.TelemetryEvent
	payload []byte
}

// Coordinator runs the ingestion pipeline.
type Coordinator struct {
	cfg    Config
	dec    Decoder
	events store.EventStore
	engine Applier
	bus    eventbus.Publisher
	dead   DeadLetterWriter
	log    logger.Logger
	clock  func() time.Time
	state  State

	mu     sync.RWMutex
	closed bool
	shards []chan job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

func WithBus(p eventbus.Publisher) Option       { return func(c *Coordinator) { c.bus = p } }
func WithDeadLetters(w DeadLetterWriter) Option { return func(c *Coordinator) { c.dead = w } }
func WithLogger(l logger.Logger) Option         { return func(c *Coordinator) { c.log = l } }
func WithClock(clock func() time.Time) Option   { return func(c *Coordinator) { c.clock = clock } }

// New builds a Coordinator. Handle queues events but nothing is processed
// until Start.
func New(cfg Config, dec Decoder, es store.EventStore, engine Applier, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:    cfg.withDefaults(),
		dec:    dec,
		events: es,
		engine: engine,
		bus:    eventbus.Nop{},
		dead:   nopDeadLetters{},
		log:    logger.Nop{},
		clock:  time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.shards = make([]chan job, c.cfg.Workers)
	for i := range c.shards {
		c.shards[i] = make(chan job, c.cfg.QueueSize)
	}
	return c
}

// Status returns the live transport and counter state.
func (c *Coordinator) Status() StatusReader { return &c.state }

// SetConnected records a transport connect or disconnect.
func (c *Coordinator) SetConnected(v bool) {
	c.state.setConnected(v)
	if v {
		c.log.Infof("transport connected")
	} else {
		c.log.Warnf("transport disconnected")
	}
}

// Start launches one worker per shard. Store operations run under ctx.
func (c *Coordinator) Start(ctx context.Context) {
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(ctx)
	for i, q := range c.shards {
		c.wg.Add(1)
		go c.worker(i, q)
	}
	c.log.Infof("ingest started with %d workers", len(c.shards))
}

// Close stops accepting messages and waits for queued ones to finish. When
// ctx expires first, in-flight retries are abandoned.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, q := range c.shards {
		close(q)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		c.cancel()
		<-done
	}
	c.cancel()
	return err
}

// Handle is the transport callback. It decodes payload and queues the event
// on its vehicle's shard, blocking while that shard is full.
func (c *Coordinator) Handle(topic string, payload []byte) error {
	c.state.incReceived()

	ev, err := c.dec.Decode(topic, payload)
	if err != nil {
		c.log.Warnf("dropping message on %s: %v", topic, err)
		c.drop(events.DropDecode, topic, model.TelemetryEvent{}, payload, err)
		return nil
	}

	now := c.clock().UTC()
	ev.Key = model.DeriveKey(ev.VehicleID, ev.Timestamp, ev.Ordinal)
	ev.Topic = topic
	ev.ReceivedAt = now
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	q := c.shards[xxhash.Sum64String(ev.VehicleID)%uint64(len(c.shards))]
	select {
	case q <- job{ev: ev, payload: payload}:
		return nil
	case <-c.ctx.Done():
		c.drop(events.DropStore, topic, ev, payload, c.ctx.Err())
		return c.ctx.Err()
	}
}

func (c *Coordinator) worker(id int, q <-chan job) {
	defer c.wg.Done()
	defer monitoring.Recover()
	for j := range q {
		c.processSafe(j)
	}
	c.log.Debugf("ingest worker %d stopped", id)
}

// processSafe keeps the worker alive when processing one message panics; the
// message is reported and dead-lettered instead.
func (c *Coordinator) processSafe(j job) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.ReportPanic(r)
			c.log.Errorf("panic processing %s for %s: %v", j.ev.Key, j.ev.VehicleID, r)
			c.drop(events.DropPanic, j.ev.Topic, j.ev, j.payload, fmt.Errorf("panic: %v", r))
		}
	}()
	c.process(j)
}

func (c *Coordinator) process(j job) {
	ev := j.ev
	start := c.clock()

	var res store.PutResult
	err := c.retry(ev, "store", func(ctx context.Context) error {
		r, err := c.events.PutIfAbsent(ctx, ev)
		res = r
		return err
	})
	if err != nil {
		c.drop(events.DropStore, ev.Topic, ev, j.payload, fmt.Errorf("store event: %w", err))
		return
	}
	if res.Status == store.AlreadyExists && res.Applied {
		c.duplicate(ev)
		return
	}
	if res.Status == store.Stored {
		c.bus.Publish(events.EventStored{Event: ev, Latency: c.clock().Sub(start)})
	} else {
		c.log.Infof("completing aggregation of stored event %s for %s", ev.Key, ev.VehicleID)
	}

	var stats model.VehicleStatistics
	err = c.retry(ev, "aggregate", func(ctx context.Context) error {
		s, err := c.engine.Apply(ctx, ev)
		stats = s
		return err
	})
	switch {
	case errors.Is(err, store.ErrAlreadyApplied):
		c.duplicate(ev)
	case err != nil:
		c.drop(events.DropStore, ev.Topic, ev, j.payload, fmt.Errorf("aggregate event: %w", err))
	default:
		c.log.Debugw("event processed", map[string]any{
			"vehicle_id": ev.VehicleID,
			"key":        ev.Key,
			"risk_class": ev.RiskClass.String(),
			"overall":    stats.OverallClassification.String(),
		})
		c.bus.Publish(events.StatsUpdated{Stats: stats, Event: ev})
	}
}

// retry runs fn with a per-attempt timeout until it succeeds, fails
// permanently or the retry budget is spent.
func (c *Coordinator) retry(ev model.TelemetryEvent, op string, fn func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.Backoff
	eb.MaxInterval = 20 * c.cfg.Backoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.MaxRetries)), c.ctx)

	attempt := func() error {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.OpTimeout)
		defer cancel()
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrAlreadyApplied) || errors.Is(err, store.ErrUnknownEvent) ||
			errors.Is(err, store.ErrInvalidEvent) || c.ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(attempt, b, func(err error, wait time.Duration) {
		c.log.Warnf("%s %s for %s failed, retrying in %s: %v", op, ev.Key, ev.VehicleID, wait, err)
	})
}

func (c *Coordinator) duplicate(ev model.TelemetryEvent) {
	c.log.Debugf("duplicate event %s for %s", ev.Key, ev.VehicleID)
	c.bus.Publish(events.DuplicateSkipped{VehicleID: ev.VehicleID, Key: ev.Key})
}

func (c *Coordinator) drop(reason events.DropReason, topic string, ev model.TelemetryEvent, payload []byte, err error) {
	if reason == events.DropStore {
		c.log.Errorf("dropping event %s for %s: %v", ev.Key, ev.VehicleID, err)
		monitoring.CaptureException(err, map[string]string{"vehicle_id": ev.VehicleID, "topic": topic})
	}
	c.bus.Publish(events.MessageDropped{Topic: topic, VehicleID: ev.VehicleID, Reason: reason, Err: err})
	rec := DeadLetter{
		Time:      c.clock().UTC(),
		Topic:     topic,
		VehicleID: ev.VehicleID,
		Key:       ev.Key,
		Reason:    string(reason),
		Error:     err.Error(),
		Payload:   payload,
	}
	if werr := c.dead.WriteDeadLetter(rec); werr != nil {
		c.log.Errorf("dead letter write failed: %v", werr)
	}
}
