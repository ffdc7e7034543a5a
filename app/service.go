// Package app wires the ingestion pipeline, the stores and the query API
// into one service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/fleetrisk/api"
	"github.com/kilianp07/fleetrisk/config"
	"github.com/kilianp07/fleetrisk/core/aggregate"
	"github.com/kilianp07/fleetrisk/core/decoder"
	"github.com/kilianp07/fleetrisk/core/ingest"
	coremetrics "github.com/kilianp07/fleetrisk/core/metrics"
	coremon "github.com/kilianp07/fleetrisk/core/monitoring"
	"github.com/kilianp07/fleetrisk/core/query"
	"github.com/kilianp07/fleetrisk/infra/deadletter"
	"github.com/kilianp07/fleetrisk/infra/logger"
	"github.com/kilianp07/fleetrisk/infra/metrics"
	"github.com/kilianp07/fleetrisk/infra/monitoring"
	"github.com/kilianp07/fleetrisk/infra/mqtt"
	"github.com/kilianp07/fleetrisk/infra/storage"
	"github.com/kilianp07/fleetrisk/internal/eventbus"
)

const drainTimeout = 10 * time.Second

// Service owns every long-running component.
type Service struct {
	cfg   *config.Config
	log   logger.Logger
	bus   *eventbus.Bus
	store *storage.Provider
	coord *ingest.Coordinator
	sub   *mqtt.Subscriber
	api   *api.Server
	sink  coremetrics.MetricsSink
	dead  *deadletter.JSONLStore
}

// New creates a Service from the configuration. Nothing connects until Run.
func New(cfg *config.Config) (*Service, error) {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("monitoring: %w", err)
	}
	coremon.Init(mon)

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	open, err := storage.NewOpener(cfg.Store.Module())
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	provider := storage.NewProvider(open, cfg.Store.RetryInterval(), logger.New("store"))

	bus := eventbus.New(256)
	opts := []ingest.Option{ingest.WithBus(bus), ingest.WithLogger(logger.New("ingest"))}
	var dead *deadletter.JSONLStore
	if cfg.DeadLetter.Path != "" {
		dead, err = deadletter.NewJSONLStore(cfg.DeadLetter)
		if err != nil {
			return nil, fmt.Errorf("dead letters: %w", err)
		}
		opts = append(opts, ingest.WithDeadLetters(dead))
	}

	dec := decoder.New(decoder.Options{TopicPattern: cfg.MQTT.Topic, AcceptCBOR: cfg.Ingest.AcceptCBOR})
	engine := aggregate.NewEngine(provider, aggregate.WithPolicy(cfg.Ingest.Policy()))
	coord := ingest.New(cfg.Ingest.Coordinator(), dec, provider, engine, opts...)

	sub, err := mqtt.NewSubscriber(cfg.MQTT, coord, logger.New("mqtt"))
	if err != nil {
		return nil, fmt.Errorf("mqtt subscriber: %w", err)
	}

	svc := query.NewService(provider, provider, coord.Status(), provider)
	server, err := api.NewServer(svc,
		api.WithBus(bus),
		api.WithLogger(logger.New("api")),
		api.WithTimeout(cfg.HTTP.RequestTimeout()),
	)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	return &Service{
		cfg:   cfg,
		log:   logg,
		bus:   bus,
		store: provider,
		coord: coord,
		sub:   sub,
		api:   server,
		sink:  sink,
		dead:  dead,
	}, nil
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails. Queued messages are drained before Run returns.
func (s *Service) Run(ctx context.Context) error {
	defer coremon.Recover()

	s.store.Start(ctx)
	// workers outlive ctx so that queued events finish during shutdown
	s.coord.Start(context.WithoutCancel(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-metrics.StartEventCollector(gctx, s.bus, s.sink, logger.New("metrics"))
		return nil
	})
	g.Go(func() error {
		return s.api.ListenAndServe(gctx, s.cfg.HTTP.Address)
	})
	if addr := s.cfg.Metrics.PrometheusAddress; addr != "" {
		g.Go(func() error {
			return metrics.StartPromServer(gctx, addr, logger.New("prometheus"))
		})
	}
	g.Go(func() error {
		if err := s.sub.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mqtt: %w", err)
		}
		<-gctx.Done()
		s.sub.Stop()
		return nil
	})

	err := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if cerr := s.coord.Close(drainCtx); cerr != nil {
		s.log.Warnf("ingest drain incomplete: %v", cerr)
	}
	return err
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.api.Close()
	s.bus.Close()
	var errs []error
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if s.dead != nil {
		if err := s.dead.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dead letters: %w", err))
		}
	}
	if c, ok := s.sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("metrics sink: %w", err))
		}
	}
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
