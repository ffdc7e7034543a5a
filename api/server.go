// Package api serves the read-only query endpoints over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/fleetrisk/core/logger"
	"github.com/kilianp07/fleetrisk/core/query"
	"github.com/kilianp07/fleetrisk/internal/eventbus"
)

// Server routes HTTP requests to the query service.
type Server struct {
	svc      *query.Service
	bus      *eventbus.Bus
	log      logger.Logger
	timeout  time.Duration
	reg      prometheus.Registerer
	gatherer prometheus.Gatherer
	router   *mux.Router
	metrics  *httpMetrics

	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Server)

// WithBus enables the /stream websocket feed.
func WithBus(b *eventbus.Bus) Option { return func(s *Server) { s.bus = b } }

func WithLogger(l logger.Logger) Option { return func(s *Server) { s.log = l } }

// WithTimeout bounds each query request.
func WithTimeout(d time.Duration) Option { return func(s *Server) { s.timeout = d } }

// WithRegistry registers HTTP metrics on reg and serves /metrics from g.
func WithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.reg = reg
		s.gatherer = g
	}
}

// NewServer builds the router.
func NewServer(svc *query.Service, opts ...Option) (*Server, error) {
	s := &Server{
		svc:      svc,
		log:      logger.Nop{},
		timeout:  5 * time.Second,
		reg:      prometheus.DefaultRegisterer,
		gatherer: prometheus.DefaultGatherer,
		router:   mux.NewRouter(),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	m, err := newHTTPMetrics(s.reg)
	if err != nil {
		return nil, err
	}
	s.metrics = m
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	api := r.NewRoute().Subrouter()
	api.Use(s.logging, s.instrument, s.withTimeout)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/events/recent", s.handleRecent).Methods(http.MethodGet)
	api.HandleFunc("/vehicles", s.handleVehicles).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}/statistics", s.handleVehicleStats).Methods(http.MethodGet)
	api.HandleFunc("/fleet/summary", s.handleFleetSummary).Methods(http.MethodGet)
	api.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	if s.bus != nil {
		r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	}
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler { return cors(s.router) }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("query api listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// Close ends open websocket streams.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
