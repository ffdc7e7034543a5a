// Package storage provides the durable store backends and the Provider that
// shields the pipeline from a backend that is not reachable yet.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/fleetrisk/core/factory"
	"github.com/kilianp07/fleetrisk/core/store"
)

var registry = factory.NewRegistry[Opener]()

func init() {
	_ = registry.Register("memory", func(map[string]any) (Opener, error) {
		return func(context.Context) (store.Store, error) { return store.NewMemoryStore(), nil }, nil
	})

	_ = registry.Register("sqlite", func(conf map[string]any) (Opener, error) {
		var c struct {
			Path string `json:"path"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.Path == "" {
			return nil, errors.New("path required")
		}
		return func(context.Context) (store.Store, error) { return NewSQLiteStore(c.Path) }, nil
	})

	_ = registry.Register("postgres", func(conf map[string]any) (Opener, error) {
		var c struct {
			DSN            string        `json:"dsn"`
			ConnectTimeout time.Duration `json:"connect_timeout"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.DSN == "" {
			return nil, errors.New("dsn required")
		}
		if c.ConnectTimeout <= 0 {
			c.ConnectTimeout = 5 * time.Second
		}
		return func(ctx context.Context) (store.Store, error) {
			ctx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
			defer cancel()
			return NewPostgresStore(ctx, c.DSN)
		}, nil
	})
}

// NewOpener returns the opener for cfg.Type: memory, sqlite or postgres.
func NewOpener(cfg factory.ModuleConfig) (Opener, error) {
	return registry.Create(cfg)
}

// Open connects synchronously, for one-shot commands.
func Open(ctx context.Context, cfg factory.ModuleConfig) (store.Store, error) {
	open, err := NewOpener(cfg)
	if err != nil {
		return nil, err
	}
	return open(ctx)
}
