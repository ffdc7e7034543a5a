package config

import (
	"errors"
	"time"

	"github.com/kilianp07/fleetrisk/core/factory"
)

// StoreConfig selects the event and statistics backend.
type StoreConfig struct {
	// Type is memory, sqlite or postgres.
	Type string         `json:"type"`
	Conf map[string]any `json:"conf"`
	// RetryIntervalMS is the delay between attempts to reach a backend that
	// was down at startup.
	RetryIntervalMS int `json:"retry_interval_ms"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "memory"
	}
	if c.RetryIntervalMS <= 0 {
		c.RetryIntervalMS = 5000
	}
}

func (c StoreConfig) Validate() error {
	if c.Type == "" {
		return errors.New("type is required")
	}
	return nil
}

// Module returns the backend selection for the storage registry.
func (c StoreConfig) Module() factory.ModuleConfig {
	return factory.ModuleConfig{Type: c.Type, Conf: c.Conf}
}

func (c StoreConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMS) * time.Millisecond
}
