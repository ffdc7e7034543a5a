package config

import (
	"errors"
	"time"
)

// HTTPConfig configures the query API listener.
type HTTPConfig struct {
	Address          string `json:"address"`
	RequestTimeoutMS int    `json:"request_timeout_ms"`
}

func (c *HTTPConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8000"
	}
	if c.RequestTimeoutMS <= 0 {
		c.RequestTimeoutMS = 5000
	}
}

func (c HTTPConfig) Validate() error {
	if c.Address == "" {
		return errors.New("address is required")
	}
	return nil
}

// RequestTimeout bounds each query.
func (c HTTPConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}
