package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/fleetrisk/core/aggregate"
	"github.com/kilianp07/fleetrisk/core/ingest"
)

// IngestConfig tunes the ingestion workers, retries and classification
// thresholds.
type IngestConfig struct {
	Workers     int     `json:"workers"`
	QueueSize   int     `json:"queue_size"`
	MaxRetries  int     `json:"max_retries"`
	BackoffMS   int     `json:"backoff_ms"`
	OpTimeoutMS int     `json:"op_timeout_ms"`
	AcceptCBOR  bool    `json:"accept_cbor"`
	RiskyPct    float64 `json:"risky_pct"`
	ModeratePct float64 `json:"moderate_pct"`
}

func (c *IngestConfig) SetDefaults() {
	d := ingest.DefaultConfig
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = int(d.Backoff / time.Millisecond)
	}
	if c.OpTimeoutMS <= 0 {
		c.OpTimeoutMS = int(d.OpTimeout / time.Millisecond)
	}
	if c.RiskyPct == 0 {
		c.RiskyPct = aggregate.DefaultPolicy.RiskyPct
	}
	if c.ModeratePct == 0 {
		c.ModeratePct = aggregate.DefaultPolicy.ModeratePct
	}
}

func (c IngestConfig) Validate() error {
	if c.RiskyPct < 0 || c.RiskyPct > 100 {
		return fmt.Errorf("risky_pct %v out of range", c.RiskyPct)
	}
	if c.ModeratePct < 0 || c.ModeratePct > 100 {
		return fmt.Errorf("moderate_pct %v out of range", c.ModeratePct)
	}
	return nil
}

// Coordinator converts the section into the coordinator settings.
func (c IngestConfig) Coordinator() ingest.Config {
	return ingest.Config{
		Workers:    c.Workers,
		QueueSize:  c.QueueSize,
		MaxRetries: c.MaxRetries,
		Backoff:    time.Duration(c.BackoffMS) * time.Millisecond,
		OpTimeout:  time.Duration(c.OpTimeoutMS) * time.Millisecond,
	}
}

// Policy returns the classification thresholds.
func (c IngestConfig) Policy() aggregate.Policy {
	return aggregate.Policy{RiskyPct: c.RiskyPct, ModeratePct: c.ModeratePct}
}
