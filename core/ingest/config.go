package ingest

import "time"

// Config tunes the worker pool and retry policy.
type Config struct {
	// Workers is the number of shards; events of one vehicle always go to
	// the same shard.
	Workers int
	// QueueSize bounds each shard queue. Handle blocks while it is full.
	QueueSize int
	// MaxRetries counts attempts after the first one.
	MaxRetries int
	Backoff    time.Duration
	// OpTimeout bounds each store attempt.
	OpTimeout time.Duration
}

// DefaultConfig matches the config file defaults.
var DefaultConfig = Config{
	Workers:    8,
	QueueSize:  256,
	MaxRetries: 3,
	Backoff:    100 * time.Millisecond,
	OpTimeout:  2 * time.Second,
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultConfig.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultConfig.QueueSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultConfig.Backoff
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = DefaultConfig.OpTimeout
	}
	return c
}
