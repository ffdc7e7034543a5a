package mqtt

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kilianp07/fleetrisk/core/logger"
	"github.com/kilianp07/fleetrisk/core/monitoring"
)

// Publisher sends telemetry to the broker, as a vehicle unit would. It is
// used by the simulate command.
type Publisher struct {
	cfg Config
	cli pahoClient
	log logger.Logger
}

// NewPublisher connects to the broker.
func NewPublisher(cfg Config, log logger.Logger) (*Publisher, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts.SetConnectRetry(false)
	c := newMQTTClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(cfg.connectTimeout()) {
		return nil, fmt.Errorf("connect %s: timeout", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	return &Publisher{cfg: cfg, cli: c, log: log}, nil
}

// TopicFor fills the "+" of the configured topic with vehicleID.
func (p *Publisher) TopicFor(vehicleID string) string {
	return TopicFor(p.cfg.Topic, vehicleID)
}

// Publish sends payload, retrying with exponential backoff.
func (p *Publisher) Publish(topic string, payload []byte) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(p.cfg.BackoffMS) * time.Millisecond
	eb.MaxElapsedTime = 0
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		tok := p.cli.Publish(topic, p.cfg.QoS, false, payload)
		tok.Wait()
		if err := tok.Error(); err != nil {
			p.log.Errorf("publish attempt %d to %s failed: %v", attempt, topic, err)
			return err
		}
		return nil
	}, backoff.WithMaxRetries(eb, uint64(p.cfg.MaxRetries)))
	if err != nil {
		monitoring.CaptureException(err, map[string]string{"topic": topic})
	}
	return err
}

// Close disconnects gracefully.
func (p *Publisher) Close() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
