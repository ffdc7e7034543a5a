package mqtt

import (
	"context"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/fleetrisk/core/logger"
)

// pahoClient is the subset of paho.Client used here; tests swap it.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Handler receives every delivery on the subscribed topic.
type Handler interface {
	Handle(topic string, payload []byte) error
	SetConnected(bool)
}

// Subscriber feeds broker deliveries to a Handler. It subscribes again on
// every (re)connect and reports connection changes to the handler.
type Subscriber struct {
	cfg     Config
	cli     pahoClient
	handler Handler
	log     logger.Logger
}

// NewSubscriber prepares a client; nothing connects before Start.
func NewSubscriber(cfg Config, h Handler, log logger.Logger) (*Subscriber, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	s := &Subscriber{cfg: cfg, handler: h, log: log}
	opts.OnConnect = s.onConnect
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		s.log.Errorf("connection lost: %v", err)
		s.handler.SetConnected(false)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		s.log.Warnf("reconnecting to MQTT broker %s", cfg.Broker)
	}
	s.cli = newMQTTClient(opts)
	return s, nil
}

func (s *Subscriber) onConnect(c paho.Client) {
	s.log.Infof("MQTT connected to %s", s.cfg.Broker)
	tok := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage)
	if tok.Wait() && tok.Error() != nil {
		s.log.Errorf("subscribe %s: %v", s.cfg.Topic, tok.Error())
		s.handler.SetConnected(false)
		return
	}
	s.log.Infof("subscribed to %s (qos %d)", s.cfg.Topic, s.cfg.QoS)
	s.handler.SetConnected(true)
}

func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	if err := s.handler.Handle(msg.Topic(), msg.Payload()); err != nil {
		s.log.Warnf("message on %s not accepted: %v", msg.Topic(), err)
	}
}

// Start connects. When the broker is not reachable within the connect
// timeout, Start returns and the client keeps retrying in the background.
func (s *Subscriber) Start(ctx context.Context) error {
	tok := s.cli.Connect()
	timer := time.NewTimer(s.cfg.connectTimeout())
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		s.log.Warnf("MQTT broker %s not reachable yet, retrying in background", s.cfg.Broker)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop unsubscribes and disconnects.
func (s *Subscriber) Stop() {
	if s.cli.IsConnected() {
		if tok := s.cli.Unsubscribe(s.cfg.Topic); tok.WaitTimeout(time.Second) && tok.Error() != nil {
			s.log.Warnf("unsubscribe: %v", tok.Error())
		}
	}
	s.cli.Disconnect(250)
	s.handler.SetConnected(false)
}
