package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"gitlab.com/d21d3q/wmbusd/internal/driver"
	"gitlab.com/d21d3q/wmbusd/internal/meter"
)

// ErrMQTTTimeout reports a publish or connect that did not complete
// within the deadline.
var ErrMQTTTimeout = errors.New("mqtt operation timed out")

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
)

// MQTTOptions configures the broker sink.
type MQTTOptions struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Username string
	Password string
	Prefix   string // topic prefix, reading goes to <prefix>/<meter-name>
	QoS      byte
	Retain   bool
}

// MQTTSink publishes each reading as JSON to <prefix>/<meter-name>.
type MQTTSink struct {
	client   pahomqtt.Client
	opts     MQTTOptions
	renderer Renderer
	log      *logrus.Entry
}

// NewMQTTSink connects to the broker.
func NewMQTTSink(opts MQTTOptions) (*MQTTSink, error) {
	clientOpts := pahomqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	client := pahomqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("%w: connect to %s", ErrMQTTTimeout, opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &MQTTSink{
		client:   client,
		opts:     opts,
		renderer: Renderer{Format: FormatJSON},
		log:      logrus.WithField("component", "mqtt"),
	}, nil
}

// Publish sends the JSON reading to the meter's topic.
func (s *MQTTSink) Publish(_ context.Context, id meter.Identity, reading *driver.Reading) error {
	payload, err := s.renderer.Render(id, reading)
	if err != nil {
		return err
	}
	topic := s.opts.Prefix + "/" + id.Name
	token := s.client.Publish(topic, s.opts.QoS, s.opts.Retain, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("%w: publish to %s", ErrMQTTTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	s.log.WithField("topic", topic).Debug("reading published")
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
