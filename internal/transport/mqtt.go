package transport

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"codeberg.org/mutker/sensordash/internal/errors"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	// DefaultTopic is subscribed when the endpoint URL carries no path.
	DefaultTopic = "telemetry"
	QoS          = 0

	mqttQueueSize = 64
	// disconnectQuiesce is in milliseconds, as paho expects.
	disconnectQuiesce = 250
)

// MQTTDialer subscribes to a topic on an MQTT broker. The endpoint has the
// form mqtt[s]://[user:pass@]host[:port]/topic.
type MQTTDialer struct {
	// NewClient is replaced in tests.
	NewClient func(*pahomqtt.ClientOptions) pahomqtt.Client
}

// NewMQTTDialer returns a dialer using the paho client.
func NewMQTTDialer() *MQTTDialer {
	return &MQTTDialer{NewClient: pahomqtt.NewClient}
}

func (*MQTTDialer) Name() string { return "MQTT" }

// BrokerAddress translates an mqtt:// endpoint into the broker URL and topic.
func BrokerAddress(endpoint string) (broker, topic string, user *url.Userinfo, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", nil, errors.New().Wrap(ErrUnsupportedScheme, err)
	}

	scheme := "tcp"
	switch strings.ToLower(u.Scheme) {
	case "mqtt":
	case "mqtts":
		scheme = "ssl"
	default:
		return "", "", nil, errors.New().WithData(ErrUnsupportedScheme, u.Scheme)
	}

	host := u.Host
	if u.Port() == "" {
		if scheme == "ssl" {
			host += ":8883"
		} else {
			host += ":1883"
		}
	}

	topic = strings.TrimPrefix(u.Path, "/")
	if topic == "" {
		topic = DefaultTopic
	}

	return scheme + "://" + host, topic, u.User, nil
}

func (d *MQTTDialer) Dial(ctx context.Context, endpoint string) (Channel, error) {
	errFactory := errors.New()

	broker, topic, user, err := BrokerAddress(endpoint)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrTransportOpen, err)
	}

	ch := &mqttChannel{
		msgs:   make(chan []byte, mqttQueueSize),
		faults: make(chan error, 1),
		done:   make(chan struct{}),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("sensordash-" + uuid.NewString()).
		SetAutoReconnect(false).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			select {
			case ch.faults <- err:
			default:
			}
		})
	if user != nil {
		pass, _ := user.Password()
		opts.SetUsername(user.Username()).SetPassword(pass)
	}

	ch.client = d.NewClient(opts)
	if err := waitToken(ctx, ch.client.Connect()); err != nil {
		return nil, errFactory.Wrap(errors.ErrTransportOpen, err)
	}

	token := ch.client.Subscribe(topic, QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		select {
		case ch.msgs <- msg.Payload():
		case <-ch.done:
		}
	})
	if err := waitToken(ctx, token); err != nil {
		ch.client.Disconnect(disconnectQuiesce)
		return nil, errFactory.Wrap(errors.ErrTransportOpen, err)
	}

	return ch, nil
}

func waitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type mqttChannel struct {
	client    pahomqtt.Client
	msgs      chan []byte
	faults    chan error
	done      chan struct{}
	closeOnce sync.Once
}

func (c *mqttChannel) Receive() ([]byte, error) {
	select {
	case data := <-c.msgs:
		return data, nil
	case err := <-c.faults:
		return nil, errors.New().Wrap(errors.ErrTransportRuntime, err)
	case <-c.done:
		return nil, errors.New().New(ErrClosed)
	}
}

func (c *mqttChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		// Disconnect blocks for at most the quiesce period.
		go c.client.Disconnect(disconnectQuiesce)
	})

	return nil
}
