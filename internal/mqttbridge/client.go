package mqttbridge

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/muurk/dtvplus/internal/config"
	"github.com/muurk/dtvplus/internal/logging"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	maxReconnect   = 60 * time.Second
)

// MessageHandler receives one message. It runs on a paho goroutine and
// must return promptly.
type MessageHandler func(topic string, payload []byte)

// ClientAPI is the broker surface the bridge needs, so the bridge can be
// tested without a broker.
type ClientAPI interface {
	Subscribe(topic string, handler MessageHandler) error
	Publish(topic string, payload []byte, retain bool) error
}

// Client wraps a paho client. Subscriptions are restored after reconnects.
type Client struct {
	cli         pahomqtt.Client
	statusTopic string

	mu   sync.Mutex
	subs map[string]MessageHandler
}

// Connect dials the broker and publishes a retained "online" status. A
// retained "offline" will is left with the broker for unclean exits.
func Connect(settings config.MQTTSettings) (*Client, error) {
	broker, err := brokerURL(settings.Broker)
	if err != nil {
		return nil, err
	}

	c := &Client{
		statusTopic: StatusTopic(settings.TopicPrefix),
		subs:        make(map[string]MessageHandler),
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(settings.ClientID)
	if settings.Username != "" {
		opts.SetUsername(settings.Username)
		opts.SetPassword(settings.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(maxReconnect)
	opts.SetConnectTimeout(connectTimeout)
	// Handlers get their own goroutines instead of the in-order router
	opts.SetOrderMatters(false)
	opts.SetWill(c.statusTopic, "offline", 1, true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		logging.Info("MQTT connected", zap.String("broker", broker))
		c.restore()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logging.Warn("MQTT connection lost", zap.Error(err))
	})

	c.cli = pahomqtt.NewClient(opts)
	token := c.cli.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout after %v", broker, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}

	if err := c.Publish(c.statusTopic, []byte("online"), true); err != nil {
		logging.Warn("Failed to publish MQTT online status", zap.Error(err))
	}
	return c, nil
}

// brokerURL normalizes "host:port", "mqtt://" and "tls://" forms into what
// paho accepts.
func brokerURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("mqtt broker is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid mqtt broker %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid mqtt broker %q: missing host", raw)
	}

	host := u.Host
	switch u.Scheme {
	case "tcp", "mqtt":
		if u.Port() == "" {
			host += ":1883"
		}
		return "tcp://" + host, nil
	case "ssl", "tls", "mqtts":
		if u.Port() == "" {
			host += ":8883"
		}
		return "ssl://" + host, nil
	case "ws", "wss":
		return u.Scheme + "://" + host + u.Path, nil
	default:
		return "", fmt.Errorf("unsupported mqtt scheme %q", u.Scheme)
	}
}

// Subscribe registers a handler at QoS 1
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	return c.subscribe(topic, handler)
}

func (c *Client) subscribe(topic string, handler MessageHandler) error {
	token := c.cli.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	logging.Debug("MQTT subscribed", zap.String("topic", topic))
	return nil
}

func (c *Client) restore() {
	c.mu.Lock()
	subs := make(map[string]MessageHandler, len(c.subs))
	for topic, handler := range c.subs {
		subs[topic] = handler
	}
	c.mu.Unlock()

	for topic, handler := range subs {
		if err := c.subscribe(topic, handler); err != nil {
			logging.Warn("Failed to restore MQTT subscription", zap.String("topic", topic), zap.Error(err))
		}
	}
}

// Publish sends a message at QoS 1
func (c *Client) Publish(topic string, payload []byte, retain bool) error {
	token := c.cli.Publish(topic, 1, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// Close publishes a retained "offline" status and disconnects
func (c *Client) Close() {
	if err := c.Publish(c.statusTopic, []byte("offline"), true); err != nil {
		logging.Debug("Failed to publish MQTT offline status", zap.Error(err))
	}
	c.cli.Disconnect(250)
}
