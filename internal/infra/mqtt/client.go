package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	DefaultBroker = "ws://localhost:9001"

	// Device updates are fire-and-forget.
	qos = 0

	quiesceMillis = 250
)

var ErrNotConnected = errors.New("push channel not connected")

type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// Client is a push channel over an MQTT broker. Subscriptions are kept in a
// topic-keyed table and replayed every time the connection comes back, so a
// broker restart does not silently drop device updates.
type Client struct {
	cfg       Config
	logger    *slog.Logger
	newClient func(*paho.ClientOptions) paho.Client

	mu       sync.Mutex
	cli      paho.Client
	handlers map[string]func(payload []byte)
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Broker == "" {
		cfg.Broker = DefaultBroker
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "smart-room-" + uuid.NewString()[:8]
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Client{
		cfg:       cfg,
		logger:    logger,
		newClient: paho.NewClient,
		handlers:  make(map[string]func([]byte)),
	}
}

func (c *Client) options() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(c.cfg.Broker).
		SetClientID(c.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		if c.cfg.Password != "" {
			opts.SetPassword(c.cfg.Password)
		}
	}
	return opts
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cli == nil {
		c.cli = c.newClient(c.options())
	}
	cli := c.cli
	c.mu.Unlock()

	if cli.IsConnected() {
		return nil
	}

	c.logger.Info("connecting to push channel", "broker", c.cfg.Broker, "client_id", c.cfg.ClientID)
	if err := wait(ctx, cli.Connect()); err != nil {
		return fmt.Errorf("connecting to %s: %w", c.cfg.Broker, err)
	}
	return nil
}

// Subscribe registers handler for topic. If the connection is open the
// subscription is sent right away, otherwise it goes out on the next connect.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	c.handlers[topic] = handler
	cli := c.cli
	c.mu.Unlock()

	if cli == nil || !cli.IsConnectionOpen() {
		return nil
	}
	return c.subscribe(cli, topic)
}

func (c *Client) subscribe(cli paho.Client, topic string) error {
	token := cli.Subscribe(topic, qos, c.route(topic))
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("subscribing to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	c.logger.Debug("subscribed", "topic", topic)
	return nil
}

// route looks the handler up at delivery time so a later Subscribe on the
// same topic replaces it without resubscribing.
func (c *Client) route(topic string) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		c.mu.Lock()
		handler := c.handlers[topic]
		c.mu.Unlock()
		if handler == nil {
			return
		}

		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("push handler panicked", "topic", msg.Topic(), "panic", r)
			}
		}()
		handler(msg.Payload())
	}
}

func (c *Client) onConnect(cli paho.Client) {
	c.mu.Lock()
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	c.logger.Info("push channel connected", "broker", c.cfg.Broker, "topics", len(topics))
	for _, topic := range topics {
		if err := c.subscribe(cli, topic); err != nil {
			c.logger.Error("resubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.logger.Warn("push channel connection lost", "broker", c.cfg.Broker, "error", err)
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	cli := c.cli
	c.mu.Unlock()

	if cli == nil || !cli.IsConnectionOpen() {
		return fmt.Errorf("publishing to %s: %w", topic, ErrNotConnected)
	}
	if err := wait(ctx, cli.Publish(topic, qos, false, payload)); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	cli := c.cli
	c.cli = nil
	c.mu.Unlock()

	if cli != nil && cli.IsConnected() {
		cli.Disconnect(quiesceMillis)
	}
	return nil
}

func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
