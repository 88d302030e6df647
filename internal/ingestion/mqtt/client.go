package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sepsis-risk/backend/pkg/logger"
	"github.com/sepsis-risk/backend/pkg/retry"
)

var ErrTimeout = errors.New("mqtt operation timed out")

type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	RecordTopic    string
	QoS            byte
	ConnectTimeout time.Duration
}

type Handler func(ctx context.Context, topic string, payload []byte) error

// Client wraps a paho client. It implements Publisher and resubscribes to
// the record topic after every reconnect.
type Client struct {
	client  paho.Client
	cfg     Config
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewClient(cfg Config) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("sepsis-risk-%d", time.Now().Unix())
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect dials the broker with retries and subscribes handler to the
// record topic.
func (c *Client) Connect(ctx context.Context, handler Handler) error {
	c.handler = handler

	opts := paho.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetOrderMatters(false)
	opts.OnConnect = c.onConnect
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logger.Warn("MQTT connection lost", zap.String("broker", c.cfg.Broker), zap.Error(err))
	}

	c.client = paho.NewClient(opts)

	return retry.Do(ctx, retry.ConnectConfig(logger.GetLogger()), func() error {
		token := c.client.Connect()
		if !token.WaitTimeout(c.cfg.ConnectTimeout) {
			return fmt.Errorf("failed to connect to %s: %w", c.cfg.Broker, ErrTimeout)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to %s: %w", c.cfg.Broker, err)
		}
		return nil
	})
}

// deliver hands one broker message to the handler. The handler logs and
// counts its own failures.
func (c *Client) deliver(_ paho.Client, msg paho.Message) {
	c.handler(c.ctx, msg.Topic(), msg.Payload())
}

func (c *Client) onConnect(client paho.Client) {
	logger.Info("MQTT connected",
		zap.String("broker", c.cfg.Broker),
		zap.String("topic", c.cfg.RecordTopic),
	)

	token := client.Subscribe(c.cfg.RecordTopic, c.cfg.QoS, c.deliver)
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		logger.Error("MQTT subscribe timed out", zap.String("topic", c.cfg.RecordTopic))
		return
	}
	if err := token.Error(); err != nil {
		logger.Error("Failed to subscribe", zap.String("topic", c.cfg.RecordTopic), zap.Error(err))
	}
}

func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, c.cfg.QoS, false, payload)
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return ErrTimeout
	}
	return token.Error()
}

func (c *Client) Close() {
	c.cancel()
	if c.client != nil && c.client.IsConnected() {
		c.client.Unsubscribe(c.cfg.RecordTopic).WaitTimeout(time.Second)
		c.client.Disconnect(250)
	}
}
