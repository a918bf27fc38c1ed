package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const healthTimeout = 2 * time.Second

// Client owns the connection to the push broker and hands out the stream
// manager, publishers and topic subscriber bound to its configuration.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	config Config
	logger *slog.Logger
}

// NewClient connects to NATS and opens a JetStream context.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats-client")

	conn, err := nats.Connect(cfg.URL, connectOptions(cfg, logger)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("connected to NATS",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
		"stream", cfg.Stream.Name,
	)

	return &Client{conn: conn, js: js, config: cfg, logger: logger}, nil
}

func connectOptions(cfg Config, logger *slog.Logger) []nats.Option {
	return []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS, push delivery paused", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS error", "subject", subject, "error", err)
		}),
	}
}

// ScopeToInstallation makes durable consumer names unique to one
// installation, so two agents sharing a broker never steal each other's
// deliveries. Call it before Subscriber.
func (c *Client) ScopeToInstallation(installationID string) {
	c.config.Consumer = scopedConsumer(c.config.Consumer, installationID)
}

func scopedConsumer(cfg ConsumerConfig, installationID string) ConsumerConfig {
	if installationID != "" {
		cfg.NamePrefix = cfg.NamePrefix + "-" + installationID
	}
	return cfg
}

// Streams returns a manager for the push stream.
func (c *Client) Streams() *StreamManager {
	return NewStreamManager(c.js, c.config.Stream, c.logger)
}

// Publisher returns a descriptor publisher on the configured topic prefix.
func (c *Client) Publisher() *Publisher {
	return NewPublisher(c.js, c.config.TopicPrefix, c.logger)
}

// Notifications returns a dispatcher publishing on the notification prefix.
func (c *Client) Notifications() *NotificationPublisher {
	return NewNotificationPublisher(c.conn, c.config.NotificationPrefix, c.logger)
}

// Subscriber returns a topic subscriber feeding handler.
func (c *Client) Subscriber(handler Handler) *TopicSubscriber {
	return NewTopicSubscriber(c.js, c.config, handler, c.logger)
}

// Drain gracefully drains the connection.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

// Close closes the NATS connection.
func (c *Client) Close() {
	c.conn.Close()
}

// HealthCheck fails when the connection is down or the push stream does not
// answer within healthTimeout.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("%w: status %s", ErrNotConnected, c.conn.Status())
	}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if _, err := c.js.Stream(ctx, c.config.Stream.Name); err != nil {
		return fmt.Errorf("push stream %s unavailable: %w", c.config.Stream.Name, err)
	}
	return nil
}
