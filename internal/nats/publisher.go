package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/shalom-calendar/upgradekit/internal/notify"
	"github.com/shalom-calendar/upgradekit/internal/topics"
	"github.com/shalom-calendar/upgradekit/internal/version"
)

// Subject returns the subject carrying topic under prefix.
func Subject(prefix, topic string) string {
	return prefix + "." + SanitizeToken(topic)
}

// SanitizeToken makes s usable as one subject token or durable name.
func SanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
}

// DescriptorMsgID is the Nats-Msg-Id of a release announcement. Republishing
// the same release inside the stream's duplicate window is a no-op.
func DescriptorMsgID(d *version.Descriptor) string {
	return fmt.Sprintf("release-%d", d.ReleasedVersion)
}

// Publisher publishes push payloads onto the topic stream.
type Publisher struct {
	js     jetstream.JetStream
	prefix string
	logger *slog.Logger
}

// NewPublisher creates a new payload publisher.
func NewPublisher(js jetstream.JetStream, topicPrefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		js:     js,
		prefix: topicPrefix,
		logger: logger.With("component", "publisher"),
	}
}

// PublishPayload publishes data on topic. A non-empty id becomes the
// message ID.
func (p *Publisher) PublishPayload(ctx context.Context, topic, id string, data map[string]string) (*jetstream.PubAck, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	subject := Subject(p.prefix, topic)
	var opts []jetstream.PublishOpt
	if id != "" {
		opts = append(opts, jetstream.WithMsgID(id))
	}

	ack, err := p.js.Publish(ctx, subject, body, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to publish payload: %w", err)
	}

	p.logger.Debug("payload published",
		"subject", subject,
		"msg_id", id,
		"stream", ack.Stream,
		"sequence", ack.Sequence,
		"duplicate", ack.Duplicate,
	)
	return ack, nil
}

// PublishDescriptor announces d on the app-version-upgrade topic.
func (p *Publisher) PublishDescriptor(ctx context.Context, d *version.Descriptor) (*jetstream.PubAck, error) {
	return p.PublishPayload(ctx, topics.AppVersionUpgrade, DescriptorMsgID(d), d.ToMap())
}

// CorePublisher is the subset of *nats.Conn used for fire-and-forget
// publishing.
type CorePublisher interface {
	Publish(subject string, data []byte) error
}

// NotificationPublisher is a notify.Dispatcher that hands notifications to
// whatever renders them, one subject per channel.
type NotificationPublisher struct {
	conn   CorePublisher
	prefix string
	logger *slog.Logger
}

// NewNotificationPublisher creates a NotificationPublisher.
func NewNotificationPublisher(conn CorePublisher, prefix string, logger *slog.Logger) *NotificationPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationPublisher{
		conn:   conn,
		prefix: prefix,
		logger: logger.With("component", "notification-publisher"),
	}
}

// Notify publishes n as JSON on prefix.<channel>.
func (p *NotificationPublisher) Notify(_ context.Context, n notify.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	subject := Subject(p.prefix, string(n.Channel))
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	p.logger.Debug("notification published", "subject", subject, "id", n.ID)
	return nil
}
