package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/shalom-calendar/upgradekit/internal/push"
)

// Handler processes one decoded push message.
type Handler func(ctx context.Context, msg push.Message) error

// RouterHandler adapts a push.Router to a Handler.
func RouterHandler(r *push.Router) Handler {
	return func(ctx context.Context, msg push.Message) error {
		_, err := r.Handle(ctx, msg)
		return err
	}
}

// delivery is the part of jetstream.Msg the subscriber settles.
type delivery interface {
	Data() []byte
	Headers() nats.Header
	Ack() error
	Nak() error
	Term() error
}

// TopicSubscriber implements topics.Subscriber with one durable pull
// consumer per topic. Durables outlive the process, so messages published
// while the agent is offline are delivered on the next Subscribe.
type TopicSubscriber struct {
	js      jetstream.JetStream
	stream  string
	prefix  string
	cfg     ConsumerConfig
	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]jetstream.ConsumeContext
}

// NewTopicSubscriber creates a TopicSubscriber bound to cfg's stream.
func NewTopicSubscriber(js jetstream.JetStream, cfg Config, handler Handler, logger *slog.Logger) *TopicSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &TopicSubscriber{
		js:      js,
		stream:  cfg.Stream.Name,
		prefix:  cfg.TopicPrefix,
		cfg:     cfg.Consumer,
		handler: handler,
		logger:  logger.With("component", "topic-subscriber"),
		active:  make(map[string]jetstream.ConsumeContext),
	}
}

// ConsumerName returns the durable name used for topic.
func (s *TopicSubscriber) ConsumerName(topic string) string {
	return SanitizeToken(s.cfg.NamePrefix + "-" + topic)
}

// Subscribe starts consuming topic. Subscribing twice is a no-op.
func (s *TopicSubscriber) Subscribe(ctx context.Context, topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[topic]; ok {
		return nil
	}

	stream, err := s.js.Stream(ctx, s.stream)
	if err != nil {
		return fmt.Errorf("failed to get stream %s: %w", s.stream, err)
	}

	name := s.ConsumerName(topic)
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       name,
		FilterSubject: Subject(s.prefix, topic),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       s.cfg.AckWait,
		MaxDeliver:    s.cfg.MaxDeliver,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure consumer %s: %w", name, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		s.deliver(topic, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", name, err)
	}

	s.active[topic] = cc
	s.logger.Info("subscribed", "topic", topic, "consumer", name)
	return nil
}

// Unsubscribe stops consuming topic and deletes its durable consumer.
func (s *TopicSubscriber) Unsubscribe(ctx context.Context, topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cc, ok := s.active[topic]; ok {
		cc.Stop()
		delete(s.active, topic)
	}

	stream, err := s.js.Stream(ctx, s.stream)
	if err != nil {
		return fmt.Errorf("failed to get stream %s: %w", s.stream, err)
	}
	name := s.ConsumerName(topic)
	if err := stream.DeleteConsumer(ctx, name); err != nil && !errors.Is(err, jetstream.ErrConsumerNotFound) {
		return fmt.Errorf("failed to delete consumer %s: %w", name, err)
	}

	s.logger.Info("unsubscribed", "topic", topic, "consumer", name)
	return nil
}

// Active returns the topics currently being consumed, sorted.
func (s *TopicSubscriber) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.active))
	for topic := range s.active {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// Stop stops every consumer and keeps the durables for the next run.
func (s *TopicSubscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, cc := range s.active {
		cc.Stop()
		delete(s.active, topic)
	}
}

// deliver runs the handler and settles msg. Undecodable or unroutable
// messages are terminated; anything else that fails is redelivered.
func (s *TopicSubscriber) deliver(topic string, msg delivery) {
	timeout := s.cfg.AckWait
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	id := msg.Headers().Get(nats.MsgIdHdr)
	data, err := push.DecodePayload(msg.Data())
	if err == nil {
		err = s.handler(ctx, push.Message{Topic: topic, ID: id, Data: data})
	}

	var settle error
	switch {
	case err == nil:
		settle = msg.Ack()
	case push.Permanent(err):
		s.logger.Warn("push message dropped", "topic", topic, "msg_id", id, "error", err)
		settle = msg.Term()
	default:
		s.logger.Error("push message failed, will redeliver", "topic", topic, "msg_id", id, "error", err)
		settle = msg.Nak()
	}
	if settle != nil {
		s.logger.Warn("failed to settle push message", "topic", topic, "msg_id", id, "error", settle)
	}
}
