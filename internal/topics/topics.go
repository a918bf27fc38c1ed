// Package topics keeps push topic subscriptions in sync with the settings
// store. The subscription call is awaited and its outcome is the only writer
// of the per-topic "subscribed" flag.
package topics

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/shalom-calendar/upgradekit/internal/observability"
	"github.com/shalom-calendar/upgradekit/internal/settings"
)

// Push topics the app listens on.
const (
	HolidayDateAdjustment = "HolidayDateAdjustment"
	AppVersionUpgrade     = "AppVersionUpgrade"
	SalesAndPromotion     = "SalesAndPromotion"
	Event                 = "Event"
	AllTest               = "TopicAllTest"
)

// Default is the fixed set every install subscribes to.
var Default = []string{
	HolidayDateAdjustment,
	AppVersionUpgrade,
	SalesAndPromotion,
	Event,
	AllTest,
}

// Subscriber is the push transport. Both calls block until the transport has
// acknowledged the change.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
}

// Outcome is the result of a single topic operation.
type Outcome struct {
	Topic   string
	Skipped bool
	Err     error
}

// Manager applies subscriptions and records their results.
type Manager struct {
	prefs   *settings.Preferences
	sub     Subscriber
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewManager creates a Manager. metrics may be nil.
func NewManager(prefs *settings.Preferences, sub Subscriber, metrics *observability.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		prefs:   prefs,
		sub:     sub,
		metrics: metrics,
		logger:  logger.With("component", "topics"),
	}
}

// SubscribeIfNeeded subscribes to topic unless the flag says it already is.
// On return the flag equals whether a subscription is known to be active.
func (m *Manager) SubscribeIfNeeded(ctx context.Context, topic string) Outcome {
	subscribed, err := m.prefs.TopicSubscribed(ctx, topic)
	if err != nil {
		return Outcome{Topic: topic, Err: fmt.Errorf("read subscription flag: %w", err)}
	}
	if subscribed {
		return Outcome{Topic: topic, Skipped: true}
	}

	subErr := m.sub.Subscribe(ctx, topic)
	m.record(ctx, topic, "subscribe", subErr)

	if err := m.prefs.SetTopicSubscribed(ctx, topic, subErr == nil); err != nil {
		return Outcome{Topic: topic, Err: fmt.Errorf("write subscription flag: %w", err)}
	}
	if subErr != nil {
		m.logger.Warn("topic subscription failed", "topic", topic, "error", subErr)
		return Outcome{Topic: topic, Err: fmt.Errorf("subscribe %s: %w", topic, subErr)}
	}

	m.logger.Info("subscribed to topic", "topic", topic)
	return Outcome{Topic: topic}
}

// SubscribeAll runs SubscribeIfNeeded for every topic; one failure does not
// stop the others.
func (m *Manager) SubscribeAll(ctx context.Context, topics []string) []Outcome {
	out := make([]Outcome, 0, len(topics))
	for _, t := range topics {
		out = append(out, m.SubscribeIfNeeded(ctx, t))
	}
	return out
}

// UnsubscribeIfSubscribed removes a subscription recorded as active. The flag
// is cleared only when the transport confirms.
func (m *Manager) UnsubscribeIfSubscribed(ctx context.Context, topic string) Outcome {
	subscribed, err := m.prefs.TopicSubscribed(ctx, topic)
	if err != nil {
		return Outcome{Topic: topic, Err: fmt.Errorf("read subscription flag: %w", err)}
	}
	if !subscribed {
		return Outcome{Topic: topic, Skipped: true}
	}

	unsubErr := m.sub.Unsubscribe(ctx, topic)
	m.record(ctx, topic, "unsubscribe", unsubErr)
	if unsubErr != nil {
		m.logger.Warn("topic unsubscribe failed", "topic", topic, "error", unsubErr)
		return Outcome{Topic: topic, Err: fmt.Errorf("unsubscribe %s: %w", topic, unsubErr)}
	}
	if err := m.prefs.SetTopicSubscribed(ctx, topic, false); err != nil {
		return Outcome{Topic: topic, Err: fmt.Errorf("write subscription flag: %w", err)}
	}
	m.logger.Info("unsubscribed from topic", "topic", topic)
	return Outcome{Topic: topic}
}

func (m *Manager) record(ctx context.Context, topic, op string, err error) {
	if m.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.metrics.TopicSubscriptions.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("op", op),
		attribute.String("result", result),
	))
}
