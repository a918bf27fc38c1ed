package observability

import (
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Metrics holds every instrument recorded by the upgrade core. Instruments
// are created once at startup and shared by the engine, the policy and the
// transports. Components accept a nil *Metrics and skip recording.
type Metrics struct {
	// HTTP metrics (agent health/metrics server)
	HTTPRequestDuration otelmetric.Float64Histogram
	HTTPRequestTotal    otelmetric.Int64Counter
	HTTPRequestErrors   otelmetric.Int64Counter

	// Migration engine
	MigrationsApplied otelmetric.Int64Counter
	MigrationFailures otelmetric.Int64Counter
	Launches          otelmetric.Int64Counter

	// Update policy
	DescriptorsReceived     otelmetric.Int64Counter
	DescriptorParseFailures otelmetric.Int64Counter
	UpdatePrompts           otelmetric.Int64Counter
	UpdateDeclines          otelmetric.Int64Counter
	UpdateNags              otelmetric.Int64Counter

	// Remote descriptor fetches
	DescriptorFetches     otelmetric.Int64Counter
	DescriptorFetchErrors otelmetric.Int64Counter
	FetchLatency          otelmetric.Float64Histogram

	// Topics and push
	TopicSubscriptions     otelmetric.Int64Counter
	PushMessagesProcessed  otelmetric.Int64Counter
	PushDuplicatesDropped  otelmetric.Int64Counter
	NotificationsSent      otelmetric.Int64Counter
	NotificationsThrottled otelmetric.Int64Counter
}

// NewMetrics creates all metric instruments from the given Meter.
func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	counter := func(dst *otelmetric.Int64Counter, name, desc string) {
		if err != nil {
			return
		}
		*dst, err = meter.Int64Counter(name, otelmetric.WithDescription(desc))
	}
	histogram := func(dst *otelmetric.Float64Histogram, name, desc string) {
		if err != nil {
			return
		}
		*dst, err = meter.Float64Histogram(name,
			otelmetric.WithUnit("ms"),
			otelmetric.WithDescription(desc),
		)
	}

	histogram(&m.HTTPRequestDuration, "http.request.duration", "HTTP request duration in milliseconds")
	counter(&m.HTTPRequestTotal, "http.request.total", "Total HTTP requests")
	counter(&m.HTTPRequestErrors, "http.request.errors", "HTTP request errors (4xx and 5xx)")

	counter(&m.MigrationsApplied, "upgrade.migrations.applied", "One-time migration actions applied, by feature")
	counter(&m.MigrationFailures, "upgrade.migrations.failed", "Migration actions that returned an error, by feature")
	counter(&m.Launches, "upgrade.launches", "App launches, by kind (first_run, upgrade, normal)")

	counter(&m.DescriptorsReceived, "update.descriptors.received", "Version descriptors received, by source")
	counter(&m.DescriptorParseFailures, "update.descriptors.parse_failures", "Version descriptors rejected as malformed")
	counter(&m.UpdatePrompts, "update.prompts", "Update prompts decided, by level")
	counter(&m.UpdateDeclines, "update.declines", "Update prompts declined by the user")
	counter(&m.UpdateNags, "update.nags", "Post-cutoff update nags issued")

	counter(&m.DescriptorFetches, "remote.fetches", "Remote descriptor fetch attempts")
	counter(&m.DescriptorFetchErrors, "remote.fetch.errors", "Remote descriptor fetch failures")
	histogram(&m.FetchLatency, "remote.fetch.latency", "Remote descriptor fetch latency in milliseconds")

	counter(&m.TopicSubscriptions, "topics.subscriptions", "Topic subscription attempts, by topic and result")
	counter(&m.PushMessagesProcessed, "push.messages.processed", "Push messages routed, by topic")
	counter(&m.PushDuplicatesDropped, "push.duplicates.dropped", "Duplicate push messages dropped")
	counter(&m.NotificationsSent, "notify.sent", "Notifications dispatched, by channel")
	counter(&m.NotificationsThrottled, "notify.throttled", "Notifications dropped by the rate limiter, by channel")

	if err != nil {
		return nil, err
	}
	return &m, nil
}
