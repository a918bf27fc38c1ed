// Package push routes push payloads received on the app's topics to the
// update policy, the settings store and the notification dispatcher.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/shalom-calendar/upgradekit/internal/notify"
	"github.com/shalom-calendar/upgradekit/internal/observability"
	"github.com/shalom-calendar/upgradekit/internal/settings"
	"github.com/shalom-calendar/upgradekit/internal/topics"
	"github.com/shalom-calendar/upgradekit/internal/update"
	"github.com/shalom-calendar/upgradekit/internal/version"
)

var (
	// ErrMalformedPayload is returned for payloads missing or mangling a
	// required field.
	ErrMalformedPayload = errors.New("push: malformed payload")

	// ErrUnknownTopic is returned for messages on topics the router does
	// not serve.
	ErrUnknownTopic = errors.New("push: unknown topic")
)

// Permanent reports whether redelivering the message that produced err can
// never succeed.
func Permanent(err error) bool {
	return errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrUnknownTopic) ||
		errors.Is(err, version.ErrMalformedDescriptor)
}

// Payload field names.
const (
	FieldHolidayID     = "holiday_id"
	FieldEthiopianYear = "ethiopian_year"
	FieldAddition      = "addition"
	FieldURL           = "url_string"
	FieldContentTitle  = "content_title"
	FieldDetailText    = "detail_text"
)

// Message is one push delivery.
type Message struct {
	Topic string
	// ID identifies the delivery for duplicate suppression. Empty IDs are
	// never deduplicated.
	ID   string
	Data map[string]string
}

// DecodePayload parses a JSON object of string fields.
func DecodePayload(raw []byte) (map[string]string, error) {
	var data map[string]string
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return data, nil
}

// Outcome reports what the router did with a message.
type Outcome string

const (
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeDescriptor       Outcome = "descriptor"
	OutcomeHolidayAdjusted  Outcome = "holiday_adjusted"
	OutcomePromotionShown   Outcome = "promotion_shown"
	OutcomePromotionSkipped Outcome = "promotion_skipped"
	OutcomeIgnored          Outcome = "ignored"
)

// Router dispatches push messages by topic.
type Router struct {
	policy     *update.Policy
	prefs      *settings.Preferences
	dispatcher notify.Dispatcher
	dedup      *Deduplicator
	metrics    *observability.Metrics
	logger     *slog.Logger
	clockFunc  func() time.Time
}

// NewRouter creates a Router. dispatcher, dedup and metrics may be nil.
func NewRouter(
	policy *update.Policy,
	prefs *settings.Preferences,
	dispatcher notify.Dispatcher,
	dedup *Deduplicator,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		policy:     policy,
		prefs:      prefs,
		dispatcher: dispatcher,
		dedup:      dedup,
		metrics:    metrics,
		logger:     logger.With("component", "push-router"),
		clockFunc:  time.Now,
	}
}

// Handle routes msg. Descriptor messages notify the user when they announce
// a newer release. A message ID is remembered only after a final outcome:
// success or a Permanent error. Transient failures leave it unrecorded so the
// redelivery is processed again.
func (r *Router) Handle(ctx context.Context, msg Message) (Outcome, error) {
	if r.dedup != nil && r.dedup.Contains(ctx, msg.ID) {
		return OutcomeDuplicate, nil
	}
	if r.metrics != nil {
		r.metrics.PushMessagesProcessed.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("topic", msg.Topic)))
	}

	out, err := r.route(ctx, msg)
	if r.dedup != nil && (err == nil || Permanent(err)) {
		r.dedup.Add(msg.ID)
	}
	return out, err
}

func (r *Router) route(ctx context.Context, msg Message) (Outcome, error) {
	switch msg.Topic {
	case topics.AppVersionUpgrade:
		if _, err := r.policy.HandleDescriptorMap(ctx, msg.Data, true, update.SourcePush); err != nil {
			return OutcomeDescriptor, err
		}
		return OutcomeDescriptor, nil
	case topics.HolidayDateAdjustment:
		return r.handleHolidayAdjustment(ctx, msg.Data)
	case topics.SalesAndPromotion:
		return r.handlePromotion(ctx, msg.Data)
	case topics.Event, topics.AllTest:
		r.logger.Debug("push message ignored", "topic", msg.Topic, "message_id", msg.ID)
		return OutcomeIgnored, nil
	default:
		return OutcomeIgnored, fmt.Errorf("%w: %q", ErrUnknownTopic, msg.Topic)
	}
}

func (r *Router) handleHolidayAdjustment(ctx context.Context, data map[string]string) (Outcome, error) {
	holidayID, err1 := intField(data, FieldHolidayID)
	year, err2 := intField(data, FieldEthiopianYear)
	days, err3 := intField(data, FieldAddition)
	if err := errors.Join(err1, err2, err3); err != nil {
		r.logger.Warn("holiday adjustment rejected", "error", err)
		return OutcomeHolidayAdjusted, err
	}

	if err := r.prefs.SetHolidayAdjustment(ctx, holidayID, year, days); err != nil {
		return OutcomeHolidayAdjusted, fmt.Errorf("store holiday adjustment: %w", err)
	}
	r.logger.Info("holiday date adjusted", "holiday_id", holidayID, "ethiopian_year", year, "addition", days)

	if title := data[FieldContentTitle]; title != "" && r.dispatcher != nil {
		n := notify.New(notify.ChannelHolidayAdjustment, title, data[FieldDetailText], "", r.clockFunc())
		if err := r.dispatcher.Notify(ctx, n); err != nil {
			r.logger.Warn("holiday notification not delivered", "error", err)
		}
	}
	return OutcomeHolidayAdjusted, nil
}

func (r *Router) handlePromotion(ctx context.Context, data map[string]string) (Outcome, error) {
	link := strings.TrimSpace(data[FieldURL])
	if !ValidURL(link) {
		r.logger.Info("promotion skipped, invalid url", "url", link)
		return OutcomePromotionSkipped, nil
	}
	if data[FieldContentTitle] == "" {
		r.logger.Info("promotion skipped, no title", "url", link)
		return OutcomePromotionSkipped, nil
	}
	if r.dispatcher == nil {
		return OutcomePromotionSkipped, nil
	}
	n := notify.New(notify.ChannelSalesPromotion, data[FieldContentTitle], data[FieldDetailText], link, r.clockFunc())
	if err := r.dispatcher.Notify(ctx, n); err != nil {
		return OutcomePromotionSkipped, fmt.Errorf("dispatch promotion: %w", err)
	}
	return OutcomePromotionShown, nil
}

// ValidURL accepts absolute http(s) URLs with a host.
func ValidURL(s string) bool {
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func intField(data map[string]string, key string) (int, error) {
	raw, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s missing", ErrMalformedPayload, key)
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrMalformedPayload, key, raw)
	}
	return n, nil
}
