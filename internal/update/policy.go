// Package update decides whether the running build is out of date and when
// the user should be prompted to upgrade.
package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/shalom-calendar/upgradekit/internal/notify"
	"github.com/shalom-calendar/upgradekit/internal/observability"
	"github.com/shalom-calendar/upgradekit/internal/settings"
	"github.com/shalom-calendar/upgradekit/internal/version"
)

// Update-available notification text.
const (
	NotificationTitle      = "Update Available for Calendar App"
	notificationBodyFormat = "Click update button\nVersion : %d"
	nagBody                = "Click update button"
)

// ErrNotNewer is returned by Decline and Accept for releases that are not
// newer than the running build.
var ErrNotNewer = errors.New("update: release is not newer than the running build")

// Source labels where a descriptor came from.
type Source string

const (
	SourcePush  Source = "push"
	SourceFetch Source = "fetch"
)

// Policy owns the update decision state. It is the only writer of the
// update keys in the settings store.
type Policy struct {
	cfg        Config
	prefs      *settings.Preferences
	dispatcher notify.Dispatcher
	metrics    *observability.Metrics
	logger     *slog.Logger
	clockFunc  func() time.Time
}

// NewPolicy creates a Policy. dispatcher and metrics may be nil.
func NewPolicy(cfg Config, prefs *settings.Preferences, dispatcher notify.Dispatcher, metrics *observability.Metrics, logger *slog.Logger) *Policy {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		cfg:        cfg,
		prefs:      prefs,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger.With("component", "update-policy"),
		clockFunc:  time.Now,
	}
}

// SetClock replaces the time source. Intended for tests and simulations.
func (p *Policy) SetClock(now func() time.Time) {
	p.clockFunc = now
}

// Config returns the effective configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// HandleDescriptor records a descriptor received as JSON text. When notify is
// set and the release is newer, one update-available notification is sent.
// A malformed descriptor changes nothing and yields a *version.ParseError.
func (p *Policy) HandleDescriptor(ctx context.Context, raw []byte, notify bool, src Source) (Decision, error) {
	d, err := version.ParseJSON(raw)
	if err != nil {
		return Decision{}, p.rejected(ctx, src, err)
	}
	return p.record(ctx, d, string(raw), notify, src)
}

// HandleDescriptorMap records a descriptor received as a push payload.
func (p *Policy) HandleDescriptorMap(ctx context.Context, data map[string]string, notify bool, src Source) (Decision, error) {
	d, err := version.ParseMap(data)
	if err != nil {
		return Decision{}, p.rejected(ctx, src, err)
	}
	raw, err := d.MarshalJSON()
	if err != nil {
		return Decision{}, fmt.Errorf("encode descriptor: %w", err)
	}
	return p.record(ctx, d, string(raw), notify, src)
}

func (p *Policy) rejected(ctx context.Context, src Source, err error) error {
	p.logger.Warn("version descriptor rejected", "source", src, "error", err)
	if p.metrics != nil {
		p.metrics.DescriptorParseFailures.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("source", string(src))))
	}
	return err
}

func (p *Policy) record(ctx context.Context, d *version.Descriptor, raw string, notify bool, src Source) (Decision, error) {
	now := p.clockFunc()
	if p.metrics != nil {
		p.metrics.DescriptorsReceived.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("source", string(src))))
	}

	own := int(p.cfg.OwnVersion)
	if d.ReleasedVersion <= p.cfg.OwnVersion {
		if err := p.prefs.RecordUpToDate(ctx, own, now); err != nil {
			return Decision{}, fmt.Errorf("record up to date: %w", err)
		}
		p.logger.Debug("build is up to date", "released", d.ReleasedVersion, "own", p.cfg.OwnVersion)
		return Decision{State: StateUpToDate, Descriptor: d, CheckedAt: now}, nil
	}

	if err := p.prefs.RecordUpdateAvailable(ctx, own, now, raw); err != nil {
		return Decision{}, fmt.Errorf("record update available: %w", err)
	}
	p.logger.Info("update available",
		"released", d.ReleasedVersion,
		"own", p.cfg.OwnVersion,
		"level", d.Level.String(),
		"source", src,
	)

	if notify && p.dispatcher != nil {
		n := p.availableNotification(d, now)
		if err := p.dispatcher.Notify(ctx, n); err != nil {
			p.logger.Warn("update notification not delivered", "error", err)
		}
	}

	return Decision{
		State:       StateAvailable,
		Descriptor:  d,
		Dismissible: d.Level.Dismissible(),
		CheckedAt:   now,
		StoreURL:    p.cfg.StoreURL,
	}, nil
}

func (p *Policy) availableNotification(d *version.Descriptor, now time.Time) notify.Notification {
	return notify.New(
		notify.ChannelUpdateAvailable,
		NotificationTitle,
		fmt.Sprintf(notificationBodyFormat, d.ReleasedVersion),
		p.cfg.StoreURL,
		now,
	)
}

// PromptNotification renders a due prompt or nag for hosts that can only
// show notifications.
func PromptNotification(dec Decision, now time.Time) notify.Notification {
	body := nagBody
	if dec.Descriptor != nil {
		body = fmt.Sprintf(notificationBodyFormat, dec.Descriptor.ReleasedVersion)
	}
	return notify.New(notify.ChannelUpdateAvailable, NotificationTitle, body, dec.StoreURL, now)
}

// Evaluate decides whether to prompt now. It re-parses the cached descriptor
// and applies the per-release decline throttle, then the nag check.
func (p *Policy) Evaluate(ctx context.Context) (Decision, error) {
	now := p.clockFunc()
	own := int(p.cfg.OwnVersion)

	checkedAt, err := p.prefs.UpdateCheckedAt(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("read checked time: %w", err)
	}
	dec := Decision{
		State:     StateUnknown,
		CheckedAt: checkedAt,
		StoreURL:  p.cfg.StoreURL,
		FetchDue:  p.fetchDue(now, checkedAt),
	}
	if !checkedAt.IsZero() {
		dec.State = StateUpToDate
	}

	available, err := p.prefs.UpdateAvailable(ctx, own)
	if err != nil {
		return Decision{}, fmt.Errorf("read availability: %w", err)
	}

	var evalErr error
	if available {
		evalErr = p.evaluateAvailable(ctx, now, &dec)
	}

	if err := p.evaluateNag(ctx, now, &dec); err != nil {
		return dec, err
	}
	return dec, evalErr
}

func (p *Policy) evaluateAvailable(ctx context.Context, now time.Time, dec *Decision) error {
	raw, err := p.prefs.CachedDescriptor(ctx)
	if err != nil {
		return fmt.Errorf("read cached descriptor: %w", err)
	}
	d, err := version.ParseJSON([]byte(raw))
	if err != nil {
		p.logger.Warn("cached version descriptor unreadable", "error", err)
		if p.metrics != nil {
			p.metrics.DescriptorParseFailures.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("source", "cache")))
		}
		return err
	}
	if d.ReleasedVersion <= p.cfg.OwnVersion {
		// The flag outlived the release it announced.
		if err := p.prefs.RecordUpToDate(ctx, int(p.cfg.OwnVersion), now); err != nil {
			return fmt.Errorf("record up to date: %w", err)
		}
		dec.State = StateUpToDate
		dec.CheckedAt = now
		return nil
	}

	dec.State = StateAvailable
	dec.Descriptor = d
	dec.Dismissible = d.Level.Dismissible()

	window, prompts := declineWindow(d.Level)
	if !prompts {
		return nil
	}
	declinedAt, err := p.prefs.UpdateDeclinedAt(ctx, int(d.ReleasedVersion))
	if err != nil {
		return fmt.Errorf("read decline time: %w", err)
	}
	if !declinedAt.IsZero() && now.Sub(declinedAt) <= window {
		return nil
	}

	dec.State = StatePrompted
	dec.Prompt = true
	if p.metrics != nil {
		p.metrics.UpdatePrompts.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("level", d.Level.String())))
	}
	p.logger.Info("update prompt due", "released", d.ReleasedVersion, "level", d.Level.String())
	return nil
}

func (p *Policy) evaluateNag(ctx context.Context, now time.Time, dec *Decision) error {
	if now.Before(p.cfg.NagCutoff) {
		return nil
	}
	lastNag, err := p.prefs.LastNagAt(ctx)
	if err != nil {
		return fmt.Errorf("read nag time: %w", err)
	}
	if !lastNag.IsZero() && now.Sub(lastNag) <= p.cfg.NagInterval {
		return nil
	}
	if err := p.prefs.SetLastNagAt(ctx, now); err != nil {
		return fmt.Errorf("record nag time: %w", err)
	}
	dec.Nag = true
	dec.FetchDue = true
	if p.metrics != nil {
		p.metrics.UpdateNags.Add(ctx, 1)
	}
	p.logger.Info("update nag due", "cutoff", p.cfg.NagCutoff)
	return nil
}

// Decline records that the user dismissed the prompt for released.
func (p *Policy) Decline(ctx context.Context, released version.Code) error {
	if released <= p.cfg.OwnVersion {
		return ErrNotNewer
	}
	if err := p.prefs.SetUpdateDeclinedAt(ctx, int(released), p.clockFunc()); err != nil {
		return fmt.Errorf("record decline: %w", err)
	}
	if p.metrics != nil {
		p.metrics.UpdateDeclines.Add(ctx, 1)
	}
	p.logger.Info("update declined", "released", released)
	return nil
}

// Accept returns the store URL to open for released. The availability flag
// stays set until a build at or past released is running.
func (p *Policy) Accept(ctx context.Context, released version.Code) (string, error) {
	if released <= p.cfg.OwnVersion {
		return "", ErrNotNewer
	}
	p.logger.Info("update accepted", "released", released)
	return p.cfg.StoreURL, nil
}

// ShouldFetch reports whether the fetch throttle allows a descriptor fetch.
func (p *Policy) ShouldFetch(ctx context.Context) (bool, error) {
	checkedAt, err := p.prefs.UpdateCheckedAt(ctx)
	if err != nil {
		return false, fmt.Errorf("read checked time: %w", err)
	}
	return p.fetchDue(p.clockFunc(), checkedAt), nil
}

func (p *Policy) fetchDue(now, checkedAt time.Time) bool {
	return checkedAt.IsZero() || now.Sub(checkedAt) > p.cfg.FetchInterval
}
