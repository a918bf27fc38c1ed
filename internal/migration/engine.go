// Package migration runs the one-time steps owed to a user whose stored app
// version is older than the running build, and classifies each launch as a
// first run, an upgrade or a normal start.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/shalom-calendar/upgradekit/internal/locale"
	"github.com/shalom-calendar/upgradekit/internal/observability"
	"github.com/shalom-calendar/upgradekit/internal/settings"
	"github.com/shalom-calendar/upgradekit/internal/topics"
	"github.com/shalom-calendar/upgradekit/internal/version"
)

// ErrNoTopicManager is reported when topic resubscription is due but the
// engine has no topic manager.
var ErrNoTopicManager = errors.New("migration: topic manager not configured")

// Prompter is asked to show the one-time language choice.
type Prompter interface {
	RequestLanguagePrompt(ctx context.Context)
}

// ActionError records a failed migration action.
type ActionError struct {
	Feature Feature
	Err     error
}

func (e ActionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Feature, e.Err)
}

func (e ActionError) Unwrap() error {
	return e.Err
}

// Result describes one RunMigrations call.
type Result struct {
	Previous version.Code
	Current  version.Code

	// Applied lists the due features in threshold order, including ones
	// whose action failed.
	Applied []Feature

	LanguagePromptRequested bool
	LocaleFallback          bool

	Topics   []topics.Outcome
	Failures []ActionError
}

// Ran reports whether feature was due in this run.
func (r Result) Ran(f Feature) bool {
	for _, a := range r.Applied {
		if a == f {
			return true
		}
	}
	return false
}

// Err joins the action failures, nil when every action succeeded.
func (r Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Option configures an Engine.
type Option func(*Engine)

// WithPrompter sets the language prompt receiver.
func WithPrompter(p Prompter) Option {
	return func(e *Engine) { e.prompter = p }
}

// WithTopics replaces the default topic list.
func WithTopics(list []string) Option {
	return func(e *Engine) { e.topicList = append([]string(nil), list...) }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clockFunc = now }
}

// WithIDGenerator injects the installation ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// Engine applies version-gated migrations against the settings store.
type Engine struct {
	prefs     *settings.Preferences
	locales   locale.Provider
	topics    *topics.Manager
	topicList []string
	prompter  Prompter
	metrics   *observability.Metrics
	logger    *slog.Logger
	clockFunc func() time.Time
	newID     func() string
}

// New creates an Engine. topicMgr, metrics and logger may be nil.
func New(
	prefs *settings.Preferences,
	locales locale.Provider,
	topicMgr *topics.Manager,
	metrics *observability.Metrics,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		prefs:     prefs,
		locales:   locales,
		topics:    topicMgr,
		topicList: topics.Default,
		metrics:   metrics,
		logger:    logger.With("component", "migration"),
		clockFunc: time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunMigrations applies every action whose threshold lies in
// (previous, current] and then stores current as the current version. Action
// failures are reported in the Result; the returned error is set only when
// the new version could not be persisted.
func (e *Engine) RunMigrations(ctx context.Context, previous, current version.Code) (Result, error) {
	res := Result{Previous: previous, Current: current}

	var loc locale.Locale
	var locResolved bool
	resolveLocale := func() locale.Locale {
		if locResolved {
			return loc
		}
		locResolved = true
		l, err := e.locales.CurrentLocale(ctx)
		if err != nil {
			e.logger.Warn("device locale unavailable, using defaults", "error", err)
			res.LocaleFallback = true
			return loc
		}
		loc = l
		return loc
	}

	for _, th := range Thresholds() {
		if !th.Due(previous, current) {
			continue
		}
		res.Applied = append(res.Applied, th.Feature)

		var err error
		switch th.Feature {
		case SecondaryLocaleSupport:
			err = e.applySecondaryLocale(ctx, resolveLocale())
		case RegionHolidayDefaults:
			err = e.applyRegionHolidays(ctx, resolveLocale())
		case LanguagePreferencePrompt:
			err = e.requestLanguagePrompt(ctx, &res)
		case TopicResubscription:
			err = e.resubscribeTopics(ctx, &res)
		}
		e.recordAction(ctx, th.Feature, err)
		if err != nil {
			e.logger.Error("migration action failed", "feature", th.Feature, "error", err)
			res.Failures = append(res.Failures, ActionError{Feature: th.Feature, Err: err})
		}
	}

	if err := e.prefs.SetCurrentVersion(ctx, int(current)); err != nil {
		return res, fmt.Errorf("persist current version: %w", err)
	}

	e.logger.Info("migrations complete",
		"previous", previous,
		"current", current,
		"applied", len(res.Applied),
		"failed", len(res.Failures),
	)
	return res, nil
}

func (e *Engine) applySecondaryLocale(ctx context.Context, loc locale.Locale) error {
	n, err := e.prefs.Store().SetChanged(ctx,
		settings.String(settings.KeySecondaryLocale, loc.SecondaryLanguage()),
		settings.String(settings.KeySecondaryChronology, loc.SecondaryChronology()),
	)
	if err != nil {
		return err
	}
	if n > 0 {
		e.logger.Info("secondary locale defaults set",
			"locale", loc.SecondaryLanguage(),
			"chronology", loc.SecondaryChronology(),
		)
	}
	return nil
}

func (e *Engine) applyRegionHolidays(ctx context.Context, loc locale.Locale) error {
	if !locale.IsArabicSpeaking(loc.Country) {
		return nil
	}
	_, err := e.prefs.Store().SetChanged(ctx,
		settings.Bool(settings.KeyOrthodoxDayNameShown, false),
		settings.Bool(settings.KeyOrthodoxOnlyHolidays, false),
		settings.Bool(settings.KeyMuslimOnlyHolidays, true),
	)
	return err
}

func (e *Engine) requestLanguagePrompt(ctx context.Context, res *Result) error {
	requested, err := e.prefs.LanguagePromptRequested(ctx)
	if err != nil {
		return err
	}
	if requested {
		return nil
	}
	if err := e.prefs.SetLanguagePromptRequested(ctx, true); err != nil {
		return err
	}
	res.LanguagePromptRequested = true
	if e.prompter != nil {
		e.prompter.RequestLanguagePrompt(ctx)
	}
	return nil
}

func (e *Engine) resubscribeTopics(ctx context.Context, res *Result) error {
	if e.topics == nil {
		return ErrNoTopicManager
	}
	res.Topics = e.topics.SubscribeAll(ctx, e.topicList)

	var errs []error
	for _, o := range res.Topics {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) recordAction(ctx context.Context, f Feature, err error) {
	if e.metrics == nil {
		return
	}
	attrs := otelmetric.WithAttributes(attribute.String("feature", string(f)))
	if err != nil {
		e.metrics.MigrationFailures.Add(ctx, 1, attrs)
		return
	}
	e.metrics.MigrationsApplied.Add(ctx, 1, attrs)
}
