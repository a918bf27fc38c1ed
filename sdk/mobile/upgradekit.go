// Package mobile is the gomobile-bindable facade over the update and
// migration core.
//
// This package is designed to be compiled with gomobile bind to produce
// .xcframework (iOS) and .aar (Android) libraries. All exported functions
// use only gomobile-compatible types: string, int, int64, bool and
// single-method-style callback interfaces.
//
// Results travel as JSON strings of the form {"result": ...} or
// {"error": {"code", "message", "severity"}}. Functions that only succeed
// or fail return an empty string on success and the error message
// otherwise.
package mobile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shalom-calendar/upgradekit/internal/locale"
	"github.com/shalom-calendar/upgradekit/internal/migration"
	"github.com/shalom-calendar/upgradekit/internal/push"
	"github.com/shalom-calendar/upgradekit/internal/settings"
	"github.com/shalom-calendar/upgradekit/internal/topics"
	"github.com/shalom-calendar/upgradekit/internal/update"
	"github.com/shalom-calendar/upgradekit/internal/version"
)

// SDKVersion is the current version of the mobile SDK.
const SDKVersion = "0.2.0"

// callTimeout bounds every exported call that touches storage or native
// callbacks.
const callTimeout = 10 * time.Second

var (
	sdkMu    sync.RWMutex
	instance *sdk

	loggerMu sync.RWMutex
	logger   = slog.Default().With("component", "mobile-sdk")
)

// sdk holds the initialized SDK state.
type sdk struct {
	config   *Config
	backend  *settings.SQLiteBackend
	prefs    *settings.Preferences
	locales  *locale.PlatformProvider
	topics   *topics.Manager
	engine   *migration.Engine
	policy   *update.Policy
	dedup    *push.Deduplicator
	router   *push.Router
	prompter nativePrompter
	cancel   context.CancelFunc
}

// Init opens the settings database under the configured data path and
// wires the engine. Returns empty string on success, or an error message
// on failure. Calling Init again replaces the previous instance.
//
// Example config JSON:
//
//	{"data_path": "/data/user/0/app/files", "build_version": 82, "app_id": "com.example.calendar"}
func Init(configJSON string) string {
	cfg, err := parseConfig(configJSON)
	if err != nil {
		sdkErr := newFatalError(ErrCodeInvalidConfig, err.Error())
		notifyErrorCallbacks(sdkErr)
		return sdkErr.Error()
	}
	setLogger(cfg.DebugMode)

	backend, err := settings.OpenSQLite(filepath.Join(cfg.DataPath, SettingsFileName))
	if err != nil {
		sdkErr := newFatalError(ErrCodeStorage, err.Error())
		notifyErrorCallbacks(sdkErr)
		return sdkErr.Error()
	}

	inst := newSDK(cfg, backend)

	sdkMu.Lock()
	prev := instance
	instance = inst
	sdkMu.Unlock()
	if prev != nil {
		prev.close()
	}

	sdkLogger().Debug("SDK initialized", "app_id", cfg.AppID, "build_version", cfg.BuildVersion)
	return ""
}

func newSDK(cfg *Config, backend *settings.SQLiteBackend) *sdk {
	log := sdkLogger()
	prefs := settings.NewPreferences(settings.NewStore(
		settings.NewCachedBackend(backend, cfg.CacheSizeBytes, 0),
	))

	locales := locale.NewPlatformProvider()
	if cfg.Locale != "" {
		if err := locales.SetLocale(cfg.Locale); err != nil {
			log.Warn("initial locale ignored", "locale", cfg.Locale, "error", err)
		}
	}

	dispatcher := nativeDispatcher{}
	prompter := nativePrompter{}
	topicMgr := topics.NewManager(prefs, nativeSubscriber{}, nil, log)
	engine := migration.New(prefs, locales, topicMgr, nil, log, migration.WithPrompter(prompter))
	policy := update.NewPolicy(update.Config{
		OwnVersion: version.Code(cfg.BuildVersion),
		StoreURL:   cfg.StoreURL,
		NagCutoff:  cfg.nagCutoff,
	}, prefs, dispatcher, nil, log)

	dedupCfg := push.DefaultDedupConfig()
	dedupCfg.Window = time.Duration(cfg.DedupWindowMs) * time.Millisecond
	dedup := push.NewDeduplicator(dedupCfg, nil, log)
	ctx, cancel := context.WithCancel(context.Background())
	dedup.Start(ctx)

	return &sdk{
		config:   cfg,
		backend:  backend,
		prefs:    prefs,
		locales:  locales,
		topics:   topicMgr,
		engine:   engine,
		policy:   policy,
		dedup:    dedup,
		router:   push.NewRouter(policy, prefs, dispatcher, dedup, nil, log),
		prompter: prompter,
		cancel:   cancel,
	}
}

func (s *sdk) close() error {
	s.cancel()
	s.dedup.Stop()
	return s.backend.Close()
}

// Shutdown releases the settings database. Returns empty string on
// success, or an error message on failure.
func Shutdown() string {
	sdkMu.Lock()
	inst := instance
	instance = nil
	sdkMu.Unlock()
	if inst == nil {
		return ""
	}
	return wrapError(inst.close())
}

// IsInitialized returns true if the SDK has been initialized.
func IsInitialized() bool {
	return getInstance() != nil
}

// SetLocale records the device locale, e.g. "fr_FR" or "am-ET". The
// migrations read it lazily.
func SetLocale(tag string) string {
	inst := getInstance()
	if inst == nil {
		return notInitializedError()
	}
	if err := inst.locales.SetLocale(tag); err != nil {
		sdkErr := classify(err)
		logError(sdkErr)
		return sdkErr.Error()
	}
	return ""
}

// Launch classifies this app start and runs the migrations it owes. Call it
// once per process start, after registering the native callbacks.
func Launch() string {
	inst := getInstance()
	if inst == nil {
		return errJSON(notInitialized())
	}
	ctx, cancel := callContext()
	defer cancel()

	res, err := inst.engine.Launch(ctx, version.Code(inst.config.BuildVersion))
	if err != nil {
		return failJSON(err)
	}
	return okJSON(launchView(res))
}

// RunMigrations applies the migrations due between previous and current.
// Launch covers the usual case; this exists for hosts that track versions
// themselves.
func RunMigrations(previous, current int) string {
	inst := getInstance()
	if inst == nil {
		return errJSON(notInitialized())
	}
	ctx, cancel := callContext()
	defer cancel()

	res, err := inst.engine.RunMigrations(ctx, version.Code(previous), version.Code(current))
	if err != nil {
		return failJSON(err)
	}
	return okJSON(migrationView(res))
}

// SubscribeTopics retries every default topic subscription that has not
// succeeded yet.
func SubscribeTopics() string {
	inst := getInstance()
	if inst == nil {
		return errJSON(notInitialized())
	}
	ctx, cancel := callContext()
	defer cancel()

	outcomes := inst.topics.SubscribeAll(ctx, topics.Default)
	views := make([]TopicView, 0, len(outcomes))
	for _, o := range outcomes {
		tv := TopicView{Topic: o.Topic, Skipped: o.Skipped}
		if o.Err != nil {
			tv.Error = o.Err.Error()
		}
		views = append(views, tv)
	}
	return okJSON(views)
}

// UnsubscribeTopic drops a subscription recorded as active, e.g. when the
// user turns promotions off.
func UnsubscribeTopic(topic string) string {
	inst := getInstance()
	if inst == nil {
		return notInitializedError()
	}
	ctx, cancel := callContext()
	defer cancel()

	if o := inst.topics.UnsubscribeIfSubscribed(ctx, topic); o.Err != nil {
		sdkErr := classify(o.Err)
		logError(sdkErr)
		return sdkErr.Error()
	}
	return ""
}

// HandlePushPayload routes a push message. payloadJSON is the message's
// data map as a JSON object of strings; messageID may be empty.
func HandlePushPayload(topic, payloadJSON, messageID string) string {
	inst := getInstance()
	if inst == nil {
		return errJSON(notInitialized())
	}
	data, err := parsePayload(payloadJSON)
	if err != nil {
		return failJSON(err)
	}
	ctx, cancel := callContext()
	defer cancel()

	out, err := inst.router.Handle(ctx, push.Message{Topic: topic, ID: messageID, Data: data})
	if err != nil {
		return failJSON(err)
	}
	return okJSON(PushView{Outcome: string(out)})
}

// HandleVersionDescriptor records a fetched descriptor (JSON object with
// camelCase string fields). showNotification posts the update-available
// notification when the release is newer.
func HandleVersionDescriptor(descriptorJSON string, showNotification bool) string {
	inst := getInstance()
	if inst == nil {
		return errJSON(notInitialized())
	}
	ctx, cancel := callContext()
	defer cancel()

	dec, err := inst.policy.HandleDescriptor(ctx, []byte(descriptorJSON), showNotification, update.SourceFetch)
	if err != nil {
		return failJSON(err)
	}
	return okJSON(decisionView(dec))
}

// EvaluateUpdate runs the update policy. When a prompt or nag is due the
// registered PromptHandler is called before the decision is returned.
func EvaluateUpdate() string {
	inst := getInstance()
	if inst == nil {
		return errJSON(notInitialized())
	}
	ctx, cancel := callContext()
	defer cancel()

	dec, err := inst.policy.Evaluate(ctx)
	if err != nil {
		return failJSON(err)
	}
	inst.prompter.showUpdatePrompt(dec)
	return okJSON(decisionView(dec))
}

// ShouldFetchDescriptor reports whether a week has passed since the last
// descriptor was seen. Returns false when the SDK is not initialized.
func ShouldFetchDescriptor() bool {
	inst := getInstance()
	if inst == nil {
		return false
	}
	ctx, cancel := callContext()
	defer cancel()

	due, err := inst.policy.ShouldFetch(ctx)
	if err != nil {
		logError(classify(err))
		return false
	}
	return due
}

// DeclineUpdate records that the user dismissed the prompt for
// releasedVersion.
func DeclineUpdate(releasedVersion int) string {
	inst := getInstance()
	if inst == nil {
		return notInitializedError()
	}
	ctx, cancel := callContext()
	defer cancel()

	if err := inst.policy.Decline(ctx, version.Code(releasedVersion)); err != nil {
		sdkErr := classify(err)
		logError(sdkErr)
		return sdkErr.Error()
	}
	return ""
}

// AcceptUpdate returns {"result": {"store_url": ...}} for the host to open.
func AcceptUpdate(releasedVersion int) string {
	inst := getInstance()
	if inst == nil {
		return errJSON(notInitialized())
	}
	ctx, cancel := callContext()
	defer cancel()

	url, err := inst.policy.Accept(ctx, version.Code(releasedVersion))
	if err != nil {
		return failJSON(err)
	}
	return okJSON(map[string]string{"store_url": url})
}

// SetLanguage stores the answer to the language prompt.
func SetLanguage(tag string) string {
	inst := getInstance()
	if inst == nil {
		return notInitializedError()
	}
	ctx, cancel := callContext()
	defer cancel()

	if _, err := inst.engine.SelectLanguage(ctx, tag); err != nil {
		sdkErr := classify(err)
		logError(sdkErr)
		return sdkErr.Error()
	}
	return ""
}

// RecordPreferenceOpened increments the settings-screen counter and returns
// the new count, or -1 on failure.
func RecordPreferenceOpened() int64 {
	inst := getInstance()
	if inst == nil {
		notInitializedError()
		return -1
	}
	ctx, cancel := callContext()
	defer cancel()

	n, err := inst.prefs.IncrementOpenedCount(ctx)
	if err != nil {
		logError(classify(err))
		return -1
	}
	return n
}

// GetInstallationId returns the persisted installation ID, empty before the
// first Launch or when the SDK is not initialized.
func GetInstallationId() string {
	inst := getInstance()
	if inst == nil {
		return ""
	}
	ctx, cancel := callContext()
	defer cancel()

	id, err := inst.prefs.InstallationID(ctx)
	if err != nil {
		logError(classify(err))
		return ""
	}
	return id
}

// SetDebugMode toggles debug logging at runtime.
func SetDebugMode(enabled bool) {
	setLogger(enabled)
}

func setLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	loggerMu.Lock()
	logger = l.With("component", "mobile-sdk")
	loggerMu.Unlock()
}

func sdkLogger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

// getInstance returns the SDK singleton, or nil if not initialized.
func getInstance() *sdk {
	sdkMu.RLock()
	defer sdkMu.RUnlock()
	return instance
}

func notInitialized() *SDKError {
	sdkErr := newFatalError(ErrCodeNotInitialized, "SDK not initialized: call Init() first")
	notifyErrorCallbacks(sdkErr)
	return sdkErr
}

// notInitializedError returns and notifies about the not-initialized error.
func notInitializedError() string {
	return notInitialized().Error()
}

func failJSON(err error) string {
	sdkErr := classify(err)
	logError(sdkErr)
	return errJSON(sdkErr)
}

// resetForTesting resets the SDK state for unit tests.
// This is not exported and not available via gomobile.
func resetForTesting() {
	Shutdown()

	errorCallbacksMu.Lock()
	errorCallbacks = nil
	errorCallbacksMu.Unlock()

	nativeMu.Lock()
	topicSubscriber = nil
	notificationHandler = nil
	promptHandler = nil
	nativeMu.Unlock()
}

