package mobile

import (
	"context"
	"errors"
	"sync"

	"github.com/shalom-calendar/upgradekit/internal/notify"
	"github.com/shalom-calendar/upgradekit/internal/update"
)

// ErrorCallback is invoked when critical errors occur in the SDK.
// This interface is gomobile-compatible (single method with basic types).
//
// Parameters:
//   - code: Error code (e.g., "STORAGE_ERROR", "INVALID_CONFIG")
//   - message: Human-readable error message
//   - severity: 0=debug, 1=warning, 2=critical, 3=fatal
type ErrorCallback interface {
	OnError(code string, message string, severity int)
}

// TopicSubscriber is implemented natively on top of the platform push
// service. Both methods block until the platform answers and return an
// empty string on success or an error message.
type TopicSubscriber interface {
	Subscribe(topic string) string
	Unsubscribe(topic string) string
}

// NotificationHandler shows a system notification. channel is one of
// APP_UPDATE_AVAILABLE, SALES_AND_PROMOTION, HOLIDAY_DATE_ADJUSTMENT.
type NotificationHandler interface {
	OnNotification(channel, id, title, body, url string)
}

// PromptHandler shows in-app dialogs.
type PromptHandler interface {
	OnLanguagePrompt()
	OnUpdatePrompt(releasedVersion int, level string, dismissible bool, nag bool, storeURL string)
}

var (
	errNoSubscriber          = errors.New("no native topic subscriber registered")
	errNoNotificationHandler = errors.New("no native notification handler registered")
)

var (
	errorCallbacksMu sync.RWMutex
	errorCallbacks   []ErrorCallback

	nativeMu            sync.RWMutex
	topicSubscriber     TopicSubscriber
	notificationHandler NotificationHandler
	promptHandler       PromptHandler
)

// RegisterErrorCallback adds a callback for critical error notifications.
// Native wrappers call this with platform-specific callback implementations.
// Multiple callbacks can be registered; all will be notified.
func RegisterErrorCallback(callback ErrorCallback) {
	if callback == nil {
		return
	}
	errorCallbacksMu.Lock()
	defer errorCallbacksMu.Unlock()
	errorCallbacks = append(errorCallbacks, callback)
}

// UnregisterErrorCallbacks clears all registered callbacks.
func UnregisterErrorCallbacks() {
	errorCallbacksMu.Lock()
	defer errorCallbacksMu.Unlock()
	errorCallbacks = nil
}

// SetTopicSubscriber registers the platform topic subscriber. Passing nil
// unregisters it.
func SetTopicSubscriber(s TopicSubscriber) {
	nativeMu.Lock()
	defer nativeMu.Unlock()
	topicSubscriber = s
}

// SetNotificationHandler registers the platform notification handler.
func SetNotificationHandler(h NotificationHandler) {
	nativeMu.Lock()
	defer nativeMu.Unlock()
	notificationHandler = h
}

// SetPromptHandler registers the dialog handler.
func SetPromptHandler(h PromptHandler) {
	nativeMu.Lock()
	defer nativeMu.Unlock()
	promptHandler = h
}

func currentSubscriber() TopicSubscriber {
	nativeMu.RLock()
	defer nativeMu.RUnlock()
	return topicSubscriber
}

func currentNotificationHandler() NotificationHandler {
	nativeMu.RLock()
	defer nativeMu.RUnlock()
	return notificationHandler
}

func currentPromptHandler() PromptHandler {
	nativeMu.RLock()
	defer nativeMu.RUnlock()
	return promptHandler
}

// notifyErrorCallbacks dispatches an error to all registered callbacks.
// Only called for Warning+ severity (not Debug).
// Callbacks are invoked asynchronously to avoid blocking the caller.
func notifyErrorCallbacks(err *SDKError) {
	if err == nil || err.Severity < SeverityWarning {
		return
	}

	errorCallbacksMu.RLock()
	callbacks := make([]ErrorCallback, len(errorCallbacks))
	copy(callbacks, errorCallbacks)
	errorCallbacksMu.RUnlock()

	for _, cb := range callbacks {
		go cb.OnError(err.Code, err.Message, int(err.Severity))
	}
}

// logError logs errors based on severity and notifies callbacks for
// critical+ errors.
func logError(err *SDKError) {
	if err == nil {
		return
	}

	logger := sdkLogger()
	switch err.Severity {
	case SeverityDebug:
		logger.Debug(err.Message, "code", err.Code)
	case SeverityWarning:
		logger.Warn(err.Message, "code", err.Code)
	case SeverityCritical, SeverityFatal:
		logger.Error(err.Message, "code", err.Code)
		notifyErrorCallbacks(err)
	}
}

// nativeSubscriber adapts the registered TopicSubscriber to topics.Subscriber.
type nativeSubscriber struct{}

func (nativeSubscriber) Subscribe(_ context.Context, topic string) error {
	s := currentSubscriber()
	if s == nil {
		return errNoSubscriber
	}
	if msg := s.Subscribe(topic); msg != "" {
		return errors.New(msg)
	}
	return nil
}

func (nativeSubscriber) Unsubscribe(_ context.Context, topic string) error {
	s := currentSubscriber()
	if s == nil {
		return errNoSubscriber
	}
	if msg := s.Unsubscribe(topic); msg != "" {
		return errors.New(msg)
	}
	return nil
}

// nativeDispatcher adapts the registered NotificationHandler to
// notify.Dispatcher.
type nativeDispatcher struct{}

func (nativeDispatcher) Notify(_ context.Context, n notify.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	h := currentNotificationHandler()
	if h == nil {
		return errNoNotificationHandler
	}
	h.OnNotification(string(n.Channel), n.ID, n.Title, n.Body, n.URL)
	return nil
}

// nativePrompter adapts the registered PromptHandler to the migration and
// update prompts.
type nativePrompter struct{}

func (nativePrompter) RequestLanguagePrompt(context.Context) {
	if h := currentPromptHandler(); h != nil {
		h.OnLanguagePrompt()
	}
}

// showUpdatePrompt forwards a prompt or nag. A nag without a known release
// carries version 0 and an empty level.
func (nativePrompter) showUpdatePrompt(dec update.Decision) bool {
	h := currentPromptHandler()
	if h == nil || !(dec.Prompt || dec.Nag) {
		return false
	}
	released, level := 0, ""
	if dec.Descriptor != nil {
		released = int(dec.Descriptor.ReleasedVersion)
		level = dec.Descriptor.Level.String()
	}
	h.OnUpdatePrompt(released, level, dec.Dismissible || !dec.Prompt, dec.Nag, dec.StoreURL)
	return true
}
