package mobile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shalom-calendar/upgradekit/internal/notify"
	"github.com/shalom-calendar/upgradekit/internal/settings"
	"github.com/shalom-calendar/upgradekit/internal/update"
	"github.com/shalom-calendar/upgradekit/internal/version"
)

// mockCallback implements ErrorCallback for testing.
type mockCallback struct {
	mu       sync.Mutex
	calls    []mockCallbackCall
	received chan struct{}
}

type mockCallbackCall struct {
	Code     string
	Message  string
	Severity int
}

func newMockCallback() *mockCallback {
	return &mockCallback{
		received: make(chan struct{}, 10),
	}
}

func (m *mockCallback) OnError(code string, message string, severity int) {
	m.mu.Lock()
	m.calls = append(m.calls, mockCallbackCall{
		Code:     code,
		Message:  message,
		Severity: severity,
	})
	m.mu.Unlock()
	m.received <- struct{}{}
}

func (m *mockCallback) waitForCalls(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for i := 0; i < n; i++ {
		select {
		case <-m.received:
		case <-deadline:
			return false
		}
	}
	return true
}

func (m *mockCallback) getCalls() []mockCallbackCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]mockCallbackCall, len(m.calls))
	copy(result, m.calls)
	return result
}

func TestRegisterErrorCallback_ReceivesCritical(t *testing.T) {
	UnregisterErrorCallbacks()
	defer UnregisterErrorCallbacks()

	cb := newMockCallback()
	RegisterErrorCallback(cb)

	logError(newCriticalError(ErrCodeStorage, "database is locked"))

	if !cb.waitForCalls(1, time.Second) {
		t.Fatal("callback not invoked within timeout")
	}
	calls := cb.getCalls()
	if len(calls) != 1 || calls[0].Code != ErrCodeStorage || calls[0].Severity != int(SeverityCritical) {
		t.Errorf("calls = %+v", calls)
	}
}

func TestLogError_WarningDoesNotNotify(t *testing.T) {
	UnregisterErrorCallbacks()
	defer UnregisterErrorCallbacks()

	cb := newMockCallback()
	RegisterErrorCallback(cb)
	RegisterErrorCallback(nil)

	logError(newWarningError(ErrCodeInvalidPayload, "bad payload"))
	logError(nil)

	if cb.waitForCalls(1, 50*time.Millisecond) {
		t.Errorf("warning reached the error callback: %+v", cb.getCalls())
	}
}

func TestInitFailure_NotifiesCallback(t *testing.T) {
	resetForTesting()
	defer resetForTesting()

	cb := newMockCallback()
	RegisterErrorCallback(cb)
	Init(`{}`)

	if !cb.waitForCalls(1, time.Second) {
		t.Fatal("callback not invoked within timeout")
	}
	if calls := cb.getCalls(); calls[0].Code != ErrCodeInvalidConfig || calls[0].Severity != int(SeverityFatal) {
		t.Errorf("calls = %+v", calls)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     string
		severity ErrorSeverity
	}{
		{"descriptor", &version.ParseError{Field: version.FieldReleasedVersion}, ErrCodeInvalidDescriptor, SeverityWarning},
		{"not newer", update.ErrNotNewer, ErrCodeNotNewer, SeverityWarning},
		{"storage", settings.ErrClosed, ErrCodeStorage, SeverityCritical},
		{"unknown", errors.New("boom"), ErrCodeInternal, SeverityCritical},
		{"already classified", newFatalError(ErrCodeNotInitialized, "x"), ErrCodeNotInitialized, SeverityFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if got.Code != tt.code || got.Severity != tt.severity {
				t.Errorf("classify(%v) = %+v, want %s/%d", tt.err, got, tt.code, tt.severity)
			}
		})
	}
}

func TestNativeAdapters_WithoutHandlers(t *testing.T) {
	resetForTesting()
	defer resetForTesting()
	ctx := context.Background()

	if err := (nativeSubscriber{}).Subscribe(ctx, "T"); !errors.Is(err, errNoSubscriber) {
		t.Errorf("Subscribe() error = %v, want errNoSubscriber", err)
	}
	n := notify.New(notify.ChannelUpdateAvailable, "t", "b", "", time.Now())
	if err := (nativeDispatcher{}).Notify(ctx, n); !errors.Is(err, errNoNotificationHandler) {
		t.Errorf("Notify() error = %v, want errNoNotificationHandler", err)
	}
	if (nativePrompter{}).showUpdatePrompt(update.Decision{Prompt: true}) {
		t.Error("showUpdatePrompt() = true without a handler")
	}
	(nativePrompter{}).RequestLanguagePrompt(ctx)
}

func TestNativePrompter_NagWithoutDescriptor(t *testing.T) {
	resetForTesting()
	defer resetForTesting()

	p := &fakePrompts{}
	SetPromptHandler(p)
	if !(nativePrompter{}).showUpdatePrompt(update.Decision{Nag: true, StoreURL: "u"}) {
		t.Fatal("nag not forwarded")
	}
	if got := p.updates[0]; got.released != 0 || got.level != "" || !got.dismissible {
		t.Errorf("nag prompt = %+v", got)
	}
	if (nativePrompter{}).showUpdatePrompt(update.Decision{State: update.StateAvailable}) {
		t.Error("decision without prompt or nag was forwarded")
	}
}
