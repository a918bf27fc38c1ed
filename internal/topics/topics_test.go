package topics

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shalom-calendar/upgradekit/internal/settings"
)

// fakeSubscriber records calls and fails for topics listed in fail.
type fakeSubscriber struct {
	mu           sync.Mutex
	fail         map[string]error
	subscribed   []string
	unsubscribed []string
}

func (f *fakeSubscriber) Subscribe(_ context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return f.fail[topic]
}

func (f *fakeSubscriber) Unsubscribe(_ context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topic)
	return f.fail[topic]
}

func newPrefs() *settings.Preferences {
	return settings.NewPreferences(settings.NewStore(settings.NewMemoryBackend()))
}

func TestManager_SubscribeIfNeeded_SetsFlagFromResult(t *testing.T) {
	ctx := context.Background()
	prefs := newPrefs()
	sub := &fakeSubscriber{fail: map[string]error{Event: errors.New("unavailable")}}
	m := NewManager(prefs, sub, nil, nil)

	outcomes := m.SubscribeAll(ctx, Default)
	if len(outcomes) != len(Default) {
		t.Fatalf("SubscribeAll() returned %d outcomes, want %d", len(outcomes), len(Default))
	}

	for _, topic := range Default {
		got, _ := prefs.TopicSubscribed(ctx, topic)
		want := topic != Event
		if got != want {
			t.Errorf("TopicSubscribed(%s) = %v, want %v", topic, got, want)
		}
	}
	if len(sub.subscribed) != len(Default) {
		t.Errorf("Subscribe called %d times, want %d (failure must not stop others)", len(sub.subscribed), len(Default))
	}
}

func TestManager_SubscribeIfNeeded_SkipsWhenSubscribed(t *testing.T) {
	ctx := context.Background()
	prefs := newPrefs()
	sub := &fakeSubscriber{}
	m := NewManager(prefs, sub, nil, nil)

	m.SubscribeIfNeeded(ctx, AppVersionUpgrade)
	out := m.SubscribeIfNeeded(ctx, AppVersionUpgrade)

	if !out.Skipped {
		t.Error("second SubscribeIfNeeded() not skipped")
	}
	if len(sub.subscribed) != 1 {
		t.Errorf("Subscribe called %d times, want 1", len(sub.subscribed))
	}
}

func TestManager_RetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	prefs := newPrefs()
	sub := &fakeSubscriber{fail: map[string]error{Event: errors.New("offline")}}
	m := NewManager(prefs, sub, nil, nil)

	if out := m.SubscribeIfNeeded(ctx, Event); out.Err == nil {
		t.Fatal("SubscribeIfNeeded() expected error")
	}

	sub.fail = nil
	if out := m.SubscribeIfNeeded(ctx, Event); out.Err != nil || out.Skipped {
		t.Fatalf("retry outcome = %+v, want success", out)
	}
	if ok, _ := prefs.TopicSubscribed(ctx, Event); !ok {
		t.Error("flag not set after successful retry")
	}
}

func TestManager_UnsubscribeIfSubscribed(t *testing.T) {
	ctx := context.Background()
	prefs := newPrefs()
	sub := &fakeSubscriber{}
	m := NewManager(prefs, sub, nil, nil)

	if out := m.UnsubscribeIfSubscribed(ctx, AllTest); !out.Skipped {
		t.Error("UnsubscribeIfSubscribed() on unsubscribed topic not skipped")
	}

	m.SubscribeIfNeeded(ctx, AllTest)
	if out := m.UnsubscribeIfSubscribed(ctx, AllTest); out.Err != nil || out.Skipped {
		t.Fatalf("UnsubscribeIfSubscribed() = %+v", out)
	}
	if ok, _ := prefs.TopicSubscribed(ctx, AllTest); ok {
		t.Error("flag still set after unsubscribe")
	}
	if len(sub.unsubscribed) != 1 {
		t.Errorf("Unsubscribe called %d times, want 1", len(sub.unsubscribed))
	}
}
