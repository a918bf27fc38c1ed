package mobile

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/shalom-calendar/upgradekit/internal/migration"
	"github.com/shalom-calendar/upgradekit/internal/topics"
)

type envelope[T any] struct {
	Result T         `json:"result"`
	Error  *SDKError `json:"error"`
}

func decode[T any](t *testing.T, s string) (T, *SDKError) {
	t.Helper()
	var env envelope[T]
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		t.Fatalf("response %q is not JSON: %v", s, err)
	}
	return env.Result, env.Error
}

type fakeSubscriber struct {
	mu     sync.Mutex
	topics []string
	fail   string
}

func (f *fakeSubscriber) Subscribe(topic string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return f.fail
}

func (f *fakeSubscriber) Unsubscribe(string) string { return "" }

type notification struct {
	channel, title, url string
}

type fakeNotifications struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifications) OnNotification(channel, _, title, _, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{channel: channel, title: title, url: url})
}

type updatePrompt struct {
	released    int
	level       string
	dismissible bool
}

type fakePrompts struct {
	language int
	updates  []updatePrompt
}

func (f *fakePrompts) OnLanguagePrompt() { f.language++ }

func (f *fakePrompts) OnUpdatePrompt(released int, level string, dismissible, _ bool, _ string) {
	f.updates = append(f.updates, updatePrompt{released: released, level: level, dismissible: dismissible})
}

type natives struct {
	sub     *fakeSubscriber
	notes   *fakeNotifications
	prompts *fakePrompts
}

func setup(t *testing.T, build int) (string, natives) {
	t.Helper()
	resetForTesting()
	dir := t.TempDir()
	t.Cleanup(resetForTesting)

	n := natives{sub: &fakeSubscriber{}, notes: &fakeNotifications{}, prompts: &fakePrompts{}}
	SetTopicSubscriber(n.sub)
	SetNotificationHandler(n.notes)
	SetPromptHandler(n.prompts)

	initSDK(t, dir, build)
	return dir, n
}

func initSDK(t *testing.T, dir string, build int) {
	t.Helper()
	cfg := fmt.Sprintf(`{"data_path": %q, "build_version": %d, "app_id": "com.example.calendar", "locale": "en_US"}`, dir, build)
	if result := Init(cfg); result != "" {
		t.Fatalf("Init returned error: %s", result)
	}
}

func TestInit_ValidConfig(t *testing.T) {
	setup(t, 82)
	if !IsInitialized() {
		t.Error("IsInitialized() = false after Init")
	}
}

func TestInit_InvalidConfig(t *testing.T) {
	resetForTesting()
	defer resetForTesting()

	result := Init(`{"app_id": "x", "build_version": 82}`)
	if !strings.Contains(result, "data_path is required") {
		t.Errorf("error = %q, want to contain 'data_path is required'", result)
	}
	if IsInitialized() {
		t.Error("IsInitialized() = true after failed Init")
	}

	if result := Init("not json"); result == "" {
		t.Error("Init should return error for invalid JSON")
	}
}

func TestNotInitialized(t *testing.T) {
	resetForTesting()
	defer resetForTesting()

	_, sdkErr := decode[LaunchView](t, Launch())
	if sdkErr == nil || sdkErr.Code != ErrCodeNotInitialized {
		t.Errorf("Launch() error = %+v, want NOT_INITIALIZED", sdkErr)
	}
	if result := DeclineUpdate(90); result == "" {
		t.Error("DeclineUpdate() should fail before Init")
	}
	if ShouldFetchDescriptor() {
		t.Error("ShouldFetchDescriptor() = true before Init")
	}
	if got := RecordPreferenceOpened(); got != -1 {
		t.Errorf("RecordPreferenceOpened() = %d, want -1", got)
	}
}

func TestLaunch_FirstRunThenNormal(t *testing.T) {
	_, n := setup(t, 82)

	first, sdkErr := decode[LaunchView](t, Launch())
	if sdkErr != nil {
		t.Fatalf("Launch() error = %+v", sdkErr)
	}
	if first.Kind != "first_run" || first.StoredVersion != -1 || first.InstallationID == "" {
		t.Errorf("first launch = %+v", first)
	}
	if first.Migration == nil || len(first.Migration.Applied) != len(migration.Thresholds()) {
		t.Fatalf("first launch migration = %+v, want every feature", first.Migration)
	}
	if len(n.sub.topics) != len(topics.Default) {
		t.Errorf("subscribed %v, want %v", n.sub.topics, topics.Default)
	}
	if n.prompts.language != 1 {
		t.Errorf("language prompts = %d, want 1", n.prompts.language)
	}

	second, _ := decode[LaunchView](t, Launch())
	if second.Kind != "normal" || second.Migration != nil {
		t.Errorf("second launch = %+v, want normal without migration", second)
	}
	if second.InstallationID != first.InstallationID {
		t.Errorf("installation id changed: %q -> %q", first.InstallationID, second.InstallationID)
	}
	if GetInstallationId() != first.InstallationID {
		t.Errorf("GetInstallationId() = %q, want %q", GetInstallationId(), first.InstallationID)
	}
}

func TestLaunch_UpgradeAfterReinit(t *testing.T) {
	dir, n := setup(t, 80)
	if _, sdkErr := decode[LaunchView](t, Launch()); sdkErr != nil {
		t.Fatalf("Launch() error = %+v", sdkErr)
	}
	if len(n.sub.topics) != 0 {
		t.Errorf("build 80 subscribed %v, want none", n.sub.topics)
	}

	initSDK(t, dir, 82)
	res, _ := decode[LaunchView](t, Launch())
	if res.Kind != "upgrade" || res.StoredVersion != 80 {
		t.Fatalf("launch = %+v, want upgrade from 80", res)
	}
	if got := res.Migration.Applied; len(got) != 1 || got[0] != string(migration.TopicResubscription) {
		t.Errorf("Applied = %v, want only %s", got, migration.TopicResubscription)
	}
}

func TestUpdateFlow(t *testing.T) {
	_, n := setup(t, 82)

	dec, sdkErr := decode[DecisionView](t, HandleVersionDescriptor(`{"releasedVersion":"90","updateLevel":"BigFeature"}`, true))
	if sdkErr != nil {
		t.Fatalf("HandleVersionDescriptor() error = %+v", sdkErr)
	}
	if dec.State != "available" || dec.ReleasedVersion != 90 {
		t.Errorf("decision = %+v", dec)
	}
	if len(n.notes.sent) != 1 || n.notes.sent[0].channel != "APP_UPDATE_AVAILABLE" {
		t.Fatalf("notifications = %+v, want one update notification", n.notes.sent)
	}
	if n.notes.sent[0].url != "market://details?id=com.example.calendar" {
		t.Errorf("notification url = %q", n.notes.sent[0].url)
	}

	dec, _ = decode[DecisionView](t, EvaluateUpdate())
	if !dec.Prompt || !dec.Dismissible {
		t.Errorf("EvaluateUpdate() = %+v, want dismissible prompt", dec)
	}
	if len(n.prompts.updates) != 1 || n.prompts.updates[0].released != 90 || n.prompts.updates[0].level != "BigFeature" {
		t.Errorf("update prompts = %+v", n.prompts.updates)
	}

	if result := DeclineUpdate(90); result != "" {
		t.Fatalf("DeclineUpdate() = %q", result)
	}
	dec, _ = decode[DecisionView](t, EvaluateUpdate())
	if dec.Prompt {
		t.Errorf("EvaluateUpdate() after decline = %+v, want no prompt", dec)
	}
	if len(n.prompts.updates) != 1 {
		t.Errorf("prompt shown again after decline")
	}

	accepted, _ := decode[map[string]string](t, AcceptUpdate(90))
	if accepted["store_url"] == "" {
		t.Errorf("AcceptUpdate() = %v, want store url", accepted)
	}
	if ShouldFetchDescriptor() {
		t.Error("ShouldFetchDescriptor() = true right after a descriptor")
	}
}

func TestUpdateErrors(t *testing.T) {
	setup(t, 82)

	_, sdkErr := decode[DecisionView](t, HandleVersionDescriptor(`{"releasedVersion":"ninety","updateLevel":"Critical"}`, true))
	if sdkErr == nil || sdkErr.Code != ErrCodeInvalidDescriptor {
		t.Errorf("malformed descriptor error = %+v, want INVALID_DESCRIPTOR", sdkErr)
	}
	if result := DeclineUpdate(80); !strings.Contains(result, "not newer") {
		t.Errorf("DeclineUpdate(80) = %q, want not-newer error", result)
	}
	if !ShouldFetchDescriptor() {
		t.Error("ShouldFetchDescriptor() = false with no descriptor seen")
	}
}

func TestHandlePushPayload(t *testing.T) {
	_, n := setup(t, 82)

	payload := `{"holiday_id":"7","ethiopian_year":"2018","addition":"1","content_title":"Date changed"}`
	res, sdkErr := decode[PushView](t, HandlePushPayload(topics.HolidayDateAdjustment, payload, "m-1"))
	if sdkErr != nil || res.Outcome != "holiday_adjusted" {
		t.Fatalf("HandlePushPayload() = %+v, %+v", res, sdkErr)
	}
	res, _ = decode[PushView](t, HandlePushPayload(topics.HolidayDateAdjustment, payload, "m-1"))
	if res.Outcome != "duplicate" {
		t.Errorf("redelivery outcome = %q, want duplicate", res.Outcome)
	}
	if len(n.notes.sent) != 1 || n.notes.sent[0].channel != "HOLIDAY_DATE_ADJUSTMENT" {
		t.Errorf("notifications = %+v", n.notes.sent)
	}

	_, sdkErr = decode[PushView](t, HandlePushPayload(topics.HolidayDateAdjustment, `{"holiday_id":7}`, ""))
	if sdkErr == nil || sdkErr.Code != ErrCodeInvalidPayload {
		t.Errorf("non-string payload error = %+v, want INVALID_PAYLOAD", sdkErr)
	}

	res, _ = decode[PushView](t, HandlePushPayload(topics.SalesAndPromotion, `{"url_string":"not a url","content_title":"Sale"}`, ""))
	if res.Outcome != "promotion_skipped" {
		t.Errorf("promotion outcome = %q, want promotion_skipped", res.Outcome)
	}
}

func TestSubscribeTopics_RetriesFailures(t *testing.T) {
	_, n := setup(t, 82)
	n.sub.fail = "play services unavailable"

	views, _ := decode[[]TopicView](t, SubscribeTopics())
	for _, v := range views {
		if v.Error == "" {
			t.Errorf("topic %s: want error while the platform fails", v.Topic)
		}
	}

	n.sub.fail = ""
	views, _ = decode[[]TopicView](t, SubscribeTopics())
	for _, v := range views {
		if v.Error != "" || v.Skipped {
			t.Errorf("topic %+v: want a fresh successful subscription", v)
		}
	}
	views, _ = decode[[]TopicView](t, SubscribeTopics())
	for _, v := range views {
		if !v.Skipped {
			t.Errorf("topic %s: want skipped once subscribed", v.Topic)
		}
	}

	if result := UnsubscribeTopic(topics.SalesAndPromotion); result != "" {
		t.Fatalf("UnsubscribeTopic() = %q", result)
	}
	views, _ = decode[[]TopicView](t, SubscribeTopics())
	for _, v := range views {
		if wantSkipped := v.Topic != topics.SalesAndPromotion; v.Skipped != wantSkipped {
			t.Errorf("topic %s: skipped = %v, want %v", v.Topic, v.Skipped, wantSkipped)
		}
	}
}

func TestPreferencesAndLanguage(t *testing.T) {
	setup(t, 82)

	if got := RecordPreferenceOpened(); got != 1 {
		t.Errorf("RecordPreferenceOpened() = %d, want 1", got)
	}
	if got := RecordPreferenceOpened(); got != 2 {
		t.Errorf("RecordPreferenceOpened() = %d, want 2", got)
	}
	if result := SetLanguage("fr"); result != "" {
		t.Errorf("SetLanguage(fr) = %q", result)
	}
	if result := SetLanguage(""); result == "" {
		t.Error("SetLanguage(\"\") should fail")
	}
	if result := SetLocale("am_ET"); result != "" {
		t.Errorf("SetLocale() = %q", result)
	}
}

func TestShutdown(t *testing.T) {
	setup(t, 82)
	if result := Shutdown(); result != "" {
		t.Fatalf("Shutdown() = %q", result)
	}
	if IsInitialized() {
		t.Error("IsInitialized() = true after Shutdown")
	}
	if result := Shutdown(); result != "" {
		t.Errorf("second Shutdown() = %q", result)
	}
}
