package migration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shalom-calendar/upgradekit/internal/locale"
	"github.com/shalom-calendar/upgradekit/internal/settings"
	"github.com/shalom-calendar/upgradekit/internal/topics"
	"github.com/shalom-calendar/upgradekit/internal/version"
)

type fakeSubscriber struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{calls: make(map[string]int)}
}

func (f *fakeSubscriber) Subscribe(_ context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[topic]++
	return f.fail[topic]
}

func (f *fakeSubscriber) Unsubscribe(context.Context, string) error { return nil }

func (f *fakeSubscriber) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type countingPrompter struct{ n int }

func (p *countingPrompter) RequestLanguagePrompt(context.Context) { p.n++ }

type fixture struct {
	mem      *settings.MemoryBackend
	prefs    *settings.Preferences
	sub      *fakeSubscriber
	prompter *countingPrompter
	engine   *Engine
}

func newFixture(t *testing.T, loc locale.Provider) *fixture {
	t.Helper()
	mem := settings.NewMemoryBackend()
	prefs := settings.NewPreferences(settings.NewStore(mem))
	sub := newFakeSubscriber()
	prompter := &countingPrompter{}
	mgr := topics.NewManager(prefs, sub, nil, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := New(prefs, loc, mgr, nil, nil,
		WithPrompter(prompter),
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { return "install-1" }),
	)
	return &fixture{mem: mem, prefs: prefs, sub: sub, prompter: prompter, engine: e}
}

func TestThreshold_Due(t *testing.T) {
	th := Threshold{Feature: TopicResubscription, MinVersion: 82}
	tests := []struct {
		prev, cur version.Code
		want      bool
	}{
		{prev: 70, cur: 90, want: true},
		{prev: 81, cur: 82, want: true},
		{prev: 82, cur: 90, want: false},
		{prev: 90, cur: 95, want: false},
		{prev: 70, cur: 80, want: false},
		{prev: version.NoVersion, cur: 90, want: true},
	}
	for _, tt := range tests {
		if got := th.Due(tt.prev, tt.cur); got != tt.want {
			t.Errorf("Due(%d, %d) = %v, want %v", tt.prev, tt.cur, got, tt.want)
		}
	}
}

func TestThresholds_ReturnsCopy(t *testing.T) {
	a := Thresholds()
	a[0].MinVersion = 1
	if Thresholds()[0].MinVersion == 1 {
		t.Error("Thresholds() exposed the shared table")
	}
}

func TestRunMigrations_EachFeatureFiresWhenCrossed(t *testing.T) {
	const current version.Code = 100
	for _, th := range Thresholds() {
		for _, prev := range []version.Code{version.NoVersion, 0, th.MinVersion - 1, th.MinVersion, th.MinVersion + 1, current} {
			f := newFixture(t, locale.Static{Language: "en", Country: "US"})
			res, err := f.engine.RunMigrations(context.Background(), prev, current)
			if err != nil {
				t.Fatalf("RunMigrations(%d) error = %v", prev, err)
			}
			want := prev < th.MinVersion
			count := 0
			for _, a := range res.Applied {
				if a == th.Feature {
					count++
				}
			}
			if want && count != 1 {
				t.Errorf("%s with prev=%d ran %d times, want 1", th.Feature, prev, count)
			}
			if !want && count != 0 {
				t.Errorf("%s with prev=%d ran %d times, want 0", th.Feature, prev, count)
			}
		}
	}
}

func TestRunMigrations_PersistsCurrentVersion(t *testing.T) {
	f := newFixture(t, locale.Static{Language: "am", Country: "ET"})
	if _, err := f.engine.RunMigrations(context.Background(), 60, 90); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if got, _ := f.prefs.CurrentVersion(context.Background()); got != 90 {
		t.Errorf("CurrentVersion() = %d, want 90", got)
	}
}

func TestRunMigrations_StagedUpgrade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, locale.Static{Language: "fr", Country: "FR"})

	res, err := f.engine.RunMigrations(ctx, 70, 80)
	if err != nil {
		t.Fatalf("RunMigrations(70, 80) error = %v", err)
	}
	if !res.Ran(SecondaryLocaleSupport) {
		t.Error("secondary locale not applied for 70 -> 80")
	}
	if res.Ran(TopicResubscription) || f.sub.total() != 0 {
		t.Error("topic subscription attempted for 70 -> 80")
	}
	if got, _ := f.prefs.SecondaryLocale(ctx); got != locale.French {
		t.Errorf("SecondaryLocale() = %q, want fr", got)
	}

	res, err = f.engine.RunMigrations(ctx, 80, 82)
	if err != nil {
		t.Fatalf("RunMigrations(80, 82) error = %v", err)
	}
	if len(res.Applied) != 1 || res.Applied[0] != TopicResubscription {
		t.Errorf("Applied = %v, want only topic resubscription", res.Applied)
	}
	if f.sub.total() != len(topics.Default) {
		t.Errorf("Subscribe called %d times, want %d", f.sub.total(), len(topics.Default))
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, locale.Static{Language: "ar", Country: "SA"})

	if _, err := f.engine.RunMigrations(ctx, 50, 90); err != nil {
		t.Fatalf("first RunMigrations() error = %v", err)
	}
	before := f.mem.Snapshot()
	writes := f.mem.Writes()
	subs := f.sub.total()

	res, err := f.engine.RunMigrations(ctx, 50, 90)
	if err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}
	if res.LanguagePromptRequested {
		t.Error("language prompt requested twice")
	}
	if f.sub.total() != subs {
		t.Errorf("Subscribe calls went %d -> %d on repeat", subs, f.sub.total())
	}
	if f.prompter.n != 1 {
		t.Errorf("prompter called %d times, want 1", f.prompter.n)
	}
	// Only current_version is rewritten, with the same value.
	if got := f.mem.Writes() - writes; got != 1 {
		t.Errorf("repeat run made %d writes, want 1", got)
	}
	after := f.mem.Snapshot()
	for k, v := range before {
		if after[k] != v {
			t.Errorf("key %s changed %q -> %q on repeat run", k, v, after[k])
		}
	}
}

func TestRunMigrations_SameVersionIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, locale.Static{Language: "en", Country: "US"})

	for i := 0; i < 2; i++ {
		res, err := f.engine.RunMigrations(ctx, 90, 90)
		if err != nil {
			t.Fatalf("RunMigrations(90, 90) error = %v", err)
		}
		if len(res.Applied) != 0 {
			t.Errorf("Applied = %v, want none", res.Applied)
		}
	}
	if f.sub.total() != 0 {
		t.Error("subscriptions sent for a same-version run")
	}
}

func TestRunMigrations_ArabicRegionDefaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, locale.Static{Language: "ar", Country: "EG"})

	if _, err := f.engine.RunMigrations(ctx, 70, 90); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if v, _ := f.prefs.OrthodoxDayNameShown(ctx); v {
		t.Error("OrthodoxDayNameShown = true, want false")
	}
	if v, _ := f.prefs.OrthodoxOnlyHolidaysShown(ctx); v {
		t.Error("OrthodoxOnlyHolidaysShown = true, want false")
	}
	if v, _ := f.prefs.MuslimOnlyHolidaysShown(ctx); !v {
		t.Error("MuslimOnlyHolidaysShown = false, want true")
	}
	if v, _ := f.prefs.SecondaryChronology(ctx); v != locale.ChronologyIslamic {
		t.Errorf("SecondaryChronology = %q, want islamic", v)
	}
}

func TestRunMigrations_NonArabicRegionKeepsHolidayDefaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, locale.Static{Language: "am", Country: "ET"})

	if _, err := f.engine.RunMigrations(ctx, 70, 90); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if ok, _ := f.prefs.Store().Contains(ctx, settings.KeyMuslimOnlyHolidays); ok {
		t.Error("holiday defaults written for a non-Arabic region")
	}
}

func TestRunMigrations_LocaleFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, locale.Static{})

	res, err := f.engine.RunMigrations(ctx, 70, 90)
	if err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if !res.LocaleFallback {
		t.Error("LocaleFallback = false, want true")
	}
	if got, _ := f.prefs.SecondaryLocale(ctx); got != locale.English {
		t.Errorf("SecondaryLocale() = %q, want en", got)
	}
	if got, _ := f.prefs.CurrentVersion(ctx); got != 90 {
		t.Errorf("CurrentVersion() = %d, want 90", got)
	}
}

func TestRunMigrations_FailedActionDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, locale.Static{Language: "en", Country: "US"})
	f.sub.fail = map[string]error{topics.Event: errors.New("offline")}

	res, err := f.engine.RunMigrations(ctx, 70, 90)
	if err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if len(res.Failures) != 1 || res.Failures[0].Feature != TopicResubscription {
		t.Fatalf("Failures = %v, want one topic failure", res.Failures)
	}
	if res.Err() == nil {
		t.Error("Result.Err() = nil, want error")
	}
	if ok, _ := f.prefs.TopicSubscribed(ctx, topics.AppVersionUpgrade); !ok {
		t.Error("AppVersionUpgrade not subscribed")
	}
	if ok, _ := f.prefs.TopicSubscribed(ctx, topics.Event); ok {
		t.Error("Event flag set despite failure")
	}
	if got, _ := f.prefs.CurrentVersion(ctx); got != 90 {
		t.Errorf("CurrentVersion() = %d, want 90", got)
	}
}

func TestRunMigrations_NoTopicManager(t *testing.T) {
	prefs := settings.NewPreferences(settings.NewStore(settings.NewMemoryBackend()))
	e := New(prefs, locale.Static{Language: "en"}, nil, nil, nil)

	res, err := e.RunMigrations(context.Background(), 80, 90)
	if err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if !errors.Is(res.Err(), ErrNoTopicManager) {
		t.Errorf("Result.Err() = %v, want ErrNoTopicManager", res.Err())
	}
}

func TestLaunch_Classification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, locale.Static{Language: "am", Country: "ET"})

	first, err := f.engine.Launch(ctx, 85)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if first.Kind != LaunchFirstRun || first.Migration == nil {
		t.Fatalf("first launch = %+v, want first run with migration", first)
	}
	if len(first.Migration.Applied) != len(Thresholds()) {
		t.Errorf("first run applied %v, want every feature", first.Migration.Applied)
	}
	if first.InstallationID != "install-1" {
		t.Errorf("InstallationID = %q", first.InstallationID)
	}
	if v, _ := f.prefs.FirstTimeAccess(ctx); v {
		t.Error("FirstTimeAccess still true after first run")
	}

	normal, err := f.engine.Launch(ctx, 85)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if normal.Kind != LaunchNormal || normal.Migration != nil {
		t.Errorf("second launch = %+v, want normal", normal)
	}
	if normal.PreviousUseAt.IsZero() {
		t.Error("PreviousUseAt is zero on second launch")
	}

	upgrade, err := f.engine.Launch(ctx, 90)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if upgrade.Kind != LaunchUpgrade || upgrade.StoredVersion != 85 {
		t.Errorf("upgrade launch = %+v", upgrade)
	}
	if got, _ := f.prefs.CurrentVersion(ctx); got != 90 {
		t.Errorf("CurrentVersion() = %d, want 90", got)
	}
}

func TestLaunch_DowngradeIsNormal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, locale.Static{Language: "en"})
	f.prefs.SetCurrentVersion(ctx, 95)

	res, err := f.engine.Launch(ctx, 90)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if res.Kind != LaunchNormal {
		t.Errorf("Kind = %v, want normal", res.Kind)
	}
	if got, _ := f.prefs.CurrentVersion(ctx); got != 95 {
		t.Errorf("CurrentVersion() = %d, want unchanged 95", got)
	}
}
