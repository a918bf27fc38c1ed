package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shalom-calendar/upgradekit/internal/remote"
	"github.com/shalom-calendar/upgradekit/internal/settings"
	"github.com/shalom-calendar/upgradekit/internal/update"
)

type stubSource struct {
	mu    sync.Mutex
	data  []byte
	err   error
	calls int
}

func (s *stubSource) Fetch(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.data, s.err
}

func (s *stubSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type promptRecorder struct {
	mu        sync.Mutex
	decisions []update.Decision
}

func (p *promptRecorder) ShowUpdatePrompt(_ context.Context, dec update.Decision) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decisions = append(p.decisions, dec)
	return nil
}

func (p *promptRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.decisions)
}

func newPolicy(now *time.Time) *update.Policy {
	prefs := settings.NewPreferences(settings.NewStore(settings.NewMemoryBackend()))
	p := update.NewPolicy(update.Config{OwnVersion: 80, StoreURL: "market://details?id=x"}, prefs, nil, nil, nil)
	p.SetClock(func() time.Time { return *now })
	return p
}

func TestTick_FetchesAndPrompts(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	src := &stubSource{data: []byte(`{"releasedVersion":"90","updateLevel":"Critical"}`)}
	rec := &promptRecorder{}
	s := New(newPolicy(&now), src, rec, time.Hour, nil)

	dec, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if !dec.Prompt || dec.Dismissible {
		t.Errorf("decision = %+v, want non-dismissible prompt", dec)
	}
	if src.count() != 1 || rec.count() != 1 {
		t.Errorf("fetches = %d, prompts = %d; want 1, 1", src.count(), rec.count())
	}

	// Inside the fetch window no new fetch happens.
	now = now.Add(time.Hour)
	s.Tick(context.Background())
	if src.count() != 1 {
		t.Errorf("fetches = %d after second tick, want 1", src.count())
	}
}

func TestTick_FetchFailureStillEvaluates(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	src := &stubSource{err: remote.ErrNotFound}
	rec := &promptRecorder{}
	s := New(newPolicy(&now), src, rec, time.Hour, nil)

	dec, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if dec.State != update.StateUnknown || dec.Prompt {
		t.Errorf("decision = %+v, want unknown without prompt", dec)
	}
	if rec.count() != 0 {
		t.Error("prompt shown without a descriptor")
	}

	src.err = errors.New("network down")
	if _, err := s.Tick(context.Background()); err != nil {
		t.Errorf("Tick() with network failure error = %v", err)
	}
}

func TestTick_MalformedFetchIgnored(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	src := &stubSource{data: []byte(`{"releasedVersion":"soon"}`)}
	s := New(newPolicy(&now), src, nil, time.Hour, nil)

	dec, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if dec.State != update.StateUnknown {
		t.Errorf("State = %v, want unknown", dec.State)
	}
}

func TestStartStop(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	src := &stubSource{err: remote.ErrNotFound}
	s := New(newPolicy(&now), src, nil, time.Hour, nil)

	s.Start(context.Background())
	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for src.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	s.Stop()

	if src.count() != 1 {
		t.Errorf("fetches = %d, want 1 (immediate tick only)", src.count())
	}
}
