// Package scheduler runs the periodic update check: fetch a descriptor when
// the fetch throttle allows, evaluate the policy and hand any prompt to the
// host.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shalom-calendar/upgradekit/internal/remote"
	"github.com/shalom-calendar/upgradekit/internal/update"
)

// Prompter shows an update prompt or nag to the user.
type Prompter interface {
	ShowUpdatePrompt(ctx context.Context, dec update.Decision) error
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, dec update.Decision) error

func (f PrompterFunc) ShowUpdatePrompt(ctx context.Context, dec update.Decision) error {
	return f(ctx, dec)
}

// Scheduler ticks the update policy on an interval.
type Scheduler struct {
	policy   *update.Policy
	source   remote.Source
	prompter Prompter
	interval time.Duration
	logger   *slog.Logger

	tickMu sync.Mutex

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New creates a Scheduler. source and prompter may be nil.
func New(policy *update.Policy, source remote.Source, prompter Prompter, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		policy:   policy,
		source:   source,
		prompter: prompter,
		interval: interval,
		logger:   logger.With("component", "update-scheduler"),
	}
}

// Start runs one tick immediately and then one per interval in the
// background.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("scheduler already running")
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	go s.run(ctx, s.stopCh, s.doneCh)
	s.logger.Info("update scheduler started", "interval", s.interval)
}

// Stop ends the loop and waits for an in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	done := s.doneCh
	s.running = false
	s.mu.Unlock()

	<-done
	s.logger.Info("update scheduler stopped")
}

// RunNow performs a tick outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) (update.Decision, error) {
	return s.Tick(ctx)
}

func (s *Scheduler) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	s.tickAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.tickAndLog(ctx)
		}
	}
}

func (s *Scheduler) tickAndLog(ctx context.Context) {
	if _, err := s.Tick(ctx); err != nil {
		s.logger.Error("update check failed", "error", err)
	}
}

// Tick runs a single check. Ticks never overlap.
func (s *Scheduler) Tick(ctx context.Context) (update.Decision, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	fetched := false
	due, err := s.policy.ShouldFetch(ctx)
	if err != nil {
		return update.Decision{}, err
	}
	if due {
		fetched = s.fetch(ctx)
	}

	dec, err := s.policy.Evaluate(ctx)
	if err != nil {
		return dec, err
	}

	// A nag forces a fetch even inside the fetch throttle window.
	if dec.Nag && !fetched && s.fetch(ctx) {
		if again, err := s.policy.Evaluate(ctx); err == nil {
			again.Nag = true
			dec = again
		}
	}

	if (dec.Prompt || dec.Nag) && s.prompter != nil {
		if err := s.prompter.ShowUpdatePrompt(ctx, dec); err != nil {
			s.logger.Warn("update prompt not shown", "error", err)
		}
	}
	return dec, nil
}

// fetch pulls and records a descriptor, reporting whether one was recorded.
// Failures are logged and skipped.
func (s *Scheduler) fetch(ctx context.Context) bool {
	if s.source == nil {
		return false
	}
	data, err := s.source.Fetch(ctx)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			s.logger.Debug("no descriptor published yet")
		} else {
			s.logger.Warn("descriptor fetch failed", "error", err)
		}
		return false
	}
	if _, err := s.policy.HandleDescriptor(ctx, data, false, update.SourceFetch); err != nil {
		s.logger.Warn("fetched descriptor not recorded", "error", err)
		return false
	}
	return true
}
