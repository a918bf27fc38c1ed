// Package remote fetches the published version descriptor from where the
// release announcer put it: an HTTP endpoint or an S3-compatible bucket.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/shalom-calendar/upgradekit/internal/observability"
)

var (
	// ErrNotFound is returned when no descriptor has been published.
	ErrNotFound = errors.New("remote: descriptor not found")

	// ErrPermanent marks failures that retrying will not fix.
	ErrPermanent = errors.New("remote: permanent failure")
)

// Source returns the raw JSON text of the latest version descriptor.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Instrumented wraps a Source with retries, timing and logging.
type Instrumented struct {
	name    string
	src     Source
	retry   RetryStrategy
	metrics *observability.Metrics
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewInstrumented wraps src. retry and metrics may be nil.
func NewInstrumented(name string, src Source, retry RetryStrategy, metrics *observability.Metrics, logger *slog.Logger) *Instrumented {
	if logger == nil {
		logger = slog.Default()
	}
	if retry == nil {
		retry = NoRetry{}
	}
	return &Instrumented{
		name:    name,
		src:     src,
		retry:   retry,
		metrics: metrics,
		logger:  logger.With("component", "remote-source", "source", name),
		sleep:   sleepContext,
	}
}

// Fetch calls the wrapped source until it succeeds, fails permanently or the
// retry budget is spent.
func (s *Instrumented) Fetch(ctx context.Context) ([]byte, error) {
	attrs := otelmetric.WithAttributes(attribute.String("source", s.name))

	for attempt := 0; ; attempt++ {
		start := time.Now()
		data, err := s.src.Fetch(ctx)
		if s.metrics != nil {
			s.metrics.DescriptorFetches.Add(ctx, 1, attrs)
			s.metrics.FetchLatency.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
		}
		if err == nil {
			s.logger.Debug("descriptor fetched", "bytes", len(data), "attempt", attempt)
			return data, nil
		}

		if s.metrics != nil {
			s.metrics.DescriptorFetchErrors.Add(ctx, 1, attrs)
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermanent) {
			return nil, err
		}

		delay := s.retry.NextDelay(attempt)
		if delay <= 0 {
			return nil, fmt.Errorf("fetch %s after %d attempts: %w", s.name, attempt+1, err)
		}
		s.logger.Warn("descriptor fetch failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		if err := s.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
