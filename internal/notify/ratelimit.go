package notify

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/shalom-calendar/upgradekit/internal/observability"
)

// RateLimitConfig bounds notifications per channel.
type RateLimitConfig struct {
	Every time.Duration `env:"EVERY" envDefault:"1m"`
	Burst int           `env:"BURST" envDefault:"3"`
}

// RateLimited drops notifications that exceed a per-channel token bucket.
type RateLimited struct {
	next    Dispatcher
	cfg     RateLimitConfig
	metrics *observability.Metrics

	mu       sync.Mutex
	limiters map[Channel]*rate.Limiter
}

// NewRateLimited wraps next. metrics may be nil.
func NewRateLimited(next Dispatcher, cfg RateLimitConfig, metrics *observability.Metrics) *RateLimited {
	if cfg.Every <= 0 {
		cfg.Every = time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &RateLimited{
		next:     next,
		cfg:      cfg,
		metrics:  metrics,
		limiters: make(map[Channel]*rate.Limiter),
	}
}

func (r *RateLimited) Notify(ctx context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	attrs := otelmetric.WithAttributes(attribute.String("channel", string(n.Channel)))

	if !r.limiter(n.Channel).Allow() {
		if r.metrics != nil {
			r.metrics.NotificationsThrottled.Add(ctx, 1, attrs)
		}
		return ErrThrottled
	}
	if err := r.next.Notify(ctx, n); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.NotificationsSent.Add(ctx, 1, attrs)
	}
	return nil
}

func (r *RateLimited) limiter(c Channel) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[c]
	if !ok {
		l = rate.NewLimiter(rate.Every(r.cfg.Every), r.cfg.Burst)
		r.limiters[c] = l
	}
	return l
}
