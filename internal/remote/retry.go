package remote

import (
	"math"
	"math/rand"
	"time"
)

// RetryStrategy schedules retries after transient failures.
type RetryStrategy interface {
	// NextDelay returns the delay before retry attempt+1, or 0 to stop.
	NextDelay(attempt int) time.Duration
}

// NoRetry never retries.
type NoRetry struct{}

func (NoRetry) NextDelay(int) time.Duration { return 0 }

// ExponentialBackoff doubles the delay per attempt up to MaxDelay, with
// +/- Jitter proportional randomness.
type ExponentialBackoff struct {
	BaseDelay  time.Duration `env:"BASE_DELAY"  envDefault:"2s"`
	MaxDelay   time.Duration `env:"MAX_DELAY"   envDefault:"1m"`
	MaxRetries int           `env:"MAX_RETRIES" envDefault:"4"`
	Jitter     float64       `env:"JITTER"      envDefault:"0.2"`
}

func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt >= e.MaxRetries {
		return 0
	}

	delay := float64(e.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(e.MaxDelay) {
		delay = float64(e.MaxDelay)
	}
	if e.Jitter > 0 {
		//nolint:gosec // jitter only
		delay += delay * e.Jitter * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// DefaultRetry suits a once-a-week background fetch.
var DefaultRetry = &ExponentialBackoff{
	BaseDelay:  2 * time.Second,
	MaxDelay:   time.Minute,
	MaxRetries: 4,
	Jitter:     0.2,
}
