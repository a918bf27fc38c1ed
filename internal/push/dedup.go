package push

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/shalom-calendar/upgradekit/internal/observability"
)

// DedupConfig sizes the duplicate filter.
type DedupConfig struct {
	Window   time.Duration `env:"WINDOW"   envDefault:"24h"`
	Capacity uint          `env:"CAPACITY" envDefault:"10000"`
	FPRate   float64       `env:"FP_RATE"  envDefault:"0.0001"`
}

// DefaultDedupConfig suits a single device: push traffic is a handful of
// messages per day and redeliveries arrive within hours.
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		Window:   24 * time.Hour,
		Capacity: 10_000,
		FPRate:   0.0001,
	}
}

// Deduplicator remembers push message IDs over a sliding window made of two
// bloom filters. IDs go into the current filter; lookups check both, and
// Rotate retires the previous one.
type Deduplicator struct {
	mu       sync.RWMutex
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	cfg      DedupConfig

	metrics *observability.Metrics
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
	started atomic.Bool
}

// NewDeduplicator creates a Deduplicator. metrics may be nil.
func NewDeduplicator(cfg DedupConfig, metrics *observability.Metrics, logger *slog.Logger) *Deduplicator {
	def := DefaultDedupConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.FPRate <= 0 || cfg.FPRate >= 1 {
		cfg.FPRate = def.FPRate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{
		current:  bloom.NewWithEstimates(cfg.Capacity, cfg.FPRate),
		previous: bloom.NewWithEstimates(cfg.Capacity, cfg.FPRate),
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With("component", "push-dedup"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Contains reports whether id was recorded within the window. An empty id is
// never a duplicate.
func (d *Deduplicator) Contains(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	data := []byte(id)

	d.mu.RLock()
	dup := d.current.Test(data) || d.previous.Test(data)
	d.mu.RUnlock()

	if dup {
		if d.metrics != nil {
			d.metrics.PushDuplicatesDropped.Add(ctx, 1)
		}
		d.logger.Debug("duplicate push message dropped", "message_id", id)
	}
	return dup
}

// Add records id in the current filter. Callers add an id only once its
// message reached a final outcome, so a delivery that failed transiently is
// still accepted when it comes back.
func (d *Deduplicator) Add(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	d.current.Add([]byte(id))
	d.mu.Unlock()
}

// Rotate makes the current filter the previous one and starts a fresh
// current filter.
func (d *Deduplicator) Rotate() {
	d.mu.Lock()
	d.previous = d.current
	d.current = bloom.NewWithEstimates(d.cfg.Capacity, d.cfg.FPRate)
	d.mu.Unlock()
}

// Start rotates every window/2 until ctx is cancelled or Stop is called.
func (d *Deduplicator) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	interval := d.cfg.Window / 2
	go func() {
		defer close(d.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.Rotate()
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			}
		}
	}()
}

// Stop ends the rotation goroutine started by Start and waits for it.
func (d *Deduplicator) Stop() {
	d.once.Do(func() { close(d.stopCh) })
	if d.started.Load() {
		<-d.doneCh
	}
}
