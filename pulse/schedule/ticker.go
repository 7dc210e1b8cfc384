// Package schedule runs recurring sweeps alongside the worker pool.
package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/datacat/logger"
	"github.com/teranos/datacat/pulse/async"
)

// Sweeper finds work that has come due and enqueues it. Sweep returns how
// many jobs it dispatched.
type Sweeper interface {
	Name() string
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Ticker calls its sweepers at a fixed interval until stopped.
type Ticker struct {
	sweepers   []Sweeper
	queue      *async.Queue
	workerPool *async.WorkerPool // For system metrics in activity logs; may be nil
	interval   time.Duration
	runOnStart bool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	lastActiveWork  int
}

// TickerConfig contains configuration for the ticker
type TickerConfig struct {
	Interval   time.Duration // How often sweepers run (default: 1 hour)
	RunOnStart bool          // Sweep once immediately on Start
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval:   time.Hour,
		RunOnStart: true,
	}
}

// NewTickerWithContext creates a ticker with a parent context
func NewTickerWithContext(ctx context.Context, queue *async.Queue, workerPool *async.WorkerPool, cfg TickerConfig, log *zap.SugaredLogger, sweepers ...Sweeper) *Ticker {
	if log == nil {
		log = logger.Logger
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		sweepers:   sweepers,
		queue:      queue,
		workerPool: workerPool,
		interval:   cfg.Interval,
		runOnStart: cfg.RunOnStart,
		ctx:        tickerCtx,
		cancel:     cancel,
		logger:     log.Named("schedule"),
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Ticker started", "interval", t.interval, "sweepers", len(t.sweepers))
}

// Stop cancels the loop and waits for an in-flight sweep to return
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	if t.runOnStart {
		t.Tick(time.Now())
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.Tick(tickTime)
		}
	}
}

// Tick runs every sweeper once. A failing sweeper does not stop the others.
func (t *Ticker) Tick(now time.Time) int {
	t.mu.Lock()
	t.lastTickAt = now
	t.ticksSinceStart++
	ticks := t.ticksSinceStart
	t.mu.Unlock()

	total := 0
	for _, s := range t.sweepers {
		if t.ctx.Err() != nil {
			return total
		}
		start := time.Now()
		n, err := s.Sweep(t.ctx, now)
		total += n
		if err != nil {
			// Don't spam logs - sweep errors repeat every tick
			t.logger.Warnw("Sweep failed", "sweeper", s.Name(), logger.FieldError, err, "tick", ticks)
			continue
		}
		if n > 0 {
			t.logger.Infow("Sweep dispatched jobs",
				"sweeper", s.Name(),
				logger.FieldCount, n,
				logger.FieldDurationMS, time.Since(start).Milliseconds())
		}
	}

	t.logActivity()
	return total
}

// logActivity reports queue load when it has changed since the last tick
func (t *Ticker) logActivity() {
	if t.queue == nil {
		return
	}
	stats, err := t.queue.GetStats(t.ctx)
	if err != nil {
		t.logger.Warnw("Failed to get queue stats", logger.FieldError, err)
		return
	}

	activeWork := stats.Queued + stats.Running
	t.mu.Lock()
	changed := activeWork != t.lastActiveWork
	t.lastActiveWork = activeWork
	t.mu.Unlock()
	if !changed {
		return
	}

	fields := []interface{}{"queued", stats.Queued, "running", stats.Running}
	if t.workerPool != nil {
		m := t.workerPool.GetSystemMetrics(t.ctx)
		fields = append(fields,
			"workers_active", m.WorkersActive,
			"workers_total", m.WorkersTotal,
			"memory_percent", int(m.MemoryPercent))
	}
	t.logger.Infow("Queue activity", fields...)
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval,
	}
}
