// Package scheduler is the cooperative recurring-task runtime: one
// registered Task per (driver, timeframe) collector/TA/engine tick and per
// learning-loop job (no separate composite-rollup task is registered),
// each run on its own cadence via
// time.Ticker and cancelled cleanly through context.Context.
//
// Grounded in the teacher's internal/workers/pool.go (Pool, PoolConfig,
// DefaultPoolConfig, panic-recovering workers, PoolMetrics/PoolStats)
// generalized from a generic high-throughput task queue into a small
// fixed set of named, cadence-driven recurring tasks — the pool's
// "worker pulls off a channel" dispatch loop becomes "ticker fires, task
// runs once," but the panic-recovery-plus-metrics idiom carries over
// unchanged.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TaskFunc is one recurring unit of work; it must itself respect ctx
// cancellation at any blocking point.
type TaskFunc func(ctx context.Context) error

// Task is one registered recurring job: a name (for logs/metrics), a
// cadence, and the function to run on every tick.
type Task struct {
	Name     string
	Interval time.Duration
	Run      TaskFunc
}

// Stats mirrors the teacher's PoolStats shape, scoped to one task.
type Stats struct {
	Name           string
	RunsCompleted  int64
	RunsFailed     int64
	PanicRecovered int64
	LastRunAt      time.Time
	LastErr        error
}

// Scheduler runs a fixed set of registered Tasks, each on its own
// time.Ticker, until Stop is called or ctx is cancelled.
type Scheduler struct {
	logger *zap.Logger

	mu    sync.Mutex
	tasks []Task
	stats map[string]*taskStats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type taskStats struct {
	mu             sync.Mutex
	runsCompleted  int64
	runsFailed     int64
	panicRecovered int64
	lastRunAt      time.Time
	lastErr        error
}

// New constructs an idle Scheduler; Register tasks before calling Start.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.Named("scheduler"),
		stats:  make(map[string]*taskStats),
	}
}

// Register adds a recurring task. Must be called before Start.
func (s *Scheduler) Register(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	s.stats[t.Name] = &taskStats{}
}

// Start launches one goroutine per registered task, each driven by its
// own time.Ticker, running until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.mu.Lock()
	tasks := make([]Task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, t := range tasks {
		t := t
		s.wg.Add(1)
		go s.runLoop(runCtx, t)
	}
}

func (s *Scheduler) runLoop(ctx context.Context, t Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	s.logger.Info("task started", zap.String("task", t.Name), zap.Duration("interval", t.Interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("task stopped", zap.String("task", t.Name))
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t Task) {
	st := s.stats[t.Name]
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&st.panicRecovered, 1)
			s.logger.Error("task recovered from panic", zap.String("task", t.Name), zap.Any("panic", r))
		}
	}()

	err := t.Run(ctx)

	st.mu.Lock()
	st.lastRunAt = start
	st.lastErr = err
	if err != nil {
		st.runsFailed++
	} else {
		st.runsCompleted++
	}
	st.mu.Unlock()

	if err != nil {
		s.logger.Warn("task run failed", zap.String("task", t.Name), zap.Error(err), zap.Duration("elapsed", time.Since(start)))
	} else {
		s.logger.Debug("task run completed", zap.String("task", t.Name), zap.Duration("elapsed", time.Since(start)))
	}
}

// Stop cancels every running task loop and waits for them to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Stats returns a snapshot of every registered task's run counters.
func (s *Scheduler) Stats() []Stats {
	s.mu.Lock()
	tasks := make([]Task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	out := make([]Stats, 0, len(tasks))
	for _, t := range tasks {
		st := s.stats[t.Name]
		st.mu.Lock()
		out = append(out, Stats{
			Name:           t.Name,
			RunsCompleted:  st.runsCompleted,
			RunsFailed:     st.runsFailed,
			PanicRecovered: st.panicRecovered,
			LastRunAt:      st.lastRunAt,
			LastErr:        st.lastErr,
		})
		st.mu.Unlock()
	}
	return out
}
