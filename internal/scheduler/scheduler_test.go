package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lowcap-labs/regime-engine/internal/scheduler"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSchedulerRunsTaskOnCadence(t *testing.T) {
	s := scheduler.New(zap.NewNop())
	var count int64
	s.Register(scheduler.Task{
		Name:     "tick",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	require.Greater(t, atomic.LoadInt64(&count), int64(1))
}

func TestSchedulerRecoversFromTaskPanic(t *testing.T) {
	s := scheduler.New(zap.NewNop())
	s.Register(scheduler.Task{
		Name:     "panicky",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			panic("boom")
		},
	})

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	stats := s.Stats()
	require.Len(t, stats, 1)
	require.Greater(t, stats[0].PanicRecovered, int64(0))
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	s := scheduler.New(zap.NewNop())
	var count int64
	s.Register(scheduler.Task{
		Name:     "tick",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(15 * time.Millisecond)
	cancel()
	time.Sleep(5 * time.Millisecond)
	stopped := atomic.LoadInt64(&count)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, stopped, atomic.LoadInt64(&count), "no further runs after context cancellation")
}
