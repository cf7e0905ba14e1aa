package events_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lowcap-labs/regime-engine/internal/events"
	"github.com/lowcap-labs/regime-engine/pkg/types"
)

func TestTransitionEventsDetectsS1Entry(t *testing.T) {
	payload := types.EnginePayload{State: types.StateS1Primer}
	got := events.TransitionEvents(types.StateS0Bearish, payload)
	require.Contains(t, got, events.EventTypeS1Primer)
}

func TestTransitionEventsDetectsBuySignalAndTrim(t *testing.T) {
	payload := types.EnginePayload{
		State: types.StateS2Defense,
		Flags: types.EngineFlags{BuySignal: true, TrimFlag: true},
	}
	got := events.TransitionEvents(types.StateS2Defense, payload)
	require.Contains(t, got, events.EventTypeS2BuySignal)
	require.Contains(t, got, events.EventTypeS2TrimFlag)
	require.NotContains(t, got, events.EventTypeS1Primer)
}

func TestBusDispatchesToSubscriberInPriorityOrder(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.DefaultConfig())
	defer bus.Stop()

	var order []int
	bus.Subscribe(events.EventTypeS3Trending, 1, func(events.Event) error {
		order = append(order, 1)
		return nil
	})
	bus.Subscribe(events.EventTypeS3Trending, 10, func(events.Event) error {
		order = append(order, 10)
		return nil
	})

	bus.PublishSync(events.NewEvent(events.EventTypeS3Trending, "pos-1", types.EnginePayload{Timestamp: time.Now()}))

	require.Equal(t, []int{10, 1}, order)
}

func TestBusRecoversFromHandlerPanic(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.DefaultConfig())
	defer bus.Stop()

	var called int64
	bus.Subscribe(events.EventTypeS1Primer, 0, func(events.Event) error {
		panic("boom")
	})
	bus.Subscribe(events.EventTypeS1Primer, 0, func(events.Event) error {
		atomic.AddInt64(&called, 1)
		return nil
	})

	bus.PublishSync(events.NewEvent(events.EventTypeS1Primer, "pos-1", types.EnginePayload{Timestamp: time.Now()}))

	require.Equal(t, int64(1), atomic.LoadInt64(&called))
	require.Greater(t, bus.Stats().HandlerErrors, int64(0))
}
