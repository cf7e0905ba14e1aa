package learning_test

import (
	"context"
	"testing"
	"time"

	"github.com/lowcap-labs/regime-engine/internal/learning"
	"github.com/lowcap-labs/regime-engine/internal/storage"
	"github.com/lowcap-labs/regime-engine/pkg/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEventLoggerDedupesByTradeID(t *testing.T) {
	gw := storage.NewMemoryGateway(zap.NewNop())
	logger := learning.NewEventLogger(gw, zap.NewNop())
	ctx := context.Background()

	ev := types.TradeEvent{TradeID: "t1", ClosedAt: time.Now(), RR: 1.2}
	inserted, err := logger.Record(ctx, ev)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = logger.Record(ctx, ev)
	require.NoError(t, err)
	require.False(t, inserted)

	events, err := gw.TradeEventsSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
}
