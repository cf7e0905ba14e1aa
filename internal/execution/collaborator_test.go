package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lowcap-labs/regime-engine/internal/execution"
	"github.com/lowcap-labs/regime-engine/internal/learning"
	"github.com/lowcap-labs/regime-engine/internal/storage"
	"github.com/lowcap-labs/regime-engine/pkg/types"
)

func TestPaperCollaboratorCountsReportedTrades(t *testing.T) {
	c := execution.NewPaperCollaborator(zap.NewNop(), nil)
	ev := types.TradeEvent{TradeID: "t1", ClosedAt: time.Now(), RR: 1.1}

	require.NoError(t, c.ReportClosedTrade(context.Background(), ev))
	require.NoError(t, c.ReportClosedTrade(context.Background(), ev))
	require.Equal(t, 2, c.ReportedCount())
}

func TestPaperCollaboratorIngestsIntoEventLogger(t *testing.T) {
	gw := storage.NewMemoryGateway(zap.NewNop())
	logger := learning.NewEventLogger(gw, zap.NewNop())
	c := execution.NewPaperCollaborator(zap.NewNop(), logger)
	ctx := context.Background()

	ev := types.TradeEvent{TradeID: "t1", PatternKey: "pm.uptrend.S1.entry", ClosedAt: time.Now(), RR: 1.4}
	require.NoError(t, c.ReportClosedTrade(ctx, ev))
	require.NoError(t, c.ReportClosedTrade(ctx, ev)) // dedup by trade ID, still counted as reported

	events, err := gw.TradeEventsSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1, "the second report must dedupe at the event logger, not at the collaborator")
	require.Equal(t, 2, c.ReportedCount())
}
