package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/lowcap-labs/regime-engine/internal/storage"
	"github.com/lowcap-labs/regime-engine/pkg/errs"
	"github.com/lowcap-labs/regime-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryGatewayBarRoundtrip(t *testing.T) {
	g := storage.NewMemoryGateway(zap.NewNop())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Hour)
	bar := types.Bar{
		Source: "BTC/USDT", Timeframe: types.TF1h, Timestamp: now,
		Open: decimal.NewFromInt(100), High: decimal.NewFromInt(110),
		Low: decimal.NewFromInt(95), Close: decimal.NewFromInt(105),
		Volume: decimal.NewFromInt(1000),
	}
	require.NoError(t, g.AppendBar(ctx, storage.TableRegimePriceOHLC, bar))

	bars, err := g.LatestBars(ctx, storage.TableRegimePriceOHLC, "BTC/USDT", types.TF1h, 10)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	require.True(t, bars[0].Close.Equal(decimal.NewFromInt(105)))
}

func TestMemoryGatewayLatestBarsNotFound(t *testing.T) {
	g := storage.NewMemoryGateway(zap.NewNop())
	_, err := g.LatestBars(context.Background(), storage.TableRegimePriceOHLC, "NOPE", types.TF1h, 10)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindNotFound))
}

func TestMemoryGatewayTradeEventDedup(t *testing.T) {
	g := storage.NewMemoryGateway(zap.NewNop())
	ctx := context.Background()

	ev := types.TradeEvent{TradeID: "t1", ClosedAt: time.Now()}
	inserted, err := g.AppendTradeEvent(ctx, ev)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = g.AppendTradeEvent(ctx, ev)
	require.NoError(t, err)
	require.False(t, inserted, "duplicate trade_id must not be re-inserted")
}

func TestMemoryGatewayEngineMetaRoundtrip(t *testing.T) {
	g := storage.NewMemoryGateway(zap.NewNop())
	ctx := context.Background()

	meta := types.EngineMeta{PositionID: "p1", State: types.StateS1Primer, UpdatedAt: time.Now()}
	require.NoError(t, g.SaveEngineMeta(ctx, meta))

	got, err := g.GetEngineMeta(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, types.StateS1Primer, got.State)
}
