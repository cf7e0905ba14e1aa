package collector_test

import (
	"testing"
	"time"

	"github.com/lowcap-labs/regime-engine/internal/collector"
	"github.com/lowcap-labs/regime-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestForwardFillRepeatsPriorCloseFlat(t *testing.T) {
	base := time.Now().Truncate(time.Hour)
	prior := types.Bar{
		Source: "BTC", Timeframe: types.TF1h, Timestamp: base,
		Open: decimal.NewFromInt(100), High: decimal.NewFromInt(105),
		Low: decimal.NewFromInt(95), Close: decimal.NewFromInt(102),
	}
	gap := collector.Gap{Source: "BTC", Timeframe: types.TF1h, After: base, Length: 2, Interval: time.Hour}

	filled := collector.ForwardFill(prior, gap)
	require.Len(t, filled, 2)
	for i, b := range filled {
		require.True(t, b.ForwardFilled)
		require.True(t, b.Open.Equal(prior.Close))
		require.True(t, b.High.Equal(prior.Close))
		require.True(t, b.Low.Equal(prior.Close))
		require.True(t, b.Close.Equal(prior.Close))
		require.Equal(t, base.Add(time.Duration(i+1)*time.Hour), b.Timestamp)
	}
}

func TestValidateFlagsZeroPriceAndOHLCInconsistency(t *testing.T) {
	base := time.Now().Truncate(time.Hour)
	bars := []types.Bar{
		{Timestamp: base, Open: decimal.NewFromInt(10), High: decimal.NewFromInt(12), Low: decimal.NewFromInt(8), Close: decimal.NewFromInt(11)},
		{Timestamp: base.Add(time.Hour), Open: decimal.Zero, High: decimal.NewFromInt(12), Low: decimal.NewFromInt(8), Close: decimal.NewFromInt(11)},
		{Timestamp: base.Add(2 * time.Hour), Open: decimal.NewFromInt(10), High: decimal.NewFromInt(9), Low: decimal.NewFromInt(8), Close: decimal.NewFromInt(11)},
	}
	issues := collector.Validate(bars, nil)
	require.Len(t, issues, 2)
	require.Equal(t, "ZERO_PRICE", issues[0].Type)
	require.Equal(t, "OHLC_INCONSISTENT", issues[1].Type)
}
