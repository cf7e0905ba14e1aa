package collector_test

import (
	"testing"
	"time"

	"github.com/lowcap-labs/regime-engine/internal/collector"
	"github.com/lowcap-labs/regime-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func bar(close int64) types.Bar {
	d := decimal.NewFromInt(close)
	return types.Bar{Open: d, High: d, Low: d, Close: d, Volume: decimal.NewFromInt(10)}
}

// wickedBar builds a bar whose high/low diverge from its open/close, so
// composite tests can tell a max/min reduction apart from a mean.
func wickedBar(open, high, low, close int64) types.Bar {
	return types.Bar{
		Open: decimal.NewFromInt(open), High: decimal.NewFromInt(high),
		Low: decimal.NewFromInt(low), Close: decimal.NewFromInt(close),
		Volume: decimal.NewFromInt(10),
	}
}

func TestComputeAltCompositeHighLowAreMaxMinNotMean(t *testing.T) {
	sol := wickedBar(100, 110, 90, 100)
	eth := wickedBar(200, 205, 195, 200)
	bnb := wickedBar(300, 340, 260, 300)
	b, err := collector.ComputeAltComposite(time.Now(), types.TF1h, collector.AltComponents{SOL: &sol, ETH: &eth, BNB: &bnb})
	require.NoError(t, err)
	require.True(t, b.High.Equal(decimal.NewFromInt(340)), "high must be the max wick, not the mean")
	require.True(t, b.Low.Equal(decimal.NewFromInt(90)), "low must be the min wick, not the mean")
}

func TestComputeBucketCompositeHighLowAreMaxMinNotMean(t *testing.T) {
	a := wickedBar(10, 12, 8, 10)
	bTwo := wickedBar(20, 22, 5, 20)
	composite, err := collector.ComputeBucketComposite(time.Now(), types.TF1h, types.BucketNano, []types.Bar{a, bTwo})
	require.NoError(t, err)
	require.True(t, composite.High.Equal(decimal.NewFromInt(22)), "high must be the max wick, not the mean")
	require.True(t, composite.Low.Equal(decimal.NewFromInt(5)), "low must be the min wick, not the mean")
}

func TestComputeAltCompositeRequiresThreeOfFour(t *testing.T) {
	sol, eth := bar(100), bar(200)
	_, err := collector.ComputeAltComposite(time.Now(), types.TF1h, collector.AltComponents{SOL: &sol, ETH: &eth})
	require.Error(t, err, "two of four present components must be rejected")
}

func TestComputeAltCompositeAveragesThreeMandatory(t *testing.T) {
	sol, eth, bnb := bar(100), bar(200), bar(300)
	b, err := collector.ComputeAltComposite(time.Now(), types.TF1h, collector.AltComponents{SOL: &sol, ETH: &eth, BNB: &bnb})
	require.NoError(t, err)
	require.True(t, b.Close.Equal(decimal.NewFromInt(200)))
}

func TestComputeAltCompositeIncludesOptionalHype(t *testing.T) {
	sol, eth, bnb, hype := bar(100), bar(200), bar(300), bar(400)
	b, err := collector.ComputeAltComposite(time.Now(), types.TF1h, collector.AltComponents{SOL: &sol, ETH: &eth, BNB: &bnb, HYPE: &hype})
	require.NoError(t, err)
	require.True(t, b.Close.Equal(decimal.NewFromInt(250)))
}

func TestRollupDominanceAggregatesOpenCloseHighLow(t *testing.T) {
	base := time.Now().Truncate(time.Hour)
	points := []types.Bar{
		{Source: "BTC.D", Timestamp: base, Open: decimal.NewFromFloat(52.0), High: decimal.NewFromFloat(52.0), Low: decimal.NewFromFloat(52.0), Close: decimal.NewFromFloat(52.0)},
		{Source: "BTC.D", Timestamp: base.Add(time.Minute), Open: decimal.NewFromFloat(52.4), High: decimal.NewFromFloat(52.9), Low: decimal.NewFromFloat(52.4), Close: decimal.NewFromFloat(52.9)},
		{Source: "BTC.D", Timestamp: base.Add(2 * time.Minute), Open: decimal.NewFromFloat(51.8), High: decimal.NewFromFloat(51.8), Low: decimal.NewFromFloat(51.5), Close: decimal.NewFromFloat(51.6)},
	}
	rolled, err := collector.RollupDominance(points, types.TF1h, base)
	require.NoError(t, err)
	require.Equal(t, "BTC.D", rolled.Source)
	require.True(t, rolled.Open.Equal(decimal.NewFromFloat(52.0)), "open must be the first point's open")
	require.True(t, rolled.Close.Equal(decimal.NewFromFloat(51.6)), "close must be the last point's close")
	require.True(t, rolled.High.Equal(decimal.NewFromFloat(52.9)), "high must be the max across points")
	require.True(t, rolled.Low.Equal(decimal.NewFromFloat(51.5)), "low must be the min across points")
	require.True(t, rolled.Synthetic)
}

func TestRollupDominanceRejectsEmptyWindow(t *testing.T) {
	_, err := collector.RollupDominance(nil, types.TF1h, time.Now())
	require.Error(t, err)
}

func TestDetectGapsFlagsOverThreshold(t *testing.T) {
	base := time.Now().Truncate(time.Hour)
	bars := []types.Bar{
		{Timestamp: base, Source: "BTC"},
		{Timestamp: base.Add(time.Hour), Source: "BTC"},
		{Timestamp: base.Add(4 * time.Hour), Source: "BTC"}, // gap
	}
	gaps := collector.DetectGaps(bars, types.TF1h)
	require.Len(t, gaps, 1)
	require.Equal(t, 2, gaps[0].Length)
}

func TestDetectGapsIgnoresNormalSpacing(t *testing.T) {
	base := time.Now().Truncate(time.Hour)
	bars := []types.Bar{
		{Timestamp: base, Source: "BTC"},
		{Timestamp: base.Add(time.Hour), Source: "BTC"},
		{Timestamp: base.Add(2 * time.Hour), Source: "BTC"},
	}
	require.Empty(t, collector.DetectGaps(bars, types.TF1h))
}
