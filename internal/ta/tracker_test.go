package ta_test

import (
	"testing"
	"time"

	"github.com/lowcap-labs/regime-engine/internal/ta"
	"github.com/lowcap-labs/regime-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestEMASeedsWithFirstCloseNotSMA(t *testing.T) {
	e := ta.NewEMA(20)
	v := e.Add(100)
	require.Equal(t, 100.0, v, "EMA must seed with the first close, not an SMA warm-up")
	require.True(t, e.Seeded())
}

func TestEMARecursesAfterSeed(t *testing.T) {
	e := ta.NewEMA(20)
	e.Add(100)
	v := e.Add(110)
	require.Greater(t, v, 100.0)
	require.Less(t, v, 110.0)
}

func TestATRUnseededUntilPeriodBars(t *testing.T) {
	a := ta.NewATR(14)
	for i := 0; i < 13; i++ {
		a.Add(10, 9, 9.5)
		require.False(t, a.Seeded())
	}
	a.Add(10, 9, 9.5)
	require.True(t, a.Seeded())
}

func TestRSINeutralDuringWarmup(t *testing.T) {
	r := ta.NewRSI(14)
	require.Equal(t, 50.0, r.Add(100))
	for i := 0; i < 12; i++ {
		v := r.Add(100 + float64(i))
		require.Equal(t, 50.0, v)
	}
}

func TestRSIAllGainsApproaches100(t *testing.T) {
	r := ta.NewRSI(14)
	price := 100.0
	var last float64
	for i := 0; i < 30; i++ {
		price += 1
		last = r.Add(price)
	}
	require.Greater(t, last, 90.0)
}

func TestVolumeZScoreClampedRange(t *testing.T) {
	v := ta.NewVolumeZScore(64)
	v.Add(100)
	var z float64
	for i := 0; i < 5; i++ {
		z = v.Add(100000)
	}
	require.LessOrEqual(t, z, 6.0)
	require.GreaterOrEqual(t, z, -4.0)
}

func TestBlockNotReadyBeforeMinBars(t *testing.T) {
	b := ta.NewBlock("BTC", types.TF1h)
	feat := b.Add(testBar(100))
	require.False(t, b.Ready())
	require.Equal(t, 1, feat.BarCount)
}

func TestBlockReadyAfterMinBars(t *testing.T) {
	b := ta.NewBlock("BTC", types.TF1h)
	for i := 0; i < ta.MinBarsForSignal; i++ {
		b.Add(testBar(int64(100 + i)))
	}
	require.True(t, b.Ready())
}

func testBar(close int64) types.Bar {
	d := decimal.NewFromInt(close)
	return types.Bar{
		Source: "BTC", Timeframe: types.TF1h, Timestamp: time.Now(),
		Open: d, High: d, Low: d, Close: d, Volume: decimal.NewFromInt(10),
	}
}
