package collector

import (
	"time"

	"github.com/lowcap-labs/regime-engine/pkg/errs"
	"github.com/lowcap-labs/regime-engine/pkg/types"
	"github.com/lowcap-labs/regime-engine/pkg/utils"
	"github.com/shopspring/decimal"
)

// AltComponents are the four constituents of the ALT composite. HYPE is
// optional: the composite is computed from whichever three-or-four of
// {SOL, ETH, BNB, HYPE} have a bar at the timestamp, but SOL/ETH/BNB are
// mandatory — fewer than three present bars is a Validation error.
type AltComponents struct {
	SOL, ETH, BNB *types.Bar
	HYPE          *types.Bar
}

// ComputeAltComposite averages the open/close of present components into a
// single synthetic Bar; high/low take the max/min across components, not
// the mean, so the composite's wick range isn't narrowed below what any one
// constituent actually printed. Volume is summed across present components.
func ComputeAltComposite(ts time.Time, tf types.Timeframe, c AltComponents) (types.Bar, error) {
	required := []*types.Bar{c.SOL, c.ETH, c.BNB}
	present := 0
	for _, b := range required {
		if b != nil {
			present++
		}
	}
	if present < 3 {
		return types.Bar{}, errs.Validation("collector.composite", "ComputeAltComposite", errNotEnoughComponents)
	}

	all := append([]*types.Bar{}, required...)
	if c.HYPE != nil {
		all = append(all, c.HYPE)
	}

	open, close, vol := decimal.Zero, decimal.Zero, decimal.Zero
	high, low := all[0].High, all[0].Low
	n := decimal.NewFromInt(int64(len(all)))
	for _, b := range all {
		open = open.Add(b.Open)
		close = close.Add(b.Close)
		vol = vol.Add(b.Volume)
		high = utils.MaxDecimal(high, b.High)
		low = utils.MinDecimal(low, b.Low)
	}

	return types.Bar{
		Source: "ALT", Timeframe: tf, Timestamp: ts,
		Open: open.Div(n), High: high, Low: low, Close: close.Div(n),
		Volume: vol, Synthetic: true,
	}, nil
}

// ComputeBucketComposite averages the open/close of every lowcap bar
// supplied for one market-cap bucket at the same timestamp; high/low take
// the max/min across bars for the same reason as ComputeAltComposite.
func ComputeBucketComposite(ts time.Time, tf types.Timeframe, bucket types.Bucket, bars []types.Bar) (types.Bar, error) {
	if len(bars) == 0 {
		return types.Bar{}, errs.Validation("collector.composite", "ComputeBucketComposite", errNotEnoughComponents)
	}

	open, close, vol := decimal.Zero, decimal.Zero, decimal.Zero
	high, low := bars[0].High, bars[0].Low
	n := decimal.NewFromInt(int64(len(bars)))
	for _, b := range bars {
		open = open.Add(b.Open)
		close = close.Add(b.Close)
		vol = vol.Add(b.Volume)
		high = utils.MaxDecimal(high, b.High)
		low = utils.MinDecimal(low, b.Low)
	}

	return types.Bar{
		Source: string(bucket) + "_composite", Timeframe: tf, Timestamp: ts,
		Open: open.Div(n), High: high, Low: low, Close: close.Div(n),
		Volume: vol, Synthetic: true,
	}, nil
}

// ComputeDominance rolls BTC market cap against total market cap into a
// percent-as-USD OHLC bar: dominance = btcMarketCap / totalMarketCap * 100,
// expressed the same way as a price so the TA tracker can run unmodified
// over it.
func ComputeDominance(ts time.Time, tf types.Timeframe, btc, total types.Bar) (types.Bar, error) {
	if total.Close.IsZero() || total.Open.IsZero() || total.High.IsZero() || total.Low.IsZero() {
		return types.Bar{}, errs.Validation("collector.composite", "ComputeDominance", errZeroDenominator)
	}
	hundred := decimal.NewFromInt(100)
	return types.Bar{
		Source: "BTC.D", Timeframe: tf, Timestamp: ts,
		Open:  btc.Open.Div(total.Open).Mul(hundred),
		High:  btc.High.Div(total.Low).Mul(hundred),
		Low:   btc.Low.Div(total.High).Mul(hundred),
		Close: btc.Close.Div(total.Close).Mul(hundred),
		Volume: decimal.Zero, Synthetic: true,
	}, nil
}

// RollupDominance implements the Price Collector's rollup_dominance(src_tf,
// tgt_tf) operation: it rolls a run of finer-timeframe BTC.D/USDT.D OHLC
// points up into one coarser-timeframe bar by standard OHLC
// aggregation — open/close take the first/last point in the window, high/low
// take the max/min across it. points must already be ordered ascending by
// timestamp and share one Source.
func RollupDominance(points []types.Bar, tgtTF types.Timeframe, bucketStart time.Time) (types.Bar, error) {
	if len(points) == 0 {
		return types.Bar{}, errs.Validation("collector.composite", "RollupDominance", errNotEnoughComponents)
	}

	high, low := points[0].High, points[0].Low
	vol := decimal.Zero
	for _, p := range points {
		high = utils.MaxDecimal(high, p.High)
		low = utils.MinDecimal(low, p.Low)
		vol = vol.Add(p.Volume)
	}

	return types.Bar{
		Source: points[0].Source, Timeframe: tgtTF, Timestamp: bucketStart,
		Open: points[0].Open, High: high, Low: low, Close: points[len(points)-1].Close,
		Volume: vol, Synthetic: true,
	}, nil
}

var (
	errNotEnoughComponents = compositeErr("not enough components present for composite")
	errZeroDenominator     = compositeErr("zero denominator computing dominance")
)

type compositeErr string

func (e compositeErr) Error() string { return string(e) }
