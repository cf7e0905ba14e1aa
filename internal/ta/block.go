package ta

import (
	"time"

	"github.com/lowcap-labs/regime-engine/pkg/numeric"
	"github.com/lowcap-labs/regime-engine/pkg/types"
)

// MinBarsForSignal is the 1m-timeframe minimum bar count before a Block
// reports meaningful slope/acceleration output (fewer bars than the
// slowest EMA period plus the slope window needs). Use MinBarsFor for
// timeframe-aware code — 1h and 1d drivers warm up on far fewer bars.
const MinBarsForSignal = 333 + 10

// MinBarsFor returns the per-timeframe minimum bar count before a Block's
// indicators are considered warm, per spec.md §4.3/§4.7: the 1m driver
// needs the full 333-bar EMA333 warmup, but 1h/1d drivers use the same
// EMA ladder over a much slower cadence and would starve for weeks/years
// if held to the same floor, so they warm up on their own period counts
// (72 for 1h, 30 for 1d) instead. Every floor is returned plus the 10-bar
// slope window: 343, 82 and 40.
func MinBarsFor(tf types.Timeframe) int {
	switch tf {
	case types.TF1h:
		return 72 + 10
	case types.TF1d:
		return 30 + 10
	default:
		return MinBarsForSignal
	}
}

// Block tracks the full indicator set for one source+timeframe pair,
// feeding one bar at a time and producing a types.TAFeatures snapshot.
type Block struct {
	source    string
	timeframe types.Timeframe

	emas map[int]*EMA
	atr  *ATR
	adx  *ADX
	rsi  *RSI
	vol  *VolumeZScore

	// slopeHistory keeps the last 10 EMA values per period to compute the
	// 10-bar regression slope; prevSlope keeps each period's previous slope
	// for the acceleration delta.
	slopeHistory map[int][]float64
	prevSlope    map[int]float64

	// atrHistory feeds ATRMean20; rsiHistory/adxHistory feed their 10-bar
	// regression slopes the same way slopeHistory feeds EMA slopes.
	atrHistory []float64
	rsiHistory []float64
	adxHistory []float64

	// sepFastMidHistory/sepMidSlowHistory hold a 6-sample window (5 bars
	// apart) to compute DSepFastMid5/DSepMidSlow5.
	sepFastMidHistory []float64
	sepMidSlowHistory []float64

	barCount int
}

// NewBlock constructs a Block with the standard EMA ladder and ATR/ADX/RSI
// at period 14, and a volume z-score with span 64.
func NewBlock(source string, tf types.Timeframe) *Block {
	emas := make(map[int]*EMA, len(EMAPeriods))
	slopeHist := make(map[int][]float64, len(EMAPeriods))
	prevSlope := make(map[int]float64, len(EMAPeriods))
	for _, p := range EMAPeriods {
		emas[p] = NewEMA(p)
		slopeHist[p] = make([]float64, 0, 10)
		prevSlope[p] = 0
	}
	return &Block{
		source: source, timeframe: tf,
		emas: emas, atr: NewATR(14), adx: NewADX(14), rsi: NewRSI(14),
		vol: NewVolumeZScore(64), slopeHistory: slopeHist, prevSlope: prevSlope,
	}
}

// Add feeds one closed bar and returns the updated feature snapshot.
func (b *Block) Add(bar types.Bar) types.TAFeatures {
	b.barCount++
	close, _ := bar.Close.Float64()
	high, _ := bar.High.Float64()
	low, _ := bar.Low.Float64()
	volume, _ := bar.Volume.Float64()

	emaValues := make(map[int]float64, len(EMAPeriods))
	slopes := make(map[int]float64, len(EMAPeriods))
	accel := make(map[int]float64, len(EMAPeriods))

	for _, p := range EMAPeriods {
		v := b.emas[p].Add(close)
		emaValues[p] = v

		hist := append(b.slopeHistory[p], v)
		if len(hist) > 10 {
			hist = hist[len(hist)-10:]
		}
		b.slopeHistory[p] = hist

		slope := numeric.LinearRegressionSlope(hist)
		slopes[p] = slope
		accel[p] = slope - b.prevSlope[p]
		b.prevSlope[p] = slope
	}

	atr := b.atr.Add(high, low, close)
	adx, plusDI, minusDI := b.adx.Add(high, low, close)
	rsi := b.rsi.Add(close)
	zscore := b.vol.Add(volume)

	b.atrHistory = pushCapped(b.atrHistory, atr, 20)
	atrMean20 := numeric.Mean(b.atrHistory)

	b.rsiHistory = pushCapped(b.rsiHistory, rsi, 10)
	rsiSlope10 := numeric.LinearRegressionSlope(b.rsiHistory)

	b.adxHistory = pushCapped(b.adxHistory, adx, 10)
	adxSlope10 := numeric.LinearRegressionSlope(b.adxHistory)

	sepFastMid := numeric.SafeDiv(emaValues[20]-emaValues[60], emaValues[60], 0)
	sepMidSlow := numeric.SafeDiv(emaValues[60]-emaValues[144], emaValues[144], 0)
	sepFastSlow := numeric.SafeDiv(emaValues[20]-emaValues[144], emaValues[144], 0)

	b.sepFastMidHistory = pushCapped(b.sepFastMidHistory, sepFastMid, 6)
	dSepFastMid5 := delta5(b.sepFastMidHistory)
	b.sepMidSlowHistory = pushCapped(b.sepMidSlowHistory, sepMidSlow, 6)
	dSepMidSlow5 := delta5(b.sepMidSlowHistory)

	return types.TAFeatures{
		Source: b.source, Timeframe: b.timeframe, Timestamp: bar.Timestamp, BarCount: b.barCount,
		Close: close, Low: low,
		Trend: types.TrendFeatures{
			EMAs: emaValues, Slope10: slopes, Accel: accel,
			SepFastMid: sepFastMid, SepMidSlow: sepMidSlow, SepFastSlow: sepFastSlow,
			DSepFastMid5: dSepFastMid5, DSepMidSlow5: dSepMidSlow5,
			ATR14: atr, ATRMean20: atrMean20,
			ADX14: adx, ADXSlope10: adxSlope10, PlusDI: plusDI, MinusDI: minusDI,
		},
		Momentum: types.MomentumFeatures{RSI14: rsi, RSISlope10: rsiSlope10},
		Volume:   types.VolumeFeatures{ZScore: zscore, EWMAMean: b.vol.mean, EWMAVar: b.vol.variance},
	}
}

// pushCapped appends v to hist, keeping at most n most-recent values.
func pushCapped(hist []float64, v float64, n int) []float64 {
	hist = append(hist, v)
	if len(hist) > n {
		hist = hist[len(hist)-n:]
	}
	return hist
}

// delta5 returns the change between the oldest and newest sample in a
// 6-value window (5 bars apart), or 0 before the window has filled.
func delta5(hist []float64) float64 {
	if len(hist) < 6 {
		return 0
	}
	return hist[len(hist)-1] - hist[0]
}

// Ready reports whether the block has seen enough bars for its output to be
// meaningful, per the timeframe's own warmup floor (MinBarsFor).
func (b *Block) Ready() bool { return b.barCount >= MinBarsFor(b.timeframe) }

// BarCount returns bars processed so far.
func (b *Block) BarCount() int { return b.barCount }

// LastUpdate is a convenience for callers that want to log staleness.
func LastUpdate(ts time.Time, tf types.Timeframe) time.Duration {
	return time.Since(ts)
}
