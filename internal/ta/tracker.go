// Package ta implements the Technical-Indicator Tracker: the EMA ladder
// (seeded on first close, not SMA), Wilder ATR(14)/ADX(14), RSI(14), an
// EWMA-based volume z-score, and normalized EMA slopes/acceleration.
//
// Grounded in the pack's indicator packages (ducminhle1904-crypto-dca-bot's
// internal/indicators and krisnaepras-backend-screener-crypto's
// internal/infrastructure/indicators) for the shape of Wilder recursive
// smoothing; the first-close EMA seed is a deliberate deviation from both
// (which seed with an SMA) — see DESIGN.md.
package ta

import (
	"math"

	"github.com/lowcap-labs/regime-engine/pkg/numeric"
)

// EMAPeriods is the fixed ladder the tracker maintains for every source.
var EMAPeriods = []int{20, 30, 60, 144, 250, 333}

// EMA is a single exponential moving average seeded with the first input
// value (not an SMA warm-up), per spec.
type EMA struct {
	period int
	alpha  float64
	value  float64
	seeded bool
}

// NewEMA constructs an EMA for the given period.
func NewEMA(period int) *EMA {
	return &EMA{period: period, alpha: 2.0 / (float64(period) + 1.0)}
}

// Add feeds one close and returns the updated EMA value.
func (e *EMA) Add(close float64) float64 {
	if !e.seeded {
		e.value = close
		e.seeded = true
		return e.value
	}
	e.value = (close-e.value)*e.alpha + e.value
	return e.value
}

func (e *EMA) Value() float64 { return e.value }
func (e *EMA) Seeded() bool   { return e.seeded }

// ATR is a Wilder-smoothed average true range with period 14.
type ATR struct {
	period   int
	prevClose float64
	hasPrev  bool
	value    float64
	seeded   bool
	seedSum  float64
	seedN    int
}

func NewATR(period int) *ATR { return &ATR{period: period} }

// Add feeds one bar's high/low/close and returns the updated ATR.
func (a *ATR) Add(high, low, close float64) float64 {
	tr := high - low
	if a.hasPrev {
		hc := abs(high - a.prevClose)
		lc := abs(low - a.prevClose)
		if hc > tr {
			tr = hc
		}
		if lc > tr {
			tr = lc
		}
	}
	a.hasPrev = true
	a.prevClose = close

	if !a.seeded {
		a.seedSum += tr
		a.seedN++
		if a.seedN >= a.period {
			a.value = a.seedSum / float64(a.period)
			a.seeded = true
		}
		return a.value
	}
	a.value = (a.value*float64(a.period-1) + tr) / float64(a.period)
	return a.value
}

func (a *ATR) Value() float64 { return a.value }
func (a *ATR) Seeded() bool   { return a.seeded }

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// RSI is a Wilder-smoothed relative strength index with period 14.
type RSI struct {
	period    int
	prevClose float64
	hasPrev   bool
	avgGain   float64
	avgLoss   float64
	seeded    bool
	gainSum   float64
	lossSum   float64
	seedN     int
}

func NewRSI(period int) *RSI { return &RSI{period: period} }

func (r *RSI) Add(close float64) float64 {
	if !r.hasPrev {
		r.hasPrev = true
		r.prevClose = close
		return 50
	}
	change := close - r.prevClose
	r.prevClose = close

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	if !r.seeded {
		r.gainSum += gain
		r.lossSum += loss
		r.seedN++
		if r.seedN >= r.period {
			r.avgGain = r.gainSum / float64(r.period)
			r.avgLoss = r.lossSum / float64(r.period)
			r.seeded = true
		} else {
			return 50
		}
	} else {
		r.avgGain = (r.avgGain*float64(r.period-1) + gain) / float64(r.period)
		r.avgLoss = (r.avgLoss*float64(r.period-1) + loss) / float64(r.period)
	}

	if r.avgLoss == 0 {
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}

// ADX is a Wilder-smoothed average directional index with period 14,
// carrying +DI/-DI alongside.
type ADX struct {
	period int

	prevHigh, prevLow, prevClose float64
	hasPrev                      bool

	smoothedTR, smoothedPlusDM, smoothedMinusDM float64
	seeded                                      bool
	seedTR, seedPlusDM, seedMinusDM             float64
	seedN                                       int

	dxSum   float64
	dxCount int
	adx     float64
	adxSeeded bool

	plusDI, minusDI float64
}

func NewADX(period int) *ADX { return &ADX{period: period} }

func (a *ADX) Add(high, low, close float64) (adx, plusDI, minusDI float64) {
	if !a.hasPrev {
		a.hasPrev = true
		a.prevHigh, a.prevLow, a.prevClose = high, low, close
		return 0, 0, 0
	}

	upMove := high - a.prevHigh
	downMove := a.prevLow - low

	plusDM, minusDM := 0.0, 0.0
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}

	tr := high - low
	hc := abs(high - a.prevClose)
	lc := abs(low - a.prevClose)
	if hc > tr {
		tr = hc
	}
	if lc > tr {
		tr = lc
	}

	a.prevHigh, a.prevLow, a.prevClose = high, low, close

	if !a.seeded {
		a.seedTR += tr
		a.seedPlusDM += plusDM
		a.seedMinusDM += minusDM
		a.seedN++
		if a.seedN >= a.period {
			a.smoothedTR = a.seedTR
			a.smoothedPlusDM = a.seedPlusDM
			a.smoothedMinusDM = a.seedMinusDM
			a.seeded = true
		} else {
			return 0, 0, 0
		}
	} else {
		a.smoothedTR = a.smoothedTR - a.smoothedTR/float64(a.period) + tr
		a.smoothedPlusDM = a.smoothedPlusDM - a.smoothedPlusDM/float64(a.period) + plusDM
		a.smoothedMinusDM = a.smoothedMinusDM - a.smoothedMinusDM/float64(a.period) + minusDM
	}

	a.plusDI = numeric.SafeDiv(a.smoothedPlusDM, a.smoothedTR, 0) * 100
	a.minusDI = numeric.SafeDiv(a.smoothedMinusDM, a.smoothedTR, 0) * 100

	dx := numeric.SafeDiv(abs(a.plusDI-a.minusDI), a.plusDI+a.minusDI, 0) * 100

	if !a.adxSeeded {
		a.dxSum += dx
		a.dxCount++
		if a.dxCount >= a.period {
			a.adx = a.dxSum / float64(a.period)
			a.adxSeeded = true
		}
	} else {
		a.adx = (a.adx*float64(a.period-1) + dx) / float64(a.period)
	}

	return a.adx, a.plusDI, a.minusDI
}

// VolumeZScore tracks an EWMA mean/variance of volume (span 64) and reports
// the current z-score clamped to [-4, +6].
type VolumeZScore struct {
	alpha   float64
	mean    float64
	variance float64
	seeded  bool
}

func NewVolumeZScore(span float64) *VolumeZScore {
	return &VolumeZScore{alpha: numeric.EWMAAlpha(span)}
}

// Add feeds one bar's raw volume. It is log1p-compressed (x = log(1+v))
// before smoothing so a single spike moves the EWMA mean/variance in
// log-space instead of blowing out the raw-scale statistics.
func (v *VolumeZScore) Add(volume float64) float64 {
	x := math.Log1p(volume)
	if !v.seeded {
		v.mean = x
		v.variance = 0
		v.seeded = true
		return 0
	}
	delta := x - v.mean
	v.mean += v.alpha * delta
	v.variance = (1-v.alpha)*(v.variance+v.alpha*delta*delta)

	std := math.Sqrt(v.variance)
	z := numeric.SafeDiv(x-v.mean, std, 0)
	return numeric.Clamp(z, -4, 6)
}
