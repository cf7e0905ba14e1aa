package engine

import (
	"math"

	"github.com/lowcap-labs/regime-engine/pkg/numeric"
)

// sigmoid is the engine's scaled logistic: σ(x,k) = 1/(1+exp(-x/k)).
func sigmoid(x, k float64) float64 {
	if k <= 0 {
		k = numeric.Epsilon
	}
	return 1.0 / (1.0 + math.Exp(-x/k))
}

// supportPersistence scores how well price has respected ema60 over the
// last few bars: touch-confirm, reaction quality, close persistence, and
// absorption wicks, weighted per spec.
func supportPersistence(window []barSnapshot, ema60, atr float64) float64 {
	if len(window) == 0 {
		return 0
	}
	closesAbove := 0
	absorptionWicks := 0
	maxHigh := window[0].High
	for _, b := range window {
		if b.Close >= ema60 {
			closesAbove++
		}
		if b.Low < ema60 && b.Close >= ema60 {
			absorptionWicks++
		}
		if b.High > maxHigh {
			maxHigh = b.High
		}
	}
	closePersistence := 1 - math.Exp(-float64(closesAbove)/6.0)
	absorption := 1 - math.Exp(-float64(absorptionWicks)/2.0)
	reactionQuality := numeric.Clamp01(numeric.SafeDiv(maxHigh-ema60, atr, 0))

	last := window[len(window)-1]
	touchConfirm := 0.0
	if last.Low <= ema60+atr && last.Close >= ema60 {
		touchConfirm = 1.0
	}

	return 0.25*touchConfirm + 0.20*reactionQuality + 0.40*closePersistence + 0.15*absorption
}

// emaAlignment scores the slow-EMA positivity/acceleration, mid-EMA slope,
// fast>mid ordering and fast separation, per spec weights.
func emaAlignment(slopes EMASlopes, accel EMAAccel, ema20, ema60 float64, sepFast float64) float64 {
	slowPositive := 0.0
	for _, s := range []float64{slopes.EMA144, slopes.EMA250, slopes.EMA333} {
		if s >= 0 {
			slowPositive++
		}
	}
	slowPositive /= 3.0

	slowAccel := 0.0
	for _, a := range []float64{accel.EMA144, accel.EMA250, accel.EMA333} {
		if a > 0 {
			slowAccel++
		}
	}
	slowAccel /= 3.0

	midHelp := 0.0
	if slopes.EMA60 >= 0 {
		midHelp = 1.0
	}
	fastGtMid := 0.0
	if ema20 > ema60 {
		fastGtMid = 1.0
	}

	composite := numeric.Clamp01(0.30*slowPositive + 0.40*slowAccel + 0.30*slowPositive)
	return 0.50*composite + 0.15*midHelp + 0.20*fastGtMid + 0.15*numeric.Clamp01(sepFast)
}

// volatilityCoherence scores how settled current ATR is relative to its
// 20-bar mean; elevated ATR depresses the score.
func volatilityCoherence(atr, atrMean20 float64) float64 {
	redRatio := numeric.SafeDiv(atr-atrMean20, atrMean20, 0)
	return sigmoid(-redRatio, 0.3)
}

// TrendIntegrity composes support persistence, EMA alignment, and
// volatility coherence into the TI score.
func TrendIntegrity(support, alignment, coherence float64) float64 {
	return numeric.Clamp01(0.55*support + 0.35*alignment + 0.10*coherence)
}

// TrendStrength is the momentum-led TS score: RSI-slope and (ADX-gated)
// ADX-slope sigmoids.
func TrendStrength(rsiSlope10, adxSlope10, adxLevel, adxFloor float64) float64 {
	rsiTerm := sigmoid(rsiSlope10, 0.5)
	adxTerm := 0.0
	if adxLevel >= adxFloor {
		adxTerm = sigmoid(adxSlope10, 0.3)
	}
	return numeric.Clamp01(0.6*rsiTerm + 0.4*adxTerm)
}

// TSWithBoost applies an optional up-to-+0.15 boost when an SR level sits
// within one ATR of the anchor EMA, scaled by the level's strength.
func TSWithBoost(ts float64, sr *srCandidate) float64 {
	if sr == nil {
		return numeric.Clamp01(ts)
	}
	boost := math.Min(0.15, (sr.Strength/20.0)*0.15)
	return numeric.Clamp01(ts + boost)
}

type srCandidate struct {
	Price    float64
	Strength float64
}

// nearestSRWithinHalo returns the first SR level within distance halo of
// anchor, preserving input order (mirrors the "first matching level" rule).
func nearestSRWithinHalo(levels []SRLevelInput, anchor, halo float64) *srCandidate {
	if anchor <= 0 || halo <= 0 {
		return nil
	}
	for _, lvl := range levels {
		if lvl.Price <= 0 {
			continue
		}
		if math.Abs(lvl.Price-anchor) <= halo {
			return &srCandidate{Price: lvl.Price, Strength: lvl.Strength}
		}
	}
	return nil
}

// s3Inputs bundles the readings s3Scores needs.
type s3Inputs struct {
	Price                               float64
	ATR, ATRMean20                      float64
	EMA20, EMA60, EMA144, EMA250, EMA333 float64
	DSepFast5, DSepMid5                 float64
	VolumeZ                             float64
	EMA20Slope                          float64
	DEMA144Slope                        float64
	EMA250Slope, EMA333Slope            float64
	RSISlope10                          float64
	ADXLevel, ADXSlope10, ADXFloor      float64
}

const (
	railFastK = 1.5
	railMidK  = 2.0
	rail144K  = 1.5
	rail250K  = 2.0
	expFastK  = 0.0015
	expMidK   = 0.0010
	rsiK      = 0.5
	adxK      = 0.3
	edxSlow250K = 0.00025
	edxSlow333K = 0.0002
	curvatureK  = 0.0008
)

// s3Scores computes OX, DX, and a raw (pre-smoothing) EDX for S3 regime
// management, following the fast/mid/144/250 "rail" distance, separation
// expansion, ATR surge, slope fragility, location/exhaustion/relief
// composite described for S3 scoring.
func s3Scores(in s3Inputs, structureFailure, participationDecay, volatilityDisorder float64) (ox, dx, edxRaw float64, diag map[string]float64) {
	atr := in.ATR
	if atr <= 0 {
		atr = numeric.Epsilon
	}

	railFast := sigmoid(numeric.SafeDiv(in.Price-in.EMA20, atr*railFastK, 0), 1.0)
	railMid := sigmoid(numeric.SafeDiv(in.Price-in.EMA60, atr*railMidK, 0), 1.0)
	rail144 := sigmoid(numeric.SafeDiv(in.Price-in.EMA144, atr*rail144K, 0), 1.0)
	rail250 := sigmoid(numeric.SafeDiv(in.Price-in.EMA250, atr*rail250K, 0), 1.0)
	expFast := sigmoid(in.DSepFast5/expFastK, 1.0)
	expMid := sigmoid(in.DSepMid5/expMidK, 1.0)
	atrSurge := sigmoid(numeric.SafeDiv(in.ATR, in.ATRMean20, 1)-1.0, 1.0)
	fragility := sigmoid(-in.EMA20Slope/curvatureK, 1.0)

	slowDown := 0.5*sigmoid(-in.EMA250Slope/edxSlow250K, 1.0) + 0.5*sigmoid(-in.EMA333Slope/edxSlow333K, 1.0)
	edxRaw = numeric.Clamp01(0.30*slowDown + 0.25*structureFailure + 0.20*participationDecay + 0.15*volatilityDisorder + 0.10*geomRollover(in))

	oxBase := 0.35*railFast + 0.20*railMid + 0.10*rail144 + 0.10*rail250 + 0.10*expFast + 0.05*expMid + 0.05*atrSurge + 0.05*fragility
	edxBoost := numeric.Clamp(edxRaw-0.5, 0, 0.5)
	ox = numeric.Clamp01(oxBase * (1.0 + 0.33*edxBoost))

	var x float64
	if in.EMA333 > in.EMA144 && in.Price > 0 {
		x = numeric.Clamp01(numeric.SafeDiv(in.Price-in.EMA144, in.EMA333-in.EMA144, 0))
	} else if in.Price <= in.EMA144 {
		x = 1.0
	}
	bandWidth := math.Max(in.EMA333-in.EMA144, numeric.Epsilon)
	compMult := sigmoid(0.03-numeric.SafeDiv(bandWidth, in.Price, 0), 0.02)
	dxLocation := math.Exp(-3.0*x) * (1.0 + 0.3*compMult)
	exhaustion := numeric.Clamp01(sigmoid(-in.VolumeZ, 1.0))
	atrRelief := sigmoid((numeric.SafeDiv(in.ATR, in.ATRMean20, 1)-0.9)/0.05, 1.0)
	rsiRelief := sigmoid(in.RSISlope10/rsiK, 1.0)
	adxRelief := 0.0
	if in.ADXLevel >= in.ADXFloor {
		adxRelief = sigmoid(in.ADXSlope10/adxK, 1.0)
	}
	momRelief := 0.5*rsiRelief + 0.5*adxRelief
	relief := 0.5*atrRelief + 0.5*momRelief
	curl := 0.0
	if in.DEMA144Slope > 0 {
		curl = 1.0
	}
	dxBase := 0.45*dxLocation + 0.25*exhaustion + 0.25*relief + 0.05*curl
	supp := numeric.Clamp(edxRaw-0.6, 0, 0.4)
	dx = numeric.Clamp01(dxBase * (1.0 - 0.5*supp))

	diag = map[string]float64{
		"rail_fast": railFast, "rail_mid": railMid, "rail_144": rail144, "rail_250": rail250,
		"exp_fast": expFast, "exp_mid": expMid, "atr_surge": atrSurge, "fragility": fragility,
		"dx_location": dxLocation, "exhaustion": exhaustion, "relief": relief,
		"edx_slow": slowDown,
	}
	return ox, dx, edxRaw, diag
}

func geomRollover(in s3Inputs) float64 {
	return 0.6*sigmoid(-in.DSepMid5/expMidK, 1.0) + 0.4*sigmoid(-in.DSepFast5/expFastK, 1.0)
}

// SmoothEDX applies the EMA(20) cross-tick smoothing to a raw EDX reading.
func SmoothEDX(raw float64, prev float64, seenBefore bool) float64 {
	if !seenBefore {
		return raw
	}
	alpha := numeric.EWMAAlpha(20)
	return alpha*raw + (1-alpha)*prev
}

// SRLevelInput is the minimal shape an SR-level source needs to supply.
type SRLevelInput struct {
	Price    float64
	Strength float64
}

type barSnapshot struct {
	High, Low, Close float64
}

// EMASlopes and EMAAccel carry the 10-bar normalized slope / acceleration
// of each ladder rung, computed upstream by internal/ta.
type EMASlopes struct {
	EMA20, EMA30, EMA60, EMA144, EMA250, EMA333 float64
}

type EMAAccel struct {
	EMA20, EMA30, EMA60, EMA144, EMA250, EMA333 float64
}
